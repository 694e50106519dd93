package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"maitri-console-go/internal/bootstrap"
)

func main() {
	fmt.Printf("[%s] [INFO] [bootstrap] starting maitri-console...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "maitri-console failed: %v\n", err)
		os.Exit(1)
	}
}
