package observability

import (
	"context"
	"log/slog"
	"time"
)

// Enabled reports whether instrumentation is active for this process.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan marks the start of an instrumented operation (an analysis
// round-trip, a chat turn, a clip fetch) and returns a closer that records
// its duration and outcome. With instrumentation disabled both ends are
// no-ops, so call sites never need to branch.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, _ := currentLogger()
	if logger == nil {
		return ctx, func(error) {}
	}

	began := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "span begin",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("took", time.Since(began)),
		}
		if err != nil {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "span end", attrs...)
	}
}

// RecordMetric emits one datapoint through the process logger. Best effort:
// a nil logger or disabled instrumentation drops it silently.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, _ := currentLogger()
	if logger == nil {
		return
	}

	attrs := make([]slog.Attr, 0, 2+len(labels))
	attrs = append(attrs,
		slog.String("metric", name),
		slog.Float64("value", value),
	)
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "metric", attrs...)
}
