// Package image validates captured frames before they are sent to the face
// analysis backend, so obviously broken or oversized artifacts fail fast and
// locally instead of burning a network round-trip.
package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"maitri-console-go/internal/platform/config"
	"maitri-console-go/internal/platform/logging"
)

// ValidationResult captures the outcome of artifact validation.
type ValidationResult struct {
	IsValid  bool
	Format   string
	Width    int
	Height   int
	FileSize int64
	Error    error
}

// Validator performs layered checks against captured frame payloads.
type Validator struct {
	config *config.MediaConfig
	logger *logging.Logger
}

func NewValidator(config *config.MediaConfig, logger *logging.Logger) *Validator {
	return &Validator{
		config: config,
		logger: logger,
	}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
}

// ValidateFrame checks a captured frame: non-empty, within the configured
// byte and pixel bounds, decodable and of an allowed format.
func (v *Validator) ValidateFrame(raw []byte) ValidationResult {
	result := ValidationResult{IsValid: false}

	if len(raw) == 0 {
		result.Error = fmt.Errorf("empty frame payload")
		return result
	}

	if v.config.MaxFrameBytes > 0 && int64(len(raw)) > v.config.MaxFrameBytes {
		result.Error = fmt.Errorf(
			"frame exceeds size limit: %d bytes (max %d bytes)",
			len(raw),
			v.config.MaxFrameBytes,
		)
		if v.logger != nil {
			v.logger.Warn("oversized frame rejected: size=%d max=%d", len(raw), v.config.MaxFrameBytes)
		}
		return result
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		result.Error = fmt.Errorf("decode frame: %w", err)
		return result
	}

	if !v.isFormatAllowed(format) {
		result.Error = fmt.Errorf("unsupported frame format: %s", format)
		return result
	}

	if !v.matchesSignature(raw, format) && v.logger != nil {
		header := fmt.Sprintf("%x", raw[:min(len(raw), 16)])
		v.logger.Warn("frame signature mismatch: format=%s header=%s", format, header)
	}

	if (v.config.MaxFrameWidth > 0 && cfg.Width > v.config.MaxFrameWidth) ||
		(v.config.MaxFrameHeight > 0 && cfg.Height > v.config.MaxFrameHeight) {
		result.Error = fmt.Errorf(
			"frame dimensions %dx%d exceed limit %dx%d",
			cfg.Width, cfg.Height,
			v.config.MaxFrameWidth, v.config.MaxFrameHeight,
		)
		return result
	}

	result.IsValid = true
	result.Format = format
	result.Width = cfg.Width
	result.Height = cfg.Height
	result.FileSize = int64(len(raw))
	return result
}

func (v *Validator) isFormatAllowed(format string) bool {
	if v.config == nil || len(v.config.AllowedFormats) == 0 {
		return true
	}
	format = strings.ToLower(format)
	for _, allowed := range v.config.AllowedFormats {
		if strings.ToLower(allowed) == format {
			return true
		}
	}
	return false
}

func (v *Validator) matchesSignature(raw []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok {
		return true
	}
	if len(raw) < len(signature) {
		return false
	}
	return bytes.Equal(signature, raw[:len(signature)])
}
