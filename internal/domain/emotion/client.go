// Package emotion implements the stateless client for the face and voice
// analysis backends. The two endpoints are independent: an outage of one
// never affects calls to the other.
package emotion

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"maitri-console-go/internal/domain/remote"
	"maitri-console-go/internal/platform/logging"
	"maitri-console-go/internal/platform/observability"
)

// ClientConfig carries the per-modality base addresses and timeouts.
type ClientConfig struct {
	FaceURL        string
	VoiceURL       string
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
}

// Client posts captured artifacts to the analysis backends.
type Client struct {
	cfg     ClientConfig
	httpc   *http.Client
	healthc *http.Client
	logger  *logging.Logger
	probes  singleflight.Group
}

func NewClient(cfg ClientConfig, logger *logging.Logger) *Client {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: requestTimeout},
		healthc: &http.Client{Timeout: healthTimeout},
		logger:  logger,
	}
}

func (c *Client) baseURL(modality Modality) string {
	if modality == Voice {
		return strings.TrimRight(c.cfg.VoiceURL, "/")
	}
	return strings.TrimRight(c.cfg.FaceURL, "/")
}

// CheckReachable probes {base}/health. It never returns an error: any
// network or status failure resolves to false. Concurrent probes for the
// same modality share a single request.
func (c *Client) CheckReachable(ctx context.Context, modality Modality) bool {
	result, _, _ := c.probes.Do(string(modality), func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(modality)+"/health", nil)
		if err != nil {
			return false, nil
		}
		resp, err := c.healthc.Do(req)
		if err != nil {
			return false, nil
		}
		defer resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
	})

	reachable, _ := result.(bool)
	return reachable
}

// Analyze posts the artifact to the modality's analyze endpoint and returns
// the normalized result. A structured {"error": ...} body yields a
// RemoteError; anything the request layer trips over yields a TransportError.
func (c *Client) Analyze(ctx context.Context, modality Modality, blob []byte) (*Result, error) {
	op := fmt.Sprintf("analyze-%s", modality)
	ctx, spanEnd := observability.StartSpan(ctx, "emotion.client", op)

	result, err := c.analyze(ctx, modality, blob, op)
	spanEnd(err)
	return result, err
}

func (c *Client) analyze(ctx context.Context, modality Modality, blob []byte, op string) (*Result, error) {
	field, path, filename := "image", "/analyze-face", "capture.jpg"
	if modality == Voice {
		field, path, filename = "audio", "/analyze-voice", "recording.wav"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	if _, err := part.Write(blob); err != nil {
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &remote.TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(modality)+path, &body)
	if err != nil {
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remote.DecodeFailure(op, resp)
	}

	if modality == Voice {
		var parsed voiceResponse
		if err := remote.DecodeBody(op, resp, &parsed); err != nil {
			return nil, err
		}
		label := parsed.EmotionLower
		if label == "" {
			label = strings.ToLower(parsed.Emotion)
		}
		return &Result{
			Modality:      Voice,
			DominantLabel: label,
			Confidence:    parsed.Confidence,
			Energy:        parsed.Energy,
			PitchHz:       parsed.Pitch,
		}, nil
	}

	var parsed faceResponse
	if err := remote.DecodeBody(op, resp, &parsed); err != nil {
		return nil, err
	}
	return &Result{
		Modality:      Face,
		DominantLabel: parsed.DominantEmotion,
		Confidence:    parsed.Confidence,
		Scores:        parsed.AllEmotions,
	}, nil
}
