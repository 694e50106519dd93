// Package conversation implements the stateless client for the dialogue
// backend: session initiation plus text and voice turns.
package conversation

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"maitri-console-go/internal/domain/remote"
	"maitri-console-go/internal/platform/logging"
	"maitri-console-go/internal/platform/observability"
)

// ClientConfig carries the dialogue backend address and request timeout.
type ClientConfig struct {
	ChatURL        string
	RequestTimeout time.Duration
}

type Client struct {
	cfg    ClientConfig
	httpc  *http.Client
	logger *logging.Logger
}

func NewClient(cfg ClientConfig, logger *logging.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *Client) base() string {
	return strings.TrimRight(c.cfg.ChatURL, "/")
}

// StartSession asks the backend to open a session seeded with the detected
// emotion and returns the opening assistant reply.
func (c *Client) StartSession(ctx context.Context, seedEmotion string) (*StartResult, error) {
	var result StartResult
	if err := c.postJSON(ctx, "start-session", "/invoke", map[string]string{"emotion": seedEmotion}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendText delivers a typed user turn.
func (c *Client) SendText(ctx context.Context, sessionID, text string) (*TextResult, error) {
	payload := map[string]string{
		"conversation_id": sessionID,
		"text":            text,
	}
	var result TextResult
	if err := c.postJSON(ctx, "send-text", "/respond-text", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendVoice delivers a recorded user turn. The audio goes up as a multipart
// file; the transcript comes back with the reply.
func (c *Client) SendVoice(ctx context.Context, sessionID string, audio []byte) (*VoiceResult, error) {
	const op = "send-voice"
	ctx, spanEnd := observability.StartSpan(ctx, "conversation.client", op)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("conversation_id", sessionID); err != nil {
		spanEnd(err)
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	part, err := writer.CreateFormFile("file", "recording.wav")
	if err != nil {
		spanEnd(err)
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		spanEnd(err)
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	if err := writer.Close(); err != nil {
		spanEnd(err)
		return nil, &remote.TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/respond", &body)
	if err != nil {
		spanEnd(err)
		return nil, &remote.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result VoiceResult
	err = c.do(req, op, &result)
	spanEnd(err)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload interface{}, out interface{}) error {
	ctx, spanEnd := observability.StartSpan(ctx, "conversation.client", op)

	raw, err := sonic.Marshal(payload)
	if err != nil {
		spanEnd(err)
		return &remote.TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+path, bytes.NewReader(raw))
	if err != nil {
		spanEnd(err)
		return &remote.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	err = c.do(req, op, out)
	spanEnd(err)
	return err
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &remote.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remote.DecodeFailure(op, resp)
	}
	return remote.DecodeBody(op, resp, out)
}
