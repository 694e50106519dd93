// Package remote holds the error taxonomy shared by the emotion analysis and
// conversation clients. Both backends signal failures the same way: a JSON
// body {"error": "..."} for structured errors, anything else is a transport
// failure.
package remote

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// RemoteError carries a structured failure message returned by a backend.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// TransportError marks a request that could not complete: network down,
// timeout or an unparseable response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRemote reports whether err is a structured backend failure.
func IsRemote(err error) bool {
	var target *RemoteError
	return errors.As(err, &target)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

type errorBody struct {
	Error string `json:"error"`
}

// DecodeFailure turns a non-2xx response into the right error type: a
// RemoteError when the body carries {"error": "..."}, a TransportError
// otherwise.
func DecodeFailure(op string, resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	var body errorBody
	if err := sonic.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &RemoteError{Message: body.Error}
	}
	return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
}

// DecodeBody parses a successful JSON response into out. Some backends return
// 200 with an {"error": ...} payload, so that shape is still surfaced as a
// RemoteError here.
func DecodeBody(op string, resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	var body errorBody
	if err := sonic.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &RemoteError{Message: body.Error}
	}

	if err := sonic.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}
