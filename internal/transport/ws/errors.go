package ws

import "errors"

var (
	// ErrNoClient means no browser client is attached to the device bridge.
	ErrNoClient = errors.New("device bridge: no client attached")
	// ErrAckTimeout means the client did not answer a bridge command in time.
	ErrAckTimeout = errors.New("device bridge: command acknowledgement timed out")
	// ErrConnClosed means the underlying websocket connection is gone.
	ErrConnClosed = errors.New("device bridge: connection closed")
)
