// Package media abstracts camera and microphone access behind an explicit
// acquire/release lifecycle. The raw device is never exposed beyond the
// adapter boundary; callers hold an opaque Stream handle.
package media

import (
	"context"
	"errors"
)

// Kind selects the device class backing a stream.
type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
)

var (
	// ErrPermissionDenied means the user declined device access.
	ErrPermissionDenied = errors.New("media: device permission denied")
	// ErrDeviceUnavailable means no matching device exists or no client is attached.
	ErrDeviceUnavailable = errors.New("media: no matching device")
	// ErrDeviceBusy means the device of this kind is already acquired.
	ErrDeviceBusy = errors.New("media: device already acquired")
	// ErrNotReady means the stream has not produced a frame yet.
	ErrNotReady = errors.New("media: stream has not produced a frame")
	// ErrReleased means the stream handle was already released.
	ErrReleased = errors.New("media: stream released")
)

// Stream is an opaque handle for an acquired device.
type Stream interface {
	Kind() Kind
}

// Recording buffers audio chunks until stopped.
type Recording interface {
	// AppendChunk adds a chunk to the buffer. Zero-length chunks are
	// discarded silently.
	AppendChunk(chunk []byte)
	// Stop finishes the recording and returns the chunks concatenated in
	// arrival order.
	Stop() []byte
}

// Adapter owns device lifecycle for one client. Acquire is the only operation
// with externally observable side effects (hardware indicator lights), so
// every error path must run Release.
type Adapter interface {
	// Acquire opens the device of the given kind. At most one stream per
	// kind may be held at a time; Release must run before a new Acquire.
	Acquire(ctx context.Context, kind Kind) (Stream, error)
	// Release stops all underlying tracks. Idempotent, never fails.
	Release(s Stream)
	// CaptureFrame returns the current video frame as encoded JPEG bytes.
	CaptureFrame(ctx context.Context, s Stream) ([]byte, error)
	// RecordContinuous starts buffering audio chunks from the stream.
	RecordContinuous(s Stream) (Recording, error)
}
