package media

import (
	"context"
	"sync"
)

// LoopbackConfig controls the in-process adapter used by tests and headless
// demo mode.
type LoopbackConfig struct {
	// VideoFrame supplies the current frame; nil or an empty return means
	// the stream has not produced a frame yet.
	VideoFrame func() []byte
	// DenyVideo / DenyAudio simulate the user declining device access.
	DenyVideo bool
	DenyAudio bool
	// DisableVideo / DisableAudio simulate a missing device.
	DisableVideo bool
	DisableAudio bool
	// MaxRecordingBytes bounds buffered audio. 0 means unbounded.
	MaxRecordingBytes int64
}

// Loopback is an Adapter without real hardware: frames come from a supplier
// function and audio chunks are fed through FeedAudio. It enforces the same
// exclusive-ownership and release semantics as the device bridge.
type Loopback struct {
	cfg LoopbackConfig

	mu         sync.Mutex
	held       map[Kind]*loopStream
	recordings map[*loopStream]*ChunkBuffer
}

type loopStream struct {
	kind     Kind
	released bool
}

func (s *loopStream) Kind() Kind { return s.kind }

func NewLoopback(cfg LoopbackConfig) *Loopback {
	return &Loopback{
		cfg:        cfg,
		held:       make(map[Kind]*loopStream),
		recordings: make(map[*loopStream]*ChunkBuffer),
	}
}

func (l *Loopback) Acquire(ctx context.Context, kind Kind) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch kind {
	case Video:
		if l.cfg.DisableVideo {
			return nil, ErrDeviceUnavailable
		}
		if l.cfg.DenyVideo {
			return nil, ErrPermissionDenied
		}
	case Audio:
		if l.cfg.DisableAudio {
			return nil, ErrDeviceUnavailable
		}
		if l.cfg.DenyAudio {
			return nil, ErrPermissionDenied
		}
	default:
		return nil, ErrDeviceUnavailable
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[kind]; busy {
		return nil, ErrDeviceBusy
	}

	stream := &loopStream{kind: kind}
	l.held[kind] = stream
	return stream, nil
}

func (l *Loopback) Release(s Stream) {
	stream, ok := s.(*loopStream)
	if !ok || stream == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if stream.released {
		return
	}
	stream.released = true
	delete(l.recordings, stream)
	if l.held[stream.kind] == stream {
		delete(l.held, stream.kind)
	}
}

func (l *Loopback) CaptureFrame(ctx context.Context, s Stream) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, ok := s.(*loopStream)
	if !ok || stream == nil {
		return nil, ErrReleased
	}

	l.mu.Lock()
	released := stream.released
	l.mu.Unlock()
	if released {
		return nil, ErrReleased
	}
	if stream.kind != Video {
		return nil, ErrDeviceUnavailable
	}

	if l.cfg.VideoFrame == nil {
		return nil, ErrNotReady
	}
	frame := l.cfg.VideoFrame()
	if len(frame) == 0 {
		return nil, ErrNotReady
	}
	return frame, nil
}

func (l *Loopback) RecordContinuous(s Stream) (Recording, error) {
	stream, ok := s.(*loopStream)
	if !ok || stream == nil {
		return nil, ErrReleased
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if stream.released {
		return nil, ErrReleased
	}
	if stream.kind != Audio {
		return nil, ErrDeviceUnavailable
	}

	buffer := NewChunkBuffer(l.cfg.MaxRecordingBytes)
	l.recordings[stream] = buffer
	return buffer, nil
}

// FeedAudio pushes a chunk into the active recording, if any. It stands in
// for the data-available events a real recorder would emit.
func (l *Loopback) FeedAudio(chunk []byte) {
	l.mu.Lock()
	var buffers []*ChunkBuffer
	for _, buffer := range l.recordings {
		buffers = append(buffers, buffer)
	}
	l.mu.Unlock()

	for _, buffer := range buffers {
		buffer.AppendChunk(chunk)
	}
}

// Held reports whether a device of the given kind is currently acquired.
func (l *Loopback) Held(kind Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[kind]
	return busy
}
