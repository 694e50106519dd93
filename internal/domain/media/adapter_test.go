package media

import (
	"context"
	"errors"
	"testing"
)

func TestLoopback_ExclusiveOwnership(t *testing.T) {
	adapter := NewLoopback(LoopbackConfig{VideoFrame: func() []byte { return []byte{0xFF, 0xD8} }})

	first, err := adapter.Acquire(context.Background(), Video)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if _, err := adapter.Acquire(context.Background(), Video); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy on second acquire, got %v", err)
	}

	adapter.Release(first)

	second, err := adapter.Acquire(context.Background(), Video)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	adapter.Release(second)
}

func TestLoopback_ReleaseIdempotent(t *testing.T) {
	adapter := NewLoopback(LoopbackConfig{})

	stream, err := adapter.Acquire(context.Background(), Audio)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	adapter.Release(stream)
	adapter.Release(stream) // second release is a no-op

	if adapter.Held(Audio) {
		t.Error("device still held after release")
	}
}

func TestLoopback_AcquireErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  LoopbackConfig
		kind Kind
		want error
	}{
		{"video denied", LoopbackConfig{DenyVideo: true}, Video, ErrPermissionDenied},
		{"audio denied", LoopbackConfig{DenyAudio: true}, Audio, ErrPermissionDenied},
		{"video missing", LoopbackConfig{DisableVideo: true}, Video, ErrDeviceUnavailable},
		{"audio missing", LoopbackConfig{DisableAudio: true}, Audio, ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewLoopback(tt.cfg)
			if _, err := adapter.Acquire(context.Background(), tt.kind); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoopback_CaptureFrame(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0xFF}
	adapter := NewLoopback(LoopbackConfig{VideoFrame: func() []byte { return frame }})

	stream, err := adapter.Acquire(context.Background(), Video)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer adapter.Release(stream)

	got, err := adapter.CaptureFrame(context.Background(), stream)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if len(got) != len(frame) {
		t.Errorf("expected %d bytes, got %d", len(frame), len(got))
	}
}

func TestLoopback_CaptureFrameNotReady(t *testing.T) {
	adapter := NewLoopback(LoopbackConfig{VideoFrame: func() []byte { return nil }})

	stream, err := adapter.Acquire(context.Background(), Video)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer adapter.Release(stream)

	if _, err := adapter.CaptureFrame(context.Background(), stream); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestLoopback_CaptureFrameAfterRelease(t *testing.T) {
	adapter := NewLoopback(LoopbackConfig{VideoFrame: func() []byte { return []byte{1} }})

	stream, _ := adapter.Acquire(context.Background(), Video)
	adapter.Release(stream)

	if _, err := adapter.CaptureFrame(context.Background(), stream); !errors.Is(err, ErrReleased) {
		t.Errorf("expected ErrReleased, got %v", err)
	}
}

func TestChunkBuffer_Order(t *testing.T) {
	buffer := NewChunkBuffer(0)
	buffer.AppendChunk([]byte("ab"))
	buffer.AppendChunk(nil) // dropped silently
	buffer.AppendChunk([]byte(""))
	buffer.AppendChunk([]byte("cd"))

	got := buffer.Stop()
	if string(got) != "abcd" {
		t.Errorf("expected concatenation in arrival order, got %q", got)
	}
}

func TestChunkBuffer_AppendAfterStop(t *testing.T) {
	buffer := NewChunkBuffer(0)
	buffer.AppendChunk([]byte("a"))
	_ = buffer.Stop()

	buffer.AppendChunk([]byte("b"))
	if got := buffer.Stop(); len(got) != 0 {
		t.Errorf("expected no data after stop, got %q", got)
	}
}

func TestChunkBuffer_MaxSize(t *testing.T) {
	buffer := NewChunkBuffer(3)
	buffer.AppendChunk([]byte("ab"))
	buffer.AppendChunk([]byte("cd")) // would exceed the cap, dropped

	if got := buffer.Stop(); string(got) != "ab" {
		t.Errorf("expected oversized chunk dropped, got %q", got)
	}
}

func TestLoopback_RecordContinuous(t *testing.T) {
	adapter := NewLoopback(LoopbackConfig{})

	stream, err := adapter.Acquire(context.Background(), Audio)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	recording, err := adapter.RecordContinuous(stream)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	adapter.FeedAudio([]byte("one"))
	adapter.FeedAudio([]byte("two"))

	blob := recording.Stop()
	adapter.Release(stream)

	if string(blob) != "onetwo" {
		t.Errorf("unexpected recording contents: %q", blob)
	}
}
