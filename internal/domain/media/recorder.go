package media

import "sync"

// ChunkBuffer is the Recording implementation shared by the adapters. Chunks
// are concatenated in arrival order; appends after Stop are dropped.
type ChunkBuffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	total   int
	maxSize int64
	stopped bool
}

// NewChunkBuffer creates a recording buffer. maxSize <= 0 means unbounded.
func NewChunkBuffer(maxSize int64) *ChunkBuffer {
	return &ChunkBuffer{maxSize: maxSize}
}

func (b *ChunkBuffer) AppendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if b.maxSize > 0 && int64(b.total+len(chunk)) > b.maxSize {
		return
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	b.chunks = append(b.chunks, buf)
	b.total += len(buf)
}

func (b *ChunkBuffer) Stop() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true

	out := make([]byte, 0, b.total)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	b.chunks = nil
	return out
}

// Size reports the number of buffered bytes.
func (b *ChunkBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
