package audio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBufferFrozen is returned when writing to a buffer whose session ended
var ErrBufferFrozen = errors.New("audio buffer is frozen")

// ChunkBuffer accumulates encoded audio chunks in arrival order. It is
// append-only and becomes immutable once frozen. It implements io.Writer so
// encoders can stream their container output straight into it.
type ChunkBuffer struct {
	chunks [][]byte
	size   int
	frozen bool

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Chunks    int  `json:"chunks"`
	SizeBytes int  `json:"size_bytes"`
	Frozen    bool `json:"frozen"`
}

// NewChunkBuffer creates an empty chunk buffer
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{
		chunks: make([][]byte, 0, 64),
	}
}

// Write appends a copy of p as a new chunk. Empty writes are ignored.
func (b *ChunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return 0, fmt.Errorf("append %d bytes: %w", len(p), ErrBufferFrozen)
	}

	if len(p) == 0 {
		return 0, nil
	}

	// Copy to avoid caller mutations
	chunk := make([]byte, len(p))
	copy(chunk, p)

	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)

	return len(p), nil
}

// Freeze makes the buffer immutable. Freezing twice is a no-op.
func (b *ChunkBuffer) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen = true
}

// Bytes returns all chunks concatenated into a single new slice
func (b *ChunkBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	return out
}

// GetStats returns current buffer statistics
func (b *ChunkBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Chunks:    len(b.chunks),
		SizeBytes: b.size,
		Frozen:    b.frozen,
	}
}
