package protocol

import (
	"bytes"
	"sync"
)

// Buffer size constants
const (
	FrameBufferSize = 4096        // One client frame per read
	ChunkBufferSize = 64 * 1024   // File transfer chunk
	MaxPooledBuffer = 1024 * 1024 // 1MB - don't pool larger buffers
)

// bufferPool is a sync.Pool for reusing byte buffers to reduce allocations
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// chunkPool holds file transfer chunk buffers
var chunkPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ChunkBufferSize)
		return &buf
	},
}

// GetBuffer retrieves a buffer from the pool.
// The buffer is reset and ready for use.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
// Buffers larger than MaxPooledBuffer are not pooled to prevent memory bloat.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// GetBufferWithSize retrieves a buffer from the pool and grows it to the specified size hint.
func GetBufferWithSize(sizeHint int) *bytes.Buffer {
	buf := GetBuffer()
	if sizeHint > 0 && buf.Cap() < sizeHint {
		buf.Grow(sizeHint)
	}
	return buf
}

// GetChunkBuffer returns a chunk buffer of at least size bytes. Sizes other
// than ChunkBufferSize are allocated directly.
func GetChunkBuffer(size int) *[]byte {
	if size <= 0 || size == ChunkBufferSize {
		return chunkPool.Get().(*[]byte)
	}
	buf := make([]byte, size)
	return &buf
}

// PutChunkBuffer returns a chunk buffer to the pool.
func PutChunkBuffer(buf *[]byte) {
	if buf == nil || len(*buf) != ChunkBufferSize {
		return
	}
	chunkPool.Put(buf)
}
