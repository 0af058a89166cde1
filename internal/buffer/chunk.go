package buffer

import "sync"

// PooledChunkSize is the capacity of pooled chunk storage. It matches the
// ingestion read size so steady-state streaming does not allocate.
const PooledChunkSize = 4096

var chunkPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, PooledChunkSize)
		return &b
	},
}

// Chunk is one discrete unit of stream bytes. Whoever holds a Chunk owns it:
// Push hands ownership to the buffer, Pop hands it to the consumer, and the
// final owner calls Release.
type Chunk struct {
	store *[]byte
	data  []byte
}

// NewChunk copies p into a freshly owned chunk.
func NewChunk(p []byte) *Chunk {
	c := &Chunk{}
	if len(p) <= PooledChunkSize {
		c.store = chunkPool.Get().(*[]byte)
		c.data = (*c.store)[:len(p)]
	} else {
		c.data = make([]byte, len(p))
	}
	copy(c.data, p)
	return c
}

// Bytes returns the unconsumed bytes of the chunk. The slice is only valid
// until Release.
func (c *Chunk) Bytes() []byte {
	if c == nil {
		return nil
	}
	return c.data
}

// Len returns the number of unconsumed bytes.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	return len(c.data)
}

// Consume drops the first n bytes of the chunk.
func (c *Chunk) Consume(n int) {
	if n >= len(c.data) {
		c.data = c.data[:0]
		return
	}
	c.data = c.data[n:]
}

// Release returns the chunk storage to the pool. The chunk must not be used
// afterwards.
func (c *Chunk) Release() {
	if c == nil {
		return
	}
	if c.store != nil {
		chunkPool.Put(c.store)
		c.store = nil
	}
	c.data = nil
}
