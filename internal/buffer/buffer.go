// Package buffer implements the bounded, ordered chunk queue that sits
// between the stream ingestion worker and the playback worker.
package buffer

import (
	"errors"
	"sync"
)

const (
	DefaultMaxSize = 128 * 1024
	DefaultMinSize = 16 * 1024
)

var (
	// ErrCancelled is returned by Push once the session stopped accepting data.
	ErrCancelled = errors.New("buffer: cancelled")
	// ErrClosed is returned by Push after the producer declared itself finished.
	ErrClosed = errors.New("buffer: producer finished")
	// ErrChunkTooLarge is returned for a chunk that could never fit.
	ErrChunkTooLarge = errors.New("buffer: chunk larger than capacity")
)

// Buffer is a FIFO of chunks bounded by total byte size. A single producer
// blocks while the buffer is full and a single consumer blocks while it is
// empty. Cancel wakes every waiter.
type Buffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	queue     []*Chunk
	size      int
	maxSize   int
	peak      int
	finished  bool
	cancelled bool
}

// New creates a buffer that never holds more than maxSize bytes.
func New(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	b := &Buffer{maxSize: maxSize}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Push appends c, blocking while it would overflow the buffer. On any error
// the chunk is released and ownership does not transfer.
func (b *Buffer) Push(c *Chunk) error {
	if c.Len() > b.maxSize {
		c.Release()
		return ErrChunkTooLarge
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.cancelled && !b.finished && b.size+c.Len() > b.maxSize {
		b.notFull.Wait()
	}
	if b.cancelled {
		c.Release()
		return ErrCancelled
	}
	if b.finished {
		c.Release()
		return ErrClosed
	}

	b.queue = append(b.queue, c)
	b.size += c.Len()
	if b.size > b.peak {
		b.peak = b.size
	}
	b.notEmpty.Broadcast()
	return nil
}

// Pop removes the oldest chunk, blocking while the buffer is empty and the
// producer is still running. It returns false once the buffer is cancelled,
// or when it is drained and the producer has finished.
func (b *Buffer) Pop() (*Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.queue) == 0 && !b.finished && !b.cancelled {
		b.notEmpty.Wait()
	}
	if b.cancelled || len(b.queue) == 0 {
		return nil, false
	}

	c := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	b.size -= c.Len()
	b.notFull.Broadcast()
	return c, true
}

// WaitFill blocks until at least min bytes are buffered, the producer has
// finished, or the buffer is cancelled. It reports whether there is anything
// to play.
func (b *Buffer) WaitFill(min int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size < min && !b.finished && !b.cancelled {
		b.notEmpty.Wait()
	}
	return !b.cancelled && len(b.queue) > 0
}

// CloseInput marks the producer as finished. Consumers drain what is left and
// then observe end of stream.
func (b *Buffer) CloseInput() {
	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Cancel stops the buffer from accepting or yielding data and wakes every
// blocked producer and consumer.
func (b *Buffer) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Clear releases every queued chunk.
func (b *Buffer) Clear() {
	b.mu.Lock()
	for i, c := range b.queue {
		c.Release()
		b.queue[i] = nil
	}
	b.queue = b.queue[:0]
	b.size = 0
	b.mu.Unlock()
	b.notFull.Broadcast()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Chunks returns the number of queued chunks.
func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Cap returns the configured maximum size in bytes.
func (b *Buffer) Cap() int {
	return b.maxSize
}

// Peak returns the highest occupancy seen so far.
func (b *Buffer) Peak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

func (b *Buffer) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

func (b *Buffer) Cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}
