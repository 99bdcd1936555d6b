// Package buffer provides a bounded, thread-safe FIFO with a configurable
// overflow policy. It is the queue behind the plumbing oplets that hand
// tuples from one goroutine to another.
//
// Statistics are always collected; Prometheus export is opt-in through
// WithMetrics.
package buffer

import (
	"context"
)

// Buffer is a bounded FIFO of T.
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full the overflow policy
	// decides: drop the oldest item, drop item, or block until space frees.
	Write(item T) error

	// WriteContext is Write with a cancelable wait under the Block policy.
	WriteContext(ctx context.Context, item T) error

	// Read removes the oldest item. It returns false when the buffer is empty.
	Read() (T, bool)

	// ReadWait removes the oldest item, waiting for one to arrive. It
	// returns false once the buffer is closed and drained, or ctx is done.
	ReadWait(ctx context.Context) (T, bool)

	// ReadBatch removes up to max items.
	ReadBatch(max int) []T

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear removes every item, passing each to the drop callback.
	Clear()

	Stats() *Statistics

	// Close refuses further writes and wakes every waiter. Items already
	// queued can still be read.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes writes to wait until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item the overflow policy discards.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer holding at most capacity items.
// It fails only when metrics were requested and could not be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
