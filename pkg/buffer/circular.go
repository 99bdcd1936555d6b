package buffer

import (
	"context"
	"sync"

	"github.com/c360/edgestreams/errors"
)

// circularBuffer is a ring of fixed capacity guarded by one mutex.
type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	return cb.WriteContext(context.Background(), item)
}

func (cb *circularBuffer[T]) WriteContext(ctx context.Context, item T) error {
	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrClosed, "Buffer", "Write", "buffer closed")
	}

	var dropped *T
	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			old := cb.popLocked()
			dropped = &old
			cb.recordDropLocked()

		case DropNewest:
			cb.recordDropLocked()
			cb.mu.Unlock()
			cb.dropped(item)
			return nil

		case Block:
			if err := cb.waitLocked(ctx, cb.notFull, func() bool { return cb.size < cb.capacity }); err != nil {
				cb.mu.Unlock()
				return err
			}
			if cb.closed {
				cb.mu.Unlock()
				return errors.WrapInvalid(errors.ErrClosed, "Buffer", "Write", "buffer closed during blocking wait")
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	cb.stats.write()
	cb.stats.updateSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.writes.Inc()
		cb.metrics.size.Set(float64(cb.size))
	}
	cb.notEmpty.Signal()
	cb.mu.Unlock()

	if dropped != nil {
		cb.dropped(*dropped)
	}
	return nil
}

// waitLocked waits on cond until ready reports true, the buffer closes or
// ctx is done. cb.mu must be held.
func (cb *circularBuffer[T]) waitLocked(ctx context.Context, cond *sync.Cond, ready func() bool) error {
	if ready() || cb.closed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Cond has no cancelable wait; wake every waiter when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		cb.mu.Lock()
		cond.Broadcast()
		cb.mu.Unlock()
	})
	defer stop()

	for !ready() && !cb.closed {
		cond.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// popLocked removes the oldest item. The buffer must not be empty.
func (cb *circularBuffer[T]) popLocked() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) recordDropLocked() {
	cb.stats.drop()
	if cb.metrics != nil {
		cb.metrics.drops.Inc()
	}
}

func (cb *circularBuffer[T]) recordReadLocked(n int) {
	for i := 0; i < n; i++ {
		cb.stats.read()
	}
	cb.stats.updateSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.reads.Add(float64(n))
		cb.metrics.size.Set(float64(cb.size))
	}
}

func (cb *circularBuffer[T]) dropped(item T) {
	if cb.opts.dropCallback != nil {
		cb.opts.dropCallback(item)
	}
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	item := cb.popLocked()
	cb.recordReadLocked(1)
	cb.notFull.Signal()
	return item, true
}

func (cb *circularBuffer[T]) ReadWait(ctx context.Context) (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if err := cb.waitLocked(ctx, cb.notEmpty, func() bool { return cb.size > 0 }); err != nil {
		return zero, false
	}
	if cb.size == 0 {
		// closed and drained
		return zero, false
	}
	item := cb.popLocked()
	cb.recordReadLocked(1)
	cb.notFull.Signal()
	return item, true
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	n := min(max, cb.size)
	if n == 0 {
		return nil
	}
	result := make([]T, n)
	for i := range result {
		result[i] = cb.popLocked()
	}
	cb.recordReadLocked(n)
	cb.notFull.Broadcast()
	return result
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == 0
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	drained := make([]T, 0, cb.size)
	for cb.size > 0 {
		drained = append(drained, cb.popLocked())
		cb.recordDropLocked()
	}
	cb.head, cb.tail = 0, 0
	cb.stats.updateSize(0)
	if cb.metrics != nil {
		cb.metrics.size.Set(0)
	}
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	for _, item := range drained {
		cb.dropped(item)
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()

	if cb.metrics != nil {
		cb.metrics.release(cb.opts.metricsReg, cb.opts.metricsPrefix)
	}
	return nil
}
