package plumbing

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/pkg/buffer"
	"github.com/c360/edgestreams/pkg/scheduler"
)

// Executor runs tasks asynchronously.
type Executor interface {
	Execute(fn func()) error
}

var _ Executor = (*scheduler.Scheduler)(nil)

// PressureReliever keeps the newest count tuples per key while downstream
// is busy. Each key has at most one tuple in flight, submitted on the
// runtime's executor; tuples that arrive meanwhile queue per key, and the
// oldest are discarded once count are waiting.
type PressureReliever[T any, K comparable] struct {
	oplet.Base
	count int
	key   func(T) K

	exec   Executor
	mu     sync.Mutex
	parts  map[K]*partition[T]
	closed atomic.Bool
}

type partition[T any] struct {
	buf  buffer.Buffer[T]
	busy atomic.Bool
}

// NewPressureReliever creates a reliever keeping count tuples per key.
func NewPressureReliever[T any, K comparable](count int, key func(T) K) *PressureReliever[T, K] {
	return &PressureReliever[T, K]{count: count, key: key, parts: make(map[K]*partition[T])}
}

func (r *PressureReliever[T, K]) Kind() string { return "PressureReliever" }

func (r *PressureReliever[T, K]) Shape() oplet.Shape { return oplet.ShapePipe }

// Initialize looks up the executor service.
func (r *PressureReliever[T, K]) Initialize(ctx oplet.Context) error {
	if err := r.Base.Initialize(ctx); err != nil {
		return err
	}
	if r.count <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: count must be positive, got %d", errors.ErrInvalidConfig, r.count),
			"PressureReliever", "Initialize", "validate count")
	}
	exec, ok := oplet.ServiceOf[*scheduler.Scheduler](ctx)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: scheduler service", errors.ErrNotFound),
			"PressureReliever", "Initialize", "lookup executor")
	}
	r.exec = exec
	return nil
}

func (r *PressureReliever[T, K]) partition(k K) (*partition[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.parts[k]; ok {
		return p, nil
	}
	buf, err := buffer.NewCircularBuffer(r.count,
		buffer.WithOverflowPolicy[T](buffer.DropOldest),
		buffer.WithDropCallback(func(v T) { r.Drop("pressure_relieved", v) }))
	if err != nil {
		return nil, err
	}
	p := &partition[T]{buf: buf}
	r.parts[k] = p
	return p, nil
}

func (r *PressureReliever[T, K]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := oplet.As[T](&r.Base, tuple)
		if !ok || r.closed.Load() {
			return
		}
		p, err := r.partition(r.key(v))
		if err != nil {
			r.Drop("pressure_reliever_error", v)
			return
		}
		if err := p.buf.Write(v); err != nil {
			r.Drop("pressure_reliever_closed", v)
			return
		}
		r.submitNext(p)
	}}
}

// submitNext hands the partition's oldest tuple to the executor unless
// one is already in flight.
func (r *PressureReliever[T, K]) submitNext(p *partition[T]) {
	for {
		if !p.busy.CompareAndSwap(false, true) {
			return
		}
		if v, ok := p.buf.Read(); ok {
			r.dispatch(p, v)
			return
		}
		p.busy.Store(false)
		// a writer may have queued between Read and Store
		if p.buf.IsEmpty() {
			return
		}
	}
}

func (r *PressureReliever[T, K]) dispatch(p *partition[T], v T) {
	err := r.exec.Execute(func() {
		defer func() {
			p.busy.Store(false)
			if !r.closed.Load() {
				r.submitNext(p)
			}
		}()
		r.Submit(0, v)
	})
	if err != nil {
		p.busy.Store(false)
		r.Drop("executor_rejected", v)
	}
}

// Pending returns the number of tuples queued across all keys.
func (r *PressureReliever[T, K]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.parts {
		n += p.buf.Size()
	}
	return n
}

// Close discards queued tuples.
func (r *PressureReliever[T, K]) Close() error {
	r.closed.Store(true)

	r.mu.Lock()
	parts := r.parts
	r.parts = make(map[K]*partition[T])
	r.mu.Unlock()

	var errs []error
	for _, p := range parts {
		errs = append(errs, p.buf.Close())
	}
	return stderrors.Join(errs...)
}
