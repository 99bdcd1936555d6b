// Package plumbing provides oplets that change how tuples move between
// goroutines rather than what the tuples are.
package plumbing

import (
	"context"
	"fmt"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/metric"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/pkg/buffer"
)

// Isolate decouples upstream from downstream. Tuples are queued in a
// bounded buffer and submitted downstream from a drain goroutine, in
// arrival order. With the default Block policy a full queue holds the
// upstream submitter until the drain catches up.
type Isolate[T any] struct {
	oplet.Base
	capacity int
	policy   buffer.OverflowPolicy

	buf    buffer.Buffer[T]
	cancel context.CancelFunc
	done   chan struct{}
}

// NewIsolate creates an isolate queueing at most capacity tuples.
func NewIsolate[T any](capacity int) *Isolate[T] {
	return &Isolate[T]{capacity: capacity, policy: buffer.Block}
}

// WithPolicy replaces the Block overflow policy.
func (i *Isolate[T]) WithPolicy(policy buffer.OverflowPolicy) *Isolate[T] {
	i.policy = policy
	return i
}

func (i *Isolate[T]) Kind() string { return "Isolate" }

func (i *Isolate[T]) Shape() oplet.Shape { return oplet.ShapePipe }

// Initialize creates the queue, exporting its statistics when a metrics
// registry is available.
func (i *Isolate[T]) Initialize(ctx oplet.Context) error {
	if err := i.Base.Initialize(ctx); err != nil {
		return err
	}
	if i.capacity <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: capacity must be positive, got %d", errors.ErrInvalidConfig, i.capacity),
			"Isolate", "Initialize", "validate capacity")
	}

	opts := []buffer.Option[T]{
		buffer.WithOverflowPolicy[T](i.policy),
		buffer.WithDropCallback(func(v T) { i.Drop("isolate_overflow", v) }),
	}
	if reg, ok := oplet.ServiceOf[*metric.MetricsRegistry](ctx); ok {
		opts = append(opts, buffer.WithMetrics[T](reg, ctx.Uniquify("isolate")))
	}
	buf, err := buffer.NewCircularBuffer(i.capacity, opts...)
	if err != nil {
		return errors.Wrap(err, "Isolate", "Initialize", "create buffer")
	}
	i.buf = buf
	return nil
}

func (i *Isolate[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := oplet.As[T](&i.Base, tuple)
		if !ok {
			return
		}
		if err := i.buf.Write(v); err != nil {
			i.Drop("isolate_closed", v)
		}
	}}
}

// Start launches the drain goroutine.
func (i *Isolate[T]) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	i.done = make(chan struct{})

	go func() {
		defer close(i.done)
		for {
			v, ok := i.buf.ReadWait(ctx)
			if !ok || ctx.Err() != nil {
				return
			}
			i.Submit(0, v)
		}
	}()
	return nil
}

// Queued returns the number of tuples waiting for the drain.
func (i *Isolate[T]) Queued() int {
	if i.buf == nil {
		return 0
	}
	return i.buf.Size()
}

// Close stops the drain, discarding queued tuples, and releases any
// blocked upstream submitter.
func (i *Isolate[T]) Close() error {
	if i.buf == nil {
		return nil
	}
	if i.cancel != nil {
		i.cancel()
	}
	err := i.buf.Close()
	if i.done != nil {
		<-i.done
	}
	if n := i.buf.Size(); n > 0 {
		i.Logger().Debug("Isolate closed with queued tuples", "queued", n)
	}
	return err
}
