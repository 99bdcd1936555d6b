package oplet

import (
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/pkg/scheduler"
	"github.com/c360/edgestreams/window"
)

// Aggregate inserts every tuple into a partitioned window and submits the
// aggregator's result whenever a partition triggers. An aggregator
// returning false emits nothing for that fire.
type Aggregate[T any, K comparable, O any] struct {
	Base
	window *window.Window[T, K]
	fn     func(items []T, key K) (O, bool)
}

// NewAggregate creates a pipe over w. The window must not already have a
// partition processor.
func NewAggregate[T any, K comparable, O any](w *window.Window[T, K], fn func(items []T, key K) (O, bool)) *Aggregate[T, K, O] {
	return &Aggregate[T, K, O]{window: w, fn: fn}
}

func (a *Aggregate[T, K, O]) Kind() string { return "Aggregate" }

func (a *Aggregate[T, K, O]) Shape() Shape { return ShapePipe }

// Window returns the underlying window.
func (a *Aggregate[T, K, O]) Window() *window.Window[T, K] { return a.window }

// Initialize binds the aggregator as the window's partition processor and
// attaches the runtime scheduler when the window has time-based policies.
// Upstream sources may submit as soon as they start, so the window must
// accept inserts before any oplet's Start runs.
func (a *Aggregate[T, K, O]) Initialize(ctx Context) error {
	if err := a.Base.Initialize(ctx); err != nil {
		return err
	}
	var timers scheduler.Timers
	if a.window.NeedsScheduler() {
		t, ok := ServiceOf[scheduler.Timers](ctx)
		if !ok {
			return errors.WrapInvalid(errors.ErrNotFound, "Aggregate", "Initialize", "lookup scheduler")
		}
		timers = t
	}

	err := a.window.RegisterPartitionProcessor(func(items []T, key K) {
		if a.metrics != nil {
			a.metrics.WindowFires.WithLabelValues(ctx.JobID(), ctx.ID()).Inc()
		}
		if out, ok := a.fn(items, key); ok {
			a.Submit(0, out)
		}
	})
	if err != nil {
		return err
	}
	return a.window.Start(timers)
}

func (a *Aggregate[T, K, O]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := As[T](&a.Base, tuple)
		if !ok {
			return
		}
		if err := a.window.Insert(v); err != nil {
			a.Drop("window_rejected", tuple)
		}
	}}
}

// Close cancels the window's timers.
func (a *Aggregate[T, K, O]) Close() error {
	a.window.Close()
	return nil
}
