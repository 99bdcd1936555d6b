package oplet

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/metric"
)

// Base holds the context of an initialized oplet. Embed it and override
// the lifecycle methods that need more than bookkeeping.
type Base struct {
	ctx     Context
	outputs []graph.Consumer
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Initialize records the context and its output handles.
func (b *Base) Initialize(ctx Context) error {
	b.ctx = ctx
	b.outputs = ctx.Outputs()
	b.logger = ctx.Logger()
	if m, ok := ServiceOf[*metric.Metrics](ctx); ok {
		b.metrics = m
	}
	return nil
}

// Start does nothing.
func (b *Base) Start() error { return nil }

// Close does nothing.
func (b *Base) Close() error { return nil }

// Context returns the context passed to Initialize.
func (b *Base) Context() Context { return b.ctx }

// Logger returns the oplet logger, or the default logger before Initialize.
func (b *Base) Logger() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// Submit sends tuple to output port.
func (b *Base) Submit(port int, tuple any) {
	b.outputs[port](tuple)
}

// OutputCount returns the number of output ports.
func (b *Base) OutputCount() int { return len(b.outputs) }

// Drop logs and counts a tuple the oplet discards.
func (b *Base) Drop(reason string, tuple any) {
	b.Logger().Debug("Tuple dropped", "reason", reason, "tuple_type", fmt.Sprintf("%T", tuple))
	if b.metrics != nil && b.ctx != nil {
		b.metrics.RecordDropped(b.ctx.JobID(), reason)
	}
}

// As converts a delivered tuple to the port's element type. A mismatch is
// dropped rather than panicking the submitter.
func As[T any](b *Base, tuple any) (T, bool) {
	if tuple == nil {
		var zero T
		if reflect.TypeFor[T]().Kind() == reflect.Interface {
			return zero, true
		}
		b.Drop("type_mismatch", tuple)
		return zero, false
	}
	v, ok := tuple.(T)
	if !ok {
		b.Drop("type_mismatch", tuple)
	}
	return v, ok
}
