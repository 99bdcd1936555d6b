// Package oplet defines the contract every processing unit of a job
// implements, and the common shapes built on it.
//
// An oplet moves through CONSTRUCTED, INITIALIZED, RUNNING, optionally
// PAUSED and back, and finally CLOSED. The runtime drives the transitions:
//
//	Initialize(ctx)  wire to the context; must not submit tuples
//	Start()          submission is authorized from here on
//	Inputs()         one consumer per input port, bound after Initialize
//	Close()          release resources; called at most once
//
// Tuples are delivered synchronously on the submitting goroutine. Any
// queueing between upstream and downstream is the oplet's own business.
package oplet

import (
	"log/slog"
	"reflect"

	"github.com/c360/edgestreams/graph"
)

// Oplet is a processing unit with fixed input and output ports.
type Oplet interface {
	Initialize(ctx Context) error
	Start() error
	Inputs() []graph.Consumer
	Close() error
}

// Pausable oplets are told when their job pauses and resumes.
type Pausable interface {
	Pause() error
	Resume() error
}

// Shaped oplets declare the port arity they accept. The runtime rejects a
// vertex whose arity does not fit.
type Shaped interface {
	Shape() Shape
}

// Shape is the port arity class of an oplet.
type Shape int

const (
	// ShapeSource has no inputs and one output
	ShapeSource Shape = iota
	// ShapePipe has one input and one output
	ShapePipe
	// ShapeSplit has one input and one or more outputs
	ShapeSplit
	// ShapeSink has one input and no outputs
	ShapeSink
	// ShapeUnion has one or more inputs and one output
	ShapeUnion
)

// String returns the shape name used in snapshots and logs.
func (s Shape) String() string {
	switch s {
	case ShapeSource:
		return "source"
	case ShapePipe:
		return "pipe"
	case ShapeSplit:
		return "split"
	case ShapeSink:
		return "sink"
	case ShapeUnion:
		return "union"
	default:
		return "unknown"
	}
}

// Fits reports whether a vertex with the given port counts has this shape.
func (s Shape) Fits(inputs, outputs int) bool {
	switch s {
	case ShapeSource:
		return inputs == 0 && outputs == 1
	case ShapePipe:
		return inputs == 1 && outputs == 1
	case ShapeSplit:
		return inputs == 1 && outputs >= 1
	case ShapeSink:
		return inputs == 1 && outputs == 0
	case ShapeUnion:
		return inputs >= 1 && outputs == 1
	default:
		return false
	}
}

// Context is the per-oplet handle the runtime passes to Initialize.
type Context interface {
	// ID is the oplet's vertex id, unique within the job.
	ID() string
	// Kind names the oplet type.
	Kind() string
	// Service looks up a runtime service by the capability it provides.
	Service(capability reflect.Type) (any, bool)
	InputCount() int
	OutputCount() int
	// Outputs returns one submission handle per output port. Tuples
	// submitted before the job starts are dropped.
	Outputs() []graph.Consumer
	JobID() string
	JobName() string
	// Uniquify qualifies name with the job and oplet ids, for use in
	// registries shared by several jobs.
	Uniquify(name string) string
	Logger() *slog.Logger
}

// ServiceOf looks up the service registered for capability T.
func ServiceOf[T any](ctx Context) (T, bool) {
	svc, ok := ctx.Service(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := svc.(T)
	return typed, ok
}
