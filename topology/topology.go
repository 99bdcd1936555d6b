// Package topology is the authoring layer over the graph model. A Topology
// owns a graph under construction; typed Streams name its connectors, and
// each combinator inserts one oplet vertex.
//
// Construction errors are sticky: the first one is kept, later combinators
// do nothing, and Err reports it. Submission refuses a topology with an
// error.
package topology

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/window"
)

// Topology is a graph of oplets under construction.
type Topology struct {
	name  string
	graph *graph.Graph

	mu  sync.Mutex
	err error
}

// New creates an empty topology. An empty name lets the runtime name the job.
func New(name string) *Topology {
	return &Topology{name: name, graph: graph.New()}
}

// Name returns the topology name.
func (t *Topology) Name() string { return t.name }

// Graph returns the underlying graph.
func (t *Topology) Graph() *graph.Graph { return t.graph }

// Err returns the first construction error.
func (t *Topology) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Topology) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

// Stream is a typed handle on one output connector.
type Stream[T any] struct {
	top  *Topology
	conn *graph.Connector
}

// Topology returns the owning topology.
func (s Stream[T]) Topology() *Topology { return s.top }

// Connector returns the underlying connector, nil after a construction error.
func (s Stream[T]) Connector() *graph.Connector { return s.conn }

func (s Stream[T]) ok() bool {
	return s.top != nil && s.conn != nil && s.top.Err() == nil
}

// Tag labels the stream's connector.
func (s Stream[T]) Tag(tags ...string) Stream[T] {
	if !s.ok() {
		return s
	}
	if err := s.conn.Tag(tags...); err != nil {
		s.top.fail(err)
	}
	return s
}

// Source adds a 0-in/1-out oplet.
func Source[T any](t *Topology, o oplet.Oplet) Stream[T] {
	if t.Err() != nil {
		return Stream[T]{top: t}
	}
	c, err := t.graph.Source(o)
	if err != nil {
		t.fail(err)
		return Stream[T]{top: t}
	}
	return Stream[T]{top: t, conn: c}
}

// Poll adds a periodic source.
func Poll[T any](t *Topology, period time.Duration, poll func() (T, bool)) Stream[T] {
	return Source[T](t, oplet.NewPeriodicSource(period, poll))
}

// Generate adds a source driven by a blocking producer.
func Generate[T any](t *Topology, run func(ctx context.Context, emit func(T)) error) Stream[T] {
	return Source[T](t, oplet.NewGenerator(run))
}

// Events adds a source fed by an external callback registration.
func Events[T any](t *Topology, register func(emit func(T)) (remove func())) Stream[T] {
	return Source[T](t, oplet.NewEvents(register))
}

// Pipe feeds s into a 1-in/1-out oplet.
func Pipe[I, O any](s Stream[I], o oplet.Oplet) Stream[O] {
	if !s.ok() {
		return Stream[O]{top: s.top}
	}
	c, err := s.top.graph.Pipe(s.conn, o)
	if err != nil {
		s.top.fail(err)
		return Stream[O]{top: s.top}
	}
	return Stream[O]{top: s.top, conn: c}
}

// Map transforms every tuple.
func Map[I, O any](s Stream[I], fn func(I) O) Stream[O] {
	return Pipe[I, O](s, oplet.NewMap(fn))
}

// Filter keeps tuples for which pred holds.
func Filter[T any](s Stream[T], pred func(T) bool) Stream[T] {
	return Pipe[T, T](s, oplet.NewFilter(pred))
}

// FlatMap emits every element fn returns.
func FlatMap[I, O any](s Stream[I], fn func(I) []O) Stream[O] {
	return Pipe[I, O](s, oplet.NewFlatMap(fn))
}

// Peek observes tuples as they pass.
func Peek[T any](s Stream[T], fn func(T)) Stream[T] {
	return Pipe[T, T](s, oplet.NewPeek(fn))
}

// Aggregate windows s by key and emits fn's result on every trigger.
func Aggregate[T any, K comparable, O any](s Stream[T], key func(T) K, eviction window.Eviction,
	trigger window.Trigger, fn func(items []T, key K) (O, bool), opts ...window.Option) Stream[O] {
	if !s.ok() {
		return Stream[O]{top: s.top}
	}
	w, err := window.New(key, eviction, trigger, opts...)
	if err != nil {
		s.top.fail(err)
		return Stream[O]{top: s.top}
	}
	return Pipe[T, O](s, oplet.NewAggregate(w, fn))
}

// Last keeps the n most recent tuples per key and emits fn's result on
// every insert.
func Last[T any, K comparable, O any](s Stream[T], n int, key func(T) K, fn func(items []T, key K) (O, bool)) Stream[O] {
	return Aggregate(s, key, window.LastN(n), window.EveryInsert(), fn)
}

// Batch groups every size tuples per key and emits fn's result for each
// full batch.
func Batch[T any, K comparable, O any](s Stream[T], size int, key func(T) K, fn func(items []T, key K) (O, bool)) Stream[O] {
	return Aggregate(s, key, window.Unbounded().ClearOnTrigger(), window.EveryCount(size), fn)
}

// Sink terminates s with fn.
func Sink[T any](s Stream[T], fn func(T)) {
	SinkOplet(s, oplet.NewSink(fn))
}

// SinkOplet terminates s with a 1-in/0-out oplet.
func SinkOplet[T any](s Stream[T], o oplet.Oplet) {
	if !s.ok() {
		return
	}
	if _, err := s.top.graph.Sink(s.conn, o); err != nil {
		s.top.fail(err)
	}
}

// Split routes s to n streams by fn's result. Tuples routed outside [0, n)
// are dropped. A negative n records ErrInvalidArity and returns no streams.
func Split[T any](s Stream[T], n int, fn func(T) int) []Stream[T] {
	if n < 0 {
		if s.top != nil {
			s.top.fail(errors.WrapInvalid(fmt.Errorf("%w: split into %d outputs", errors.ErrInvalidArity, n),
				"Topology", "Split", "insert split"))
		}
		return nil
	}
	out := make([]Stream[T], n)
	for i := range out {
		out[i] = Stream[T]{top: s.top}
	}
	if !s.ok() {
		return out
	}
	v, err := s.top.graph.Insert(oplet.NewSplit(fn), 1, n)
	if err == nil {
		err = s.conn.Connect(v, 0)
	}
	if err != nil {
		s.top.fail(err)
		return out
	}
	for i := range out {
		out[i].conn = v.Output(i)
	}
	return out
}

// Union merges streams of one topology into one.
func Union[T any](streams ...Stream[T]) Stream[T] {
	if len(streams) == 0 {
		return Stream[T]{}
	}
	top := streams[0].top
	for _, s := range streams {
		if !s.ok() {
			return Stream[T]{top: top}
		}
	}
	v, err := top.graph.Insert(oplet.NewUnion[T](), len(streams), 1)
	if err != nil {
		top.fail(err)
		return Stream[T]{top: top}
	}
	for i, s := range streams {
		if err := s.conn.Connect(v, i); err != nil {
			top.fail(err)
			return Stream[T]{top: top}
		}
	}
	return Stream[T]{top: top, conn: v.Output(0)}
}
