package oplet

import "github.com/c360/edgestreams/graph"

// Map transforms every tuple.
type Map[I, O any] struct {
	Base
	fn func(I) O
}

// NewMap creates a pipe applying fn to every tuple.
func NewMap[I, O any](fn func(I) O) *Map[I, O] {
	return &Map[I, O]{fn: fn}
}

func (m *Map[I, O]) Kind() string { return "Map" }

func (m *Map[I, O]) Shape() Shape { return ShapePipe }

func (m *Map[I, O]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		if v, ok := As[I](&m.Base, tuple); ok {
			m.Submit(0, m.fn(v))
		}
	}}
}

// Filter passes tuples for which the predicate holds.
type Filter[T any] struct {
	Base
	pred func(T) bool
}

// NewFilter creates a pipe that drops tuples failing pred.
func NewFilter[T any](pred func(T) bool) *Filter[T] {
	return &Filter[T]{pred: pred}
}

func (f *Filter[T]) Kind() string { return "Filter" }

func (f *Filter[T]) Shape() Shape { return ShapePipe }

func (f *Filter[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		if v, ok := As[T](&f.Base, tuple); ok && f.pred(v) {
			f.Submit(0, v)
		}
	}}
}

// FlatMap submits every element fn returns, in order.
type FlatMap[I, O any] struct {
	Base
	fn func(I) []O
}

// NewFlatMap creates a pipe emitting zero or more tuples per input.
func NewFlatMap[I, O any](fn func(I) []O) *FlatMap[I, O] {
	return &FlatMap[I, O]{fn: fn}
}

func (f *FlatMap[I, O]) Kind() string { return "FlatMap" }

func (f *FlatMap[I, O]) Shape() Shape { return ShapePipe }

func (f *FlatMap[I, O]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := As[I](&f.Base, tuple)
		if !ok {
			return
		}
		for _, out := range f.fn(v) {
			f.Submit(0, out)
		}
	}}
}

// Peek observes every tuple and passes it on unchanged.
type Peek[T any] struct {
	Base
	kind string
	fn   func(T)
}

// NewPeek creates a pass-through pipe calling fn before forwarding.
func NewPeek[T any](fn func(T)) *Peek[T] {
	return &Peek[T]{kind: "Peek", fn: fn}
}

// NewTap creates the untyped pass-through used for connector taps.
func NewTap(fn func(tuple any)) *Peek[any] {
	return &Peek[any]{kind: "Tap", fn: fn}
}

func (p *Peek[T]) Kind() string { return p.kind }

func (p *Peek[T]) Shape() Shape { return ShapePipe }

func (p *Peek[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := As[T](&p.Base, tuple)
		if !ok {
			return
		}
		p.fn(v)
		p.Submit(0, tuple)
	}}
}
