package oplet

import "github.com/c360/edgestreams/graph"

// Split routes each tuple to the output port chosen by fn. Indexes
// outside [0, N) are dropped.
type Split[T any] struct {
	Base
	fn func(T) int
}

// NewSplit creates a 1-in/N-out router.
func NewSplit[T any](fn func(T) int) *Split[T] {
	return &Split[T]{fn: fn}
}

func (s *Split[T]) Kind() string { return "Split" }

func (s *Split[T]) Shape() Shape { return ShapeSplit }

func (s *Split[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := As[T](&s.Base, tuple)
		if !ok {
			return
		}
		i := s.fn(v)
		if i < 0 || i >= s.OutputCount() {
			s.Drop("split_out_of_range", tuple)
			return
		}
		s.Submit(i, tuple)
	}}
}

// Sink is a terminal consumer.
type Sink[T any] struct {
	Base
	fn func(T)
}

// NewSink creates a 1-in/0-out oplet calling fn for every tuple.
func NewSink[T any](fn func(T)) *Sink[T] {
	return &Sink[T]{fn: fn}
}

func (s *Sink[T]) Kind() string { return "Sink" }

func (s *Sink[T]) Shape() Shape { return ShapeSink }

func (s *Sink[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		if v, ok := As[T](&s.Base, tuple); ok {
			s.fn(v)
		}
	}}
}

// Union merges N inputs into one output. There is no ordering across
// inputs.
type Union[T any] struct {
	Base
}

// NewUnion creates an N-in/1-out merge.
func NewUnion[T any]() *Union[T] {
	return &Union[T]{}
}

func (u *Union[T]) Kind() string { return "Union" }

func (u *Union[T]) Shape() Shape { return ShapeUnion }

func (u *Union[T]) Inputs() []graph.Consumer {
	in := make([]graph.Consumer, u.Context().InputCount())
	for i := range in {
		in[i] = func(tuple any) {
			if _, ok := As[T](&u.Base, tuple); ok {
				u.Submit(0, tuple)
			}
		}
	}
	return in
}
