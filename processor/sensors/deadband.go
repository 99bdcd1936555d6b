// Package sensors provides filters for streams of sensor readings.
package sensors

import (
	"sync"
	"time"

	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/topology"
)

// DeadbandFilter suppresses readings that stay inside a band.
//
// A reading outside the band always passes. The first in-band reading
// after one or more out-of-band readings passes too, so downstream sees
// the value return to normal. Further in-band readings are suppressed
// unless MaxSuppression has elapsed since the last passed reading.
type DeadbandFilter[T, V any] struct {
	value          func(T) V
	inBand         func(V) bool
	maxSuppression time.Duration
	now            func() time.Time

	mu        sync.Mutex
	outOfBand bool
	lastPass  time.Time
}

// Option configures a DeadbandFilter.
type Option func(*deadbandOptions)

type deadbandOptions struct {
	maxSuppression time.Duration
	now            func() time.Time
}

// WithMaxSuppression passes an in-band reading once d has elapsed since
// the last reading passed. Zero, the default, suppresses indefinitely.
func WithMaxSuppression(d time.Duration) Option {
	return func(o *deadbandOptions) { o.maxSuppression = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *deadbandOptions) { o.now = now }
}

// NewDeadbandFilter creates a filter over the reading value(t).
func NewDeadbandFilter[T, V any](value func(T) V, inBand func(V) bool, opts ...Option) *DeadbandFilter[T, V] {
	o := deadbandOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &DeadbandFilter[T, V]{
		value:          value,
		inBand:         inBand,
		maxSuppression: o.maxSuppression,
		now:            o.now,
		// the first reading always passes
		outOfBand: true,
	}
}

// Test reports whether t passes the filter, updating the filter's state.
func (d *DeadbandFilter[T, V]) Test(t T) bool {
	v := d.value(t)

	d.mu.Lock()
	defer d.mu.Unlock()

	var pass bool
	switch {
	case !d.inBand(v):
		d.outOfBand = true
		pass = true
	case d.outOfBand:
		d.outOfBand = false
		pass = true
	case d.maxSuppression > 0:
		pass = d.now().Sub(d.lastPass) > d.maxSuppression
	}

	if pass && d.maxSuppression > 0 {
		d.lastPass = d.now()
	}
	return pass
}

// Deadband is the pipe oplet applying a DeadbandFilter.
type Deadband[T, V any] struct {
	oplet.Base
	filter *DeadbandFilter[T, V]
}

// NewDeadband wraps filter in an oplet.
func NewDeadband[T, V any](filter *DeadbandFilter[T, V]) *Deadband[T, V] {
	return &Deadband[T, V]{filter: filter}
}

func (d *Deadband[T, V]) Kind() string { return "Deadband" }

func (d *Deadband[T, V]) Shape() oplet.Shape { return oplet.ShapePipe }

// Filter returns the wrapped filter.
func (d *Deadband[T, V]) Filter() *DeadbandFilter[T, V] { return d.filter }

func (d *Deadband[T, V]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		if v, ok := oplet.As[T](&d.Base, tuple); ok && d.filter.Test(v) {
			d.Submit(0, v)
		}
	}}
}

// DeadbandStream filters s through a deadband over value(t).
func DeadbandStream[T, V any](s topology.Stream[T], value func(T) V, inBand func(V) bool, opts ...Option) topology.Stream[T] {
	return topology.Pipe[T, T](s, NewDeadband(NewDeadbandFilter(value, inBand, opts...)))
}
