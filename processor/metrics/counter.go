// Package metrics provides measuring oplets: the counter tap the runtime
// inserts on job connectors when tuple counting is enabled, and a rate
// meter applications place on streams themselves.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/metric"
	"github.com/c360/edgestreams/oplet"
)

// CounterTap counts the tuples that pass through it.
type CounterTap struct {
	oplet.Base
	source  string
	counter prometheus.Counter
	count   atomic.Int64
}

// NewCounterTap creates a tap attributed to the vertex whose output it observes.
func NewCounterTap(source string) *CounterTap {
	return &CounterTap{source: source}
}

func (c *CounterTap) Kind() string { return "CounterTap" }

func (c *CounterTap) Shape() oplet.Shape { return oplet.ShapePipe }

// Source returns the id of the observed vertex.
func (c *CounterTap) Source() string { return c.source }

// Initialize resolves the job's tuple counter when metrics are available.
func (c *CounterTap) Initialize(ctx oplet.Context) error {
	if err := c.Base.Initialize(ctx); err != nil {
		return err
	}
	if m, ok := oplet.ServiceOf[*metric.Metrics](ctx); ok {
		c.counter = m.TuplesTotal.WithLabelValues(ctx.JobID(), c.source)
	}
	return nil
}

func (c *CounterTap) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		c.count.Add(1)
		if c.counter != nil {
			c.counter.Inc()
		}
		c.Submit(0, tuple)
	}}
}

// Count returns the number of tuples seen.
func (c *CounterTap) Count() int64 {
	return c.count.Load()
}

// AddCounters inserts a counter tap on every connected output of every
// vertex that is not itself a counter tap. Vertices already counted are
// skipped, so calling it twice adds nothing. Call it before the job is
// initialized.
func AddCounters(g *graph.Graph) error {
	var source string
	return g.PeekAll(
		func() any { return NewCounterTap(source) },
		func(v *graph.Vertex) bool {
			if _, isTap := v.Instance().(*CounterTap); isTap || counted(v) {
				return false
			}
			// PeekAll builds the taps for v right after accepting it
			source = v.ID()
			return true
		},
	)
}

func counted(v *graph.Vertex) bool {
	for _, c := range v.Outputs() {
		for _, tap := range c.Taps() {
			if _, ok := tap.Instance().(*CounterTap); ok {
				return true
			}
		}
	}
	return false
}

// Counters returns the counter taps in g, in insertion order.
func Counters(g *graph.Graph) []*CounterTap {
	var taps []*CounterTap
	for _, v := range g.Vertices() {
		if c, ok := v.Instance().(*CounterTap); ok {
			taps = append(taps, c)
		}
	}
	return taps
}
