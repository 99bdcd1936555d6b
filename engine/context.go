package engine

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/pkg/scheduler"
)

var timersCapability = reflect.TypeFor[scheduler.Timers]()

// opletContext is the runtime's oplet.Context for one vertex of one job.
type opletContext struct {
	job     *Job
	vertex  *graph.Vertex
	kind    string
	logger  *slog.Logger
	outputs []graph.Consumer

	// warned is set after the first pre-start submission is logged
	warned atomic.Bool
}

var _ oplet.Context = (*opletContext)(nil)

func newOpletContext(j *Job, v *graph.Vertex) *opletContext {
	c := &opletContext{
		job:    j,
		vertex: v,
		kind:   v.Kind(),
	}
	c.logger = j.logger.With("oplet_id", v.ID(), "oplet_kind", c.kind)

	conns := v.Outputs()
	c.outputs = make([]graph.Consumer, len(conns))
	for i, conn := range conns {
		c.outputs[i] = c.gate(conn)
	}
	return c
}

// gate wraps a connector so that tuples submitted while the job does not
// accept submissions are dropped.
func (c *opletContext) gate(conn *graph.Connector) graph.Consumer {
	return func(tuple any) {
		if !c.job.submitting.Load() {
			c.dropPreStart(conn.Port())
			return
		}
		conn.Submit(tuple)
	}
}

func (c *opletContext) dropPreStart(port int) {
	c.job.metrics.recordDropped(c.job.id, "not_started")
	if c.warned.CompareAndSwap(false, true) {
		c.logger.Warn("Tuple submitted while job is not running; dropping", "port", port,
			"state", c.job.CurrentState().String())
		return
	}
	c.logger.Debug("Tuple dropped", "reason", "not_started", "port", port)
}

func (c *opletContext) ID() string   { return c.vertex.ID() }
func (c *opletContext) Kind() string { return c.kind }

// Service resolves capability in the provider's container. The scheduler
// capability resolves to the job's tracked view so CLOSE cancels every
// timer an oplet armed.
func (c *opletContext) Service(capability reflect.Type) (any, bool) {
	if capability == timersCapability {
		return c.job.timers, true
	}
	return c.job.services.Lookup(capability)
}

func (c *opletContext) InputCount() int  { return c.vertex.InputCount() }
func (c *opletContext) OutputCount() int { return c.vertex.OutputCount() }

func (c *opletContext) Outputs() []graph.Consumer {
	out := make([]graph.Consumer, len(c.outputs))
	copy(out, c.outputs)
	return out
}

func (c *opletContext) JobID() string   { return c.job.id }
func (c *opletContext) JobName() string { return c.job.name }

func (c *opletContext) Uniquify(name string) string {
	return fmt.Sprintf("%s.%s.%s", name, c.job.id, c.vertex.ID())
}

func (c *opletContext) Logger() *slog.Logger { return c.logger }
