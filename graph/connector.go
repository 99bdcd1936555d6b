package graph

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/c360/edgestreams/errors"
)

// Target is one downstream (vertex, input port) pair of a connector.
type Target struct {
	Vertex *Vertex
	Port   int
}

// Connector is an output port of a vertex. It fans out to any number of
// targets, carries free-form tags and an ordered chain of tap vertices
// that see every tuple before the targets do.
type Connector struct {
	owner *Vertex
	port  int

	// origin is the connector whose tags and taps this one carries.
	// It is the connector itself unless it is a tap's output.
	origin *Connector
	// tail holds the real targets; it moves down the tap chain as taps
	// are added. Only meaningful on an origin connector.
	tail *Connector

	targets []Target
	tags    map[string]struct{}
	taps    []*Vertex

	routes atomic.Pointer[[]Target]
}

func newConnector(owner *Vertex, port int) *Connector {
	c := &Connector{owner: owner, port: port}
	c.origin = c
	c.tail = c
	c.publishLocked()
	return c
}

// Owner returns the vertex this connector belongs to.
func (c *Connector) Owner() *Vertex {
	return c.owner
}

// Port returns the output port index on the owner.
func (c *Connector) Port() int {
	return c.port
}

// Connect adds target vertex v at input port.
func (c *Connector) Connect(v *Vertex, port int) error {
	g := c.owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return errors.WrapInvalid(errors.ErrGraphSealed, "Connector", "Connect", "connect target")
	}
	if v == nil || v.graph != g {
		return errors.WrapInvalid(fmt.Errorf("target vertex not in graph"), "Connector", "Connect", "resolve target")
	}
	if port < 0 || port >= v.inputCount {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s has %d inputs, got port %d", errors.ErrPortIndexOutOfRange, v.ID(), v.inputCount, port),
			"Connector", "Connect", "validate port")
	}

	tail := c.origin.tail
	tail.targets = append(tail.targets, Target{Vertex: v, Port: port})
	tail.publishLocked()
	return nil
}

// Peek inserts a 1-in/1-out tap vertex wrapping instance after any existing
// taps and before the targets.
func (c *Connector) Peek(instance any) (*Vertex, error) {
	g := c.owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	origin := c.origin
	tap, err := g.insertLocked(instance, 1, 1)
	if err != nil {
		return nil, err
	}

	tail := origin.tail
	out := tap.outputs[0]
	out.origin = origin
	out.targets = tail.targets
	tail.targets = []Target{{Vertex: tap, Port: 0}}
	origin.tail = out
	origin.taps = append(origin.taps, tap)

	out.publishLocked()
	tail.publishLocked()
	return tap, nil
}

// Taps returns the tap vertices in the order tuples reach them.
func (c *Connector) Taps() []*Vertex {
	g := c.owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Vertex, len(c.origin.taps))
	copy(out, c.origin.taps)
	return out
}

// Targets returns the downstream targets, excluding taps.
func (c *Connector) Targets() []Target {
	g := c.owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	tail := c.origin.tail
	out := make([]Target, len(tail.targets))
	copy(out, tail.targets)
	return out
}

// IsConnected reports whether the connector has at least one target.
func (c *Connector) IsConnected() bool {
	g := c.owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(c.origin.tail.targets) > 0
}

// Tag adds tags to the connector.
func (c *Connector) Tag(tags ...string) error {
	g := c.owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return errors.WrapInvalid(errors.ErrGraphSealed, "Connector", "Tag", "add tags")
	}
	origin := c.origin
	if origin.tags == nil {
		origin.tags = make(map[string]struct{}, len(tags))
	}
	for _, t := range tags {
		origin.tags[t] = struct{}{}
	}
	return nil
}

// Tags returns the connector's tags in sorted order.
func (c *Connector) Tags() []string {
	g := c.owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	return c.origin.sortedTagsLocked()
}

func (c *Connector) sortedTagsLocked() []string {
	if len(c.tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.tags))
	for t := range c.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Submit delivers tuple to the first tap, or to every target in connect
// order when there are no taps. It returns the number of ports that
// accepted the tuple.
func (c *Connector) Submit(tuple any) int {
	routes := c.routes.Load()
	delivered := 0
	for _, t := range *routes {
		if t.Vertex.accept(t.Port, tuple) {
			delivered++
		}
	}
	return delivered
}

func (c *Connector) publishLocked() {
	r := make([]Target, len(c.targets))
	copy(r, c.targets)
	c.routes.Store(&r)
}
