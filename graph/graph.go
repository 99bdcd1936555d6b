// Package graph holds the structural model of a dataflow job: vertices
// wrapping oplet instances, output connectors with fan-out, taps and tags,
// and the edge set derived from connector adjacency.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/edgestreams/errors"
)

// Consumer receives one tuple. Delivery is synchronous on the caller's goroutine.
type Consumer func(tuple any)

// Graph is an ordered collection of vertices. All structural mutation
// happens under a single lock; reads return copies.
type Graph struct {
	mu       sync.Mutex
	vertices []*Vertex
	sealed   bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// Insert adds a vertex wrapping instance with the given port counts.
func (g *Graph) Insert(instance any, inputs, outputs int) (*Vertex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.insertLocked(instance, inputs, outputs)
}

func (g *Graph) insertLocked(instance any, inputs, outputs int) (*Vertex, error) {
	if g.sealed {
		return nil, errors.WrapInvalid(errors.ErrGraphSealed, "Graph", "Insert", "insert vertex")
	}
	if inputs < 0 || outputs < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: inputs=%d outputs=%d", errors.ErrInvalidArity, inputs, outputs),
			"Graph", "Insert", "validate arity")
	}

	v := &Vertex{
		graph:      g,
		index:      len(g.vertices),
		instance:   instance,
		inputCount: inputs,
	}
	v.outputs = make([]*Connector, outputs)
	for i := range v.outputs {
		v.outputs[i] = newConnector(v, i)
	}
	g.vertices = append(g.vertices, v)
	return v, nil
}

// Pipe inserts a 1-in/1-out vertex fed by c and returns its output connector.
func (g *Graph) Pipe(c *Connector, instance any) (*Connector, error) {
	v, err := g.Insert(instance, 1, 1)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(v, 0); err != nil {
		return nil, err
	}
	return v.outputs[0], nil
}

// Source inserts a 0-in/1-out vertex and returns its output connector.
func (g *Graph) Source(instance any) (*Connector, error) {
	v, err := g.Insert(instance, 0, 1)
	if err != nil {
		return nil, err
	}
	return v.outputs[0], nil
}

// Sink inserts a 1-in/0-out vertex fed by c.
func (g *Graph) Sink(c *Connector, instance any) (*Vertex, error) {
	v, err := g.Insert(instance, 1, 0)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(v, 0); err != nil {
		return nil, err
	}
	return v, nil
}

// Vertices returns the vertices in insertion order.
func (g *Graph) Vertices() []*Vertex {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Vertex, len(g.vertices))
	copy(out, g.vertices)
	return out
}

// Edges returns one edge per connector target, derived on demand.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var edges []Edge
	for _, v := range g.vertices {
		for _, c := range v.outputs {
			tags := c.origin.sortedTagsLocked()
			for _, t := range c.targets {
				edges = append(edges, Edge{
					Source:     v,
					SourcePort: c.port,
					Target:     t.Vertex,
					TargetPort: t.Port,
					Tags:       tags,
				})
			}
		}
	}
	return edges
}

// PeekAll inserts a fresh tap, built by factory, on every connected output
// connector of each vertex matching pred. Taps inserted here are not
// themselves considered.
func (g *Graph) PeekAll(factory func() any, pred func(*Vertex) bool) error {
	for _, v := range g.Vertices() {
		if pred != nil && !pred(v) {
			continue
		}
		for _, c := range v.Outputs() {
			if !c.IsConnected() {
				continue
			}
			if _, err := c.Peek(factory()); err != nil {
				return errors.Wrap(err, "Graph", "PeekAll", fmt.Sprintf("tap %s port %d", v.ID(), c.port))
			}
		}
	}
	return nil
}

// Seal freezes the structure. Later inserts, connects, taps and tags fail.
func (g *Graph) Seal() {
	g.mu.Lock()
	g.sealed = true
	g.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (g *Graph) Sealed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sealed
}

// Len returns the vertex count.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.vertices)
}

// AwaitIdle waits until no vertex has a delivery in progress. Call it after
// unbinding to know that no oplet is still inside an input handle.
func (g *Graph) AwaitIdle(ctx context.Context) error {
	vertices := g.Vertices()
	for {
		busy := 0
		for _, v := range vertices {
			if !v.Idle() {
				busy++
			}
		}
		if busy == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(fmt.Errorf("%w: %d vertices still delivering", ctx.Err(), busy),
				"Graph", "AwaitIdle", "wait for deliveries")
		case <-time.After(time.Millisecond):
		}
	}
}
