package graph

import (
	"fmt"
	"sync/atomic"
)

// Vertex wraps one oplet instance. Port counts are fixed at insertion.
type Vertex struct {
	graph      *Graph
	index      int
	instance   any
	inputCount int
	outputs    []*Connector

	inputs atomic.Pointer[[]Consumer]
	// deliveries in progress; counted before inputs is loaded
	inflight atomic.Int64
}

// ID is the vertex id within its graph, derived from insertion order.
func (v *Vertex) ID() string {
	return fmt.Sprintf("OP_%d", v.index)
}

// Index is the insertion position.
func (v *Vertex) Index() int {
	return v.index
}

// Instance returns the wrapped oplet instance.
func (v *Vertex) Instance() any {
	return v.instance
}

// InputCount returns the declared number of input ports.
func (v *Vertex) InputCount() int {
	return v.inputCount
}

// OutputCount returns the declared number of output ports.
func (v *Vertex) OutputCount() int {
	return len(v.outputs)
}

// Outputs returns the output connectors in port order.
func (v *Vertex) Outputs() []*Connector {
	out := make([]*Connector, len(v.outputs))
	copy(out, v.outputs)
	return out
}

// Output returns the connector for port i.
func (v *Vertex) Output(i int) *Connector {
	return v.outputs[i]
}

// Bind installs the per-port input handles of the running oplet.
func (v *Vertex) Bind(inputs []Consumer) {
	in := make([]Consumer, len(inputs))
	copy(in, inputs)
	v.inputs.Store(&in)
}

// Unbind removes the input handles; later deliveries are dropped.
func (v *Vertex) Unbind() {
	v.inputs.Store(nil)
}

// Bound reports whether input handles are installed.
func (v *Vertex) Bound() bool {
	return v.inputs.Load() != nil
}

// Idle reports whether no delivery to the vertex is running. Once the
// vertex is unbound and idle, its oplet receives nothing more.
func (v *Vertex) Idle() bool {
	return v.inflight.Load() == 0
}

func (v *Vertex) accept(port int, tuple any) bool {
	v.inflight.Add(1)
	defer v.inflight.Add(-1)

	in := v.inputs.Load()
	if in == nil || port >= len(*in) || (*in)[port] == nil {
		return false
	}
	(*in)[port](tuple)
	return true
}

// Kind names the instance for snapshots and logs.
func (v *Vertex) Kind() string {
	if k, ok := v.instance.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return fmt.Sprintf("%T", v.instance)
}

// Shape names the port arity: source, sink, pipe, split, union or custom.
func (v *Vertex) Shape() string {
	return shapeOf(v.inputCount, len(v.outputs))
}

func shapeOf(in, out int) string {
	switch {
	case in == 0 && out == 1:
		return "source"
	case in == 1 && out == 0:
		return "sink"
	case in == 1 && out == 1:
		return "pipe"
	case in == 1 && out > 1:
		return "split"
	case in > 1 && out == 1:
		return "union"
	default:
		return "custom"
	}
}
