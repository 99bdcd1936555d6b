package graph

import "fmt"

// Edge is a read-only view of one connector target.
type Edge struct {
	Source     *Vertex
	SourcePort int
	Target     *Vertex
	TargetPort int
	Tags       []string
}

// String renders the edge as "OP_0[0] -> OP_1[0]".
func (e Edge) String() string {
	return fmt.Sprintf("%s[%d] -> %s[%d]", e.Source.ID(), e.SourcePort, e.Target.ID(), e.TargetPort)
}
