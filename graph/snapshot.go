package graph

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/edgestreams/errors"
)

//go:embed snapshot.schema.json
var snapshotSchema []byte

// Snapshot is the exchange format consumed by external managers.
type Snapshot struct {
	Vertices []VertexSnapshot `json:"vertices"`
	Edges    []EdgeSnapshot   `json:"edges"`
}

// VertexSnapshot describes one vertex.
type VertexSnapshot struct {
	ID       string           `json:"id"`
	Instance InstanceSnapshot `json:"instance"`
}

// InstanceSnapshot describes the oplet wrapped by a vertex.
type InstanceSnapshot struct {
	Kind    string `json:"kind"`
	Shape   string `json:"shape,omitempty"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
}

// EdgeSnapshot describes one connector target.
type EdgeSnapshot struct {
	SourceID         string   `json:"sourceId"`
	SourceOutputPort int      `json:"sourceOutputPort"`
	TargetID         string   `json:"targetId"`
	TargetInputPort  int      `json:"targetInputPort"`
	Tags             []string `json:"tags,omitempty"`
}

// Snapshot captures the graph as currently connected.
func (g *Graph) Snapshot() Snapshot {
	vertices := g.Vertices()
	edges := g.Edges()

	s := Snapshot{
		Vertices: make([]VertexSnapshot, 0, len(vertices)),
		Edges:    make([]EdgeSnapshot, 0, len(edges)),
	}
	for _, v := range vertices {
		s.Vertices = append(s.Vertices, VertexSnapshot{
			ID: v.ID(),
			Instance: InstanceSnapshot{
				Kind:    v.Kind(),
				Shape:   v.Shape(),
				Inputs:  v.InputCount(),
				Outputs: v.OutputCount(),
			},
		})
	}
	for _, e := range edges {
		s.Edges = append(s.Edges, EdgeSnapshot{
			SourceID:         e.Source.ID(),
			SourceOutputPort: e.SourcePort,
			TargetID:         e.Target.ID(),
			TargetInputPort:  e.TargetPort,
			Tags:             e.Tags,
		})
	}
	return s
}

// JSON renders the snapshot as indented JSON.
func (s Snapshot) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "Snapshot", "JSON", "marshal snapshot")
	}
	return data, nil
}

// ParseSnapshot decodes and validates a previously emitted snapshot.
func ParseSnapshot(data []byte) (Snapshot, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(snapshotSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return Snapshot{}, errors.WrapInvalid(err, "Snapshot", "Parse", "decode document")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return Snapshot{}, errors.WrapInvalid(
			fmt.Errorf("schema violations: %s", strings.Join(msgs, "; ")),
			"Snapshot", "Parse", "validate document")
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, errors.WrapInvalid(err, "Snapshot", "Parse", "unmarshal document")
	}

	ids := make(map[string]struct{}, len(s.Vertices))
	for _, v := range s.Vertices {
		if _, dup := ids[v.ID]; dup {
			return Snapshot{}, errors.WrapInvalid(fmt.Errorf("duplicate vertex id %q", v.ID),
				"Snapshot", "Parse", "check vertices")
		}
		ids[v.ID] = struct{}{}
	}
	for _, e := range s.Edges {
		_, okSrc := ids[e.SourceID]
		_, okDst := ids[e.TargetID]
		if !okSrc || !okDst {
			return Snapshot{}, errors.WrapInvalid(
				fmt.Errorf("edge %s -> %s references unknown vertex", e.SourceID, e.TargetID),
				"Snapshot", "Parse", "check edges")
		}
	}
	return s, nil
}

// KindCounts returns the number of vertices per instance kind.
func (s Snapshot) KindCounts() map[string]int {
	counts := make(map[string]int)
	for _, v := range s.Vertices {
		counts[v.Instance.Kind]++
	}
	return counts
}
