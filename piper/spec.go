package piper

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// EdgeKind distinguishes a Data edge from a pure ordering After edge
// (spec.md §3/§6).
type EdgeKind string

const (
	DataEdge  EdgeKind = "Data"
	AfterEdge EdgeKind = "After"
)

// Endpoint names a (node, port) pair. For After edges Port is empty.
type Endpoint struct {
	Node string `json:"node" yaml:"node" mapstructure:"node"`
	Port PortID `json:"port,omitempty" yaml:"port,omitempty" mapstructure:"port,omitempty"`
}

func (e Endpoint) String() string {
	if e.Port == "" {
		return e.Node
	}
	return fmt.Sprintf("%s.%s", e.Node, e.Port)
}

// NodeSpec declares one node in a pipeline spec: its type, its
// parameters, and the after-dependencies it waits on.
type NodeSpec struct {
	NodeType string   `json:"node_type" yaml:"node_type"`
	Params   ParamMap `json:"params" yaml:"params"`
	After    []string `json:"after,omitempty" yaml:"after,omitempty"`
}

// EdgeSpec declares one edge in a pipeline spec, keyed externally by
// edge id in Spec.Edges.
type EdgeSpec struct {
	Kind   EdgeKind `json:"kind" yaml:"kind"`
	Source Endpoint `json:"source" yaml:"source"`
	Target Endpoint `json:"target" yaml:"target"`
}

// Spec is the declarative, stored form of a pipeline (spec.md §6): a
// named node set and a named edge set. It carries no execution state -
// Build turns it into a validated, executable Pipeline.
type Spec struct {
	Name  string              `json:"name" yaml:"name"`
	Nodes map[string]NodeSpec `json:"nodes" yaml:"nodes"`
	Edges map[string]EdgeSpec `json:"edges" yaml:"edges"`
}

// LoadSpecYAML parses a pipeline spec from its on-disk YAML form, the
// format operators hand-author and check into version control; the
// job queue carries the same Spec JSON-encoded instead (spec.md §6).
func LoadSpecYAML(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("piper: parsing spec yaml: %w", err)
	}
	return &s, nil
}

// ToYAML renders a Spec back to its on-disk YAML form. Named to avoid
// colliding with yaml.Marshaler's interface signature, which this isn't.
func (s *Spec) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}
