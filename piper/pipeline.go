package piper

import "github.com/copperd/piper/internal/graph"

// nodeRecord is the L1 graph's node payload: everything the builder
// learned about one node via the dispatcher's Info call, used later by
// the executor to construct the real Node instance.
type nodeRecord struct {
	ID       string
	NodeType string
	Params   ParamMap
	Inputs   PortSchema
	Outputs  PortSchema
}

// edgeRecord is the L1 graph's edge payload.
type edgeRecord struct {
	EdgeID string
	Kind   EdgeKind
	Source Endpoint
	Target Endpoint
}

// Pipeline is the finalized, type-checked, cycle-free output of Build: a
// graph plus the node-id -> index map the executor uses to address
// individual nodes (spec.md §4.4).
type Pipeline struct {
	Name       string
	graph      *graph.Finalized[nodeRecord, edgeRecord]
	indexByID  map[string]graph.NodeIndex
	inputNode  graph.NodeIndex
}

// NodeIDs returns every node id in the pipeline, in build order.
func (p *Pipeline) NodeIDs() []string {
	out := make([]string, p.graph.NodeCount())
	for id, idx := range p.indexByID {
		out[idx] = id
	}
	return out
}

// InputNodeID returns the id of the pipeline's designated Input node.
func (p *Pipeline) InputNodeID() string {
	return p.graph.Node(p.inputNode).ID
}
