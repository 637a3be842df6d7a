package piper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/copperd/piper/internal/graph"
)

// Build turns a declarative Spec into a validated, cycle-free, type
// -checked Pipeline (spec.md §4.4). Every check below runs before the
// graph is finalized; the first failure aborts the whole build, per the
// pass-based ordering spec.md §9 prescribes: node existence, then port
// existence, then type subtyping, then cycle detection.
func Build(spec *Spec, ctx *JobContext, dispatcher *Dispatcher) (*Pipeline, error) {
	g := graph.New[nodeRecord, edgeRecord]()
	indexByID := make(map[string]graph.NodeIndex, len(spec.Nodes))
	recordByID := make(map[string]nodeRecord, len(spec.Nodes))

	nodeIDs := make([]string, 0, len(spec.Nodes))
	for id := range spec.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var inputNodeID string
	inputCount := 0

	// Step 1 & 2: node existence + parameter validation, then add to the
	// graph.
	for _, id := range nodeIDs {
		ns := spec.Nodes[id]

		inputs, outputs, err := dispatcher.Info(ns.NodeType, ctx, ns.Params)
		if err != nil {
			if errors.Is(err, ErrUnknownNodeType) {
				return nil, fmt.Errorf("node %q: %w: %s", id, ErrUnknownNodeType, ns.NodeType)
			}
			return nil, fmt.Errorf("node %q: %w", id, err)
		}

		if ns.NodeType == InputNodeType {
			inputNodeID = id
			inputCount++
		}

		rec := nodeRecord{ID: id, NodeType: ns.NodeType, Params: ns.Params, Inputs: inputs, Outputs: outputs}
		recordByID[id] = rec
		indexByID[id] = g.AddNode(rec)
	}

	if inputCount != 1 {
		return nil, fmt.Errorf("piper: pipeline must have exactly one %s node, found %d", InputNodeType, inputCount)
	}

	// Node-level after dependencies declared inline on the node record.
	for _, id := range nodeIDs {
		for _, dep := range spec.Nodes[id].After {
			depIdx, ok := indexByID[dep]
			if !ok {
				return nil, fmt.Errorf("node %q after-dependency: %w: %s", id, ErrUnknownNode, dep)
			}
			g.AddEdge(depIdx, indexByID[id], graph.After, edgeRecord{
				Kind:   AfterEdge,
				Source: Endpoint{Node: dep},
				Target: Endpoint{Node: id},
			})
		}
	}

	edgeIDs := make([]string, 0, len(spec.Edges))
	for id := range spec.Edges {
		edgeIDs = append(edgeIDs, id)
	}
	sort.Strings(edgeIDs)

	// Step 3: standalone After edges.
	for _, id := range edgeIDs {
		es := spec.Edges[id]
		if es.Kind != AfterEdge {
			continue
		}

		srcIdx, ok := indexByID[es.Source.Node]
		if !ok {
			return nil, fmt.Errorf("edge %q source: %w: %s", id, ErrUnknownNode, es.Source.Node)
		}
		dstIdx, ok := indexByID[es.Target.Node]
		if !ok {
			return nil, fmt.Errorf("edge %q target: %w: %s", id, ErrUnknownNode, es.Target.Node)
		}

		g.AddEdge(srcIdx, dstIdx, graph.After, edgeRecord{EdgeID: id, Kind: AfterEdge, Source: es.Source, Target: es.Target})
	}

	// Step 4: Data edges - port existence, then subtype check.
	for _, id := range edgeIDs {
		es := spec.Edges[id]
		if es.Kind != DataEdge {
			continue
		}

		srcIdx, ok := indexByID[es.Source.Node]
		if !ok {
			return nil, fmt.Errorf("edge %q source: %w: %s", id, ErrUnknownNode, es.Source.Node)
		}
		dstIdx, ok := indexByID[es.Target.Node]
		if !ok {
			return nil, fmt.Errorf("edge %q target: %w: %s", id, ErrUnknownNode, es.Target.Node)
		}

		srcRec := recordByID[es.Source.Node]
		dstRec := recordByID[es.Target.Node]

		srcStub, ok := srcRec.Outputs.Get(es.Source.Port)
		if !ok {
			return nil, fmt.Errorf("edge %q source port: %w: %s", id, ErrNoSuchPort, es.Source)
		}
		dstStub, ok := dstRec.Inputs.Get(es.Target.Port)
		if !ok {
			return nil, fmt.Errorf("edge %q target port: %w: %s", id, ErrNoSuchPort, es.Target)
		}

		if !srcStub.IsSubtypeOf(dstStub) {
			return nil, &TypeMismatchError{
				SrcEndpoint: es.Source,
				DstEndpoint: es.Target,
				SrcStub:     srcStub,
				DstStub:     dstStub,
			}
		}

		g.AddEdge(srcIdx, dstIdx, graph.Data, edgeRecord{EdgeID: id, Kind: DataEdge, Source: es.Source, Target: es.Target})
	}

	// Step 5: cycle detection over the combined data+after relation.
	finalized, err := g.Finalize()
	if err != nil {
		if errors.Is(err, graph.ErrCycle) {
			return nil, ErrHasCycle
		}
		return nil, err
	}

	return &Pipeline{
		Name:      spec.Name,
		graph:     finalized,
		indexByID: indexByID,
		inputNode: indexByID[inputNodeID],
	}, nil
}
