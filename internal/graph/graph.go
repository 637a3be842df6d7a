// Package graph implements the generic DAG substrate the pipeline builder
// and executor are built on: a mutable graph with untyped node and edge
// payloads, parallel edges, and cycle detection performed once at
// finalization.
package graph

import "errors"

// ErrCycle is returned by Finalize when the combined edge relation
// contains a directed cycle.
var ErrCycle = errors.New("graph: cycle detected")

// NodeIndex identifies a node within a Graph. Indices are stable for the
// lifetime of the graph and are assigned in AddNode order.
type NodeIndex int

// Kind distinguishes the two edge flavors a Graph can carry. The zero
// value is Data so callers that don't care about after-edges can omit it.
type Kind int

const (
	// Data edges carry a value between ports.
	Data Kind = iota
	// After edges are pure ordering constraints.
	After
)

// Edge is one directed, kind-tagged, payload-carrying connection between
// two nodes. Parallel edges (same Src/Dst, different payload) are allowed.
type Edge[E any] struct {
	Src     NodeIndex
	Dst     NodeIndex
	Kind    Kind
	Payload E
}

// Graph is a mutable DAG builder. N and E are the node and edge payload
// types; the graph itself never inspects them.
type Graph[N any, E any] struct {
	nodes []N
	edges []Edge[E]
}

// New returns an empty Graph.
func New[N any, E any]() *Graph[N, E] {
	return &Graph[N, E]{}
}

// AddNode appends a node and returns its index.
func (g *Graph[N, E]) AddNode(payload N) NodeIndex {
	g.nodes = append(g.nodes, payload)
	return NodeIndex(len(g.nodes) - 1)
}

// AddEdge appends an edge between two existing node indices. The caller is
// responsible for validating src/dst are in range; Finalize does not
// re-check this.
func (g *Graph[N, E]) AddEdge(src, dst NodeIndex, kind Kind, payload E) {
	g.edges = append(g.edges, Edge[E]{Src: src, Dst: dst, Kind: kind, Payload: payload})
}

// NodeCount returns the number of nodes added so far.
func (g *Graph[N, E]) NodeCount() int { return len(g.nodes) }

// Finalized is the read-optimized, immutable form of a Graph produced by
// Finalize. It additionally indexes edges by source and destination node.
type Finalized[N any, E any] struct {
	nodes   []N
	edges   []Edge[E]
	outIdx  [][]int
	inIdx   [][]int
}

// Finalize runs cycle detection (topological sort over the combined
// Data+After edge relation) and, on success, returns an immutable,
// edge-indexed view of the graph. Construction aborts with ErrCycle if any
// directed cycle exists.
func (g *Graph[N, E]) Finalize() (*Finalized[N, E], error) {
	n := len(g.nodes)

	inDegree := make([]int, n)
	adj := make([][]int, n)
	for i, e := range g.edges {
		adj[e.Src] = append(adj[e.Src], i)
		inDegree[e.Dst]++
	}

	queue := make([]NodeIndex, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, NodeIndex(i))
		}
	}

	visited := 0
	remaining := append([]int(nil), inDegree...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++

		for _, ei := range adj[cur] {
			dst := g.edges[ei].Dst
			remaining[dst]--
			if remaining[dst] == 0 {
				queue = append(queue, dst)
			}
		}
	}

	if visited != n {
		return nil, ErrCycle
	}

	fg := &Finalized[N, E]{
		nodes:  g.nodes,
		edges:  g.edges,
		outIdx: make([][]int, n),
		inIdx:  make([][]int, n),
	}

	for i, e := range g.edges {
		fg.outIdx[e.Src] = append(fg.outIdx[e.Src], i)
		fg.inIdx[e.Dst] = append(fg.inIdx[e.Dst], i)
	}

	return fg, nil
}

// NodeCount returns the number of nodes in the graph.
func (f *Finalized[N, E]) NodeCount() int { return len(f.nodes) }

// Node returns the payload at the given index.
func (f *Finalized[N, E]) Node(i NodeIndex) N { return f.nodes[i] }

// Edges returns every edge in the graph, in insertion order.
func (f *Finalized[N, E]) Edges() []Edge[E] { return f.edges }

// EdgesFrom returns the edges whose source is i.
func (f *Finalized[N, E]) EdgesFrom(i NodeIndex) []Edge[E] {
	out := make([]Edge[E], len(f.outIdx[i]))
	for j, ei := range f.outIdx[i] {
		out[j] = f.edges[ei]
	}
	return out
}

// EdgesTo returns the edges whose destination is i.
func (f *Finalized[N, E]) EdgesTo(i NodeIndex) []Edge[E] {
	out := make([]Edge[E], len(f.inIdx[i]))
	for j, ei := range f.inIdx[i] {
		out[j] = f.edges[ei]
	}
	return out
}
