package piper

import (
	"context"
	"testing"
)

// passthroughFactory is a minimal one-input-one-output test node: it
// copies "v" straight through to "w". It exists only to exercise the
// builder/executor without depending on any adapter.
type passthroughFactory struct{ vStub, wStub Stub }

func (f *passthroughFactory) Info(_ *JobContext, _ ParamMap) (inputs, outputs PortSchema, err error) {
	return NewPortSchema(PortEntry{ID: "v", Stub: f.vStub}),
		NewPortSchema(PortEntry{ID: "w", Stub: f.wStub}),
		nil
}

func (f *passthroughFactory) New(_ *JobContext, _ ParamMap) (Node, error) {
	in, out, _ := f.Info(nil, nil)
	return &passthroughNode{inputs: in, outputs: out}, nil
}

type passthroughNode struct {
	inputs, outputs PortSchema
	seen            bool
}

func (n *passthroughNode) Inputs() PortSchema  { return n.inputs }
func (n *passthroughNode) Outputs() PortSchema { return n.outputs }

func (n *passthroughNode) Run(_ context.Context, in []Delivery, emit Emit) (RunResult, error) {
	for _, d := range in {
		if err := emit("w", d.Value); err != nil {
			return RunResult{}, err
		}
		n.seen = true
	}
	if n.seen {
		return RunResult{Status: Done}, nil
	}
	return RunResult{Status: Pending}, nil
}

func testJobContext() *JobContext {
	return NewJobContext("job-1", "user-1", nil, nil, 4, 1<<20)
}

func TestBuildEmptyPipelineSucceeds(t *testing.T) {
	spec := &Spec{
		Name: "empty",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"x": StringParam("Text")}},
		},
		Edges: map[string]EdgeSpec{},
	}

	d := NewDispatcher()
	if _, err := Build(spec, testJobContext(), d); err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
}

func TestBuildIdentityWithTypeRefinement(t *testing.T) {
	spec := &Spec{
		Name: "identity",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"n": StringParam("Integer!")}},
			"c":  {NodeType: "Passthrough"},
		},
		Edges: map[string]EdgeSpec{
			"e1": {Kind: DataEdge, Source: Endpoint{Node: "in", Port: "n"}, Target: Endpoint{Node: "c", Port: "v"}},
		},
	}

	d := NewDispatcher()
	if err := d.Register("Passthrough", &passthroughFactory{
		vStub: IntegerStub{IsNonNegative: false},
		wStub: IntegerStub{IsNonNegative: false},
	}); err != nil {
		t.Fatalf("registering node type: %v", err)
	}

	if _, err := Build(spec, testJobContext(), d); err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
}

func TestBuildTypeMismatchFails(t *testing.T) {
	spec := &Spec{
		Name: "mismatch",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"s": StringParam("Text")}},
			"c":  {NodeType: "Passthrough"},
		},
		Edges: map[string]EdgeSpec{
			"e1": {Kind: DataEdge, Source: Endpoint{Node: "in", Port: "s"}, Target: Endpoint{Node: "c", Port: "v"}},
		},
	}

	d := NewDispatcher()
	_ = d.Register("Passthrough", &passthroughFactory{
		vStub: IntegerStub{},
		wStub: IntegerStub{},
	})

	_, err := Build(spec, testJobContext(), d)
	mismatch, ok := err.(*TypeMismatchError)
	if !ok {
		t.Fatalf("expected *TypeMismatchError, got %v", err)
	}
	if mismatch.SrcEndpoint.Node != "in" || mismatch.DstEndpoint.Node != "c" {
		t.Fatalf("mismatch error names the wrong endpoints: %+v", mismatch)
	}
}

func TestBuildCycleFails(t *testing.T) {
	spec := &Spec{
		Name: "cycle",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"n": StringParam("Integer")}},
			"a":  {NodeType: "Passthrough"},
			"b":  {NodeType: "Passthrough"},
			"c":  {NodeType: "Passthrough"},
		},
		Edges: map[string]EdgeSpec{
			"e0": {Kind: DataEdge, Source: Endpoint{Node: "in", Port: "n"}, Target: Endpoint{Node: "a", Port: "v"}},
			"e1": {Kind: DataEdge, Source: Endpoint{Node: "a", Port: "w"}, Target: Endpoint{Node: "b", Port: "v"}},
			"e2": {Kind: DataEdge, Source: Endpoint{Node: "b", Port: "w"}, Target: Endpoint{Node: "c", Port: "v"}},
			"e3": {Kind: DataEdge, Source: Endpoint{Node: "c", Port: "w"}, Target: Endpoint{Node: "a", Port: "v"}},
		},
	}

	d := NewDispatcher()
	_ = d.Register("Passthrough", &passthroughFactory{vStub: IntegerStub{}, wStub: IntegerStub{}})

	_, err := Build(spec, testJobContext(), d)
	if err != ErrHasCycle {
		t.Fatalf("expected ErrHasCycle, got %v", err)
	}
}

