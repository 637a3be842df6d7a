package piper

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunEmptyPipelineSucceeds(t *testing.T) {
	spec := &Spec{
		Name: "empty",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"x": StringParam("Text")}},
		},
		Edges: map[string]EdgeSpec{},
	}

	d := NewDispatcher()
	jc := testJobContext()
	pipeline, err := Build(spec, jc, d)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	exec := NewExecutor(pipeline, jc, d, nil)
	result := exec.Run(context.Background(), map[string]Value{"x": TextValue("hello")})
	if result.State != JobSuccess {
		t.Fatalf("expected JobSuccess, got %v (err=%v)", result.State, result.Err)
	}
}

func TestRunIdentityProducesSinkOutput(t *testing.T) {
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

	jc := testJobContext()
	pipeline, err := Build(spec, jc, d)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	exec := NewExecutor(pipeline, jc, d, nil)
	result := exec.Run(context.Background(), map[string]Value{"n": IntegerValue{N: 7, IsNonNegative: true}})
	if result.State != JobSuccess {
		t.Fatalf("expected JobSuccess, got %v (err=%v)", result.State, result.Err)
	}

	got, ok := result.Outputs["c.w"]
	if !ok {
		t.Fatalf("expected output %q, got %+v", "c.w", result.Outputs)
	}
	iv, ok := got.(IntegerValue)
	if !ok || iv.N != 7 {
		t.Fatalf("expected IntegerValue{N: 7}, got %#v", got)
	}
}

func TestRunNodeErrorFailsJob(t *testing.T) {
	spec := &Spec{
		Name: "failing",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"n": StringParam("Integer")}},
			"c":  {NodeType: "AlwaysFails"},
		},
		Edges: map[string]EdgeSpec{
			"e1": {Kind: DataEdge, Source: Endpoint{Node: "in", Port: "n"}, Target: Endpoint{Node: "c", Port: "v"}},
		},
	}

	d := NewDispatcher()
	if err := d.Register("AlwaysFails", &failingFactory{vStub: IntegerStub{}}); err != nil {
		t.Fatalf("registering node type: %v", err)
	}

	jc := testJobContext()
	pipeline, err := Build(spec, jc, d)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	exec := NewExecutor(pipeline, jc, d, nil)
	result := exec.Run(context.Background(), map[string]Value{"n": IntegerValue{N: 1}})
	if result.State != JobFailed {
		t.Fatalf("expected JobFailed, got %v", result.State)
	}
	if result.Err == nil {
		t.Fatal("expected a non-nil error on JobFailed")
	}
}

func TestRunSinkWithUnwrittenOutputPortFailsJob(t *testing.T) {
	spec := &Spec{
		Name: "sloppy-sink",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"n": StringParam("Integer")}},
			"c":  {NodeType: "SloppySink"},
		},
		Edges: map[string]EdgeSpec{
			"e1": {Kind: DataEdge, Source: Endpoint{Node: "in", Port: "n"}, Target: Endpoint{Node: "c", Port: "v"}},
		},
	}

	d := NewDispatcher()
	if err := d.Register("SloppySink", &sloppySinkFactory{vStub: IntegerStub{}}); err != nil {
		t.Fatalf("registering node type: %v", err)
	}

	jc := testJobContext()
	pipeline, err := Build(spec, jc, d)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	exec := NewExecutor(pipeline, jc, d, nil)
	result := exec.Run(context.Background(), map[string]Value{"n": IntegerValue{N: 1}})
	if result.State != JobFailed {
		t.Fatalf("expected JobFailed, got %v (outputs=%+v)", result.State, result.Outputs)
	}
	var unwritten *OutputPortUnwrittenError
	if !errors.As(result.Err, &unwritten) {
		t.Fatalf("expected an OutputPortUnwrittenError, got %v", result.Err)
	}
	if unwritten.Port != "second" {
		t.Fatalf("expected the unwritten port to be %q, got %q", "second", unwritten.Port)
	}
}

func TestRunCancellationPropagatesContextErr(t *testing.T) {
	spec := &Spec{
		Name: "hangs",
		Nodes: map[string]NodeSpec{
			"in": {NodeType: InputNodeType, Params: ParamMap{"n": StringParam("Integer")}},
			"c":  {NodeType: "NeverCompletes"},
		},
		Edges: map[string]EdgeSpec{
			"e1": {Kind: DataEdge, Source: Endpoint{Node: "in", Port: "n"}, Target: Endpoint{Node: "c", Port: "v"}},
		},
	}

	d := NewDispatcher()
	if err := d.Register("NeverCompletes", &neverCompletesFactory{vStub: IntegerStub{}}); err != nil {
		t.Fatalf("registering node type: %v", err)
	}

	jc := testJobContext()
	pipeline, err := Build(spec, jc, d)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	exec := NewExecutor(pipeline, jc, d, nil)
	result := exec.Run(ctx, map[string]Value{"n": IntegerValue{N: 1}})
	if result.State != JobFailed {
		t.Fatalf("expected JobFailed on cancellation, got %v", result.State)
	}
	if !errors.Is(result.Err, context.DeadlineExceeded) {
		t.Fatalf("expected the job error to wrap context.DeadlineExceeded, got %v", result.Err)
	}
}

// failingFactory backs a node whose Run always errors, to exercise the
// executor's cancel-the-rest-of-the-job behaviour.
type failingFactory struct{ vStub Stub }

func (f *failingFactory) Info(_ *JobContext, _ ParamMap) (inputs, outputs PortSchema, err error) {
	return NewPortSchema(PortEntry{ID: "v", Stub: f.vStub}), PortSchema{}, nil
}

func (f *failingFactory) New(_ *JobContext, _ ParamMap) (Node, error) {
	in, _, _ := f.Info(nil, nil)
	return &failingNode{inputs: in}, nil
}

type failingNode struct{ inputs PortSchema }

func (n *failingNode) Inputs() PortSchema  { return n.inputs }
func (n *failingNode) Outputs() PortSchema { return PortSchema{} }

func (n *failingNode) Run(_ context.Context, _ []Delivery, _ Emit) (RunResult, error) {
	return RunResult{}, Other(errDeliberate)
}

var errDeliberate = errors.New("deliberate test failure")

// neverCompletesFactory backs a node whose Run blocks until the job's
// context is done and then returns its error, to exercise cancellation
// while a task is still running.
type neverCompletesFactory struct{ vStub Stub }

func (f *neverCompletesFactory) Info(_ *JobContext, _ ParamMap) (inputs, outputs PortSchema, err error) {
	return NewPortSchema(PortEntry{ID: "v", Stub: f.vStub}), PortSchema{}, nil
}

func (f *neverCompletesFactory) New(_ *JobContext, _ ParamMap) (Node, error) {
	in, _, _ := f.Info(nil, nil)
	return &neverCompletesNode{inputs: in}, nil
}

type neverCompletesNode struct{ inputs PortSchema }

func (n *neverCompletesNode) Inputs() PortSchema  { return n.inputs }
func (n *neverCompletesNode) Outputs() PortSchema { return PortSchema{} }

func (n *neverCompletesNode) Run(ctx context.Context, _ []Delivery, _ Emit) (RunResult, error) {
	<-ctx.Done()
	return RunResult{}, ctx.Err()
}

// sloppySinkFactory backs a sink node that declares two output ports but
// only ever writes one before returning Done, exercising the executor's
// Done-contract check (piper/node.go's Run doc, spec.md §8).
type sloppySinkFactory struct{ vStub Stub }

var sloppySinkOutputs = NewPortSchema(
	PortEntry{ID: "first", Stub: IntegerStub{}},
	PortEntry{ID: "second", Stub: IntegerStub{}},
)

func (f *sloppySinkFactory) Info(_ *JobContext, _ ParamMap) (inputs, outputs PortSchema, err error) {
	return NewPortSchema(PortEntry{ID: "v", Stub: f.vStub}), sloppySinkOutputs, nil
}

func (f *sloppySinkFactory) New(_ *JobContext, _ ParamMap) (Node, error) {
	in, _, _ := f.Info(nil, nil)
	return &sloppySinkNode{inputs: in}, nil
}

type sloppySinkNode struct{ inputs PortSchema }

func (n *sloppySinkNode) Inputs() PortSchema  { return n.inputs }
func (n *sloppySinkNode) Outputs() PortSchema { return sloppySinkOutputs }

func (n *sloppySinkNode) Run(_ context.Context, in []Delivery, emit Emit) (RunResult, error) {
	for _, d := range in {
		if d.Port != "v" {
			continue
		}
		if err := emit("first", d.Value); err != nil {
			return RunResult{}, err
		}
		return RunResult{Status: Done}, nil
	}
	return RunResult{Status: Pending, Reason: "waiting for v"}, nil
}
