package piper

import "context"

// Delivery is one input value arriving on one port (spec.md §4.5). A
// node's Run sees every delivery it has received since its last Run call,
// in arrival order per port; interleaving across ports is unspecified.
type Delivery struct {
	Port  PortID
	Value Value
}

// Status is a node's terminal verdict for one Run call.
type Status int

const (
	// Done means every output port has now been written and the node
	// will not be polled again.
	Done Status = iota
	// Pending means the node is waiting on more input and expects to be
	// re-polled once more deliveries arrive.
	Pending
)

// RunResult is what a node's Run method returns alongside an error.
type RunResult struct {
	Status Status
	// Reason documents why a Pending node is waiting; used only for
	// logging/diagnostics.
	Reason string
}

// Emit is the function a node calls to produce one output value. The
// executor rejects a second Emit call on the same port within one node's
// lifetime with OutputPortSetTwiceError.
type Emit func(port PortID, value Value) error

// Node is the uniform contract every node instance honours (spec.md
// §4.5). A Node is constructed once per job by a NodeFactory and driven
// by repeated Run calls until it returns Done.
type Node interface {
	// Inputs returns this node's input port schema.
	Inputs() PortSchema
	// Outputs returns this node's output port schema.
	Outputs() PortSchema
	// Run consumes the deliveries received since the last call, may call
	// emit any number of times (but each port at most once over the
	// node's whole lifetime), and reports whether it is Done or Pending.
	// A Done result with an output port still unwritten is the caller's
	// bug to report, not the node's to prevent - callers should treat it
	// as OutputPortSetTwiceError's sibling and fail the job.
	Run(ctx context.Context, in []Delivery, emit Emit) (RunResult, error)
}

// NodeFactory is what the dispatcher registers against a node-type name.
// Info must be side-effect free and cheaper than New - the builder calls
// it once per node in a spec to type-check the graph before any node is
// actually constructed.
type NodeFactory interface {
	// Info returns the input/output port schema a node of this type would
	// have for the given (context, params), without constructing it.
	Info(ctx *JobContext, params ParamMap) (inputs, outputs PortSchema, err error)
	// New constructs a node instance, owning whatever execution state it
	// needs for one job run.
	New(ctx *JobContext, params ParamMap) (Node, error)
}
