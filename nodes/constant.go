package nodes

import (
	"context"

	"github.com/copperd/piper/piper"
)

// constantFactory backs "Constant": a single-input, single-output identity
// node (spec.md §8 scenario 2 - identity + type refinement). It takes no
// parameters; its port stubs are fixed at Integer(is_non_negative=false)
// on both sides, deliberately looser than the Input node's
// Integer(is_non_negative=true) so the builder's subtype check has
// something to exercise.
type constantFactory struct{}

var constantPorts = piper.NewPortSchema(piper.PortEntry{ID: "v", Stub: piper.IntegerStub{}})
var constantOutPorts = piper.NewPortSchema(piper.PortEntry{ID: "w", Stub: piper.IntegerStub{}})

func (f *constantFactory) Info(_ *piper.JobContext, params piper.ParamMap) (inputs, outputs piper.PortSchema, err error) {
	if err := params.CheckUnexpected(); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	return constantPorts, constantOutPorts, nil
}

func (f *constantFactory) New(_ *piper.JobContext, _ piper.ParamMap) (piper.Node, error) {
	return &constantNode{}, nil
}

type constantNode struct{}

func (n *constantNode) Inputs() piper.PortSchema  { return constantPorts }
func (n *constantNode) Outputs() piper.PortSchema { return constantOutPorts }

func (n *constantNode) Run(_ context.Context, in []piper.Delivery, emit piper.Emit) (piper.RunResult, error) {
	for _, d := range in {
		if d.Port != "v" {
			continue
		}
		if err := emit("w", d.Value); err != nil {
			return piper.RunResult{}, err
		}
		return piper.RunResult{Status: piper.Done}, nil
	}
	return piper.RunResult{Status: piper.Pending, Reason: "waiting for v"}, nil
}
