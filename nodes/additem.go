package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/copystructure"

	"github.com/copperd/piper/piper"
)

// addItemFactory backs "AddItem": inserts one row into the item database
// (original_source/ rm-dr/copper's AddItem node). Its input ports are
// derived from the target class's attribute schema, discovered via a
// GetClass call during Info - Info is documented as side-effect free, and
// a read-only schema lookup honours that even though it reaches the
// item-db.
//
// Parameters:
//   - "class": Integer, the target class id (canonical per spec.md §9;
//     a string class name is a caller convenience the HTTP layer would
//     resolve, not this node).
//   - "dataset": Integer, must match the class's owning dataset.
//   - "on_unique_violation": optional String, "fail" (default) or
//     "select".
type addItemFactory struct{}

func (f *addItemFactory) Info(ctx *piper.JobContext, params piper.ParamMap) (inputs, outputs piper.PortSchema, err error) {
	classID, err := params.RequireInteger("class")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	datasetID, err := params.RequireInteger("dataset")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	policyStr, err := params.OptionalString("on_unique_violation", "fail")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	if err := params.CheckUnexpected("class", "dataset", "on_unique_violation"); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	if _, err := parsePolicy(policyStr); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "on_unique_violation", Message: err.Error()}
	}

	class, err := ctx.ItemDB().GetClass(context.Background(), classID)
	if err != nil {
		var notFound *piper.ItemNotFoundError
		if errors.As(err, &notFound) {
			return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "class", Message: fmt.Sprintf("no such class %d", classID)}
		}
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "class", Message: err.Error()}
	}
	if class.DatasetID != datasetID {
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{
			Name:    "dataset",
			Message: fmt.Sprintf("class %d belongs to dataset %d, not %d", classID, class.DatasetID, datasetID),
		}
	}

	entries := make([]piper.PortEntry, 0, len(class.Attributes))
	for name, attr := range class.Attributes {
		entries = append(entries, piper.PortEntry{ID: piper.PortID(name), Stub: attr.Stub})
	}

	return piper.NewPortSchema(entries...),
		piper.NewPortSchema(piper.PortEntry{ID: "ref", Stub: piper.ReferenceStub{ClassID: classID}}),
		nil
}

func (f *addItemFactory) New(ctx *piper.JobContext, params piper.ParamMap) (piper.Node, error) {
	inputs, outputs, err := f.Info(ctx, params)
	if err != nil {
		return nil, err
	}
	classID, _ := params.RequireInteger("class")
	policyStr, _ := params.OptionalString("on_unique_violation", "fail")
	policy, _ := parsePolicy(policyStr)

	return &addItemNode{
		inputs:  inputs,
		outputs: outputs,
		classID: classID,
		policy:  policy,
		tx:      ctx.ItemDB(),
		seen:    make(map[piper.PortID]piper.Value, inputs.Len()),
	}, nil
}

func parsePolicy(s string) (piper.UniqueViolationPolicy, error) {
	switch s {
	case "fail":
		return piper.OnUniqueViolationFail, nil
	case "select":
		return piper.OnUniqueViolationSelect, nil
	default:
		return 0, fmt.Errorf("must be \"fail\" or \"select\", got %q", s)
	}
}

type addItemNode struct {
	inputs, outputs piper.PortSchema
	classID         int64
	policy          piper.UniqueViolationPolicy
	tx              piper.ItemTx
	seen            map[piper.PortID]piper.Value
}

func (n *addItemNode) Inputs() piper.PortSchema  { return n.inputs }
func (n *addItemNode) Outputs() piper.PortSchema { return n.outputs }

func (n *addItemNode) Run(ctx context.Context, in []piper.Delivery, emit piper.Emit) (piper.RunResult, error) {
	for _, d := range in {
		declared, ok := n.inputs.Get(d.Port)
		if !ok {
			return piper.RunResult{}, piper.BadInputType(fmt.Sprintf("AddItem has no attribute port %q", d.Port))
		}
		if !d.Value.AsStub().IsSubtypeOf(declared) {
			return piper.RunResult{}, piper.BadInputType(fmt.Sprintf("attribute %q: %v is not a %v", d.Port, d.Value.AsStub(), declared))
		}
		n.seen[d.Port] = d.Value
	}

	for _, port := range n.inputs.Ordered() {
		if _, ok := n.seen[port]; !ok {
			return piper.RunResult{Status: piper.Pending, Reason: fmt.Sprintf("waiting for attribute %q", port)}, nil
		}
	}

	// Deep-copy every value crossing into the item database: the delivery
	// slice the caller handed us may share backing arrays (HashValue.Bytes
	// in particular) with buffers a node upstream still owns.
	attrs := make(map[string]piper.AttrValue, len(n.seen))
	for port, v := range n.seen {
		stub, _ := n.inputs.Get(port)
		copied, err := copystructure.Copy(v)
		if err != nil {
			return piper.RunResult{}, piper.IoError(fmt.Errorf("copying attribute %q: %w", port, err))
		}
		attrs[string(port)] = piper.AttrValue{Stub: stub, Value: copied.(piper.Value)}
	}

	itemID, err := n.tx.AddItem(ctx, n.classID, attrs, n.policy)
	if err != nil {
		var uv *piper.UniqueViolatedError
		if errors.As(err, &uv) {
			return piper.RunResult{}, piper.Other(err)
		}
		return piper.RunResult{}, piper.IoError(err)
	}

	if err := emit("ref", piper.ReferenceValue{ClassID: n.classID, ItemID: itemID}); err != nil {
		return piper.RunResult{}, err
	}
	return piper.RunResult{Status: piper.Done}, nil
}
