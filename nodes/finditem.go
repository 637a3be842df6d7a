package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/copperd/piper/piper"
)

// findItemFactory backs "FindItem": looks up one attribute value by exact
// match within a class and emits a Reference if found, or a typed None
// (original_source/ rm-dr/copper's FindItem node, supplemented per
// spec.md §9's instruction to add back features the distillation dropped).
//
// Parameters: "class" (Integer), "attribute" (String, must name a unique
// attribute of the class).
type findItemFactory struct{}

func (f *findItemFactory) Info(ctx *piper.JobContext, params piper.ParamMap) (inputs, outputs piper.PortSchema, err error) {
	classID, err := params.RequireInteger("class")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	attrName, err := params.RequireString("attribute")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	if err := params.CheckUnexpected("class", "attribute"); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}

	class, err := ctx.ItemDB().GetClass(context.Background(), classID)
	if err != nil {
		var notFound *piper.ItemNotFoundError
		if errors.As(err, &notFound) {
			return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "class", Message: fmt.Sprintf("no such class %d", classID)}
		}
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "class", Message: err.Error()}
	}
	attr, ok := class.Attributes[attrName]
	if !ok {
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "attribute", Message: fmt.Sprintf("class %d has no attribute %q", classID, attrName)}
	}
	if !attr.Unique {
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "attribute", Message: fmt.Sprintf("attribute %q is not unique", attrName)}
	}

	return piper.NewPortSchema(piper.PortEntry{ID: "value", Stub: attr.Stub}),
		piper.NewPortSchema(piper.PortEntry{ID: "found", Stub: piper.ReferenceStub{ClassID: classID}}),
		nil
}

func (f *findItemFactory) New(ctx *piper.JobContext, params piper.ParamMap) (piper.Node, error) {
	inputs, outputs, err := f.Info(ctx, params)
	if err != nil {
		return nil, err
	}
	classID, _ := params.RequireInteger("class")
	attrName, _ := params.RequireString("attribute")
	return &findItemNode{inputs: inputs, outputs: outputs, classID: classID, attribute: attrName, tx: ctx.ItemDB()}, nil
}

type findItemNode struct {
	inputs, outputs piper.PortSchema
	classID         int64
	attribute       string
	tx              piper.ItemTx
}

func (n *findItemNode) Inputs() piper.PortSchema  { return n.inputs }
func (n *findItemNode) Outputs() piper.PortSchema { return n.outputs }

func (n *findItemNode) Run(ctx context.Context, in []piper.Delivery, emit piper.Emit) (piper.RunResult, error) {
	for _, d := range in {
		if d.Port != "value" {
			continue
		}

		found, ok, err := findByAttribute(ctx, n.tx, n.classID, n.attribute, d.Value)
		if err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}
		if !ok {
			if err := emit("found", piper.Zero(piper.ReferenceStub{ClassID: n.classID})); err != nil {
				return piper.RunResult{}, err
			}
			return piper.RunResult{Status: piper.Done}, nil
		}

		if err := emit("found", piper.ReferenceValue{ClassID: n.classID, ItemID: found}); err != nil {
			return piper.RunResult{}, err
		}
		return piper.RunResult{Status: piper.Done}, nil
	}
	return piper.RunResult{Status: piper.Pending, Reason: "waiting for value"}, nil
}

// findByAttribute scans a class's items for one whose named attribute
// equals want. A real Postgres-backed ItemTx would push this down as a
// WHERE clause; the in-memory reference adapter and this scan give the
// same semantics for small test datasets.
func findByAttribute(ctx context.Context, tx piper.ItemTx, classID int64, attribute string, want piper.Value) (int64, bool, error) {
	const pageSize = 256
	for offset := 0; ; offset += pageSize {
		items, err := tx.ListItems(ctx, classID, pageSize, offset)
		if err != nil {
			return 0, false, err
		}
		for _, item := range items {
			if av, ok := item.Attrs[attribute]; ok && valuesEqual(av.Value, want) {
				return item.ItemID, true, nil
			}
		}
		if len(items) < pageSize {
			return 0, false, nil
		}
	}
}

func valuesEqual(a, b piper.Value) bool {
	switch av := a.(type) {
	case piper.TextValue:
		bv, ok := b.(piper.TextValue)
		return ok && av == bv
	case piper.IntegerValue:
		bv, ok := b.(piper.IntegerValue)
		return ok && av.N == bv.N
	case piper.FloatValue:
		bv, ok := b.(piper.FloatValue)
		return ok && av.N == bv.N
	case piper.BooleanValue:
		bv, ok := b.(piper.BooleanValue)
		return ok && av == bv
	case piper.HashValue:
		bv, ok := b.(piper.HashValue)
		return ok && av.Kind == bv.Kind && string(av.Bytes) == string(bv.Bytes)
	case piper.ReferenceValue:
		bv, ok := b.(piper.ReferenceValue)
		return ok && av == bv
	default:
		return false
	}
}
