package piper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// inputFactory backs the well-known Input node type (spec.md §6). Its
// parameters declare the stub of each job input the pipeline expects; the
// values themselves arrive at job start as synthetic deliveries the
// executor feeds to this node's one and only Run call (spec.md §4.6).
//
// Each parameter name is a port id; its value is a StringParam spelling
// the declared stub:
//
//	"Text", "Boolean"
//	"Integer" | "Integer!"          ("!" = is_non_negative)
//	"Float" | "Float!"
//	"Hash:MD5" | "Hash:SHA256" | "Hash:SHA512"
//	"Blob:<mime>"
//	"Reference:<class_id>"
type inputFactory struct{}

func (f *inputFactory) Info(_ *JobContext, params ParamMap) (inputs, outputs PortSchema, err error) {
	entries := make([]PortEntry, 0, len(params))
	for name, v := range params {
		s, ok := v.(StringParam)
		if !ok {
			return PortSchema{}, PortSchema{}, &BadParameterTypeError{Name: name, Expected: "String"}
		}
		stub, err := parseStubSpec(string(s))
		if err != nil {
			return PortSchema{}, PortSchema{}, &BadParameterOtherError{Name: name, Message: err.Error()}
		}
		entries = append(entries, PortEntry{ID: PortID(name), Stub: stub})
	}
	return PortSchema{}, NewPortSchema(entries...), nil
}

func (f *inputFactory) New(ctx *JobContext, params ParamMap) (Node, error) {
	_, outputs, err := f.Info(ctx, params)
	if err != nil {
		return nil, err
	}
	return &inputNode{outputs: outputs}, nil
}

type inputNode struct {
	outputs PortSchema
}

func (n *inputNode) Inputs() PortSchema  { return PortSchema{} }
func (n *inputNode) Outputs() PortSchema { return n.outputs }

func (n *inputNode) Run(_ context.Context, in []Delivery, emit Emit) (RunResult, error) {
	seen := make(map[PortID]bool, len(in))
	for _, d := range in {
		declared, ok := n.outputs.Get(d.Port)
		if !ok {
			return RunResult{}, BadInputType(fmt.Sprintf("unexpected job input %q", d.Port))
		}
		if !d.Value.AsStub().IsSubtypeOf(declared) {
			return RunResult{}, BadInputType(fmt.Sprintf("job input %q: %v is not a %v", d.Port, d.Value.AsStub(), declared))
		}
		if err := emit(d.Port, d.Value); err != nil {
			return RunResult{}, err
		}
		seen[d.Port] = true
	}

	for _, port := range n.outputs.Ordered() {
		if !seen[port] {
			return RunResult{}, MissingInput(fmt.Sprintf("job input %q was not provided", port))
		}
	}

	return RunResult{Status: Done}, nil
}

func parseStubSpec(spec string) (Stub, error) {
	switch {
	case spec == "Text":
		return TextStub{}, nil
	case spec == "Boolean":
		return BooleanStub{}, nil
	case spec == "Integer":
		return IntegerStub{}, nil
	case spec == "Integer!":
		return IntegerStub{IsNonNegative: true}, nil
	case spec == "Float":
		return FloatStub{}, nil
	case spec == "Float!":
		return FloatStub{IsNonNegative: true}, nil
	case strings.HasPrefix(spec, "Hash:"):
		switch strings.TrimPrefix(spec, "Hash:") {
		case "MD5":
			return HashStub{Kind: MD5}, nil
		case "SHA256":
			return HashStub{Kind: SHA256}, nil
		case "SHA512":
			return HashStub{Kind: SHA512}, nil
		}
		return nil, fmt.Errorf("unknown hash kind in stub spec %q", spec)
	case strings.HasPrefix(spec, "Blob:"):
		return BlobStub{Mime: strings.TrimPrefix(spec, "Blob:")}, nil
	case strings.HasPrefix(spec, "Reference:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(spec, "Reference:"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid class id in stub spec %q: %w", spec, err)
		}
		return ReferenceStub{ClassID: id}, nil
	default:
		return nil, fmt.Errorf("unrecognized stub spec %q", spec)
	}
}
