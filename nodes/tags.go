package nodes

import (
	"context"

	"github.com/copperd/piper/piper"
)

// TagDecoder abstracts a per-format metadata-tag codec (FLAC, ID3, …). The
// core and ExtractTags/StripTags only ever see this interface - the real
// format parsers are leaf-node implementation detail out of scope here
// (spec.md §1's "format-parsing library for FLAC" exclusion).
type TagDecoder interface {
	// Decode reads every tag out of data.
	Decode(ctx context.Context, data []byte) (map[string]string, error)
	// Strip returns a copy of data with its tag block removed.
	Strip(ctx context.Context, data []byte) ([]byte, error)
}

// NewExtractTagsFactory builds the "ExtractTags" node factory for one
// fixed (decoder, mime) pair - a pipeline wanting to extract FLAC tags and
// one wanting to extract ID3 tags register two distinct node types.
func NewExtractTagsFactory(decoder TagDecoder, mime string) piper.NodeFactory {
	return &extractTagsFactory{decoder: decoder, mime: mime}
}

// NewStripTagsFactory builds the "StripTags" node factory for one fixed
// (decoder, mime) pair.
func NewStripTagsFactory(decoder TagDecoder, mime string) piper.NodeFactory {
	return &stripTagsFactory{decoder: decoder, mime: mime}
}

// extractTagsFactory backs "ExtractTags": reads a Blob's tag block and
// emits each requested tag as a Text output, or a typed None if absent
// (original_source/ copperd/lib-pipelined/audiofile/src/nodes/extracttags.rs,
// supplemented per spec.md §9).
type extractTagsFactory struct {
	decoder TagDecoder
	mime    string
}

func (f *extractTagsFactory) Info(_ *piper.JobContext, params piper.ParamMap) (inputs, outputs piper.PortSchema, err error) {
	tagsParam, ok := params["tags"]
	if !ok {
		return piper.PortSchema{}, piper.PortSchema{}, &piper.MissingParameterError{Name: "tags"}
	}
	list, ok := tagsParam.(piper.ListParam)
	if !ok {
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterTypeError{Name: "tags", Expected: "List"}
	}
	if err := params.CheckUnexpected("tags"); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}

	outs := make([]piper.PortEntry, 0, len(list))
	for _, item := range list {
		name, ok := item.(piper.StringParam)
		if !ok {
			return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterTypeError{Name: "tags", Expected: "List of String"}
		}
		outs = append(outs, piper.PortEntry{ID: piper.PortID(name), Stub: piper.TextStub{}})
	}

	return piper.NewPortSchema(piper.PortEntry{ID: "data", Stub: piper.BlobStub{Mime: f.mime}}),
		piper.NewPortSchema(outs...),
		nil
}

func (f *extractTagsFactory) New(ctx *piper.JobContext, params piper.ParamMap) (piper.Node, error) {
	inputs, outputs, err := f.Info(ctx, params)
	if err != nil {
		return nil, err
	}
	return &extractTagsNode{inputs: inputs, outputs: outputs, decoder: f.decoder, store: ctx.ObjectStore}, nil
}

type extractTagsNode struct {
	inputs, outputs piper.PortSchema
	decoder         TagDecoder
	store           piper.ObjectStore
}

func (n *extractTagsNode) Inputs() piper.PortSchema  { return n.inputs }
func (n *extractTagsNode) Outputs() piper.PortSchema { return n.outputs }

func (n *extractTagsNode) Run(ctx context.Context, in []piper.Delivery, emit piper.Emit) (piper.RunResult, error) {
	for _, d := range in {
		if d.Port != "data" {
			continue
		}
		blob, ok := d.Value.(piper.BlobValue)
		if !ok {
			return piper.RunResult{}, piper.BadInputType("ExtractTags.data expects a Blob")
		}

		data, err := readAll(ctx, n.store, blob)
		if err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}

		tags, err := n.decoder.Decode(ctx, data)
		if err != nil {
			return piper.RunResult{}, piper.UnsupportedFormat(err.Error())
		}

		for _, port := range n.outputs.Ordered() {
			value, found := tags[string(port)]
			if !found {
				if err := emit(port, piper.Zero(piper.TextStub{})); err != nil {
					return piper.RunResult{}, err
				}
				continue
			}
			if err := emit(port, piper.TextValue(value)); err != nil {
				return piper.RunResult{}, err
			}
		}
		return piper.RunResult{Status: piper.Done}, nil
	}
	return piper.RunResult{Status: piper.Pending, Reason: "waiting for data"}, nil
}

// stripTagsFactory backs "StripTags": emits a Blob with its tag block
// removed (original_source/ .../striptags.rs).
type stripTagsFactory struct {
	decoder TagDecoder
	mime    string
}

func (f *stripTagsFactory) Info(_ *piper.JobContext, params piper.ParamMap) (inputs, outputs piper.PortSchema, err error) {
	if err := params.CheckUnexpected(); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	return piper.NewPortSchema(piper.PortEntry{ID: "data", Stub: piper.BlobStub{Mime: f.mime}}),
		piper.NewPortSchema(piper.PortEntry{ID: "stripped", Stub: piper.BlobStub{Mime: f.mime}}),
		nil
}

func (f *stripTagsFactory) New(ctx *piper.JobContext, _ piper.ParamMap) (piper.Node, error) {
	inputs, outputs, _ := f.Info(ctx, nil)
	return &stripTagsNode{inputs: inputs, outputs: outputs, decoder: f.decoder, store: ctx.ObjectStore, mime: f.mime}, nil
}

type stripTagsNode struct {
	inputs, outputs piper.PortSchema
	decoder         TagDecoder
	store           piper.ObjectStore
	mime            string
}

func (n *stripTagsNode) Inputs() piper.PortSchema  { return n.inputs }
func (n *stripTagsNode) Outputs() piper.PortSchema { return n.outputs }

func (n *stripTagsNode) Run(ctx context.Context, in []piper.Delivery, emit piper.Emit) (piper.RunResult, error) {
	for _, d := range in {
		if d.Port != "data" {
			continue
		}
		blob, ok := d.Value.(piper.BlobValue)
		if !ok {
			return piper.RunResult{}, piper.BadInputType("StripTags.data expects a Blob")
		}

		data, err := readAll(ctx, n.store, blob)
		if err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}

		stripped, err := n.decoder.Strip(ctx, data)
		if err != nil {
			return piper.RunResult{}, piper.UnsupportedFormat(err.Error())
		}

		if err := emit("stripped", piper.BlobValue{Mime: n.mime, Source: piper.BytesSource{Data: stripped, IsLast: true}}); err != nil {
			return piper.RunResult{}, err
		}
		return piper.RunResult{Status: piper.Done}, nil
	}
	return piper.RunResult{Status: piper.Pending, Reason: "waiting for data"}, nil
}
