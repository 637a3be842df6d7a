package nodes

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"

	"github.com/copperd/piper/piper"
)

// hashFactory backs "Hash": digests a Blob input and emits a Hash output
// of the configured kind (original_source/ rm-dr/copper's Hash node).
// Parameters: "kind" - one of "MD5", "SHA256", "SHA512"; "mime" - the exact
// mime type the input port accepts (stub equality is structural, so this
// has to match the upstream Blob's mime exactly, not just "compatibly").
type hashFactory struct{}

func (f *hashFactory) Info(_ *piper.JobContext, params piper.ParamMap) (inputs, outputs piper.PortSchema, err error) {
	kindStr, err := params.RequireString("kind")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	mime, err := params.RequireString("mime")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	if err := params.CheckUnexpected("kind", "mime"); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	kind, err := parseHashKind(kindStr)
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, &piper.BadParameterOtherError{Name: "kind", Message: err.Error()}
	}

	return piper.NewPortSchema(piper.PortEntry{ID: "data", Stub: piper.BlobStub{Mime: mime}}),
		piper.NewPortSchema(piper.PortEntry{ID: "digest", Stub: piper.HashStub{Kind: kind}}),
		nil
}

func (f *hashFactory) New(ctx *piper.JobContext, params piper.ParamMap) (piper.Node, error) {
	inputs, outputs, err := f.Info(ctx, params)
	if err != nil {
		return nil, err
	}
	kindStr, _ := params.RequireString("kind")
	kind, _ := parseHashKind(kindStr)
	return &hashNode{inputs: inputs, outputs: outputs, kind: kind, store: ctx.ObjectStore}, nil
}

func parseHashKind(s string) (piper.HashKind, error) {
	switch s {
	case "MD5":
		return piper.MD5, nil
	case "SHA256":
		return piper.SHA256, nil
	case "SHA512":
		return piper.SHA512, nil
	default:
		return 0, &unknownHashKindError{s}
	}
}

type unknownHashKindError struct{ kind string }

func (e *unknownHashKindError) Error() string { return "unknown hash kind " + e.kind }

type hashNode struct {
	inputs, outputs piper.PortSchema
	kind            piper.HashKind
	store           piper.ObjectStore
}

func (n *hashNode) Inputs() piper.PortSchema  { return n.inputs }
func (n *hashNode) Outputs() piper.PortSchema { return n.outputs }

func (n *hashNode) Run(ctx context.Context, in []piper.Delivery, emit piper.Emit) (piper.RunResult, error) {
	for _, d := range in {
		if d.Port != "data" {
			continue
		}
		blob, ok := d.Value.(piper.BlobValue)
		if !ok {
			return piper.RunResult{}, piper.BadInputType("Hash.data expects a Blob")
		}

		var h hash.Hash
		switch n.kind {
		case piper.MD5:
			h = md5.New()
		case piper.SHA256:
			h = sha256.New()
		default:
			h = sha512.New()
		}

		r, err := openBlob(ctx, n.store, blob)
		if err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}
		defer r.Close()

		if _, err := io.Copy(h, r); err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}

		if err := emit("digest", piper.HashValue{Kind: n.kind, Bytes: h.Sum(nil)}); err != nil {
			return piper.RunResult{}, err
		}
		return piper.RunResult{Status: piper.Done}, nil
	}
	return piper.RunResult{Status: piper.Pending, Reason: "waiting for data"}, nil
}
