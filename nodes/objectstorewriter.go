package nodes

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/copperd/piper/piper"
)

// objectStoreWriterFactory backs "WriteBlob": drains a Blob input through
// the object store's multipart upload and emits a Blob output whose source
// is the resulting ObjectSource reference. Fed a streamed input with
// multiple consumers, this is the node spec.md §8 scenario 5 exercises:
// each consumer calls openBlob independently, and since the Blob the
// executor hands each consumer is a per-edge multiplexed StreamFactory,
// both drains proceed at their own pace under the mux's backpressure.
//
// Parameters: "bucket" (String), "key_prefix" (String, optional), "mime"
// (String, declares the port stub).
type objectStoreWriterFactory struct{}

func (f *objectStoreWriterFactory) Info(_ *piper.JobContext, params piper.ParamMap) (inputs, outputs piper.PortSchema, err error) {
	mime, err := params.RequireString("mime")
	if err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	if _, err := params.RequireString("bucket"); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	if _, err := params.OptionalString("key_prefix", ""); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}
	if err := params.CheckUnexpected("bucket", "key_prefix", "mime"); err != nil {
		return piper.PortSchema{}, piper.PortSchema{}, err
	}

	return piper.NewPortSchema(piper.PortEntry{ID: "data", Stub: piper.BlobStub{Mime: mime}}),
		piper.NewPortSchema(piper.PortEntry{ID: "uploaded", Stub: piper.BlobStub{Mime: mime}}),
		nil
}

func (f *objectStoreWriterFactory) New(ctx *piper.JobContext, params piper.ParamMap) (piper.Node, error) {
	inputs, outputs, err := f.Info(ctx, params)
	if err != nil {
		return nil, err
	}
	bucket, _ := params.RequireString("bucket")
	prefix, _ := params.OptionalString("key_prefix", "")
	mime, _ := params.RequireString("mime")

	return &objectStoreWriterNode{
		inputs: inputs, outputs: outputs,
		store: ctx.ObjectStore, bucket: bucket, prefix: prefix, mime: mime,
		fragmentSize: ctx.BlobFragmentSize,
	}, nil
}

type objectStoreWriterNode struct {
	inputs, outputs piper.PortSchema
	store           piper.ObjectStore
	bucket, prefix  string
	mime            string
	fragmentSize    int
}

func (n *objectStoreWriterNode) Inputs() piper.PortSchema  { return n.inputs }
func (n *objectStoreWriterNode) Outputs() piper.PortSchema { return n.outputs }

func (n *objectStoreWriterNode) Run(ctx context.Context, in []piper.Delivery, emit piper.Emit) (piper.RunResult, error) {
	for _, d := range in {
		if d.Port != "data" {
			continue
		}
		blob, ok := d.Value.(piper.BlobValue)
		if !ok {
			return piper.RunResult{}, piper.BadInputType("WriteBlob.data expects a Blob")
		}

		r, err := openBlob(ctx, n.store, blob)
		if err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}
		defer r.Close()

		key := fmt.Sprintf("%s%s", n.prefix, uuid.NewString())
		upload, err := n.store.CreateMultipartUpload(ctx, n.bucket, key, n.mime)
		if err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}

		buf := make([]byte, n.fragmentSize)
		part := 1
		for {
			read, readErr := io.ReadFull(r, buf)
			if read > 0 {
				chunk := make([]byte, read)
				copy(chunk, buf[:read])
				if err := upload.UploadPart(ctx, chunk, part); err != nil {
					_ = upload.Cancel(ctx)
					return piper.RunResult{}, piper.IoError(err)
				}
				part++
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				_ = upload.Cancel(ctx)
				return piper.RunResult{}, piper.IoError(readErr)
			}
		}

		bucket, finishedKey, err := upload.Finish(ctx)
		if err != nil {
			return piper.RunResult{}, piper.IoError(err)
		}

		if err := emit("uploaded", piper.BlobValue{Mime: n.mime, Source: piper.ObjectSource{Bucket: bucket, Key: finishedKey}}); err != nil {
			return piper.RunResult{}, err
		}
		return piper.RunResult{Status: piper.Done}, nil
	}
	return piper.RunResult{Status: piper.Pending, Reason: "waiting for data"}, nil
}
