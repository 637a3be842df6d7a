package nodes

import (
	"bytes"
	"context"
	"io"

	"github.com/copperd/piper/piper"
)

// openBlob opens a reader over any BlobSource variant, using store for
// ObjectSource references. This is the one place node implementations
// need to understand all three BlobSource shapes (spec.md §9) - everywhere
// else, a BlobValue is just something you read.
func openBlob(ctx context.Context, store piper.ObjectStore, v piper.BlobValue) (io.ReadCloser, error) {
	switch src := v.Source.(type) {
	case piper.BytesSource:
		return io.NopCloser(bytes.NewReader(src.Data)), nil
	case piper.ObjectSource:
		return store.GetObjectStream(ctx, src.Bucket, src.Key)
	case piper.StreamSource:
		return src.Stream.NewReader(ctx)
	default:
		return nil, piper.UnsupportedFormat("blob has an unrecognized source")
	}
}

// readAll fully materializes a blob. Nodes that must inspect whole-object
// structure (tag blocks live at fixed offsets, not a prefix) use this
// instead of streaming; it is not appropriate for arbitrarily large blobs.
func readAll(ctx context.Context, store piper.ObjectStore, v piper.BlobValue) ([]byte, error) {
	r, err := openBlob(ctx, store, v)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
