package piper

import (
	"context"
	"io"
)

// Value is a tagged data value flowing through the pipeline (spec.md §3).
// Every variant projects to a Stub via AsStub; converting Value -> Stub ->
// a zero Value of that stub -> Stub again is idempotent (spec.md §8).
type Value interface {
	// AsStub projects this value to its type tag.
	AsStub() Stub
	isValue()
}

// NoneValue is a typed absence: it carries the stub of the value that
// would have been there.
type NoneValue struct{ Type Stub }

// TextValue wraps a UTF-8 string.
type TextValue string

// IntegerValue wraps a signed 64-bit integer, with a non-negativity flag
// that narrows its subtype.
type IntegerValue struct {
	N             int64
	IsNonNegative bool
}

// FloatValue wraps a 64-bit float, with the same non-negativity
// refinement as IntegerValue.
type FloatValue struct {
	N             float64
	IsNonNegative bool
}

// BooleanValue wraps a bool.
type BooleanValue bool

// HashValue wraps a digest.
type HashValue struct {
	Kind  HashKind
	Bytes []byte
}

// ReferenceValue is a typed handle to a row in the external item
// database.
type ReferenceValue struct {
	ClassID int64
	ItemID  int64
}

// BlobSource is the sum type backing a BlobValue's bytes: an in-memory
// chunk, a reference into the object store, or a lazy stream handle
// produced by another node. Per spec.md §9, a stream source is a
// *builder* of a reader - every downstream consumer opens its own reader
// from the same source.
type BlobSource interface {
	isBlobSource()
}

// BytesSource is an in-memory fragment of blob data. IsLast marks the
// final fragment of a multi-fragment transfer.
type BytesSource struct {
	Data   []byte
	IsLast bool
}

// ObjectSource references an object already committed to the object
// store.
type ObjectSource struct {
	Bucket string
	Key    string
}

// StreamFactory opens a reader over a lazily-materialised byte stream.
// The executor opens a stream source once: when it fans out to more than
// one data edge, it is read once through newStreamMux, which hands each
// consumer its own single-reader factory.
type StreamFactory interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
}

// StreamSource wraps a StreamFactory as a BlobSource.
type StreamSource struct {
	Stream StreamFactory
}

func (BytesSource) isBlobSource()  {}
func (ObjectSource) isBlobSource() {}
func (StreamSource) isBlobSource() {}

// BlobValue is a binary object moving through the pipeline: an audio
// file, an image, or any other opaque byte sequence.
type BlobValue struct {
	Mime   string
	Source BlobSource
}

func (NoneValue) isValue()      {}
func (TextValue) isValue()      {}
func (IntegerValue) isValue()   {}
func (FloatValue) isValue()     {}
func (BooleanValue) isValue()   {}
func (HashValue) isValue()      {}
func (BlobValue) isValue()      {}
func (ReferenceValue) isValue() {}

func (v NoneValue) AsStub() Stub    { return v.Type }
func (v TextValue) AsStub() Stub    { return TextStub{} }
func (v BooleanValue) AsStub() Stub { return BooleanStub{} }
func (v IntegerValue) AsStub() Stub { return IntegerStub{IsNonNegative: v.IsNonNegative} }
func (v FloatValue) AsStub() Stub   { return FloatStub{IsNonNegative: v.IsNonNegative} }
func (v HashValue) AsStub() Stub    { return HashStub{Kind: v.Kind} }
func (v BlobValue) AsStub() Stub    { return BlobStub{Mime: v.Mime} }
func (v ReferenceValue) AsStub() Stub {
	return ReferenceStub{ClassID: v.ClassID}
}

// Zero returns the canonical absent value for a stub: a NoneValue
// carrying that stub. Stub -> Zero -> AsStub is the identity, which is
// the round-trip property spec.md §8 requires of stub extraction.
func Zero(s Stub) Value {
	return NoneValue{Type: s}
}
