package itemdb

import (
	"testing"

	"github.com/copperd/piper/piper"
)

func TestStubRoundTrip(t *testing.T) {
	stubs := []piper.Stub{
		piper.TextStub{},
		piper.BooleanStub{},
		piper.IntegerStub{IsNonNegative: true},
		piper.FloatStub{IsNonNegative: false},
		piper.HashStub{Kind: piper.SHA256},
		piper.BlobStub{Mime: "audio/flac"},
		piper.ReferenceStub{ClassID: 7},
	}
	for _, s := range stubs {
		got, err := decodeStub(encodeStub(s))
		if err != nil {
			t.Fatalf("decodeStub(encodeStub(%v)): %v", s, err)
		}
		if got != s {
			t.Errorf("round trip of %v produced %v", s, got)
		}
	}
}

func TestEncodeDecodeAttrsRoundTrip(t *testing.T) {
	attrs := map[string]piper.AttrValue{
		"name":   {Stub: piper.TextStub{}, Value: piper.TextValue("widget")},
		"count":  {Stub: piper.IntegerStub{IsNonNegative: true}, Value: piper.IntegerValue{N: 3, IsNonNegative: true}},
		"active": {Stub: piper.BooleanStub{}, Value: piper.BooleanValue(true)},
		"ref":    {Stub: piper.ReferenceStub{ClassID: 5}, Value: piper.ReferenceValue{ClassID: 5, ItemID: 42}},
		"digest": {Stub: piper.HashStub{Kind: piper.MD5}, Value: piper.HashValue{Kind: piper.MD5, Bytes: []byte{1, 2, 3}}},
	}

	data, err := encodeAttrs(attrs)
	if err != nil {
		t.Fatalf("encodeAttrs: %v", err)
	}
	got, err := decodeAttrs(data)
	if err != nil {
		t.Fatalf("decodeAttrs: %v", err)
	}

	if len(got) != len(attrs) {
		t.Fatalf("got %d attrs, want %d", len(got), len(attrs))
	}
	if got["name"].Value.(piper.TextValue) != piper.TextValue("widget") {
		t.Errorf("name = %#v", got["name"])
	}
	if got["count"].Value.(piper.IntegerValue).N != 3 {
		t.Errorf("count = %#v", got["count"])
	}
	if got["ref"].Value.(piper.ReferenceValue).ItemID != 42 {
		t.Errorf("ref = %#v", got["ref"])
	}
}

func TestEncodeDecodeValueRoundTripsNone(t *testing.T) {
	attrs := map[string]piper.AttrValue{
		"note": {Stub: piper.TextStub{}, Value: piper.NoneValue{Type: piper.TextStub{}}},
	}
	data, err := encodeAttrs(attrs)
	if err != nil {
		t.Fatalf("encodeAttrs: %v", err)
	}
	got, err := decodeAttrs(data)
	if err != nil {
		t.Fatalf("decodeAttrs: %v", err)
	}
	if _, ok := got["note"].Value.(piper.NoneValue); !ok {
		t.Fatalf("expected a NoneValue back, got %#v", got["note"].Value)
	}
}

func TestEncodeValueRejectsBlob(t *testing.T) {
	_, err := encodeValue(piper.BlobValue{Mime: "audio/flac", Source: piper.BytesSource{Data: []byte("x")}})
	if err == nil {
		t.Fatal("expected an error encoding a Blob value directly into the item database")
	}
}
