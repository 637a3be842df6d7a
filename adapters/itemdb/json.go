package itemdb

import (
	"encoding/json"
	"fmt"

	"github.com/copperd/piper/piper"
)

// This file is the Postgres adapter's wire encoding for Stub and Value: a
// small tagged-union JSON shape, private to this package. piper's own
// types stay storage-format agnostic; translating them to and from JSONB
// is the adapter's job.

type jsonAttrSchema struct {
	Stub     jsonStub `json:"stub"`
	Unique   bool     `json:"unique"`
	Nullable bool     `json:"nullable"`
}

type jsonStub struct {
	Type          string `json:"type"`
	IsNonNegative bool   `json:"is_non_negative,omitempty"`
	HashKind      string `json:"hash_kind,omitempty"`
	Mime          string `json:"mime,omitempty"`
	ClassID       int64  `json:"class_id,omitempty"`
}

func decodeStub(s jsonStub) (piper.Stub, error) {
	switch s.Type {
	case "Text":
		return piper.TextStub{}, nil
	case "Boolean":
		return piper.BooleanStub{}, nil
	case "Integer":
		return piper.IntegerStub{IsNonNegative: s.IsNonNegative}, nil
	case "Float":
		return piper.FloatStub{IsNonNegative: s.IsNonNegative}, nil
	case "Hash":
		kind, err := decodeHashKind(s.HashKind)
		if err != nil {
			return nil, err
		}
		return piper.HashStub{Kind: kind}, nil
	case "Blob":
		return piper.BlobStub{Mime: s.Mime}, nil
	case "Reference":
		return piper.ReferenceStub{ClassID: s.ClassID}, nil
	default:
		return nil, fmt.Errorf("itemdb: unknown stub type %q", s.Type)
	}
}

func decodeHashKind(s string) (piper.HashKind, error) {
	switch s {
	case "MD5":
		return piper.MD5, nil
	case "SHA256":
		return piper.SHA256, nil
	case "SHA512":
		return piper.SHA512, nil
	default:
		return 0, fmt.Errorf("itemdb: unknown hash kind %q", s)
	}
}

// jsonAttrValue is the wire form of one AttrValue.
type jsonAttrValue struct {
	Stub  jsonStub        `json:"stub"`
	Value json.RawMessage `json:"value"`
}

func encodeAttrs(attrs map[string]piper.AttrValue) ([]byte, error) {
	out := make(map[string]jsonAttrValue, len(attrs))
	for name, av := range attrs {
		valueJSON, err := encodeValue(av.Value)
		if err != nil {
			return nil, err
		}
		out[name] = jsonAttrValue{Stub: encodeStub(av.Stub), Value: valueJSON}
	}
	return json.Marshal(out)
}

// encodeValue is decodeValue's inverse: the bare-scalar wire form for each
// Value variant that can legally sit in the item database (Blob never
// does - it is always stored as an object-store reference elsewhere, per
// spec.md §4.2).
func encodeValue(v piper.Value) ([]byte, error) {
	switch t := v.(type) {
	case piper.TextValue:
		return json.Marshal(string(t))
	case piper.BooleanValue:
		return json.Marshal(bool(t))
	case piper.IntegerValue:
		return json.Marshal(t.N)
	case piper.FloatValue:
		return json.Marshal(t.N)
	case piper.HashValue:
		return json.Marshal(t.Bytes)
	case piper.ReferenceValue:
		return json.Marshal(t.ItemID)
	case piper.NoneValue:
		return json.Marshal(nil)
	default:
		return nil, fmt.Errorf("itemdb: cannot store a value of type %T", v)
	}
}

func decodeAttrs(data []byte) (map[string]piper.AttrValue, error) {
	var raw map[string]jsonAttrValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]piper.AttrValue, len(raw))
	for name, jav := range raw {
		stub, err := decodeStub(jav.Stub)
		if err != nil {
			return nil, err
		}
		value, err := decodeValue(stub, jav.Value)
		if err != nil {
			return nil, err
		}
		out[name] = piper.AttrValue{Stub: stub, Value: value}
	}
	return out, nil
}

func encodeStub(s piper.Stub) jsonStub {
	switch t := s.(type) {
	case piper.TextStub:
		return jsonStub{Type: "Text"}
	case piper.BooleanStub:
		return jsonStub{Type: "Boolean"}
	case piper.IntegerStub:
		return jsonStub{Type: "Integer", IsNonNegative: t.IsNonNegative}
	case piper.FloatStub:
		return jsonStub{Type: "Float", IsNonNegative: t.IsNonNegative}
	case piper.HashStub:
		return jsonStub{Type: "Hash", HashKind: t.Kind.String()}
	case piper.BlobStub:
		return jsonStub{Type: "Blob", Mime: t.Mime}
	case piper.ReferenceStub:
		return jsonStub{Type: "Reference", ClassID: t.ClassID}
	default:
		return jsonStub{Type: "Unknown"}
	}
}

func decodeValue(stub piper.Stub, raw json.RawMessage) (piper.Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return piper.NoneValue{Type: stub}, nil
	}
	switch s := stub.(type) {
	case piper.TextStub:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return piper.TextValue(v), nil
	case piper.BooleanStub:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return piper.BooleanValue(v), nil
	case piper.IntegerStub:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return piper.IntegerValue{N: v, IsNonNegative: s.IsNonNegative}, nil
	case piper.FloatStub:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return piper.FloatValue{N: v, IsNonNegative: s.IsNonNegative}, nil
	case piper.HashStub:
		var v []byte
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return piper.HashValue{Kind: s.Kind, Bytes: v}, nil
	case piper.ReferenceStub:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return piper.ReferenceValue{ClassID: s.ClassID, ItemID: v}, nil
	default:
		return nil, fmt.Errorf("itemdb: cannot decode a value of stub %v from storage (blobs are never stored inline)", stub)
	}
}
