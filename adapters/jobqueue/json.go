// Package jobqueue provides piper.JobQueueClient backends: an in-memory
// reference implementation for tests, and a redis/go-redis-backed
// implementation for production use.
package jobqueue

import (
	"encoding/json"
	"fmt"

	"github.com/copperd/piper/piper"
)

// This file is the wire encoding used to persist a job's inputs and
// outputs (map[string]piper.Value) to Redis; the in-memory double keeps
// the values as they are and does not use it.
// It mirrors the itemdb adapter's tagged-JSON approach but additionally
// covers BlobValue, since job inputs/outputs - unlike item attributes -
// are allowed to carry blobs (spec.md §6). A StreamSource cannot survive
// a round trip through storage, since it is a live generator rather than
// data; encoding one is an error.

type jsonValue struct {
	Type          string          `json:"type"`
	IsNonNegative bool            `json:"is_non_negative,omitempty"`
	HashKind      string          `json:"hash_kind,omitempty"`
	Mime          string          `json:"mime,omitempty"`
	ClassID       int64           `json:"class_id,omitempty"`
	ItemID        int64           `json:"item_id,omitempty"`
	Raw           json.RawMessage `json:"value,omitempty"`
}

func encodeValues(vals map[string]piper.Value) ([]byte, error) {
	out := make(map[string]jsonValue, len(vals))
	for name, v := range vals {
		jv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("jobqueue: encoding %q: %w", name, err)
		}
		out[name] = jv
	}
	return json.Marshal(out)
}

func decodeValues(data []byte) (map[string]piper.Value, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]jsonValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]piper.Value, len(raw))
	for name, jv := range raw {
		v, err := decodeValue(jv)
		if err != nil {
			return nil, fmt.Errorf("jobqueue: decoding %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func encodeValue(v piper.Value) (jsonValue, error) {
	switch t := v.(type) {
	case piper.NoneValue:
		stub := encodeStubType(t.Type)
		stub.Type = "None_" + stub.Type
		return stub, nil
	case piper.TextValue:
		raw, _ := json.Marshal(string(t))
		return jsonValue{Type: "Text", Raw: raw}, nil
	case piper.BooleanValue:
		raw, _ := json.Marshal(bool(t))
		return jsonValue{Type: "Boolean", Raw: raw}, nil
	case piper.IntegerValue:
		raw, _ := json.Marshal(t.N)
		return jsonValue{Type: "Integer", IsNonNegative: t.IsNonNegative, Raw: raw}, nil
	case piper.FloatValue:
		raw, _ := json.Marshal(t.N)
		return jsonValue{Type: "Float", IsNonNegative: t.IsNonNegative, Raw: raw}, nil
	case piper.HashValue:
		raw, _ := json.Marshal(t.Bytes)
		return jsonValue{Type: "Hash", HashKind: t.Kind.String(), Raw: raw}, nil
	case piper.ReferenceValue:
		return jsonValue{Type: "Reference", ClassID: t.ClassID, ItemID: t.ItemID}, nil
	case piper.BlobValue:
		return encodeBlob(t)
	default:
		return jsonValue{}, fmt.Errorf("cannot encode a value of type %T", v)
	}
}

type jsonBlobSource struct {
	Kind   string `json:"kind"`
	Data   []byte `json:"data,omitempty"`
	IsLast bool   `json:"is_last,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
}

func encodeBlob(v piper.BlobValue) (jsonValue, error) {
	var src jsonBlobSource
	switch s := v.Source.(type) {
	case piper.BytesSource:
		src = jsonBlobSource{Kind: "Bytes", Data: s.Data, IsLast: s.IsLast}
	case piper.ObjectSource:
		src = jsonBlobSource{Kind: "Object", Bucket: s.Bucket, Key: s.Key}
	default:
		return jsonValue{}, fmt.Errorf("blob source %T cannot be persisted to a job queue", v.Source)
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return jsonValue{}, err
	}
	return jsonValue{Type: "Blob", Mime: v.Mime, Raw: raw}, nil
}

func encodeStubType(s piper.Stub) jsonValue {
	switch t := s.(type) {
	case piper.TextStub:
		return jsonValue{Type: "Text"}
	case piper.BooleanStub:
		return jsonValue{Type: "Boolean"}
	case piper.IntegerStub:
		return jsonValue{Type: "Integer", IsNonNegative: t.IsNonNegative}
	case piper.FloatStub:
		return jsonValue{Type: "Float", IsNonNegative: t.IsNonNegative}
	case piper.HashStub:
		return jsonValue{Type: "Hash", HashKind: t.Kind.String()}
	case piper.BlobStub:
		return jsonValue{Type: "Blob", Mime: t.Mime}
	case piper.ReferenceStub:
		return jsonValue{Type: "Reference", ClassID: t.ClassID}
	default:
		return jsonValue{Type: "Unknown"}
	}
}

func decodeValue(jv jsonValue) (piper.Value, error) {
	if len(jv.Type) > 5 && jv.Type[:5] == "None_" {
		stub, err := decodeStubType(jsonValue{
			Type:          jv.Type[5:],
			IsNonNegative: jv.IsNonNegative,
			HashKind:      jv.HashKind,
			Mime:          jv.Mime,
			ClassID:       jv.ClassID,
		})
		if err != nil {
			return nil, err
		}
		return piper.Zero(stub), nil
	}

	switch jv.Type {
	case "Text":
		var v string
		if err := json.Unmarshal(jv.Raw, &v); err != nil {
			return nil, err
		}
		return piper.TextValue(v), nil
	case "Boolean":
		var v bool
		if err := json.Unmarshal(jv.Raw, &v); err != nil {
			return nil, err
		}
		return piper.BooleanValue(v), nil
	case "Integer":
		var v int64
		if err := json.Unmarshal(jv.Raw, &v); err != nil {
			return nil, err
		}
		return piper.IntegerValue{N: v, IsNonNegative: jv.IsNonNegative}, nil
	case "Float":
		var v float64
		if err := json.Unmarshal(jv.Raw, &v); err != nil {
			return nil, err
		}
		return piper.FloatValue{N: v, IsNonNegative: jv.IsNonNegative}, nil
	case "Hash":
		kind, err := decodeHashKind(jv.HashKind)
		if err != nil {
			return nil, err
		}
		var v []byte
		if err := json.Unmarshal(jv.Raw, &v); err != nil {
			return nil, err
		}
		return piper.HashValue{Kind: kind, Bytes: v}, nil
	case "Reference":
		return piper.ReferenceValue{ClassID: jv.ClassID, ItemID: jv.ItemID}, nil
	case "Blob":
		return decodeBlob(jv)
	default:
		return nil, fmt.Errorf("unknown value type %q", jv.Type)
	}
}

func decodeBlob(jv jsonValue) (piper.Value, error) {
	var src jsonBlobSource
	if err := json.Unmarshal(jv.Raw, &src); err != nil {
		return nil, err
	}
	switch src.Kind {
	case "Bytes":
		return piper.BlobValue{Mime: jv.Mime, Source: piper.BytesSource{Data: src.Data, IsLast: src.IsLast}}, nil
	case "Object":
		return piper.BlobValue{Mime: jv.Mime, Source: piper.ObjectSource{Bucket: src.Bucket, Key: src.Key}}, nil
	default:
		return nil, fmt.Errorf("unknown blob source kind %q", src.Kind)
	}
}

func decodeStubType(jv jsonValue) (piper.Stub, error) {
	switch jv.Type {
	case "Text":
		return piper.TextStub{}, nil
	case "Boolean":
		return piper.BooleanStub{}, nil
	case "Integer":
		return piper.IntegerStub{IsNonNegative: jv.IsNonNegative}, nil
	case "Float":
		return piper.FloatStub{IsNonNegative: jv.IsNonNegative}, nil
	case "Hash":
		kind, err := decodeHashKind(jv.HashKind)
		if err != nil {
			return nil, err
		}
		return piper.HashStub{Kind: kind}, nil
	case "Blob":
		return piper.BlobStub{Mime: jv.Mime}, nil
	case "Reference":
		return piper.ReferenceStub{ClassID: jv.ClassID}, nil
	default:
		return nil, fmt.Errorf("unknown stub type %q", jv.Type)
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
		return 0, fmt.Errorf("unknown hash kind %q", s)
	}
}
