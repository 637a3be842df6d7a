package piper

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ParamValue is the tagged value carried in a node stub's parameter map
// (spec.md §6). It is intentionally a much smaller type lattice than
// Value - parameters are spec-time configuration, not runtime data.
type ParamValue interface {
	isParamValue()
}

// StringParam is a string-valued parameter.
type StringParam string

// IntegerParam is an integer-valued parameter.
type IntegerParam int64

// FloatParam is a float-valued parameter.
type FloatParam float64

// BooleanParam is a boolean-valued parameter.
type BooleanParam bool

// ListParam is a homogeneous-or-not list of parameter values.
type ListParam []ParamValue

func (StringParam) isParamValue()  {}
func (IntegerParam) isParamValue() {}
func (FloatParam) isParamValue()   {}
func (BooleanParam) isParamValue() {}
func (ListParam) isParamValue()    {}

// ParamMap is the raw, declarative parameter set a node stub carries.
type ParamMap map[string]ParamValue

// plain unwraps a ParamMap into bare Go values so it can be fed through
// mapstructure, the way the teacher's Serialization loader decodes
// config-shaped maps into typed structs.
func (m ParamMap) plain() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v ParamValue) interface{} {
	switch t := v.(type) {
	case StringParam:
		return string(t)
	case IntegerParam:
		return int64(t)
	case FloatParam:
		return float64(t)
	case BooleanParam:
		return bool(t)
	case ListParam:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	default:
		return nil
	}
}

// Decode maps a ParamMap onto a typed struct using mapstructure tags,
// mirroring how the teacher's loader.go decodes its Serialization
// records. Keys with no matching struct field are always ignored; node
// factories report leftovers themselves with CheckUnexpected.
func (m ParamMap) Decode(out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
		TagName:          "param",
		ErrorUnused:      false,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m.plain())
}

// RequireString fetches a required string parameter, or a typed error.
func (m ParamMap) RequireString(name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", &MissingParameterError{Name: name}
	}
	s, ok := v.(StringParam)
	if !ok {
		return "", &BadParameterTypeError{Name: name, Expected: "String"}
	}
	return string(s), nil
}

// RequireInteger fetches a required integer parameter, or a typed error.
func (m ParamMap) RequireInteger(name string) (int64, error) {
	v, ok := m[name]
	if !ok {
		return 0, &MissingParameterError{Name: name}
	}
	i, ok := v.(IntegerParam)
	if !ok {
		return 0, &BadParameterTypeError{Name: name, Expected: "Integer"}
	}
	return int64(i), nil
}

// OptionalString fetches an optional string parameter, returning def if
// it's absent, or a typed error if it's present with the wrong kind.
func (m ParamMap) OptionalString(name, def string) (string, error) {
	v, ok := m[name]
	if !ok {
		return def, nil
	}
	s, ok := v.(StringParam)
	if !ok {
		return "", &BadParameterTypeError{Name: name, Expected: "String"}
	}
	return string(s), nil
}

// OptionalBoolean fetches an optional boolean parameter, returning def if
// it's absent, or a typed error if it's present with the wrong kind.
func (m ParamMap) OptionalBoolean(name string, def bool) (bool, error) {
	v, ok := m[name]
	if !ok {
		return def, nil
	}
	b, ok := v.(BooleanParam)
	if !ok {
		return false, &BadParameterTypeError{Name: name, Expected: "Boolean"}
	}
	return bool(b), nil
}

// CheckUnexpected returns an UnexpectedParameterError for the first key in
// m that isn't in allowed, or nil if every key is accounted for. Node
// factories call this after pulling out the parameters they recognize.
func (m ParamMap) CheckUnexpected(allowed ...string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for k := range m {
		if _, ok := set[k]; !ok {
			return &UnexpectedParameterError{Name: k}
		}
	}
	return nil
}

// paramWire is ParamMap's JSON wire form: ParamValue is a non-empty
// interface, so encoding/json can't decode into it without a tagged
// shape to dispatch on, the same problem piper.Value and piper.Stub run
// into at their adapter boundaries.
type paramWire struct {
	Type string      `json:"type" yaml:"type"`
	S    string      `json:"s,omitempty" yaml:"s,omitempty"`
	I    int64       `json:"i,omitempty" yaml:"i,omitempty"`
	F    float64     `json:"f,omitempty" yaml:"f,omitempty"`
	B    bool        `json:"b,omitempty" yaml:"b,omitempty"`
	L    []paramWire `json:"l,omitempty" yaml:"l,omitempty"`
}

func paramToWire(v ParamValue) (paramWire, error) {
	switch t := v.(type) {
	case StringParam:
		return paramWire{Type: "String", S: string(t)}, nil
	case IntegerParam:
		return paramWire{Type: "Integer", I: int64(t)}, nil
	case FloatParam:
		return paramWire{Type: "Float", F: float64(t)}, nil
	case BooleanParam:
		return paramWire{Type: "Boolean", B: bool(t)}, nil
	case ListParam:
		items := make([]paramWire, len(t))
		for i, e := range t {
			w, err := paramToWire(e)
			if err != nil {
				return paramWire{}, err
			}
			items[i] = w
		}
		return paramWire{Type: "List", L: items}, nil
	default:
		return paramWire{}, fmt.Errorf("piper: cannot encode parameter of type %T", v)
	}
}

func wireToParam(w paramWire) (ParamValue, error) {
	switch w.Type {
	case "String":
		return StringParam(w.S), nil
	case "Integer":
		return IntegerParam(w.I), nil
	case "Float":
		return FloatParam(w.F), nil
	case "Boolean":
		return BooleanParam(w.B), nil
	case "List":
		items := make(ListParam, len(w.L))
		for i, e := range w.L {
			p, err := wireToParam(e)
			if err != nil {
				return nil, err
			}
			items[i] = p
		}
		return items, nil
	default:
		return nil, fmt.Errorf("piper: unknown parameter type %q", w.Type)
	}
}

// MarshalJSON implements json.Marshaler so a ParamMap survives storage in
// a Spec's JSON encoding (spec.md §6) without the caller ever seeing the
// tagged wire shape.
func (m ParamMap) MarshalJSON() ([]byte, error) {
	wire := make(map[string]paramWire, len(m))
	for k, v := range m {
		w, err := paramToWire(v)
		if err != nil {
			return nil, err
		}
		wire[k] = w
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (m *ParamMap) UnmarshalJSON(data []byte) error {
	var wire map[string]paramWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(ParamMap, len(wire))
	for k, w := range wire {
		v, err := wireToParam(w)
		if err != nil {
			return err
		}
		out[k] = v
	}
	*m = out
	return nil
}

// MarshalYAML implements yaml.Marshaler, mirroring MarshalJSON for
// on-disk pipeline specs (spec.md §6) loaded with gopkg.in/yaml.v3.
func (m ParamMap) MarshalYAML() (interface{}, error) {
	wire := make(map[string]paramWire, len(m))
	for k, v := range m {
		w, err := paramToWire(v)
		if err != nil {
			return nil, err
		}
		wire[k] = w
	}
	return wire, nil
}

// UnmarshalYAML implements yaml.Unmarshaler, the inverse of MarshalYAML.
func (m *ParamMap) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var wire map[string]paramWire
	if err := unmarshal(&wire); err != nil {
		return err
	}
	out := make(ParamMap, len(wire))
	for k, w := range wire {
		v, err := wireToParam(w)
		if err != nil {
			return err
		}
		out[k] = v
	}
	*m = out
	return nil
}
