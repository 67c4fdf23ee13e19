package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrUndefined is returned when an undefined value is marshaled.
var ErrUndefined = errors.New("value: undefined has no JSON representation")

// Marshal encodes v as compact JSON with sorted object keys.
func Marshal(v Value) ([]byte, error) {
	if v == nil {
		return nil, ErrUndefined
	}
	return json.Marshal(ToAny(v))
}

// Unmarshal decodes a single JSON document into a Value.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("value: decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("value: trailing data after JSON document")
	}
	return FromAny(raw)
}

// FromAny converts decoded JSON or YAML data into a Value.
// A nil input becomes Null; undefined cannot be expressed this way.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case float64:
		return numberFrom(val)
	case float32:
		return numberFrom(float64(val))
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("value: number %q: %w", val.String(), err)
		}
		return numberFrom(f)
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			converted, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			converted, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = converted
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("value: unsupported type %T", v)
	}
}

func numberFrom(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("value: %v is not a JSON number", f)
	}
	return Number(f), nil
}

// MustFromAny is FromAny for literals in tests and fixtures.
func MustFromAny(v any) Value {
	out, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return out
}

// ToAny converts a Value into plain Go data suitable for encoding/json,
// yaml or pretty printers. Undefined becomes nil.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(val)
	case Number:
		return float64(val)
	case String:
		return string(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	}
	return nil
}

// Box wraps a Value so it can sit inside structs that use encoding/json.
// A zero Box is undefined and is omitted by omitempty-aware callers via
// IsZero.
type Box struct {
	V Value
}

// IsZero reports whether the box holds undefined.
func (b Box) IsZero() bool { return b.V == nil }

// MarshalJSON implements json.Marshaler.
func (b Box) MarshalJSON() ([]byte, error) {
	if b.V == nil {
		return []byte("null"), nil
	}
	return Marshal(b.V)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Box) UnmarshalJSON(data []byte) error {
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	b.V = v
	return nil
}
