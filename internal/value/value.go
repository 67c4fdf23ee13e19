package value

import (
	"slices"
	"unicode/utf16"
)

// Kind is the explicit discriminant of a Value.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the JSON type name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "undefined"
	}
}

// Value is a sealed interface over JSON-like content.
// Only Null, Bool, Number, String, Array and Object implement it.
type Value interface {
	Kind() Kind
	sealed()
}

// Null is the JSON null value.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number. Documents carry IEEE-754 doubles, as JSON does.
type Number float64

// String is a JSON string. Character-level edits index it by rune.
type String string

// Array is an ordered list of values.
type Array []Value

// Object is a mapping with unordered keys.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }
func (Object) Kind() Kind { return KindObject }

func (Null) sealed()   {}
func (Bool) sealed()   {}
func (Number) sealed() {}
func (String) sealed() {}
func (Array) sealed()  {}
func (Object) sealed() {}

// KindOf returns the kind of v, treating nil as undefined.
func KindOf(v Value) Kind {
	if v == nil {
		return KindUndefined
	}
	return v.Kind()
}

// Defined reports whether v holds any value, including null.
func Defined(v Value) bool {
	return v != nil
}

// IsContainer reports whether v can be navigated into by a path segment.
// Strings count as containers of characters.
func IsContainer(v Value) bool {
	switch v.(type) {
	case Array, Object, String:
		return true
	}
	return false
}

// Runes returns the rune length of a String.
func (s String) Runes() int {
	return len([]rune(string(s)))
}

// Clone returns a deep copy of v. Scalars are immutable and returned as is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// Equal reports structural equality. Object key order never matters.
func Equal(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch av := a.(type) {
	case nil:
		return true
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Number:
		return av == b.(Number)
	case String:
		return av == b.(String)
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, ok := bv[k]
			if !ok || !Equal(elem, other) {
				return false
			}
		}
		return true
	}
	return false
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// compareKeysUTF16 orders strings by UTF-16 code unit. Go's native string
// comparison orders by UTF-8 bytes, which differs for astral characters.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
