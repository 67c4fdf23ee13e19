// Package op defines document operations and their inverses.
package op

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/pointer"
	"github.com/roach88/jsonsync/internal/value"
)

// Kind selects the operation variant.
type Kind string

const (
	Add     Kind = "add"
	Replace Kind = "replace"
	Remove  Kind = "remove"
	Move    Kind = "move"
)

// Valid reports whether k is one of the four operation kinds.
func (k Kind) Valid() bool {
	switch k {
	case Add, Replace, Remove, Move:
		return true
	}
	return false
}

// Operation is one edit addressed by path.
//
// Value is set for add and replace. Was holds the value displaced by the
// last application of a replace or remove and is what makes the operation
// invertible. From is the source of a move. Count is the number of
// characters a remove deletes from a string parent; anything below 1
// means 1.
type Operation struct {
	Kind     Kind
	Path     pointer.Path
	From     pointer.Path
	Value    value.Value
	Was      value.Value
	Count    int
	Mark     mark.Mark
	Inverted bool
}

// Clone returns a deep copy.
func (o Operation) Clone() Operation {
	return Operation{
		Kind:     o.Kind,
		Path:     o.Path.Clone(),
		From:     o.From.Clone(),
		Value:    value.Clone(o.Value),
		Was:      value.Clone(o.Was),
		Count:    o.Count,
		Mark:     o.Mark.Clone(),
		Inverted: o.Inverted,
	}
}

// RemoveCount returns Count normalized to at least 1.
func (o Operation) RemoveCount() int {
	if o.Count < 1 {
		return 1
	}
	return o.Count
}

// String renders a short human form such as "add /a [3.1.0]".
func (o Operation) String() string {
	s := fmt.Sprintf("%s %s", o.Kind, o.Path)
	if o.Kind == Move {
		s = fmt.Sprintf("move %s -> %s", o.From, o.Path)
	}
	if o.Inverted {
		s = "undo " + s
	}
	if o.Mark != nil {
		s += " [" + o.Mark.String() + "]"
	}
	return s
}

// wireOperation is the JSON form. Paths travel as pointer strings.
type wireOperation struct {
	Op       Kind         `json:"op"`
	Path     pointer.Path `json:"path"`
	From     pointer.Path `json:"from,omitempty"`
	Value    value.Box    `json:"value,omitzero"`
	Was      value.Box    `json:"was,omitzero"`
	Count    int          `json:"count,omitempty"`
	Mark     mark.Mark    `json:"mark"`
	Inverted bool         `json:"inverted,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		Op:       o.Kind,
		Path:     o.Path,
		Value:    value.Box{V: o.Value},
		Was:      value.Box{V: o.Was},
		Count:    o.Count,
		Mark:     o.Mark,
		Inverted: o.Inverted,
	}
	if o.Kind == Move {
		w.From = o.From
	}
	if w.Path == nil {
		w.Path = pointer.Path{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Op.Valid() {
		return fmt.Errorf("op: unknown kind %q", w.Op)
	}
	if w.Path == nil {
		w.Path = pointer.Path{}
	}
	*o = Operation{
		Kind:     w.Op,
		Path:     w.Path,
		From:     w.From,
		Value:    w.Value.V,
		Was:      w.Was.V,
		Count:    w.Count,
		Mark:     w.Mark,
		Inverted: w.Inverted,
	}
	return nil
}
