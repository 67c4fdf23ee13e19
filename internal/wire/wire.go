// Package wire encodes the messages replicas exchange.
//
// A message is a two element JSON array [kind, payload]. Kind 1 is a
// patch whose payload is the list of operations, sorted by mark.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
)

// Kind identifies the message type.
type Kind int

// KindPatch carries operations.
const KindPatch Kind = 1

// Message is a decoded wire message. Ops is set only for patches.
type Message struct {
	Kind Kind
	Ops  []op.Operation
}

// MalformedError reports bytes that are not a wire message.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is or wraps a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// EncodePatch serializes ops as a patch, sorting a copy by mark.
func EncodePatch(ops []op.Operation) ([]byte, error) {
	sorted := slices.Clone(ops)
	slices.SortStableFunc(sorted, func(a, b op.Operation) int {
		return mark.Compare(a.Mark, b.Mark)
	})
	if sorted == nil {
		sorted = []op.Operation{}
	}
	return json.Marshal([]any{KindPatch, sorted})
}

// Decode parses a message. Unknown kinds decode successfully with a nil
// payload so receivers can ignore them.
func Decode(data []byte) (Message, error) {
	var parts []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&parts); err != nil {
		return Message{}, &MalformedError{Reason: "not a JSON array", Err: err}
	}
	if len(parts) != 2 {
		return Message{}, &MalformedError{Reason: fmt.Sprintf("expected 2 elements, got %d", len(parts))}
	}
	var kind Kind
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return Message{}, &MalformedError{Reason: "kind", Err: err}
	}
	if kind != KindPatch {
		return Message{Kind: kind}, nil
	}
	var ops []op.Operation
	if err := json.Unmarshal(parts[1], &ops); err != nil {
		return Message{}, &MalformedError{Reason: "patch payload", Err: err}
	}
	for i, o := range ops {
		if !o.Mark.Valid() {
			return Message{}, &MalformedError{Reason: fmt.Sprintf("operation %d has an invalid mark", i)}
		}
		if o.Kind == op.Move && o.From == nil {
			return Message{}, &MalformedError{Reason: fmt.Sprintf("operation %d: move without from", i)}
		}
	}
	return Message{Kind: kind, Ops: ops}, nil
}
