package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/jsonsync/internal/pointer"
	"github.com/roach88/jsonsync/internal/tree"
	"github.com/roach88/jsonsync/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", event.Step, describe(event))
	}
	return buf.String()
}

func describe(e TraceEvent) string {
	switch e.Op {
	case StepAdd, StepReplace, StepRemove:
		return fmt.Sprintf("%s %s %q -> %s %s", e.Replica, e.Op, e.Path, e.Outcome, e.Mark)
	case StepMove:
		return fmt.Sprintf("%s move %q %q -> %s %s", e.Replica, e.From, e.Path, e.Outcome, e.Mark)
	case StepFlush, StepSync, StepResend:
		return fmt.Sprintf("%s %s delivered %d", e.Op, e.Link, e.Delivered)
	case StepDrop, StepDuplicate:
		return fmt.Sprintf("%s %s #%d ok=%t", e.Op, e.Link, e.Index, e.OK)
	case StepSnapshot, StepJoin:
		return fmt.Sprintf("%s %s", e.Op, e.Replica)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Link)
}

func (h *Harness) check(a Assertion) error {
	switch a.Type {
	case AssertContent:
		return h.assertContent(a)
	case AssertConverged:
		if h.result.Converged {
			return nil
		}
		var parts []string
		for _, name := range h.names {
			parts = append(parts, name+"="+render(h.result.Content[name]))
		}
		return &AssertionError{
			Type:     AssertConverged,
			Expected: "identical content on every replica",
			Actual:   strings.Join(parts, " "),
			Trace:    h.result.Trace,
		}
	case AssertHistoryLength:
		for _, name := range h.targets(a.Replica) {
			r, err := h.replica(name)
			if err != nil {
				return err
			}
			if n := len(r.History()); n != a.Count {
				return &AssertionError{
					Type:     AssertHistoryLength,
					Expected: fmt.Sprintf("%s history of %d", name, a.Count),
					Actual:   fmt.Sprintf("%d entries", n),
					Trace:    h.result.Trace,
				}
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) assertContent(a Assertion) error {
	want, err := nodeValue(&a.Expect)
	if err != nil {
		return err
	}
	path, err := pointer.Parse(a.Path)
	if err != nil {
		return fmt.Errorf("content assertion path: %w", err)
	}
	for _, name := range h.targets(a.Replica) {
		content, ok := h.result.Content[name]
		if !ok {
			return fmt.Errorf("unknown replica %q", name)
		}
		got := tree.New(content).Get(path)
		if value.Equal(got, want) {
			continue
		}
		expected := render(want)
		if a.Absent {
			expected = "undefined"
		}
		return &AssertionError{
			Type:     AssertContent,
			Expected: fmt.Sprintf("%s%s = %s", name, a.Path, expected),
			Actual:   render(got),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

func (h *Harness) targets(name string) []string {
	if name != "" {
		return []string{name}
	}
	return h.names
}

func render(v value.Value) string {
	if v == nil {
		return "undefined"
	}
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
