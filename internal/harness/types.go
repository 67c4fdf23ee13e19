package harness

import (
	"github.com/roach88/jsonsync/internal/value"
)

// TraceEvent records one executed step. Which fields are set depends on
// the step kind: edits fill Replica, Path, Kind, Mark and Outcome;
// network steps fill Link and Delivered, or Index and OK.
type TraceEvent struct {
	Step      int
	Op        string
	Replica   string
	Path      string
	From      string
	Count     int
	Kind      string
	Mark      string
	Outcome   string
	Link      string
	Index     int
	OK        bool
	Delivered int
	Content   value.Value
}

// canonical renders the event as a value so it can be written with
// value.MarshalCanonical. Fields that do not belong to the step kind are
// left out.
func (e TraceEvent) canonical() value.Object {
	obj := value.Object{
		"step": value.Number(e.Step),
		"op":   value.String(e.Op),
	}
	setString := func(key, s string) {
		if s != "" {
			obj[key] = value.String(s)
		}
	}
	setString("replica", e.Replica)
	setString("path", e.Path)
	setString("from", e.From)
	setString("kind", e.Kind)
	setString("mark", e.Mark)
	setString("outcome", e.Outcome)
	setString("link", e.Link)
	if e.Count > 0 {
		obj["count"] = value.Number(e.Count)
	}
	switch e.Op {
	case StepFlush, StepSync, StepResend:
		obj["delivered"] = value.Number(e.Delivered)
	case StepDrop, StepDuplicate:
		obj["index"] = value.Number(e.Index)
		obj["ok"] = value.Bool(e.OK)
	case StepSnapshot:
		if e.Content != nil {
			obj["content"] = e.Content
		}
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool

	Trace  []TraceEvent
	Errors []string

	// Content holds each replica's final document by name. An undefined
	// document is stored as nil.
	Content map[string]value.Value

	// Converged reports whether every replica ended with the same digest.
	Converged bool
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Content: make(map[string]value.Value),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(ev TraceEvent) int {
	ev.Step = len(r.Trace)
	r.Trace = append(r.Trace, ev)
	return ev.Step
}
