package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/transport/memnet"
	"github.com/roach88/jsonsync/internal/value"
	"github.com/roach88/jsonsync/internal/wire"
)

// Option configures a run.
type Option func(*Harness)

// WithLogger attaches a logger to the harness and its replicas.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithReplicaOptions adds options to every replica the run creates, for
// example a journal or a metrics recorder.
func WithReplicaOptions(opts ...replica.Option) Option {
	return func(h *Harness) { h.replicaOpts = append(h.replicaOpts, opts...) }
}

// WithNamePrefix prefixes the name each replica reports to its logger
// and journal. Scenario steps still address replicas as r0, r1, ...
// Runs sharing one journal need distinct prefixes.
func WithNamePrefix(prefix string) Option {
	return func(h *Harness) { h.prefix = prefix }
}

// Harness executes one scenario.
type Harness struct {
	logger      zerolog.Logger
	replicaOpts []replica.Option
	prefix      string

	hub      *memnet.Hub
	initial  value.Value
	names    []string
	replicas map[string]*replica.Replica
	labels   map[string]op.Operation
	result   *Result
}

// Run executes a scenario and returns the result.
//
// Each run builds a fresh hub and fresh replicas. A returned error means
// the scenario could not be executed at all; unmet expectations and
// failed assertions are reported through Result.Errors instead.
func Run(s *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		logger:   zerolog.Nop(),
		hub:      memnet.NewHub(),
		replicas: make(map[string]*replica.Replica),
		labels:   make(map[string]op.Operation),
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	initial, err := nodeValue(&s.Initial)
	if err != nil {
		return nil, fmt.Errorf("initial: %w", err)
	}
	h.initial = initial

	for i := 0; i < s.Replicas; i++ {
		if err := h.join(fmt.Sprintf("r%d", i)); err != nil {
			return nil, err
		}
	}

	for i, step := range s.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	h.finish()
	for _, a := range s.Assertions {
		if err := h.check(a); err != nil {
			h.result.AddError(err.Error())
		}
	}
	return h.result, nil
}

func (h *Harness) join(name string) error {
	if _, exists := h.replicas[name]; exists {
		return fmt.Errorf("replica %q already exists", name)
	}
	node, err := h.hub.Join(name)
	if err != nil {
		return err
	}
	opts := []replica.Option{
		replica.WithMachine(uint32(len(h.names))),
		replica.WithName(h.prefix + name),
		replica.WithLogger(h.logger),
	}
	if h.initial != nil {
		opts = append(opts, replica.WithValue(h.initial))
	}
	r, err := replica.New(node, append(opts, h.replicaOpts...)...)
	if err != nil {
		return fmt.Errorf("replica %s: %w", name, err)
	}
	h.names = append(h.names, name)
	h.replicas[name] = r
	return nil
}

func (h *Harness) replica(name string) (*replica.Replica, error) {
	r, ok := h.replicas[name]
	if !ok {
		return nil, fmt.Errorf("unknown replica %q", name)
	}
	return r, nil
}

func (h *Harness) execute(step Step) error {
	switch step.Op {
	case StepAdd, StepReplace, StepRemove, StepMove:
		return h.edit(step)
	case StepJoin:
		if err := h.join(step.Replica); err != nil {
			return err
		}
		h.result.record(TraceEvent{Op: step.Op, Replica: step.Replica})
		return nil
	case StepSnapshot:
		r, err := h.replica(step.Replica)
		if err != nil {
			return err
		}
		h.result.record(TraceEvent{Op: step.Op, Replica: step.Replica, Content: value.Clone(r.Content())})
		return nil
	case StepSync:
		h.result.record(TraceEvent{Op: step.Op, Delivered: h.hub.FlushAll()})
		return nil
	}

	from, to := step.Link[0], step.Link[1]
	for _, name := range step.Link {
		if _, err := h.replica(name); err != nil {
			return err
		}
	}
	ev := TraceEvent{Op: step.Op, Link: from + ">" + to}
	switch step.Op {
	case StepFlush:
		ev.Delivered = h.hub.Flush(from, to)
	case StepDrop:
		ev.Index = step.Index
		ev.OK = h.hub.Drop(from, to, step.Index)
	case StepDuplicate:
		ev.Index = step.Index
		ev.OK = h.hub.Duplicate(from, to, step.Index)
	case StepReverse:
		h.hub.Reverse(from, to)
	case StepPartition:
		h.hub.Partition(from, to)
	case StepHeal:
		h.hub.Heal(from, to)
	case StepResend:
		n, err := h.resend(from, to)
		if err != nil {
			return err
		}
		ev.Delivered = n
	}
	h.result.record(ev)
	return nil
}

// resend hands every operation the source authored straight to the
// target, the way a caller re-issues operations that were lost.
func (h *Harness) resend(from, to string) (int, error) {
	src, _ := h.replica(from)
	dst, _ := h.replica(to)
	var own []op.Operation
	for _, e := range src.History() {
		if e.Op.Mark.AuthoredBy(src.ID()) {
			own = append(own, e.Op)
		}
	}
	if len(own) == 0 {
		return 0, nil
	}
	msg, err := wire.EncodePatch(own)
	if err != nil {
		return 0, err
	}
	if err := dst.Receive(msg); err != nil {
		h.result.AddError(fmt.Sprintf("resend %s>%s: %v", from, to, err))
	}
	return len(own), nil
}

func (h *Harness) edit(step Step) error {
	r, err := h.replica(step.Replica)
	if err != nil {
		return err
	}
	var opts []replica.EditOption
	if step.After != "" {
		prev, ok := h.labels[step.After]
		if !ok {
			return fmt.Errorf("label %q has no operation", step.After)
		}
		opts = append(opts, replica.WithAfter(prev))
	}
	if step.Count > 0 {
		opts = append(opts, replica.WithCount(step.Count))
	}

	var (
		out     op.Operation
		applied bool
	)
	switch step.Op {
	case StepAdd, StepReplace:
		v, verr := nodeValue(&step.Value)
		if verr != nil {
			return verr
		}
		if step.Op == StepAdd {
			out, applied, err = r.Add(step.Path, v, opts...)
		} else {
			out, applied, err = r.Replace(step.Path, v, opts...)
		}
	case StepRemove:
		out, applied, err = r.Remove(step.Path, opts...)
	case StepMove:
		out, applied, err = r.Move(step.From, step.Path, opts...)
	}

	ev := TraceEvent{
		Op:      step.Op,
		Replica: step.Replica,
		Path:    step.Path,
		From:    step.From,
		Count:   step.Count,
		Outcome: outcome(applied, err),
	}
	if err == nil {
		ev.Kind = string(out.Kind)
		if out.Mark != nil {
			ev.Mark = out.Mark.String()
		}
		if step.Label != "" {
			h.labels[step.Label] = out
		}
	}
	n := h.result.record(ev)

	switch {
	case step.Expect != "" && step.Expect != ev.Outcome:
		h.result.AddError(fmt.Sprintf("step %d: %s %s on %s: expected %s, got %s",
			n, step.Op, step.Path, step.Replica, step.Expect, ev.Outcome))
	case step.Expect == "" && err != nil:
		h.result.AddError(fmt.Sprintf("step %d: %s %s on %s: %v", n, step.Op, step.Path, step.Replica, err))
	}
	return nil
}

// outcome names what happened to an edit: applied, noop, or the error
// code in lower case.
func outcome(applied bool, err error) string {
	if err != nil {
		var rerr *replica.Error
		if errors.As(err, &rerr) {
			return strings.ToLower(string(rerr.Code))
		}
		return "error"
	}
	if applied {
		return OutcomeApplied
	}
	return OutcomeNoop
}

// finish captures each replica's content and whether they all agree.
func (h *Harness) finish() {
	h.result.Converged = true
	var first string
	for i, name := range h.names {
		r := h.replicas[name]
		h.result.Content[name] = value.Clone(r.Content())
		d, err := r.Digest()
		if err != nil {
			d = "undefined"
		}
		if i == 0 {
			first = d
		} else if d != first {
			h.result.Converged = false
		}
	}
}
