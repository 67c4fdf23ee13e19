// Package merge is the causal reconciler.
//
// When a diff arrives, the engine rewinds the document to the earliest
// point the diff touches, splices the new operations into the history at
// their mark rank, and replays the rewound suffix forward. The resulting
// content is what replaying the whole history in mark order from the
// initial content would produce, at the cost of touching only the suffix.
//
// Transactions (operations sharing counter and replica id) replay
// atomically: a group with a sequence gap, or with any member whose
// structural precondition fails, is left entirely unapplied without
// affecting unrelated operations in the same batch.
//
// Engine is not safe for concurrent use and is not reentrant. The owning
// replica serializes every call.
package merge

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/roach88/jsonsync/internal/history"
	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/tree"
)

// ErrInvalidMark rejects operations whose mark cannot be ordered.
var ErrInvalidMark = errors.New("operation mark must hold counter, replica id and sequence")

// Change is one step of a replay as seen by a view layer.
type Change struct {
	Op      op.Operation
	Applied bool
}

// ChangeSet lists every undo and redo step of a merge in execution order,
// including steps that were attempted and skipped.
type ChangeSet []Change

// AppliedOps returns the operations of the changes that took effect.
func (cs ChangeSet) AppliedOps() []op.Operation {
	out := make([]op.Operation, 0, len(cs))
	for _, c := range cs {
		if c.Applied {
			out = append(out, c.Op)
		}
	}
	return out
}

// Stats summarizes one merge.
type Stats struct {
	Incoming      int // operations in the diff
	Duplicates    int // already in history
	RolledBack    int // applied entries undone
	Replayed      int // entries applied during redo
	SkippedGroups int // transaction groups left unapplied
	FailedUndos   int // inverses that did not apply
}

// Engine merges diffs into one replica's document and history.
type Engine struct {
	tree   *tree.Tree
	log    *history.Log
	clock  *mark.Clock
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine over the given document, history and clock.
func New(t *tree.Tree, l *history.Log, c *mark.Clock, opts ...Option) *Engine {
	e := &Engine{
		tree:   t,
		log:    l,
		clock:  c,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Commit applies a standalone local operation. On success it mints a new
// mark, logs the operation as applied and returns it with Mark and Was
// filled in. A structural mismatch returns applied=false and mints
// nothing.
func (e *Engine) Commit(o op.Operation) (op.Operation, bool, error) {
	o = o.Clone()
	if !e.tree.Apply(&o) {
		return o, false, nil
	}
	o.Mark = e.clock.Mint()
	if _, err := e.log.Append(history.Entry{Op: o.Clone(), Applied: true}); err != nil {
		if inv, ok := op.Invert(o); ok {
			e.tree.Apply(&inv)
		}
		return o, false, fmt.Errorf("commit %s: %w", o, err)
	}
	return o, true, nil
}

// CommitAfter chains o into the transaction of after. The continuation
// mark is merged like a remote diff so that rollback and replay treat the
// whole transaction as one unit. The returned operation carries its mark
// whether or not it applied; applied reports the group's outcome.
func (e *Engine) CommitAfter(o op.Operation, after mark.Mark) (op.Operation, bool, ChangeSet, Stats, error) {
	o = o.Clone()
	o.Mark = e.clock.MintAfter(after)
	o.Was = nil

	changes, stats, err := e.ApplyDiff([]op.Operation{o})
	if err != nil {
		return o, false, nil, stats, err
	}
	entry, ok := e.log.Find(o.Mark)
	if !ok {
		return o, false, changes, stats, fmt.Errorf("commit after %s: %s missing from history", after, o.Mark)
	}
	return entry.Op.Clone(), entry.Applied, changes, stats, nil
}

// ApplyDiff merges ops into the document. ops need not be sorted or free
// of duplicates; operations already in history are skipped. An
// IdentityCollisionError aborts the merge before anything is mutated.
func (e *Engine) ApplyDiff(ops []op.Operation) (ChangeSet, Stats, error) {
	stats := Stats{Incoming: len(ops)}

	incoming := make([]op.Operation, 0, len(ops))
	for _, o := range ops {
		if !o.Mark.Valid() {
			return nil, stats, fmt.Errorf("%w: %s", ErrInvalidMark, o)
		}
		incoming = append(incoming, o.Clone())
	}
	slices.SortStableFunc(incoming, func(a, b op.Operation) int {
		return mark.Compare(a.Mark, b.Mark)
	})

	fresh := make([]op.Operation, 0, len(incoming))
	for i, o := range incoming {
		if i > 0 && mark.Compare(incoming[i-1].Mark, o.Mark) == 0 {
			stats.Duplicates++
			continue
		}
		_, found, err := e.log.FindInsertionPoint(o.Mark)
		if err != nil {
			e.logger.Error().Err(err).Str("op", o.String()).Msg("refusing diff")
			return nil, stats, err
		}
		if found {
			stats.Duplicates++
			continue
		}
		fresh = append(fresh, o)
	}
	if len(fresh) == 0 {
		return ChangeSet{}, stats, nil
	}

	rollback := e.rollbackPoint(fresh[0].Mark)
	changes := make(ChangeSet, 0, 2*(e.log.Len()-rollback)+len(fresh))
	changes = e.undo(rollback, changes, &stats)

	for _, o := range fresh {
		e.log.InsertAt(e.log.Search(o.Mark), history.Entry{Op: o})
		e.clock.Observe(o.Mark)
	}

	changes = e.redo(rollback, changes, &stats)

	e.logger.Debug().
		Int("incoming", stats.Incoming).
		Int("duplicates", stats.Duplicates).
		Int("rolled_back", stats.RolledBack).
		Int("replayed", stats.Replayed).
		Int("skipped_groups", stats.SkippedGroups).
		Msg("merged diff")

	return changes, stats, nil
}

// rollbackPoint finds where first ranks in history, then moves earlier so
// that no transaction straddles the point: neither the one first belongs
// to nor one already logged.
func (e *Engine) rollbackPoint(first mark.Mark) int {
	rb := e.log.Search(first)
	for rb > 0 {
		prev := e.log.At(rb - 1).Op.Mark
		if mark.SameTransaction(prev, first) {
			rb--
			continue
		}
		if rb < e.log.Len() && mark.SameTransaction(prev, e.log.At(rb).Op.Mark) {
			rb--
			continue
		}
		break
	}
	return rb
}

// undo inverts every applied entry from the end of history back to
// rollback, leaving content as it stood before history[rollback].
func (e *Engine) undo(rollback int, changes ChangeSet, stats *Stats) ChangeSet {
	suffix := e.log.SliceFrom(rollback)
	for i := len(suffix) - 1; i >= 0; i-- {
		entry := suffix[i]
		if !entry.Applied {
			continue
		}
		entry.Applied = false
		stats.RolledBack++

		inv, ok := op.Invert(entry.Op)
		if !ok {
			stats.FailedUndos++
			e.logger.Error().Str("op", entry.Op.String()).Msg("operation has no inverse")
			continue
		}
		applied := e.tree.Apply(&inv)
		if !applied {
			stats.FailedUndos++
			e.logger.Error().Str("op", inv.String()).Msg("inverse did not apply")
		}
		changes = append(changes, Change{Op: inv, Applied: applied})
	}
	return changes
}

// redo replays history[rollback:] one transaction group at a time.
func (e *Engine) redo(rollback int, changes ChangeSet, stats *Stats) ChangeSet {
	tail := e.log.SliceFrom(rollback)
	for start := 0; start < len(tail); {
		end := start + 1
		for end < len(tail) && mark.SameTransaction(tail[start].Op.Mark, tail[end].Op.Mark) {
			end++
		}
		changes = e.replayGroup(tail[start:end], changes, stats)
		start = end
	}
	return changes
}

func (e *Engine) replayGroup(group []*history.Entry, changes ChangeSet, stats *Stats) ChangeSet {
	if !contiguous(group) {
		stats.SkippedGroups++
		e.logger.Debug().
			Str("transaction", group[0].Op.Mark.Prefix().String()).
			Int("members", len(group)).
			Msg("transaction incomplete, skipping")
		return skipGroup(group, changes)
	}

	applied := 0
	for _, entry := range group {
		if !e.tree.Apply(&entry.Op) {
			break
		}
		applied++
	}
	if applied == len(group) {
		for _, entry := range group {
			entry.Applied = true
			changes = append(changes, Change{Op: entry.Op.Clone(), Applied: true})
		}
		stats.Replayed += len(group)
		return changes
	}

	e.logger.Debug().
		Str("transaction", group[0].Op.Mark.Prefix().String()).
		Str("failed", group[applied].Op.String()).
		Msg("transaction precondition failed, skipping")
	for k := applied - 1; k >= 0; k-- {
		inv, ok := op.Invert(group[k].Op)
		if !ok || !e.tree.Apply(&inv) {
			stats.FailedUndos++
			e.logger.Error().Str("op", group[k].Op.String()).Msg("could not revert partial transaction")
		}
	}
	stats.SkippedGroups++
	return skipGroup(group, changes)
}

func skipGroup(group []*history.Entry, changes ChangeSet) ChangeSet {
	for _, entry := range group {
		entry.Applied = false
		changes = append(changes, Change{Op: entry.Op.Clone(), Applied: false})
	}
	return changes
}

// contiguous reports whether the group's sequence numbers run 0..n-1.
func contiguous(group []*history.Entry) bool {
	for i, entry := range group {
		if entry.Op.Mark.Seq() != uint64(i) {
			return false
		}
	}
	return true
}
