package replica

import (
	"context"

	"github.com/roach88/jsonsync/internal/merge"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/pointer"
	"github.com/roach88/jsonsync/internal/value"
)

// Add inserts v at ptr. On an object key that already holds a value it
// behaves as Replace. It returns the operation as broadcast and whether
// it changed content.
func (r *Replica) Add(ptr string, v value.Value, opts ...EditOption) (op.Operation, bool, error) {
	path, err := parse(ptr)
	if err != nil {
		return op.Operation{}, false, err
	}
	return r.AddPath(path, v, opts...)
}

// AddPath is Add addressed by key list.
func (r *Replica) AddPath(path pointer.Path, v value.Value, opts ...EditOption) (op.Operation, bool, error) {
	return r.edit(op.Operation{Kind: op.Add, Path: path.Clone(), Value: v}, opts)
}

// Replace swaps the value at ptr for v. On an absent object key it
// behaves as Add.
func (r *Replica) Replace(ptr string, v value.Value, opts ...EditOption) (op.Operation, bool, error) {
	path, err := parse(ptr)
	if err != nil {
		return op.Operation{}, false, err
	}
	return r.ReplacePath(path, v, opts...)
}

// ReplacePath is Replace addressed by key list.
func (r *Replica) ReplacePath(path pointer.Path, v value.Value, opts ...EditOption) (op.Operation, bool, error) {
	return r.edit(op.Operation{Kind: op.Replace, Path: path.Clone(), Value: v}, opts)
}

// Remove deletes the value at ptr. Inside a string, WithCount selects how
// many characters go.
func (r *Replica) Remove(ptr string, opts ...EditOption) (op.Operation, bool, error) {
	path, err := parse(ptr)
	if err != nil {
		return op.Operation{}, false, err
	}
	return r.RemovePath(path, opts...)
}

// RemovePath is Remove addressed by key list.
func (r *Replica) RemovePath(path pointer.Path, opts ...EditOption) (op.Operation, bool, error) {
	return r.edit(op.Operation{Kind: op.Remove, Path: path.Clone()}, opts)
}

// Move relocates the value at from to to. Moving a value into its own
// subtree, or onto one of its ancestors, does nothing.
func (r *Replica) Move(from, to string, opts ...EditOption) (op.Operation, bool, error) {
	fromPath, err := parse(from)
	if err != nil {
		return op.Operation{}, false, err
	}
	toPath, err := parse(to)
	if err != nil {
		return op.Operation{}, false, err
	}
	return r.MovePath(fromPath, toPath, opts...)
}

// MovePath is Move addressed by key lists.
func (r *Replica) MovePath(from, to pointer.Path, opts ...EditOption) (op.Operation, bool, error) {
	return r.edit(op.Operation{Kind: op.Move, From: from.Clone(), Path: to.Clone()}, opts)
}

func (r *Replica) edit(o op.Operation, opts []EditOption) (op.Operation, bool, error) {
	var cfg editConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if o.Kind == op.Remove {
		o.Count = cfg.count
	}

	r.mu.Lock()
	if r.fatal != nil {
		err := r.fatal
		r.mu.Unlock()
		return op.Operation{}, false, err
	}
	o.Kind = r.redirect(o)

	var (
		out     op.Operation
		applied bool
		changes merge.ChangeSet
		stats   merge.Stats
		err     error
		chained = cfg.after != nil
	)
	if !chained {
		out, applied, err = r.engine.Commit(o)
		if applied {
			changes = merge.ChangeSet{{Op: out.Clone(), Applied: true}}
		}
	} else {
		if err = r.checkAfter(*cfg.after); err == nil {
			out, applied, changes, stats, err = r.engine.CommitAfter(o, cfg.after.Mark)
			err = wrapMerge(err)
		}
	}
	var digest string
	historyLen := r.log.Len()
	if err == nil && r.journal != nil {
		digest = r.journalDigest()
	}
	r.mu.Unlock()

	if r.recorder != nil {
		if chained && err == nil {
			r.recorder.Merged(stats)
		}
		if IsIdentityCollision(err) {
			r.recorder.IdentityCollision()
		}
		r.recorder.LocalEdit(o.Kind, applied)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("op", o.String()).Msg("edit rejected")
		return op.Operation{}, false, err
	}

	// A chained edit is sent even when its transaction failed here, so
	// that every replica sees the same group and skips it the same way.
	if applied || chained {
		r.record(OriginLocal, []op.Operation{out}, digest, historyLen)
		r.broadcast([]op.Operation{out})
	}
	r.logger.Debug().Str("op", out.String()).Bool("applied", applied).Msg("local edit")
	r.emit(Event{Kind: EventLocal, Changes: changes})
	return out, applied, nil
}

// redirect gives add and replace JSON-Patch duality on object keys and
// the root: add over an existing value replaces it, replace of a missing
// value adds it. Array parents keep add as insertion.
func (r *Replica) redirect(o op.Operation) op.Kind {
	if o.Kind != op.Add && o.Kind != op.Replace {
		return o.Kind
	}
	var present bool
	if o.Path.IsRoot() {
		switch r.tree.Content().(type) {
		case nil:
			present = false
		case value.Null:
			// null root accepts add and replace alike; keep the caller's kind
			return o.Kind
		default:
			present = true
		}
	} else {
		obj, ok := r.tree.Get(o.Path.Parent()).(value.Object)
		if !ok {
			return o.Kind
		}
		present = obj[o.Path.Last()] != nil
	}
	switch {
	case o.Kind == op.Add && present:
		return op.Replace
	case o.Kind == op.Replace && !present:
		return op.Add
	}
	return o.Kind
}

func (r *Replica) checkAfter(prev op.Operation) error {
	if !prev.Mark.Valid() {
		return &Error{Code: ErrCodeInvalidChain, Message: "after operation has no mark; it was never applied"}
	}
	if !prev.Mark.AuthoredBy(r.id) {
		return &Error{Code: ErrCodeInvalidChain, Message: "after operation " + prev.Mark.String() + " was authored by another replica"}
	}
	if _, ok := r.log.Find(prev.Mark); !ok {
		return &Error{Code: ErrCodeInvalidChain, Message: "after operation " + prev.Mark.String() + " is not in history"}
	}
	return nil
}

func (r *Replica) record(origin Origin, ops []op.Operation, digest string, historyLen int) {
	if r.journal == nil {
		return
	}
	ctx := context.Background()
	if err := r.journal.AppendOps(ctx, r.name, origin, ops); err != nil {
		r.logger.Warn().Err(err).Msg("journal append failed")
		return
	}
	if digest == "" {
		return
	}
	if err := r.journal.SaveDigest(ctx, r.name, digest, historyLen); err != nil {
		r.logger.Warn().Err(err).Msg("journal digest failed")
	}
}
