// Package history keeps the mark-ordered log of every operation a replica
// has integrated, together with whether it is currently applied.
//
// Replaying the applied entries in log order from the initial content
// reproduces the current document; the merge engine relies on that to undo
// and redo suffixes of the log.
package history

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
)

// Entry is one logged operation.
type Entry struct {
	Op      op.Operation
	Applied bool
}

// IdentityCollisionError reports a mark that ties with an entry this
// replica authored. Either two replicas share an id or the caller chained
// two operations onto the same predecessor. It is never recoverable.
type IdentityCollisionError struct {
	Mark mark.Mark
}

func (e *IdentityCollisionError) Error() string {
	return fmt.Sprintf("identity collision: mark %s is already in use by this replica", e.Mark)
}

// IsIdentityCollision reports whether err is or wraps an
// IdentityCollisionError.
func IsIdentityCollision(err error) bool {
	var ic *IdentityCollisionError
	return errors.As(err, &ic)
}

// Log is a mark-sorted sequence of entries owned by one replica.
type Log struct {
	local   mark.ReplicaID
	entries []*Entry
}

// New creates an empty log for the replica with the given id.
func New(local mark.ReplicaID) *Log {
	return &Log{local: local.Clone(), entries: make([]*Entry, 0, 64)}
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// At returns the entry at i. The pointer stays valid across inserts.
func (l *Log) At(i int) *Entry {
	return l.entries[i]
}

// Search returns the index of the first entry whose mark is not less
// than m.
func (l *Log) Search(m mark.Mark) int {
	return sort.Search(len(l.entries), func(i int) bool {
		return mark.Compare(l.entries[i].Op.Mark, m) >= 0
	})
}

// FindInsertionPoint returns the index of the first entry whose mark is
// not less than m. found is true when that entry's mark equals m. A tie
// with an entry authored by this replica is an IdentityCollisionError.
func (l *Log) FindInsertionPoint(m mark.Mark) (idx int, found bool, err error) {
	idx = l.Search(m)
	if idx < len(l.entries) && mark.Compare(l.entries[idx].Op.Mark, m) == 0 {
		if m.AuthoredBy(l.local) {
			return idx, true, &IdentityCollisionError{Mark: m.Clone()}
		}
		return idx, true, nil
	}
	return idx, false, nil
}

// Find returns the entry with mark m, if any.
func (l *Log) Find(m mark.Mark) (*Entry, bool) {
	idx := l.Search(m)
	if idx < len(l.entries) && mark.Compare(l.entries[idx].Op.Mark, m) == 0 {
		return l.entries[idx], true
	}
	return nil, false
}

// InsertAt places e at idx. Callers obtain idx from FindInsertionPoint;
// inserting out of order breaks every other method.
func (l *Log) InsertAt(idx int, e Entry) *Entry {
	entry := &e
	l.entries = append(l.entries, nil)
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = entry
	return entry
}

// Append adds e at the end. Its mark must rank after every logged mark.
func (l *Log) Append(e Entry) (*Entry, error) {
	if n := len(l.entries); n > 0 && !mark.Less(l.entries[n-1].Op.Mark, e.Op.Mark) {
		last := l.entries[n-1].Op.Mark
		if mark.Compare(last, e.Op.Mark) == 0 && e.Op.Mark.AuthoredBy(l.local) {
			return nil, &IdentityCollisionError{Mark: e.Op.Mark.Clone()}
		}
		return nil, fmt.Errorf("history: append of %s after %s breaks mark order", e.Op.Mark, last)
	}
	entry := &e
	l.entries = append(l.entries, entry)
	return entry, nil
}

// SliceFrom returns the entries from idx to the end. The slice is a copy
// but the entries are shared, so updates to Applied or Op.Was stick.
func (l *Log) SliceFrom(idx int) []*Entry {
	out := make([]*Entry, len(l.entries)-idx)
	copy(out, l.entries[idx:])
	return out
}

// Ops returns a copy of every logged operation in mark order.
func (l *Log) Ops() []op.Operation {
	out := make([]op.Operation, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Op.Clone()
	}
	return out
}

// Entries returns a copy of every entry in mark order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = Entry{Op: e.Op.Clone(), Applied: e.Applied}
	}
	return out
}
