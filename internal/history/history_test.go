package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
)

func entry(m ...uint64) Entry {
	return Entry{Op: op.Operation{Kind: op.Add, Mark: mark.Mark(m)}, Applied: true}
}

func marks(l *Log) []mark.Mark {
	out := make([]mark.Mark, l.Len())
	for i := range out {
		out[i] = l.At(i).Op.Mark
	}
	return out
}

func TestAppendKeepsOrder(t *testing.T) {
	l := New(mark.ReplicaID{1})
	_, err := l.Append(entry(0, 1, 0))
	require.NoError(t, err)
	_, err = l.Append(entry(1, 1, 0))
	require.NoError(t, err)

	_, err = l.Append(entry(0, 2, 0))
	require.Error(t, err)
	assert.False(t, IsIdentityCollision(err))

	_, err = l.Append(entry(1, 1, 0))
	require.Error(t, err)
	assert.True(t, IsIdentityCollision(err))
}

func TestFindInsertionPoint(t *testing.T) {
	l := New(mark.ReplicaID{1})
	for _, e := range []Entry{entry(0, 1, 0), entry(1, 2, 0), entry(3, 1, 0)} {
		_, err := l.Append(e)
		require.NoError(t, err)
	}

	idx, found, err := l.FindInsertionPoint(mark.Mark{2, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.False(t, found)

	idx, found, err = l.FindInsertionPoint(mark.Mark{1, 2, 0})
	require.NoError(t, err, "foreign ties are duplicates, not collisions")
	assert.Equal(t, 1, idx)
	assert.True(t, found)

	_, found, err = l.FindInsertionPoint(mark.Mark{3, 1, 0})
	assert.True(t, found)
	var ic *IdentityCollisionError
	require.ErrorAs(t, err, &ic)
	assert.Equal(t, mark.Mark{3, 1, 0}, ic.Mark)

	idx, _, err = l.FindInsertionPoint(mark.Mark{9, 9, 9})
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
}

func TestInsertAtAndSliceFrom(t *testing.T) {
	l := New(mark.ReplicaID{1})
	for _, e := range []Entry{entry(0, 1, 0), entry(2, 1, 0)} {
		_, err := l.Append(e)
		require.NoError(t, err)
	}
	idx, _, err := l.FindInsertionPoint(mark.Mark{1, 5, 0})
	require.NoError(t, err)
	inserted := l.InsertAt(idx, entry(1, 5, 0))

	assert.Equal(t, []mark.Mark{{0, 1, 0}, {1, 5, 0}, {2, 1, 0}}, marks(l))

	tail := l.SliceFrom(1)
	require.Len(t, tail, 2)
	tail[0].Applied = false
	assert.False(t, inserted.Applied, "entries are shared with the log")
	assert.False(t, l.At(1).Applied)

	got, ok := l.Find(mark.Mark{2, 1, 0})
	require.True(t, ok)
	assert.Same(t, l.At(2), got)
	_, ok = l.Find(mark.Mark{2, 1, 1})
	assert.False(t, ok)
}

func TestEntriesAreCopies(t *testing.T) {
	l := New(mark.ReplicaID{1})
	_, err := l.Append(entry(0, 1, 0))
	require.NoError(t, err)

	cp := l.Entries()
	cp[0].Op.Mark[0] = 42
	assert.Equal(t, uint64(0), l.At(0).Op.Mark[0])
	assert.Len(t, l.Ops(), 1)
}
