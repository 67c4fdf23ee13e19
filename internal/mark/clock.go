package mark

import "sync/atomic"

// Clock is a Lamport clock bound to one replica id.
//
// Mint and Observe are safe for concurrent use, but a replica serializes
// its edits and merges, so in practice one goroutine drives the clock.
type Clock struct {
	id        ReplicaID
	timestamp atomic.Uint64
}

// NewClock creates a clock starting at 0.
func NewClock(id ReplicaID) *Clock {
	return &Clock{id: id.Clone()}
}

// NewClockAt creates a clock resuming from a known timestamp.
func NewClockAt(id ReplicaID, start uint64) *Clock {
	c := NewClock(id)
	c.timestamp.Store(start)
	return c
}

// ID returns the replica id stamped into minted marks.
func (c *Clock) ID() ReplicaID {
	return c.id.Clone()
}

// Mint returns [timestamp, id..., 0] and advances the clock.
func (c *Clock) Mint() Mark {
	ts := c.timestamp.Add(1) - 1
	m := make(Mark, 0, len(c.id)+2)
	m = append(m, ts)
	for _, word := range c.id {
		m = append(m, uint64(word))
	}
	return append(m, 0)
}

// MintAfter returns the continuation of after. The clock does not move:
// the new mark belongs to after's transaction.
func (c *Clock) MintAfter(after Mark) Mark {
	return after.Next()
}

// Observe advances the clock past m's counter if needed, so later mints
// rank after everything this replica has seen.
func (c *Clock) Observe(m Mark) {
	if len(m) == 0 {
		return
	}
	for {
		cur := c.timestamp.Load()
		if m[0] < cur {
			return
		}
		if c.timestamp.CompareAndSwap(cur, m[0]+1) {
			return
		}
	}
}

// Current returns the timestamp the next Mint will use.
func (c *Clock) Current() uint64 {
	return c.timestamp.Load()
}
