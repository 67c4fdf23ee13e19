package mark

import (
	"fmt"
	"strconv"
	"strings"
)

// Mark is a causal-order token. Treat it as immutable once minted.
type Mark []uint64

// Compare returns -1, 0 or 1 ordering a before, equal to or after b.
// When one mark is a strict prefix of the other, the shorter sorts first.
func Compare(a, b Mark) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Less reports Compare(a, b) < 0.
func Less(a, b Mark) bool {
	return Compare(a, b) < 0
}

// Valid reports whether m has room for a counter, at least one replica id
// word and a sequence.
func (m Mark) Valid() bool {
	return len(m) >= 3
}

// Counter returns the Lamport counter of the transaction root.
func (m Mark) Counter() uint64 {
	if len(m) == 0 {
		return 0
	}
	return m[0]
}

// Seq returns the position within the transaction.
func (m Mark) Seq() uint64 {
	if len(m) == 0 {
		return 0
	}
	return m[len(m)-1]
}

// Prefix returns [counter, replicaId...], the transaction identity.
func (m Mark) Prefix() Mark {
	if len(m) == 0 {
		return m
	}
	return m[:len(m)-1]
}

// Next returns the continuation mark for the next operation of the same
// transaction.
func (m Mark) Next() Mark {
	out := m.Clone()
	if len(out) > 0 {
		out[len(out)-1]++
	}
	return out
}

// SameTransaction reports whether a and b share counter and replica id.
func SameTransaction(a, b Mark) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return Compare(a.Prefix(), b.Prefix()) == 0
}

// AuthoredBy reports whether m was minted by the replica with the given id.
func (m Mark) AuthoredBy(id ReplicaID) bool {
	if len(m) != len(id)+2 {
		return false
	}
	for i, word := range id {
		if m[i+1] != uint64(word) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (m Mark) Clone() Mark {
	if m == nil {
		return nil
	}
	out := make(Mark, len(m))
	copy(out, m)
	return out
}

// String renders the mark as "counter.id.id.seq".
func (m Mark) String() string {
	parts := make([]string, len(m))
	for i, v := range m {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ".")
}

// ParseString is the inverse of String.
func ParseString(s string) (Mark, error) {
	if s == "" {
		return nil, fmt.Errorf("mark: empty string")
	}
	parts := strings.Split(s, ".")
	out := make(Mark, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mark: %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}
