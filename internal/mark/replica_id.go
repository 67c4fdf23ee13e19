package mark

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ReplicaIDWords is the length of generated replica ids.
const ReplicaIDWords = 4

// ReplicaID identifies the author of a mark. Two replicas sharing an id
// break convergence; callers that supply ids are responsible for keeping
// them unique.
type ReplicaID []uint32

// NewReplicaID draws 128 bits from r. There is no fallback generator: a
// failing or short reader is an error.
func NewReplicaID(r io.Reader) (ReplicaID, error) {
	u, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("replica id: entropy source: %w", err)
	}
	id := make(ReplicaID, ReplicaIDWords)
	for i := range id {
		id[i] = binary.BigEndian.Uint32(u[i*4:])
	}
	return id, nil
}

// Clone returns an independent copy.
func (id ReplicaID) Clone() ReplicaID {
	if id == nil {
		return nil
	}
	out := make(ReplicaID, len(id))
	copy(out, id)
	return out
}

// String renders the id as dot-separated words.
func (id ReplicaID) String() string {
	parts := make([]string, len(id))
	for i, w := range id {
		parts[i] = strconv.FormatUint(uint64(w), 10)
	}
	return strings.Join(parts, ".")
}
