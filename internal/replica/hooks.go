package replica

import (
	"context"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/merge"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/value"
)

// Origin says where a journaled operation came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Journal receives a trace of everything a replica integrates. It is
// write-only from the replica's point of view; nothing is ever restored
// from it.
type Journal interface {
	RegisterReplica(ctx context.Context, name string, id mark.ReplicaID, initial value.Value) error
	AppendOps(ctx context.Context, name string, origin Origin, ops []op.Operation) error
	SaveDigest(ctx context.Context, name string, digest string, historyLen int) error
}

// Recorder receives counters for edits and merges.
type Recorder interface {
	LocalEdit(kind op.Kind, applied bool)
	Merged(stats merge.Stats)
	MalformedMessage()
	IdentityCollision()
}

// EventKind distinguishes local edits from merged remote diffs.
type EventKind int

const (
	// EventLocal follows an edit made through this replica's API.
	EventLocal EventKind = iota + 1
	// EventRemote follows a merged diff from a peer.
	EventRemote
)

func (k EventKind) String() string {
	switch k {
	case EventLocal:
		return "local"
	case EventRemote:
		return "remote"
	}
	return "unknown"
}

// Event tells subscribers what changed.
type Event struct {
	Kind    EventKind
	Changes merge.ChangeSet
}
