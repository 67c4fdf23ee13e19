// Package replica is the public face of a replicated JSON document.
//
// A Replica owns its content, history, clock and merge engine. Local
// edits apply immediately, are stamped with a fresh mark and broadcast to
// every peer; received patches go through the merge engine. Every
// replica that has seen the same set of operations holds the same
// content, whatever the delivery order.
//
// Edits and merges are serialized by a mutex, so a Replica is safe to
// use from the goroutines a transport delivers on. Subscribers and peers
// are called after the lock is released.
package replica

import (
	"context"
	"crypto/rand"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roach88/jsonsync/internal/history"
	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/merge"
	"github.com/roach88/jsonsync/internal/pointer"
	"github.com/roach88/jsonsync/internal/transport"
	"github.com/roach88/jsonsync/internal/tree"
	"github.com/roach88/jsonsync/internal/value"
)

// Replica is one copy of the document.
type Replica struct {
	id       mark.ReplicaID
	name     string
	logger   zerolog.Logger
	journal  Journal
	recorder Recorder

	mu     sync.Mutex
	tree   *tree.Tree
	log    *history.Log
	clock  *mark.Clock
	engine *merge.Engine
	fatal  error

	peersMu sync.Mutex
	peers   []transport.Peer
	known   map[transport.Peer]bool

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New creates a replica attached to network. Peers already in the
// network are connected immediately, later ones as they are announced.
// A nil network gives a standalone replica.
func New(network transport.Network, opts ...Option) (*Replica, error) {
	cfg := config{
		value:   value.Null{},
		entropy: rand.Reader,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := cfg.machine
	if len(id) == 0 {
		generated, err := mark.NewReplicaID(cfg.entropy)
		if err != nil {
			return nil, &Error{Code: ErrCodeEntropyUnavailable, Message: "cannot generate replica id", Err: err}
		}
		id = generated
	}
	name := cfg.name
	if name == "" {
		name = id.String()
	}

	r := &Replica{
		id:       id,
		name:     name,
		logger:   cfg.logger.With().Str("replica", name).Logger(),
		journal:  cfg.journal,
		recorder: cfg.recorder,
		tree:     tree.New(cfg.value),
		log:      history.New(id),
		clock:    mark.NewClock(id),
		known:    make(map[transport.Peer]bool),
		subs:     make(map[int]func(Event)),
	}
	r.engine = merge.New(r.tree, r.log, r.clock, merge.WithLogger(r.logger))

	if r.journal != nil {
		if err := r.journal.RegisterReplica(context.Background(), name, id, cfg.value); err != nil {
			return nil, err
		}
	}

	if network != nil {
		// Register first so a peer arriving meanwhile is not missed;
		// connect ignores the second sighting.
		network.OnConnect(func(p transport.Peer) {
			r.connect(p, true)
		})
		for _, p := range network.Peers() {
			r.connect(p, false)
		}
	}
	return r, nil
}

// ID returns the replica id stamped into every mark this replica mints.
func (r *Replica) ID() mark.ReplicaID {
	return r.id.Clone()
}

// Name returns the replica's display name.
func (r *Replica) Name() string {
	return r.name
}

// Err returns the fatal error that stopped the replica, if any. After an
// identity collision arrives from the network every edit fails with it.
func (r *Replica) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Content returns a deep copy of the whole document.
func (r *Replica) Content() value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Snapshot()
}

// Get resolves a JSON pointer. It returns nil when the path does not
// lead anywhere.
func (r *Replica) Get(ptr string) (value.Value, error) {
	path, err := parse(ptr)
	if err != nil {
		return nil, err
	}
	return r.GetPath(path), nil
}

// GetPath is Get addressed by key list.
func (r *Replica) GetPath(path pointer.Path) value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return value.Clone(r.tree.Get(path))
}

// Digest returns the content digest. Converged replicas agree on it.
func (r *Replica) Digest() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return value.Digest(r.tree.Content())
}

// History returns a copy of the mark-ordered operation log.
func (r *Replica) History() []history.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Entries()
}

// Clock returns the Lamport timestamp the next standalone edit will use.
func (r *Replica) Clock() uint64 {
	return r.clock.Current()
}

// Subscribe registers handler for change events and returns a function
// that removes it.
func (r *Replica) Subscribe(handler func(Event)) (unsubscribe func()) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = handler
	return func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Replica) emit(ev Event) {
	if len(ev.Changes) == 0 {
		return
	}
	r.subsMu.Lock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, r.subs[id])
	}
	r.subsMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func parse(ptr string) (pointer.Path, error) {
	path, err := pointer.Parse(ptr)
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalidAddressing, Message: "bad path", Err: err}
	}
	return path, nil
}
