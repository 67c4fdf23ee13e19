package replica

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/value"
)

// Option configures a Replica at construction.
type Option func(*config)

type config struct {
	machine  mark.ReplicaID
	value    value.Value
	entropy  io.Reader
	logger   zerolog.Logger
	journal  Journal
	recorder Recorder
	name     string
}

// WithMachine fixes the replica id instead of drawing one. Ids must be
// unique across every replica of a document; reuse silently breaks
// convergence and is the caller's responsibility.
func WithMachine(id ...uint32) Option {
	return func(c *config) {
		c.machine = mark.ReplicaID(id).Clone()
	}
}

// WithValue sets the initial content. The default is null.
func WithValue(v value.Value) Option {
	return func(c *config) {
		c.value = v
	}
}

// WithEntropy sets the random source for generating a replica id. The
// default is crypto/rand. A failing source fails construction.
func WithEntropy(r io.Reader) Option {
	return func(c *config) {
		c.entropy = r
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithJournal records every integrated operation.
func WithJournal(j Journal) Option {
	return func(c *config) {
		c.journal = j
	}
}

// WithRecorder reports edits and merges to a metrics sink.
func WithRecorder(r Recorder) Option {
	return func(c *config) {
		c.recorder = r
	}
}

// WithName overrides the name used in logs and the journal. It defaults
// to the replica id.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// EditOption configures a single edit.
type EditOption func(*editConfig)

type editConfig struct {
	after *op.Operation
	count int
}

// WithAfter chains the edit into the transaction of prev, which must be
// an operation this replica returned earlier. The chain applies
// atomically on every replica.
func WithAfter(prev op.Operation) EditOption {
	return func(c *editConfig) {
		p := prev.Clone()
		c.after = &p
	}
}

// WithCount sets how many characters Remove deletes from a string.
func WithCount(n int) EditOption {
	return func(c *editConfig) {
		c.count = n
	}
}
