package testutil

import (
	"errors"
	"sync"
)

// DeterministicEntropy is an io.Reader that yields a repeatable byte
// stream, so replicas created without WithMachine still get stable ids in
// tests.
//
// Thread-safety: all methods are safe for concurrent use.
type DeterministicEntropy struct {
	mu   sync.Mutex
	seed byte
	pos  uint64
}

// NewDeterministicEntropy creates a stream keyed by seed. Different seeds
// give different replica ids.
func NewDeterministicEntropy(seed byte) *DeterministicEntropy {
	return &DeterministicEntropy{seed: seed}
}

// Read fills p and never fails.
func (e *DeterministicEntropy) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range p {
		p[i] = e.seed ^ byte(e.pos*31+7)
		e.pos++
	}
	return len(p), nil
}

// Reset rewinds the stream to its first byte.
func (e *DeterministicEntropy) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = 0
}

// ErrNoEntropy is what FailingEntropy returns.
var ErrNoEntropy = errors.New("testutil: entropy source unavailable")

// FailingEntropy is an io.Reader that always fails.
type FailingEntropy struct{}

// Read implements io.Reader.
func (FailingEntropy) Read([]byte) (int, error) {
	return 0, ErrNoEntropy
}
