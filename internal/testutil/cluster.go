package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/transport/memnet"
	"github.com/roach88/jsonsync/internal/value"
)

// Cluster is a set of replicas joined through one manual memnet hub.
// Replica i is named "r<i>" and has machine id [i], so marks and winners
// are predictable.
type Cluster struct {
	Hub      *memnet.Hub
	Replicas []*replica.Replica
}

// NewCluster creates n replicas that all start from initial.
func NewCluster(t testing.TB, n int, initial value.Value, opts ...replica.Option) *Cluster {
	t.Helper()
	c := &Cluster{Hub: memnet.NewHub()}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("r%d", i)
		node, err := c.Hub.Join(name)
		require.NoError(t, err)

		all := append([]replica.Option{
			replica.WithMachine(uint32(i)),
			replica.WithValue(initial),
			replica.WithName(name),
		}, opts...)
		r, err := replica.New(node, all...)
		require.NoError(t, err)
		c.Replicas = append(c.Replicas, r)
	}
	return c
}

// R returns replica i.
func (c *Cluster) R(i int) *replica.Replica {
	return c.Replicas[i]
}

// Flush delivers everything queued from replica i to replica j.
func (c *Cluster) Flush(i, j int) int {
	return c.Hub.Flush(fmt.Sprintf("r%d", i), fmt.Sprintf("r%d", j))
}

// Sync delivers every queued message until the network is quiet.
func (c *Cluster) Sync() int {
	return c.Hub.FlushAll()
}

// RequireConverged fails the test unless every replica holds the same
// content, and returns that content.
func (c *Cluster) RequireConverged(t testing.TB) value.Value {
	t.Helper()
	first, err := c.Replicas[0].Digest()
	require.NoError(t, err)
	for i, r := range c.Replicas[1:] {
		d, err := r.Digest()
		require.NoError(t, err)
		require.Equal(t, first, d, "replica r%d diverged: %v vs %v", i+1,
			value.ToAny(r.Content()), value.ToAny(c.Replicas[0].Content()))
	}
	return c.Replicas[0].Content()
}
