package memnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonsync/internal/transport"
)

type recorder struct {
	got []string
}

func (r *recorder) handle(msg []byte) { r.got = append(r.got, string(msg)) }

func peerTo(t *testing.T, n *Node, remote string) transport.Peer {
	t.Helper()
	for _, p := range n.Peers() {
		if p.ID() == remote {
			return p
		}
	}
	t.Fatalf("%s has no peer %s", n.Name(), remote)
	return nil
}

func TestJoinConnectsEveryone(t *testing.T) {
	hub := NewHub()
	a := hub.MustJoin("a")

	var announced []string
	a.OnConnect(func(p transport.Peer) { announced = append(announced, p.ID()) })

	b := hub.MustJoin("b")
	hub.MustJoin("c")

	assert.Equal(t, []string{"b", "c"}, announced)
	assert.Len(t, a.Peers(), 2)
	assert.Len(t, b.Peers(), 2)
	assert.Equal(t, []string{"a", "b", "c"}, hub.Nodes())

	_, err := hub.Join("a")
	assert.Error(t, err)
}

func TestManualFlush(t *testing.T) {
	hub := NewHub()
	a := hub.MustJoin("a")
	b := hub.MustJoin("b")

	var rec recorder
	peerTo(t, b, "a").OnReceive(rec.handle)

	toB := peerTo(t, a, "b")
	require.NoError(t, toB.Send([]byte("1")))
	require.NoError(t, toB.Send([]byte("2")))
	assert.Empty(t, rec.got)
	assert.Equal(t, 2, hub.Pending("a", "b"))

	assert.Equal(t, 2, hub.Flush("a", "b"))
	assert.Equal(t, []string{"1", "2"}, rec.got)
	assert.Equal(t, 0, hub.Pending("a", "b"))
}

func TestDropDuplicateReverse(t *testing.T) {
	hub := NewHub()
	a := hub.MustJoin("a")
	b := hub.MustJoin("b")

	var rec recorder
	peerTo(t, b, "a").OnReceive(rec.handle)
	toB := peerTo(t, a, "b")
	for _, s := range []string{"x", "y", "z"} {
		require.NoError(t, toB.Send([]byte(s)))
	}

	assert.True(t, hub.Drop("a", "b", 1))
	assert.False(t, hub.Drop("a", "b", 5))
	assert.True(t, hub.Duplicate("a", "b", 0))
	hub.Reverse("a", "b")
	hub.Flush("a", "b")

	assert.Equal(t, []string{"x", "z", "x"}, rec.got)
}

func TestAutoFlushAndPartition(t *testing.T) {
	hub := NewHub(WithAutoFlush())
	a := hub.MustJoin("a")
	b := hub.MustJoin("b")

	var rec recorder
	peerTo(t, b, "a").OnReceive(rec.handle)
	toB := peerTo(t, a, "b")

	require.NoError(t, toB.Send([]byte("now")))
	assert.Equal(t, []string{"now"}, rec.got)

	hub.Partition("a", "b")
	require.NoError(t, toB.Send([]byte("held")))
	assert.Equal(t, []string{"now"}, rec.got)
	assert.Equal(t, 0, hub.FlushAll())

	hub.Heal("a", "b")
	assert.Equal(t, 1, hub.FlushAll())
	assert.Equal(t, []string{"now", "held"}, rec.got)
}

func TestMessagesWaitForHandler(t *testing.T) {
	hub := NewHub(WithAutoFlush())
	a := hub.MustJoin("a")
	b := hub.MustJoin("b")

	require.NoError(t, peerTo(t, a, "b").Send([]byte("early")))

	var rec recorder
	peerTo(t, b, "a").OnReceive(rec.handle)
	assert.Equal(t, 1, hub.FlushAll())
	assert.Equal(t, []string{"early"}, rec.got)
}
