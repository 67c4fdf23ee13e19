package replica_test

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/merge"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/pointer"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/testutil"
	"github.com/roach88/jsonsync/internal/transport"
	"github.com/roach88/jsonsync/internal/transport/memnet"
	"github.com/roach88/jsonsync/internal/value"
)

func str(s string) value.Value { return value.String(s) }

func TestHelloWorldReachesPeer(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})

	o, applied, err := c.R(0).Add("/hello", str("world"))
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, mark.Mark{0, 0, 0}, o.Mark)

	c.Sync()
	got, err := c.R(1).Get("/hello")
	require.NoError(t, err)
	assert.Equal(t, str("world"), got)
	c.RequireConverged(t)
}

func TestConcurrentAddLowestReplicaWins(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})

	_, applied, err := c.R(0).Add("/concurrent", str("zero"))
	require.NoError(t, err)
	require.True(t, applied)
	_, applied, err = c.R(1).Add("/concurrent", str("one"))
	require.NoError(t, err)
	require.True(t, applied)

	// deliver in the order least favourable to replica 0
	c.Flush(0, 1)
	c.Flush(1, 0)

	got := c.RequireConverged(t)
	assert.Equal(t, value.Object{"concurrent": str("zero")}, got)
}

func TestStringSplice(t *testing.T) {
	c := testutil.NewCluster(t, 2, str("world"))

	_, applied, err := c.R(0).Add("/0", str("hello "))
	require.NoError(t, err)
	require.True(t, applied)
	c.Sync()

	assert.Equal(t, str("hello world"), c.RequireConverged(t))

	_, applied, err = c.R(1).Remove("/5", replica.WithCount(6))
	require.NoError(t, err)
	require.True(t, applied)
	c.Sync()
	assert.Equal(t, str("hello"), c.RequireConverged(t))
}

func TestChainInvalidatedByConcurrentReplace(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})
	a, b := c.R(0), c.R(1)

	op1, _, err := a.Add("/hello", str("world"))
	require.NoError(t, err)
	c.Flush(0, 1)

	_, applied, err := b.Replace("/hello", str("there"))
	require.NoError(t, err)
	require.True(t, applied)
	c.Flush(1, 0)

	op2, _, err := a.Replace("/hello", str("after"), replica.WithAfter(op1))
	require.NoError(t, err)
	assert.True(t, mark.SameTransaction(op1.Mark, op2.Mark))
	assert.Equal(t, uint64(1), op2.Mark.Seq())
	c.Sync()

	got := c.RequireConverged(t)
	assert.Equal(t, value.Object{"hello": str("there")}, got)
}

func TestChainRejectedWhenPredecessorLoses(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})
	a, b := c.R(1), c.R(0)

	op1, applied, err := a.Add("/hello", str("world"))
	require.NoError(t, err)
	require.True(t, applied)

	// b has not seen op1; its mark ranks first
	_, applied, err = b.Replace("/hello", str("there"))
	require.NoError(t, err)
	require.True(t, applied)
	c.Flush(0, 1)

	op2, applied, err := a.Replace("/hello", str("after"), replica.WithAfter(op1))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, mark.Mark{0, 1, 1}, op2.Mark)
	c.Sync()

	got := c.RequireConverged(t)
	assert.Equal(t, value.Object{"hello": str("there")}, got)
	for _, r := range c.Replicas {
		for _, e := range r.History() {
			if e.Op.Mark.AuthoredBy(a.ID()) {
				assert.False(t, e.Applied, "%s on %s", e.Op, r.Name())
			}
		}
	}
}

func TestTwoChainsOnOnePredecessorCollide(t *testing.T) {
	c := testutil.NewCluster(t, 1, value.Object{})
	r := c.R(0)

	root, _, err := r.Add("/x", value.Number(1))
	require.NoError(t, err)
	_, _, err = r.Add("/y", value.Number(2), replica.WithAfter(root))
	require.NoError(t, err)

	_, _, err = r.Add("/z", value.Number(3), replica.WithAfter(root))
	require.Error(t, err)
	assert.True(t, replica.IsIdentityCollision(err))
	assert.False(t, replica.IsInvalidAddressing(err))

	assert.NoError(t, r.Err(), "a refused local chain does not poison the replica")
	got, err := r.Get("/z")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStalledTransactionDoesNotBlockBatch(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})
	a, b := c.R(0), c.R(1)

	_, _, err := a.Add("/x", value.Number(1))
	require.NoError(t, err)
	t0, _, err := a.Add("/t", value.Object{})
	require.NoError(t, err)
	t1, _, err := a.Add("/t/a", value.Number(1), replica.WithAfter(t0))
	require.NoError(t, err)
	_, _, err = a.Add("/t/b", value.Number(2), replica.WithAfter(t1))
	require.NoError(t, err)
	_, _, err = a.Add("/y", value.Number(3))
	require.NoError(t, err)

	require.Equal(t, 5, c.Hub.Pending("r0", "r1"))
	require.True(t, c.Hub.Drop("r0", "r1", 2))
	c.Flush(0, 1)

	assert.Equal(t, value.MustFromAny(map[string]any{"x": 1, "y": 3}), b.Content())

	require.NoError(t, b.Merge([]op.Operation{t1}))
	assert.Equal(t, a.Content(), b.Content())
	c.RequireConverged(t)
}

func TestAddReplaceDuality(t *testing.T) {
	r, err := replica.New(nil, replica.WithMachine(1), replica.WithValue(value.MustFromAny(map[string]any{"k": 1, "list": []any{}})))
	require.NoError(t, err)

	o, applied, err := r.Add("/k", value.Number(2))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, op.Replace, o.Kind)
	assert.Equal(t, value.Number(1), o.Was)

	o, applied, err = r.Replace("/fresh", value.Bool(true))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, op.Add, o.Kind)

	o, _, err = r.Add("/list/0", value.Null{})
	require.NoError(t, err)
	assert.Equal(t, op.Add, o.Kind, "array add stays an insertion")

	o, applied, err = r.Add("", value.Object{})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, op.Replace, o.Kind, "add over defined root replaces")
	assert.Equal(t, value.Object{}, r.Content())
}

func TestKeyListAddressing(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})
	r := c.R(0)

	key := pointer.Path{"a/b"}
	o, applied, err := r.AddPath(key, value.Number(1))
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, "/a~1b", o.Path.String())

	got, err := r.Get("/a~1b")
	require.NoError(t, err)
	assert.Equal(t, value.Number(1), got)

	_, applied, err = r.ReplacePath(key, value.Number(2))
	require.NoError(t, err)
	require.True(t, applied)
	_, applied, err = r.MovePath(key, pointer.Path{"c"})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, value.Number(2), r.GetPath(pointer.Path{"c"}))
	assert.Nil(t, r.GetPath(key))

	_, applied, err = r.RemovePath(pointer.Path{"c"})
	require.NoError(t, err)
	require.True(t, applied)
	c.Sync()
	assert.Equal(t, value.Object{}, c.RequireConverged(t))
}

func TestMoveSafety(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.MustFromAny(map[string]any{"a": map[string]any{"b": map[string]any{}}}))
	r := c.R(0)

	_, applied, err := r.Move("/a", "/a/b/c")
	require.NoError(t, err)
	assert.False(t, applied)
	_, applied, err = r.Move("/a/b", "/a")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 0, c.Hub.Pending("r0", "r1"), "no-ops are not broadcast")

	_, applied, err = r.Move("/a/b", "/b")
	require.NoError(t, err)
	assert.True(t, applied)
	c.Sync()
	assert.Equal(t, value.MustFromAny(map[string]any{"a": map[string]any{}, "b": map[string]any{}}), c.RequireConverged(t))
}

func TestInvalidAddressing(t *testing.T) {
	r, err := replica.New(nil, replica.WithMachine(1))
	require.NoError(t, err)

	_, _, err = r.Add("no-slash", value.Null{})
	assert.True(t, replica.IsInvalidAddressing(err))
	_, _, err = r.Move("/ok", "bad~")
	assert.True(t, replica.IsInvalidAddressing(err))
	_, err = r.Get("x")
	assert.True(t, replica.IsInvalidAddressing(err))
}

func TestInvalidChain(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})

	failed, applied, err := c.R(0).Remove("/missing")
	require.NoError(t, err)
	require.False(t, applied)
	_, _, err = c.R(0).Add("/x", value.Null{}, replica.WithAfter(failed))
	assert.True(t, replica.IsInvalidChain(err))

	foreign, _, err := c.R(1).Add("/f", value.Null{})
	require.NoError(t, err)
	c.Sync()
	_, _, err = c.R(0).Add("/g", value.Null{}, replica.WithAfter(foreign))
	assert.True(t, replica.IsInvalidChain(err))
}

func TestGeneratedIdentity(t *testing.T) {
	r, err := replica.New(nil, replica.WithEntropy(testutil.NewDeterministicEntropy(3)))
	require.NoError(t, err)
	assert.Len(t, r.ID(), mark.ReplicaIDWords)
	assert.Equal(t, r.ID().String(), r.Name())
	assert.Equal(t, value.Null{}, r.Content(), "content defaults to null")

	_, err = replica.New(nil, replica.WithEntropy(testutil.FailingEntropy{}))
	require.Error(t, err)
	assert.True(t, replica.IsEntropyUnavailable(err))
	assert.ErrorIs(t, err, testutil.ErrNoEntropy)
}

func TestSubscribe(t *testing.T) {
	c := testutil.NewCluster(t, 2, value.Object{})

	var mu sync.Mutex
	var kinds []replica.EventKind
	unsubscribe := c.R(1).Subscribe(func(ev replica.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
		require.NotEmpty(t, ev.Changes)
	})

	_, _, err := c.R(0).Add("/a", value.Number(1))
	require.NoError(t, err)
	c.Sync()
	_, _, err = c.R(1).Add("/b", value.Number(2))
	require.NoError(t, err)

	unsubscribe()
	_, _, err = c.R(1).Add("/c", value.Number(3))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []replica.EventKind{replica.EventRemote, replica.EventLocal}, kinds)
}

func TestRemoteIdentityCollisionIsFatal(t *testing.T) {
	hub := memnet.NewHub()
	n0 := hub.MustJoin("first")
	n1 := hub.MustJoin("impostor")

	first, err := replica.New(n0, replica.WithMachine(0), replica.WithValue(value.Object{}))
	require.NoError(t, err)
	impostor, err := replica.New(n1, replica.WithMachine(0), replica.WithValue(value.Object{}))
	require.NoError(t, err)

	_, _, err = first.Add("/a", value.Number(1))
	require.NoError(t, err)
	_, _, err = impostor.Add("/b", value.Number(2))
	require.NoError(t, err)

	hub.Flush("impostor", "first")
	require.Error(t, first.Err())
	assert.True(t, replica.IsIdentityCollision(first.Err()))

	_, _, err = first.Add("/c", value.Number(3))
	assert.True(t, replica.IsIdentityCollision(err))
}

func TestMalformedMessage(t *testing.T) {
	rec := &fakeRecorder{}
	r, err := replica.New(nil, replica.WithMachine(1), replica.WithRecorder(rec))
	require.NoError(t, err)

	err = r.Receive([]byte(`{"not":"a message"}`))
	assert.True(t, replica.IsMalformedMessage(err))
	assert.NoError(t, r.Receive([]byte(`[9,"future message"]`)))
	assert.Equal(t, 1, rec.malformed)
	assert.NoError(t, r.Err())
}

func TestLateJoinerCatchesUp(t *testing.T) {
	hub := memnet.NewHub()
	early, err := replica.New(hub.MustJoin("early"), replica.WithMachine(0), replica.WithValue(value.Object{}))
	require.NoError(t, err)
	_, _, err = early.Add("/seen", value.Bool(true))
	require.NoError(t, err)

	late, err := replica.New(hub.MustJoin("late"), replica.WithMachine(1), replica.WithValue(value.Object{}))
	require.NoError(t, err)
	hub.FlushAll()

	got, err := late.Get("/seen")
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), got)
}

func TestJournalAndRecorderHooks(t *testing.T) {
	j := &fakeJournal{}
	rec := &fakeRecorder{}
	c := testutil.NewCluster(t, 2, value.Object{}, replica.WithJournal(j), replica.WithRecorder(rec))

	_, _, err := c.R(0).Add("/a", value.Number(1))
	require.NoError(t, err)
	_, _, err = c.R(0).Remove("/missing")
	require.NoError(t, err)
	c.Sync()

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.ElementsMatch(t, []string{"r0", "r1"}, j.registered)
	assert.Equal(t, []string{"r0/local", "r1/remote"}, j.appends)
	assert.Len(t, j.digests, 2)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.applied)
	assert.Equal(t, 1, rec.noops)
	assert.Equal(t, 1, rec.merges)
}

func TestJournalDigestFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	j := &fakeJournal{}
	r, err := replica.New(nil, replica.WithMachine(1), replica.WithName("inf"),
		replica.WithJournal(j), replica.WithLogger(zerolog.New(&buf)))
	require.NoError(t, err)

	_, applied, err := r.Add("/x", value.Number(math.Inf(1)))
	require.NoError(t, err)
	require.True(t, applied)

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Equal(t, []string{"inf/local"}, j.appends)
	assert.Empty(t, j.digests)
	assert.Contains(t, buf.String(), "journal digest skipped")
}

func TestPeerAnnouncedDuringConstructionConnectsOnce(t *testing.T) {
	early := &fakePeer{id: "early"}
	racer := &fakePeer{id: "racer"}
	// racer shows up between handler registration and the peer listing,
	// so it is both announced and listed.
	net := &fakeNetwork{peers: []transport.Peer{early}, arriving: racer}

	r, err := replica.New(net, replica.WithMachine(1))
	require.NoError(t, err)

	_, _, err = r.Add("/a", value.Number(1))
	require.NoError(t, err)
	for _, p := range []*fakePeer{early, racer} {
		p.mu.Lock()
		assert.Equal(t, 1, p.handlers, "peer %s", p.id)
		assert.Len(t, p.sent, 1, "peer %s", p.id)
		p.mu.Unlock()
	}
}

type fakeNetwork struct {
	mu       sync.Mutex
	peers    []transport.Peer
	arriving transport.Peer
}

func (n *fakeNetwork) Peers() []transport.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]transport.Peer(nil), n.peers...)
}

func (n *fakeNetwork) OnConnect(handler func(transport.Peer)) {
	n.mu.Lock()
	p := n.arriving
	n.peers = append(n.peers, p)
	n.mu.Unlock()
	handler(p)
}

type fakePeer struct {
	id       string
	mu       sync.Mutex
	handlers int
	sent     [][]byte
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePeer) OnReceive(func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers++
}

type fakeJournal struct {
	mu         sync.Mutex
	registered []string
	appends    []string
	digests    []string
}

func (j *fakeJournal) RegisterReplica(_ context.Context, name string, _ mark.ReplicaID, _ value.Value) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.registered = append(j.registered, name)
	return nil
}

func (j *fakeJournal) AppendOps(_ context.Context, name string, origin replica.Origin, _ []op.Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appends = append(j.appends, name+"/"+string(origin))
	return nil
}

func (j *fakeJournal) SaveDigest(_ context.Context, name string, digest string, _ int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.digests = append(j.digests, name+"="+digest)
	return nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	applied    int
	noops      int
	merges     int
	malformed  int
	collisions int
}

func (r *fakeRecorder) LocalEdit(_ op.Kind, applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if applied {
		r.applied++
	} else {
		r.noops++
	}
}

func (r *fakeRecorder) Merged(merge.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merges++
}

func (r *fakeRecorder) MalformedMessage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.malformed++
}

func (r *fakeRecorder) IdentityCollision() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collisions++
}
