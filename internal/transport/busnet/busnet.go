// Package busnet turns a broadcast bus (a Redis channel, a Kafka topic)
// into a transport.Network.
//
// Every bus message is an envelope naming its sender and, optionally, one
// recipient. A member announces itself with a hello when it starts and a
// bye when it closes. Any envelope from a sender not seen before creates
// a peer for it, announces that peer through OnConnect and answers with a
// directed hello, so two members discover each other whichever starts
// first. Sends to a peer are directed envelopes; members drop envelopes
// addressed to someone else and their own echoes.
package busnet

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/roach88/jsonsync/internal/transport"
)

// Publisher puts one payload on the bus. It may block on the network.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, payload []byte) error

func (f PublisherFunc) Publish(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Kind is the envelope type.
type Kind string

const (
	KindHello Kind = "hello"
	KindMsg   Kind = "msg"
	KindBye   Kind = "bye"
)

// Envelope is what travels on the bus.
type Envelope struct {
	From string          `json:"from"`
	To   string          `json:"to,omitempty"`
	Kind Kind            `json:"kind"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Network) {
		n.logger = l
	}
}

// WithID fixes the member id instead of generating one.
func WithID(id string) Option {
	return func(n *Network) {
		n.id = id
	}
}

// Network is one bus member.
type Network struct {
	id     string
	pub    Publisher
	logger zerolog.Logger
	outbox *transport.Inbox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	peers    map[string]*peer
	handlers []func(transport.Peer)
	started  bool
	closed   bool
}

var _ transport.Network = (*Network)(nil)

// New creates a member publishing through pub. Call Start once the
// adapter is subscribed, so the hello cannot outrun our own subscription.
func New(pub Publisher, opts ...Option) *Network {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Network{
		id:     xid.New().String(),
		pub:    pub,
		logger: zerolog.Nop(),
		outbox: transport.NewInbox(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		peers:  make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With().Str("member", n.id).Logger()
	go n.publishLoop()
	return n
}

// ID returns the member id carried in every envelope.
func (n *Network) ID() string {
	return n.id
}

// Start announces this member on the bus.
func (n *Network) Start() error {
	n.mu.Lock()
	n.started = true
	n.mu.Unlock()
	return n.post(Envelope{Kind: KindHello})
}

// Peers returns the members seen so far.
func (n *Network) Peers() []transport.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]transport.Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// OnConnect registers handler for members discovered from now on.
func (n *Network) OnConnect(handler func(transport.Peer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

// Deliver feeds one payload read from the bus. Adapters call it from
// their subscription loop.
func (n *Network) Deliver(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		n.logger.Warn().Err(err).Msg("dropping undecodable envelope")
		return
	}
	if env.From == "" || env.From == n.id {
		return
	}
	if env.To != "" && env.To != n.id {
		return
	}

	if env.Kind == KindBye {
		n.forget(env.From)
		return
	}

	p, fresh := n.lookup(env.From)
	if p == nil {
		return
	}
	if fresh {
		n.logger.Info().Str("peer", p.id).Msg("peer discovered")
		n.announce(p)
		if err := n.post(Envelope{To: p.id, Kind: KindHello}); err != nil {
			n.logger.Warn().Err(err).Str("peer", p.id).Msg("hello reply failed")
		}
	}
	if env.Kind == KindMsg && len(env.Msg) > 0 {
		p.inbox.Enqueue([]byte(env.Msg))
	}
}

func (n *Network) lookup(id string) (*peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, false
	}
	if p, ok := n.peers[id]; ok {
		return p, false
	}
	p := newPeer(n, id)
	n.peers[id] = p
	return p, true
}

func (n *Network) announce(p *peer) {
	n.mu.Lock()
	handlers := make([]func(transport.Peer), len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.Unlock()
	for _, h := range handlers {
		h(p)
	}
}

func (n *Network) forget(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	delete(n.peers, id)
	n.mu.Unlock()
	if ok {
		n.logger.Info().Str("peer", id).Msg("peer left")
		p.close()
	}
}

func (n *Network) post(env Envelope) error {
	env.From = n.id
	data, err := json.Marshal(env)
	if err != nil {
		return xerrors.Errorf("encode envelope: %w", err)
	}
	if !n.outbox.Enqueue(data) {
		return xerrors.New("busnet: network closed")
	}
	return nil
}

func (n *Network) publishLoop() {
	defer close(n.done)
	n.outbox.Drain(n.ctx, func(payload []byte) {
		if err := n.pub.Publish(n.ctx, payload); err != nil {
			n.logger.Warn().Err(err).Msg("publish failed")
		}
	})
}

// Close says bye if Start was called, flushes pending sends and stops delivery. It does not
// close the underlying bus client; adapters do that.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.peers = map[string]*peer{}
	n.mu.Unlock()

	var byeErr error
	if started {
		byeErr = n.post(Envelope{Kind: KindBye})
	}
	n.outbox.Close()
	<-n.done
	n.cancel()
	for _, p := range peers {
		p.close()
	}
	return byeErr
}

// peer is another bus member.
type peer struct {
	id    string
	net   *Network
	inbox *transport.Inbox

	mu      sync.Mutex
	handler func([]byte)
	deliver sync.Once
}

func newPeer(n *Network, id string) *peer {
	return &peer{id: id, net: n, inbox: transport.NewInbox()}
}

func (p *peer) ID() string {
	return p.id
}

func (p *peer) Send(msg []byte) error {
	if !json.Valid(msg) {
		return xerrors.Errorf("busnet: message for %s is not JSON", p.id)
	}
	return p.net.post(Envelope{To: p.id, Kind: KindMsg, Msg: msg})
}

func (p *peer) OnReceive(handler func([]byte)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	p.deliver.Do(func() {
		go p.inbox.Drain(context.Background(), func(msg []byte) {
			p.mu.Lock()
			h := p.handler
			p.mu.Unlock()
			h(msg)
		})
	})
}

func (p *peer) close() {
	p.inbox.Close()
}
