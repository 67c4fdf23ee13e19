// Package wsnet connects replicas over websockets.
//
// Every connection starts with a hello frame carrying the sender's network
// id, so both ends know who they talk to and can refuse self-connections
// and duplicates. After the hello, each text frame is one wire message.
// Peers are discovered by dialing known URLs or by browsing mDNS.
package wsnet

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/roach88/jsonsync/internal/transport"
)

const (
	handshakeTimeout = 5 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 16 << 20
)

type hello struct {
	ID    string `json:"id"`
	Proto int    `json:"proto"`
}

const protoVersion = 1

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Network) {
		n.logger = l
	}
}

// WithID fixes the network id instead of generating one.
func WithID(id string) Option {
	return func(n *Network) {
		n.id = id
	}
}

// WithBackOff sets the retry policy used by Dial.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(n *Network) {
		n.newBackOff = newBackOff
	}
}

// Network is a transport.Network of websocket peers.
type Network struct {
	id         string
	logger     zerolog.Logger
	newBackOff func() backoff.BackOff
	upgrader   websocket.Upgrader
	dialer     *websocket.Dialer
	dialing    mapset.Set[string]

	mu       sync.Mutex
	peers    map[string]*peer
	handlers []func(transport.Peer)
	closed   bool
}

var _ transport.Network = (*Network)(nil)

// New creates a network with no peers.
func New(opts ...Option) *Network {
	n := &Network{
		id:     xid.New().String(),
		logger: zerolog.Nop(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		dialing: mapset.NewSet[string](),
		peers:   make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With().Str("net", n.id).Logger()
	return n
}

// ID returns this network's id as sent in hello frames.
func (n *Network) ID() string {
	return n.id
}

// Peers returns the connected peers.
func (n *Network) Peers() []transport.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]transport.Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// OnConnect registers handler for peers connected from now on.
func (n *Network) OnConnect(handler func(transport.Peer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

// Handler upgrades incoming HTTP requests to peer connections.
func (n *Network) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := n.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			n.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		remote, err := n.accept(conn)
		if err != nil {
			n.logger.Debug().Err(err).Str("addr", c.Request.RemoteAddr).Msg("refused peer")
			conn.Close()
			return
		}
		if _, err := n.attach(conn, remote); err != nil {
			n.logger.Debug().Err(err).Str("peer", remote).Msg("refused peer")
			conn.Close()
		}
	}
}

// accept runs the server side of the hello exchange.
func (n *Network) accept(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var h hello
	if err := conn.ReadJSON(&h); err != nil {
		return "", xerrors.Errorf("read hello: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello{ID: n.id, Proto: protoVersion}); err != nil {
		return "", xerrors.Errorf("write hello: %w", err)
	}
	return validHello(h)
}

// greet runs the client side of the hello exchange.
func (n *Network) greet(conn *websocket.Conn) (string, error) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello{ID: n.id, Proto: protoVersion}); err != nil {
		return "", xerrors.Errorf("write hello: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var h hello
	if err := conn.ReadJSON(&h); err != nil {
		return "", xerrors.Errorf("read hello: %w", err)
	}
	return validHello(h)
}

func validHello(h hello) (string, error) {
	if h.Proto != protoVersion {
		return "", xerrors.Errorf("unsupported protocol %d", h.Proto)
	}
	if h.ID == "" {
		return "", xerrors.New("hello without id")
	}
	return h.ID, nil
}

// ErrRefused is returned by attach for self and duplicate connections.
var ErrRefused = xerrors.New("wsnet: connection refused")

func (n *Network) attach(conn *websocket.Conn, remote string) (*peer, error) {
	n.mu.Lock()
	switch {
	case n.closed:
		n.mu.Unlock()
		return nil, xerrors.Errorf("network closed: %w", ErrRefused)
	case remote == n.id:
		n.mu.Unlock()
		return nil, xerrors.Errorf("connected to self: %w", ErrRefused)
	case n.peers[remote] != nil:
		n.mu.Unlock()
		return nil, xerrors.Errorf("already connected to %s: %w", remote, ErrRefused)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	p := newPeer(n, remote, conn)
	n.peers[remote] = p
	handlers := make([]func(transport.Peer), len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.Unlock()

	n.logger.Info().Str("peer", remote).Msg("peer connected")
	for _, h := range handlers {
		h(p)
	}
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

func (n *Network) detach(p *peer) {
	n.mu.Lock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
	n.mu.Unlock()
	n.logger.Info().Str("peer", p.id).Msg("peer disconnected")
}

// Dial connects to a peer's websocket URL, retrying with backoff until
// the connection is up, the peer refuses us or ctx ends.
func (n *Network) Dial(ctx context.Context, url string) (transport.Peer, error) {
	p, err := n.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (n *Network) dial(ctx context.Context, url string) (*peer, error) {
	var p *peer
	operation := func() error {
		conn, _, err := n.dialer.DialContext(ctx, url, nil)
		if err != nil {
			return xerrors.Errorf("dial %s: %w", url, err)
		}
		remote, err := n.greet(conn)
		if err != nil {
			conn.Close()
			return xerrors.Errorf("handshake with %s: %w", url, err)
		}
		p, err = n.attach(conn, remote)
		if err != nil {
			conn.Close()
			return backoff.Permanent(err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		n.logger.Debug().Err(err).Dur("retry_in", wait).Msg("dial failed")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(n.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return p, nil
}

// Maintain keeps a connection to url open until ctx ends, redialing when
// it drops. Concurrent calls for the same URL collapse into one.
func (n *Network) Maintain(ctx context.Context, url string) {
	if !n.dialing.Add(url) {
		return
	}
	defer n.dialing.Remove(url)

	for {
		p, err := n.dial(ctx, url)
		if err != nil {
			if ctx.Err() == nil && !xerrors.Is(err, ErrRefused) {
				n.logger.Warn().Err(err).Str("url", url).Msg("giving up on peer")
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.done:
		}
		if n.isClosed() {
			return
		}
	}
}

func (n *Network) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close disconnects every peer. The network accepts no new peers after.
func (n *Network) Close() error {
	n.mu.Lock()
	n.closed = true
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		p.close()
		<-p.done
	}
	return nil
}
