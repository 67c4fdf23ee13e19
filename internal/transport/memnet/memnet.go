// Package memnet is an in-process network for tests, simulations and
// single-binary demos.
//
// Every ordered pair of nodes has its own message queue. By default
// nothing is delivered until the caller flushes a link, which lets tests
// choose delivery order, drop messages or duplicate them. WithAutoFlush
// delivers on send instead, except across partitioned links.
package memnet

import (
	"fmt"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/jsonsync/internal/transport"
)

type linkKey struct {
	from, to string
}

type link struct {
	queue   [][]byte
	handler func([]byte)
}

// Hub owns every node and link of one simulated network.
type Hub struct {
	mu          sync.Mutex
	nodes       map[string]*Node
	order       []string
	links       map[linkKey]*link
	auto        bool
	partitioned mapset.Set[linkKey]
}

// Option configures a Hub.
type Option func(*Hub)

// WithAutoFlush delivers messages as soon as they are sent.
func WithAutoFlush() Option {
	return func(h *Hub) {
		h.auto = true
	}
}

// NewHub creates an empty network.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		nodes:       make(map[string]*Node),
		links:       make(map[linkKey]*link),
		partitioned: mapset.NewThreadUnsafeSet[linkKey](),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join adds a node connected to every existing node. Existing nodes see
// the newcomer through their OnConnect handlers.
func (h *Hub) Join(name string) (*Node, error) {
	h.mu.Lock()
	if _, ok := h.nodes[name]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("memnet: node %q already joined", name)
	}
	n := &Node{hub: h, name: name}
	type announce struct {
		node *Node
		peer transport.Peer
	}
	var announces []announce
	for _, other := range h.order {
		h.links[linkKey{name, other}] = &link{}
		h.links[linkKey{other, name}] = &link{}
		n.peers = append(n.peers, &peer{hub: h, local: name, remote: other})
		existing := h.nodes[other]
		p := &peer{hub: h, local: other, remote: name}
		existing.addPeer(p)
		announces = append(announces, announce{existing, p})
	}
	h.nodes[name] = n
	h.order = append(h.order, name)
	h.mu.Unlock()

	for _, a := range announces {
		a.node.announce(a.peer)
	}
	return n, nil
}

// MustJoin is Join for fixtures with known-unique names.
func (h *Hub) MustJoin(name string) *Node {
	n, err := h.Join(name)
	if err != nil {
		panic(err)
	}
	return n
}

// Nodes returns node names in join order.
func (h *Hub) Nodes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.order)
}

// Pending returns how many messages wait on the from→to link.
func (h *Hub) Pending(from, to string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.links[linkKey{from, to}]; ok {
		return len(l.queue)
	}
	return 0
}

// Flush delivers every queued from→to message in send order and returns
// how many were delivered. Partitions are ignored: an explicit flush is a
// deliberate delivery.
func (h *Hub) Flush(from, to string) int {
	h.mu.Lock()
	l, ok := h.links[linkKey{from, to}]
	if !ok || l.handler == nil || len(l.queue) == 0 {
		h.mu.Unlock()
		return 0
	}
	msgs := l.queue
	l.queue = nil
	handler := l.handler
	h.mu.Unlock()

	for _, msg := range msgs {
		handler(msg)
	}
	return len(msgs)
}

// FlushAll flushes every non-partitioned link, in join order, until no
// messages remain.
func (h *Hub) FlushAll() int {
	total := 0
	for {
		delivered := 0
		for _, key := range h.deliverableLinks() {
			delivered += h.Flush(key.from, key.to)
		}
		if delivered == 0 {
			return total
		}
		total += delivered
	}
}

func (h *Hub) deliverableLinks() []linkKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	var keys []linkKey
	for _, from := range h.order {
		for _, to := range h.order {
			key := linkKey{from, to}
			if from == to || h.partitioned.Contains(key) {
				continue
			}
			if l := h.links[key]; l != nil && len(l.queue) > 0 {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// Drop discards the index-th queued from→to message.
func (h *Hub) Drop(from, to string, index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.links[linkKey{from, to}]
	if !ok || index < 0 || index >= len(l.queue) {
		return false
	}
	l.queue = slices.Delete(l.queue, index, index+1)
	return true
}

// Duplicate queues a second copy of the index-th from→to message at the
// end of the link.
func (h *Hub) Duplicate(from, to string, index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.links[linkKey{from, to}]
	if !ok || index < 0 || index >= len(l.queue) {
		return false
	}
	l.queue = append(l.queue, slices.Clone(l.queue[index]))
	return true
}

// Reverse flips the order of queued from→to messages.
func (h *Hub) Reverse(from, to string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.links[linkKey{from, to}]; ok {
		slices.Reverse(l.queue)
	}
}

// Partition stops automatic delivery between a and b in both directions.
// Messages keep queuing.
func (h *Hub) Partition(a, b string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partitioned.Add(linkKey{a, b})
	h.partitioned.Add(linkKey{b, a})
}

// Heal removes a partition. Queued messages wait for the next flush.
func (h *Hub) Heal(a, b string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partitioned.Remove(linkKey{a, b})
	h.partitioned.Remove(linkKey{b, a})
}

func (h *Hub) send(from, to string, msg []byte) error {
	h.mu.Lock()
	l, ok := h.links[linkKey{from, to}]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("memnet: no link %s -> %s", from, to)
	}
	l.queue = append(l.queue, slices.Clone(msg))
	deliver := h.auto && !h.partitioned.Contains(linkKey{from, to}) && l.handler != nil
	h.mu.Unlock()

	if deliver {
		h.Flush(from, to)
	}
	return nil
}

func (h *Hub) setHandler(from, to string, handler func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.links[linkKey{from, to}]; ok {
		l.handler = handler
	}
}

// Node is one member's view of the hub. It implements transport.Network.
type Node struct {
	hub  *Hub
	name string

	mu        sync.Mutex
	peers     []transport.Peer
	onConnect []func(transport.Peer)
}

var _ transport.Network = (*Node)(nil)

// Name returns the node name given to Join.
func (n *Node) Name() string {
	return n.name
}

// Peers implements transport.Network.
func (n *Node) Peers() []transport.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.peers)
}

// OnConnect implements transport.Network.
func (n *Node) OnConnect(handler func(transport.Peer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnect = append(n.onConnect, handler)
}

func (n *Node) addPeer(p transport.Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = append(n.peers, p)
}

func (n *Node) announce(p transport.Peer) {
	n.mu.Lock()
	handlers := slices.Clone(n.onConnect)
	n.mu.Unlock()
	for _, h := range handlers {
		h(p)
	}
}

type peer struct {
	hub           *Hub
	local, remote string
}

func (p *peer) ID() string { return p.remote }

func (p *peer) Send(msg []byte) error {
	return p.hub.send(p.local, p.remote, msg)
}

func (p *peer) OnReceive(handler func([]byte)) {
	p.hub.setHandler(p.remote, p.local, handler)
}
