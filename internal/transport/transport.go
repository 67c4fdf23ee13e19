// Package transport defines what a replica needs from the network: peers
// it can send serialized messages to and hear messages from, and a peer
// set that announces new connections.
//
// Delivery may reorder and duplicate messages but must eventually deliver
// every broadcast to every connected peer. Implementations live in the
// memnet, wsnet, redisnet and kafkanet subpackages.
package transport

// Peer is one remote endpoint.
type Peer interface {
	// ID names the peer for logs and metrics.
	ID() string
	// Send queues msg for delivery. It must not block on the network.
	Send(msg []byte) error
	// OnReceive registers the handler for messages from this peer.
	// Registering again replaces the previous handler.
	OnReceive(handler func(msg []byte))
}

// Network is the set of peers a replica talks to.
type Network interface {
	// Peers returns the currently connected peers.
	Peers() []Peer
	// OnConnect registers a handler called for every peer connected after
	// registration.
	OnConnect(handler func(Peer))
}
