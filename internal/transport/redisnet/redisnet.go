// Package redisnet runs a replica network over a Redis pub/sub channel.
package redisnet

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/roach88/jsonsync/internal/transport/busnet"
)

// Options selects the server and channel.
type Options struct {
	Addr     string
	Password string
	Channel  string
}

// Network is a busnet member subscribed to one Redis channel.
type Network struct {
	*busnet.Network
	rdb     *redis.Client
	pubsub  *redis.PubSub
	channel string
	stopped chan struct{}
}

// Dial connects to Redis, subscribes to the channel and announces this
// member.
func Dial(ctx context.Context, opts Options, logger zerolog.Logger, netOpts ...busnet.Option) (*Network, error) {
	if opts.Channel == "" {
		return nil, xerrors.New("redisnet: channel is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, xerrors.Errorf("redisnet: ping %s: %w", opts.Addr, err)
	}

	n := &Network{rdb: rdb, channel: opts.Channel, stopped: make(chan struct{})}
	publish := busnet.PublisherFunc(func(ctx context.Context, payload []byte) error {
		return rdb.Publish(ctx, opts.Channel, payload).Err()
	})
	n.Network = busnet.New(publish, append([]busnet.Option{busnet.WithLogger(logger)}, netOpts...)...)

	n.pubsub = rdb.Subscribe(ctx, opts.Channel)
	// wait for the subscription so our own hello cannot be missed by us
	if _, err := n.pubsub.Receive(ctx); err != nil {
		n.Network.Close()
		n.pubsub.Close()
		rdb.Close()
		return nil, xerrors.Errorf("redisnet: subscribe %s: %w", opts.Channel, err)
	}
	go n.receiveLoop()

	if err := n.Start(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Network) receiveLoop() {
	defer close(n.stopped)
	for msg := range n.pubsub.Channel() {
		n.Deliver([]byte(msg.Payload))
	}
}

// Close leaves the bus and disconnects from Redis.
func (n *Network) Close() error {
	err := n.Network.Close()
	if cerr := n.pubsub.Close(); cerr != nil && err == nil {
		err = xerrors.Errorf("redisnet: unsubscribe: %w", cerr)
	}
	<-n.stopped
	if cerr := n.rdb.Close(); cerr != nil && err == nil {
		err = xerrors.Errorf("redisnet: close client: %w", cerr)
	}
	return err
}
