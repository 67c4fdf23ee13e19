package wsnet

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"
	"golang.org/x/xerrors"
)

const (
	mdnsDomain = "local."
	txtIDKey   = "id="
	// Path is where serve mounts Handler.
	Path = "/ws"
)

// Advertise announces this network over mDNS on port. The returned func
// withdraws the announcement.
func (n *Network) Advertise(instance, service string, port int) (shutdown func(), err error) {
	if instance == "" {
		instance = "jsonsync-" + n.id
	}
	server, err := zeroconf.Register(instance, service, mdnsDomain, port, []string{txtIDKey + n.id}, nil)
	if err != nil {
		return nil, xerrors.Errorf("register mDNS service %s: %w", service, err)
	}
	n.logger.Info().Str("service", service).Int("port", port).Msg("mDNS service registered")
	return server.Shutdown, nil
}

// Browse discovers peers advertising service and keeps a connection to
// each until ctx ends. Of two networks that see each other, only the one
// with the lower id dials, so a pair never races itself into two links.
func (n *Network) Browse(ctx context.Context, service string) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return xerrors.Errorf("initialize mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			url, ok := n.dialTarget(entry.Text, entry.AddrIPv4, entry.Port)
			if !ok {
				continue
			}
			n.logger.Debug().Str("instance", entry.Instance).Str("url", url).Msg("mDNS discovered peer")
			go n.Maintain(ctx, url)
		}
	}(entries)
	if err := resolver.Browse(ctx, service, mdnsDomain, entries); err != nil {
		return xerrors.Errorf("browse mDNS services: %w", err)
	}
	return nil
}

// dialTarget decides whether an advertised peer is ours to dial.
func (n *Network) dialTarget(text []string, addrs []net.IP, port int) (string, bool) {
	var remote string
	for _, t := range text {
		if strings.HasPrefix(t, txtIDKey) {
			remote = strings.TrimPrefix(t, txtIDKey)
		}
	}
	if remote == "" || remote <= n.id || len(addrs) == 0 || port <= 0 {
		return "", false
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(addrs[0].String(), fmt.Sprint(port)), Path), true
}
