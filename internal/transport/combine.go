package transport

// Combine presents several networks as one, so a replica can reach peers
// over more than one transport at once. A peer reachable through two
// members appears twice; replicas skip the duplicate deliveries.
func Combine(nets ...Network) Network {
	if len(nets) == 1 {
		return nets[0]
	}
	return combined(nets)
}

type combined []Network

func (c combined) Peers() []Peer {
	var out []Peer
	for _, n := range c {
		out = append(out, n.Peers()...)
	}
	return out
}

func (c combined) OnConnect(handler func(Peer)) {
	for _, n := range c {
		n.OnConnect(handler)
	}
}
