package replica

import (
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/transport"
	"github.com/roach88/jsonsync/internal/value"
	"github.com/roach88/jsonsync/internal/wire"
)

// connect starts listening to p and adds it to the broadcast set. Peers
// announced after construction also receive every operation this replica
// authored so far, so late joiners catch up without anyone resending
// operations that peer might have authored itself. A peer already
// connected is ignored; a reconnect arrives as a new Peer and is not.
func (r *Replica) connect(p transport.Peer, catchUp bool) {
	r.peersMu.Lock()
	if r.known[p] {
		r.peersMu.Unlock()
		return
	}
	r.known[p] = true
	r.peers = append(r.peers, p)
	r.peersMu.Unlock()

	p.OnReceive(func(msg []byte) {
		if err := r.Receive(msg); err != nil {
			r.logger.Warn().Err(err).Str("peer", p.ID()).Msg("receive failed")
		}
	})
	r.logger.Debug().Str("peer", p.ID()).Msg("peer connected")

	if !catchUp {
		return
	}
	own := r.authored()
	if len(own) == 0 {
		return
	}
	msg, err := wire.EncodePatch(own)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode catch-up patch")
		return
	}
	if err := p.Send(msg); err != nil {
		r.logger.Warn().Err(err).Str("peer", p.ID()).Msg("catch-up send failed")
	}
}

func (r *Replica) authored() []op.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var own []op.Operation
	for _, e := range r.log.Entries() {
		if e.Op.Mark.AuthoredBy(r.id) {
			own = append(own, e.Op)
		}
	}
	return own
}

// Receive decodes one wire message and merges its patch. Transports call
// it for every message; it is exported for transports that deliver
// outside the Peer abstraction, such as HTTP handlers.
//
// An identity collision is fatal: the replica stops accepting edits and
// merges and keeps returning the error.
func (r *Replica) Receive(msg []byte) error {
	m, err := wire.Decode(msg)
	if err != nil {
		if r.recorder != nil {
			r.recorder.MalformedMessage()
		}
		return &Error{Code: ErrCodeMalformedMessage, Message: "dropping message", Err: err}
	}
	if m.Kind != wire.KindPatch {
		r.logger.Debug().Int("kind", int(m.Kind)).Msg("ignoring unknown message kind")
		return nil
	}
	return r.Merge(m.Ops)
}

// Merge integrates a diff directly, bypassing the wire encoding.
func (r *Replica) Merge(ops []op.Operation) error {
	r.mu.Lock()
	if r.fatal != nil {
		err := r.fatal
		r.mu.Unlock()
		return err
	}
	changes, stats, err := r.engine.ApplyDiff(ops)
	if err != nil {
		err = wrapMerge(err)
		if IsIdentityCollision(err) {
			r.fatal = err
		}
	}
	var digest string
	historyLen := r.log.Len()
	if err == nil && r.journal != nil {
		digest = r.journalDigest()
	}
	r.mu.Unlock()

	if r.recorder != nil {
		if err == nil {
			r.recorder.Merged(stats)
		} else if IsIdentityCollision(err) {
			r.recorder.IdentityCollision()
		}
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("merge failed")
		return err
	}
	if stats.Incoming > stats.Duplicates {
		r.record(OriginRemote, ops, digest, historyLen)
	}
	r.emit(Event{Kind: EventRemote, Changes: changes})
	return nil
}

// journalDigest hashes the content for the journal. Callers hold r.mu.
// A failure leaves the digest row out and is logged.
func (r *Replica) journalDigest() string {
	d, err := value.Digest(r.tree.Content())
	if err != nil {
		r.logger.Warn().Err(err).Msg("journal digest skipped")
		return ""
	}
	return d
}

func (r *Replica) broadcast(ops []op.Operation) {
	msg, err := wire.EncodePatch(ops)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode patch")
		return
	}
	r.peersMu.Lock()
	peers := make([]transport.Peer, len(r.peers))
	copy(peers, r.peers)
	r.peersMu.Unlock()

	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			r.logger.Warn().Err(err).Str("peer", p.ID()).Msg("send failed")
		}
	}
}
