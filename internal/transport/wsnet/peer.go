package wsnet

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/xerrors"

	"github.com/roach88/jsonsync/internal/transport"
)

// peer is one websocket connection. Received frames queue in inbox until
// a handler is registered; sends queue in outbox and are written by a
// single writer goroutine.
type peer struct {
	id     string
	net    *Network
	conn   *websocket.Conn
	inbox  *transport.Inbox
	outbox *transport.Inbox

	mu      sync.Mutex
	handler func([]byte)
	deliver sync.Once

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func newPeer(n *Network, id string, conn *websocket.Conn) *peer {
	return &peer{
		id:     id,
		net:    n,
		conn:   conn,
		inbox:  transport.NewInbox(),
		outbox: transport.NewInbox(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *peer) ID() string {
	return p.id
}

func (p *peer) Send(msg []byte) error {
	if !p.outbox.Enqueue(msg) {
		return xerrors.Errorf("wsnet: peer %s is closed", p.id)
	}
	return nil
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

func (p *peer) readLoop() {
	defer p.close()
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		kind, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.net.logger.Warn().Err(err).Str("peer", p.id).Msg("read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		p.inbox.Enqueue(msg)
	}
}

func (p *peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer close(p.done)
	defer p.conn.Close()

	for {
		for {
			msg, ok := p.outbox.TryDequeue()
			if !ok {
				break
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.net.logger.Warn().Err(err).Str("peer", p.id).Msg("write failed")
				p.close()
				return
			}
		}
		select {
		case <-p.stop:
			p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-p.outbox.Wait():
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		}
	}
}

// close tears the connection down. Messages already received are still
// delivered.
func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.net.detach(p)
		p.outbox.Close()
		p.inbox.Close()
		close(p.stop)
		// unblock readLoop
		p.conn.SetReadDeadline(time.Now())
	})
}
