package transport

import (
	"context"
	"sync"
)

// Inbox is an unbounded FIFO of received messages drained by a single
// goroutine. Network readers enqueue without blocking, so a slow replica
// never stalls a socket read loop.
type Inbox struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	signal chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		msgs:   make([][]byte, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends msg. It returns false once the inbox is closed.
func (q *Inbox) Enqueue(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.msgs = append(q.msgs, msg)

	// buffer of 1 coalesces wakeups
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the oldest message without blocking.
func (q *Inbox) TryDequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}
	msg := q.msgs[0]
	q.msgs[0] = nil
	if len(q.msgs) == 1 {
		q.msgs = q.msgs[:0]
	} else {
		q.msgs = q.msgs[1:]
	}
	return msg, true
}

// Wait returns a channel that fires when messages may be available.
func (q *Inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Close stops accepting messages and wakes the drain loop.
func (q *Inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain hands every message to handler in arrival order until ctx is done
// or the inbox is closed and empty.
func (q *Inbox) Drain(ctx context.Context, handler func([]byte)) error {
	for {
		for {
			msg, ok := q.TryDequeue()
			if !ok {
				break
			}
			handler(msg)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-q.signal:
			if !open {
				for {
					msg, ok := q.TryDequeue()
					if !ok {
						return nil
					}
					handler(msg)
				}
			}
		}
	}
}
