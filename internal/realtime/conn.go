package realtime

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// Conn is one live bidirectional channel belonging to exactly one identity.
// It is transport-agnostic: the websocket write pump drains Outbound, and the
// dispatcher pushes into it. Delivery is best-effort; a connection whose
// buffer is full loses the event rather than stalling the publisher.
type Conn struct {
	ID       string
	Identity string
	JoinedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(identity string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	return &Conn{
		ID:       xid.New().String(),
		Identity: identity,
		JoinedAt: time.Now(),
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Outbound is the ordered stream of events queued for this connection.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done closes when the connection is removed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// deliver queues msg without blocking. Returns false if the connection is
// closed or its buffer is full.
func (c *Conn) deliver(msg []byte) bool {
	if msg == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close marks the connection dead. The send channel is left open so that
// concurrent publishers never write to a closed channel; they observe done
// instead. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
