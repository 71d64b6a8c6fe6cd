package session

import (
	"sync"
	"sync/atomic"

	"github.com/wricardo/metaverse-presence/metaverse/grid"
	"github.com/wricardo/metaverse-presence/metaverse/protocol"
)

// DefaultSendBuffer is the outbound queue length used when none is given.
const DefaultSendBuffer = 256

// Connection is the state of one live transport connection.
type Connection struct {
	id  string
	out chan []byte

	mu     sync.Mutex
	userID string
	roomID string
	pos    grid.Position
	closed bool

	dropped atomic.Uint64
}

// NewConnection creates a connection with an outbound queue of size buffer.
func NewConnection(id string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Connection{
		id:  id,
		out: make(chan []byte, buffer),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Connection) Position() grid.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Send encodes msg and queues it without blocking. Frames are dropped when
// the queue is full or the connection is closed.
func (c *Connection) Send(msg protocol.ServerMessage) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.dropped.Add(1)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.out <- data:
	default:
		c.dropped.Add(1)
	}
}

// Outbound is drained by the transport writer. It is closed by Close.
func (c *Connection) Outbound() <-chan []byte { return c.out }

// Close closes the outbound queue once. Reports whether this call closed it.
func (c *Connection) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.out)
	return true
}

// Closed reports whether Close has run.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dropped counts frames that could not be queued.
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

func (c *Connection) assign(userID, roomID string, pos grid.Position) {
	c.mu.Lock()
	c.userID, c.roomID, c.pos = userID, roomID, pos
	c.mu.Unlock()
}

func (c *Connection) moveTo(pos grid.Position) {
	c.mu.Lock()
	c.pos = pos
	c.mu.Unlock()
}
