package domain

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one live signaling connection. The ID is assigned at upgrade
// time and is the only identity a connection has; Username and Room are set
// exactly once when the client joins and never change for the connection's
// lifetime.
type Client struct {
	ID       string
	Username string
	Room     string
	Joined   bool

	Socket *websocket.Conn

	mu     sync.Mutex
	closed bool
	Events chan SignalMessage
}

func NewClient(socket *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.New().String(),
		Socket: socket,
		Events: make(chan SignalMessage, 32),
	}
}

// EnqueueEvent queues an outbound event without blocking the relay. Events
// for a slow consumer whose buffer is full are dropped rather than stalling
// other room members.
func (c *Client) EnqueueEvent(event SignalMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.Events <- event:
		return true
	default:
		return false
	}
}

// CloseEvents shuts the event channel down exactly once. Safe to call from
// any goroutine and safe to call repeatedly.
func (c *Client) CloseEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Events)
}
