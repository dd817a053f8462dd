package peer

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/virtualclinic/roomcast/internal/domain"
)

// SignalingClient is the client end of the /ws signaling channel.
type SignalingClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func DialSignaling(ctx context.Context, url string) (*SignalingClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &SignalingClient{conn: conn}, nil
}

func (c *SignalingClient) Send(msg domain.SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSignalingClosed
	}
	return c.conn.WriteJSON(msg)
}

// Listen delivers inbound events in order until the channel drops. A read
// failure after Close is a clean shutdown; any other one is
// ErrSignalingClosed, which callers treat as session-ending.
func (c *SignalingClient) Listen(handler func(domain.SignalMessage)) error {
	for {
		var msg domain.SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return nil
			}
			return ErrSignalingClosed
		}
		handler(msg)
	}
}

func (c *SignalingClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
