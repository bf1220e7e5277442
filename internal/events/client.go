// Package events implements the socket server (C8): per-connection
// subscription state, ordered delivery, and the broker-fanout Manager.
//
// Grounded on the teacher's internal/session/{client,manager,handler}.go
// connection-registry and send-channel shape, generalized from a fixed
// ITCH symbol/locate-code subscription model to the spec's set-valued
// channel names and per-agent auth gate.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket subscriber.
type Client struct {
	ID   uint64
	Conn *websocket.Conn

	mu          sync.RWMutex
	channels    map[string]bool
	agentID     string // empty until AUTH succeeds
	authed      bool
	sequence    uint64

	sendCh     chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	bufferSize int

	// Dropped counts lossy PRICE_UPDATE events dropped under backpressure.
	Dropped uint64
}

var clientIDCounter uint64

// NewClient creates a new client wrapping a WebSocket connection.
func NewClient(conn *websocket.Conn, bufferSize int) *Client {
	return &Client{
		ID:         atomic.AddUint64(&clientIDCounter, 1),
		Conn:       conn,
		channels:   make(map[string]bool),
		sendCh:     make(chan []byte, bufferSize),
		done:       make(chan struct{}),
		bufferSize: bufferSize,
	}
}

// Authenticate binds the client to an agent, unlocking per-agent channels
// (ORDER_FILLED, ALERT, MARGIN_CALL).
func (c *Client) Authenticate(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentID = agentID
	c.authed = true
}

// AgentID returns the bound agent ID, or "" if unauthenticated.
func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

// Authed reports whether AUTH has succeeded on this connection.
func (c *Client) Authed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

// Subscribe adds channels to the client's subscription set.
func (c *Client) Subscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.channels[ch] = true
	}
}

// Unsubscribe removes channels from the client's subscription set.
func (c *Client) Unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
}

// IsSubscribed reports whether the client is currently subscribed to ch.
func (c *Client) IsSubscribed(ch string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[ch]
}

// Channels returns a snapshot of the client's subscription set.
func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// NextSequence returns the next monotonic per-connection sequence number,
// used to stamp outbound wire messages.
func (c *Client) NextSequence() uint64 {
	return atomic.AddUint64(&c.sequence, 1)
}

// Send enqueues data for delivery. lossy controls backpressure behavior:
// when true (PRICE_UPDATE) a full buffer silently drops the message; when
// false (TRADE, ORDER_FILLED, ALERT, MARGIN_CALL) a full buffer instead
// closes the connection, since those events must never be dropped.
func (c *Client) Send(data []byte, lossy bool) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		if lossy {
			atomic.AddUint64(&c.Dropped, 1)
			return false
		}
		c.Close()
		return false
	}
}

// SendCh returns the send channel for the write pump.
func (c *Client) SendCh() <-chan []byte {
	return c.sendCh
}

// Done returns a channel that is closed when the client is disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the client connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}
