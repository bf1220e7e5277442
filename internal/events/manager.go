package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Envelope is the wire shape of every event sent to a subscriber:
// {type, timestamp, sequence, payload}, sequence monotonic per connection.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
	Payload   any       `json:"payload"`
	Replay    bool      `json:"replay,omitempty"`
}

// Event types on the wire (§4.8).
const (
	TypeTrade         = "TRADE"
	TypeNews          = "NEWS"
	TypePriceUpdate   = "PRICE_UPDATE"
	TypeTickUpdate    = "TICK_UPDATE"
	TypeAlert         = "ALERT"
	TypeOrderFilled   = "ORDER_FILLED"
	TypeInvestigation = "INVESTIGATION"
	TypeMarginCall    = "MARGIN_CALL"
	TypeMarketUpdate  = "MARKET_UPDATE"
	TypeRecoveryDone  = "RECOVERY_COMPLETE"
)

// Channel names (§4.8).
const (
	ChannelTrades      = "trades"
	ChannelNews        = "news"
	ChannelEvents      = "events"
	ChannelPrices      = "prices"
	ChannelMarketAll   = "market:all"
	ChannelTickUpdates = "tick_updates"
)

// ChannelForSymbol returns the "market:<symbol>" channel name.
func ChannelForSymbol(symbol string) string { return "market:" + symbol }

// SymbolChannel returns the "symbol:<symbol>" channel name.
func SymbolChannel(symbol string) string { return "symbol:" + symbol }

// lossyTypes are the event types the backpressure policy (§5) allows to
// drop under a full send buffer; every other type must never be dropped.
var lossyTypes = map[string]bool{
	TypePriceUpdate: true,
}

// Manager fans events out to subscribed clients and tracks per-agent
// delivery for authenticated channels.
type Manager struct {
	mu         sync.RWMutex
	clients    map[uint64]*Client
	bufferSize int
	log        *zap.Logger
}

// NewManager creates an event manager with the given per-client send
// buffer size (SEND_BUFFER). A nil log falls back to zap.NewNop().
func NewManager(bufferSize int, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		clients:    make(map[uint64]*Client),
		bufferSize: bufferSize,
		log:        log,
	}
}

// Register adds a new client.
func (m *Manager) Register(conn *websocket.Conn) *Client {
	c := NewClient(conn, m.bufferSize)
	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()
	if conn != nil {
		m.log.Info("client connected", zap.Uint64("clientId", c.ID), zap.String("remoteAddr", conn.RemoteAddr().String()))
	}
	return c
}

// Unregister removes and closes a client.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	delete(m.clients, c.ID)
	m.mu.Unlock()
	c.Close()
	m.log.Info("client disconnected", zap.Uint64("clientId", c.ID))
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Publish fans an event out to every client subscribed to ch. Each
// recipient gets its own sequence number and its own encoded envelope, so
// per-connection ordering is respected even though fanout itself runs
// without inter-client ordering guarantees.
func (m *Manager) Publish(ch, eventType string, payload any) {
	lossy := lossyTypes[eventType]
	ts := time.Now().UTC()

	m.mu.RLock()
	targets := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		if c.IsSubscribed(ch) {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		env := Envelope{
			Type:      eventType,
			Timestamp: ts,
			Sequence:  c.NextSequence(),
			Payload:   payload,
		}
		data, err := json.Marshal(env)
		if err != nil {
			m.log.Error("marshal event", zap.String("eventType", eventType), zap.Error(err))
			continue
		}
		c.Send(data, lossy)
	}
}

// PublishToAgent delivers a per-agent event (ORDER_FILLED, ALERT,
// MARGIN_CALL, INVESTIGATION) to every authenticated connection bound to
// agentID, regardless of that connection's general channel subscriptions.
func (m *Manager) PublishToAgent(agentID, eventType string, payload any) {
	ts := time.Now().UTC()

	m.mu.RLock()
	targets := make([]*Client, 0, 1)
	for _, c := range m.clients {
		if c.Authed() && c.AgentID() == agentID {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		env := Envelope{
			Type:      eventType,
			Timestamp: ts,
			Sequence:  c.NextSequence(),
			Payload:   payload,
		}
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		c.Send(data, false)
	}
}

// SendDirect encodes and enqueues a single envelope for one client,
// bypassing subscription checks — used for AUTH acks, checkpoints sent on
// reconnect, and the RECOVERY_COMPLETE sentinel.
func (m *Manager) SendDirect(c *Client, eventType string, payload any, replay bool) {
	env := Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Sequence:  c.NextSequence(),
		Payload:   payload,
		Replay:    replay,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.Send(data, false)
}
