package events

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/auth"
	"github.com/wallstreetsim/engine/internal/persist"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// publicChannels lists channels an unauthenticated socket may subscribe
// to. Per-agent channels (ORDER_FILLED, ALERT, MARGIN_CALL) are never in
// this set — those are delivered via PublishToAgent, not SUBSCRIBE.
var publicChannels = map[string]bool{
	ChannelTrades:      true,
	ChannelNews:        true,
	ChannelEvents:      true,
	ChannelPrices:      true,
	ChannelMarketAll:   true,
	ChannelTickUpdates: true,
}

func isPublicOrSymbolChannel(ch string) bool {
	if publicChannels[ch] {
		return true
	}
	return strings.HasPrefix(ch, "market:") || strings.HasPrefix(ch, "symbol:")
}

// controlMessage is a client → server control frame: AUTH, SUBSCRIBE,
// UNSUBSCRIBE, or PING.
type controlMessage struct {
	Action        string   `json:"action"`
	APIKey        string   `json:"apiKey,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	LastKnownTick *uint64  `json:"lastKnownTick,omitempty"`
}

// Replayer resolves the tick-replay and checkpoint data the reconnection
// path (§4.10, C10) needs; implemented by internal/replay.
type Replayer interface {
	RecoverAgent(ctx context.Context, agentID string, lastKnownTick uint64, mgr *Manager, c *Client) error
}

// Handler creates the HTTP handler for WebSocket upgrades. gw resolves
// API keys on AUTH; replayer (optional, may be nil) drives §4.10 recovery
// when an AUTH carries a lastKnownTick. A nil log falls back
// to zap.NewNop().
func Handler(mgr *Manager, gw persist.Gateway, replayer Replayer, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade error", zap.Error(err))
			return
		}

		client := mgr.Register(conn)
		go writePump(client)
		go readPump(client, mgr, gw, replayer, log)
	}
}

func readPump(c *Client, mgr *Manager, gw persist.Gateway, replayer Replayer, log *zap.Logger) {
	defer mgr.Unregister(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("client read error", zap.Uint64("clientId", c.ID), zap.Error(err))
			}
			return
		}

		var ctrl controlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			log.Warn("invalid control message", zap.Uint64("clientId", c.ID), zap.Error(err))
			continue
		}

		handleControl(c, mgr, gw, replayer, &ctrl, log)
	}
}

func handleControl(c *Client, mgr *Manager, gw persist.Gateway, replayer Replayer, ctrl *controlMessage, log *zap.Logger) {
	switch ctrl.Action {
	case "AUTH":
		handleAuth(c, mgr, gw, replayer, ctrl.APIKey, ctrl.LastKnownTick)

	case "SUBSCRIBE":
		allowed := filterSubscribable(c, ctrl.Channels)
		c.Subscribe(allowed)
		log.Debug("client subscribed", zap.Uint64("clientId", c.ID), zap.Strings("channels", allowed))

	case "UNSUBSCRIBE":
		c.Unsubscribe(ctrl.Channels)
		log.Debug("client unsubscribed", zap.Uint64("clientId", c.ID), zap.Strings("channels", ctrl.Channels))

	case "PING":
		mgr.SendDirect(c, "PONG", nil, false)

	default:
		log.Warn("unknown client action", zap.Uint64("clientId", c.ID), zap.String("action", ctrl.Action))
	}
}

// filterSubscribable drops private channels a client hasn't authenticated
// for, per §4.8's "AUTH must precede per-agent channels."
func filterSubscribable(c *Client, requested []string) []string {
	out := make([]string, 0, len(requested))
	for _, ch := range requested {
		if isPublicOrSymbolChannel(ch) || c.Authed() {
			out = append(out, ch)
		}
	}
	return out
}

func handleAuth(c *Client, mgr *Manager, gw persist.Gateway, replayer Replayer, apiKey string, lastKnownTick *uint64) {
	if apiKey == "" {
		mgr.SendDirect(c, "AUTH_FAILED", map[string]string{"error": "missing apiKey"}, false)
		return
	}
	hash := auth.HashAPIKey(apiKey)
	agent, err := gw.GetAgentByAPIKeyHash(context.Background(), hash)
	if err != nil {
		mgr.SendDirect(c, "AUTH_FAILED", map[string]string{"error": "invalid apiKey"}, false)
		return
	}
	c.Authenticate(agent.ID)
	mgr.SendDirect(c, "AUTH_OK", map[string]string{"agentId": agent.ID}, false)

	if lastKnownTick != nil && replayer != nil {
		if err := replayer.RecoverAgent(context.Background(), agent.ID, *lastKnownTick, mgr, c); err != nil {
			mgr.SendDirect(c, "RECOVERY_ERROR", map[string]string{"error": err.Error()}, false)
		}
	}
}

func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.SendCh():
			if !ok {
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done():
			return
		}
	}
}
