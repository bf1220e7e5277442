package events

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func newTestManager() *Manager {
	return NewManager(100, zap.NewNop())
}

func TestManagerRegisterUnregister(t *testing.T) {
	m := newTestManager()
	c := m.Register(nil)
	if m.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", m.ClientCount())
	}
	m.Unregister(c)
	if m.ClientCount() != 0 {
		t.Fatalf("ClientCount after unregister = %d, want 0", m.ClientCount())
	}
}

func TestPublishOnlyReachesSubscribers(t *testing.T) {
	m := newTestManager()
	subscribed := m.Register(nil)
	unsubscribed := m.Register(nil)
	subscribed.Subscribe([]string{ChannelTrades})

	m.Publish(ChannelTrades, TypeTrade, map[string]string{"symbol": "AAPL"})

	select {
	case <-subscribed.SendCh():
	default:
		t.Fatal("subscribed client should have received the trade event")
	}
	select {
	case <-unsubscribed.SendCh():
		t.Fatal("unsubscribed client should not have received the trade event")
	default:
	}
}

func TestPublishStampsIncreasingSequence(t *testing.T) {
	m := newTestManager()
	c := m.Register(nil)
	c.Subscribe([]string{ChannelPrices})

	m.Publish(ChannelPrices, TypePriceUpdate, map[string]string{"symbol": "AAPL"})
	m.Publish(ChannelPrices, TypePriceUpdate, map[string]string{"symbol": "AAPL"})

	first := <-c.SendCh()
	second := <-c.SendCh()
	if len(first) == 0 || len(second) == 0 {
		t.Fatal("expected encoded envelopes on the send channel")
	}
	var firstEnv, secondEnv Envelope
	if err := json.Unmarshal(first, &firstEnv); err != nil {
		t.Fatalf("decode first envelope: %v", err)
	}
	if err := json.Unmarshal(second, &secondEnv); err != nil {
		t.Fatalf("decode second envelope: %v", err)
	}
	if secondEnv.Sequence <= firstEnv.Sequence {
		t.Fatalf("sequence did not increase: first=%d second=%d", firstEnv.Sequence, secondEnv.Sequence)
	}
}

func TestPublishToAgentOnlyReachesAuthenticatedMatch(t *testing.T) {
	m := newTestManager()
	owner := m.Register(nil)
	owner.Authenticate("agent-1")
	stranger := m.Register(nil)
	stranger.Authenticate("agent-2")
	anon := m.Register(nil)

	m.PublishToAgent("agent-1", TypeOrderFilled, map[string]string{"orderId": "o1"})

	select {
	case <-owner.SendCh():
	default:
		t.Fatal("the matching authenticated agent should receive the event")
	}
	select {
	case <-stranger.SendCh():
		t.Fatal("a different authenticated agent should not receive the event")
	default:
	}
	select {
	case <-anon.SendCh():
		t.Fatal("an unauthenticated client should not receive an agent-scoped event")
	default:
	}
}

func TestSendDirectBypassesSubscription(t *testing.T) {
	m := newTestManager()
	c := m.Register(nil)
	m.SendDirect(c, "AUTH_OK", map[string]string{"agentId": "agent-1"}, false)

	select {
	case <-c.SendCh():
	default:
		t.Fatal("SendDirect should enqueue regardless of subscription state")
	}
}

func TestChannelForSymbol(t *testing.T) {
	if got := ChannelForSymbol("AAPL"); got != "market:AAPL" {
		t.Fatalf("ChannelForSymbol = %q, want %q", got, "market:AAPL")
	}
	if got := SymbolChannel("AAPL"); got != "symbol:AAPL" {
		t.Fatalf("SymbolChannel = %q, want %q", got, "symbol:AAPL")
	}
}
