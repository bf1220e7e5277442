package events

import (
	"sync/atomic"
	"testing"
)

func newTestClient(bufSize int) *Client {
	return NewClient(nil, bufSize)
}

func TestUnauthenticatedByDefault(t *testing.T) {
	c := newTestClient(10)
	if c.Authed() {
		t.Fatal("new client should not be authenticated")
	}
	if c.AgentID() != "" {
		t.Fatalf("AgentID = %q, want empty", c.AgentID())
	}
}

func TestAuthenticate(t *testing.T) {
	c := newTestClient(10)
	c.Authenticate("agent-1")
	if !c.Authed() {
		t.Fatal("client should be authenticated")
	}
	if c.AgentID() != "agent-1" {
		t.Fatalf("AgentID = %q, want %q", c.AgentID(), "agent-1")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	c := newTestClient(10)
	c.Subscribe([]string{"trades", "news"})
	if !c.IsSubscribed("trades") {
		t.Fatal("should be subscribed to trades")
	}
	if !c.IsSubscribed("news") {
		t.Fatal("should be subscribed to news")
	}
	if c.IsSubscribed("prices") {
		t.Fatal("should not be subscribed to prices")
	}

	c.Unsubscribe([]string{"trades"})
	if c.IsSubscribed("trades") {
		t.Fatal("should not be subscribed to trades after unsubscribe")
	}
	if !c.IsSubscribed("news") {
		t.Fatal("should still be subscribed to news")
	}
}

func TestChannelsSnapshot(t *testing.T) {
	c := newTestClient(10)
	c.Subscribe([]string{"trades", "news", "market:AAPL"})
	chans := c.Channels()
	if len(chans) != 3 {
		t.Fatalf("Channels() returned %d entries, want 3", len(chans))
	}
}

func TestNextSequenceMonotonic(t *testing.T) {
	c := newTestClient(10)
	prev := uint64(0)
	for i := 0; i < 5; i++ {
		seq := c.NextSequence()
		if seq <= prev {
			t.Fatalf("sequence %d not greater than previous %d", seq, prev)
		}
		prev = seq
	}
}

func TestSendBufferFullLossyDrops(t *testing.T) {
	c := newTestClient(2)
	ok1 := c.Send([]byte("msg1"), true)
	ok2 := c.Send([]byte("msg2"), true)
	ok3 := c.Send([]byte("msg3"), true) // buffer full, lossy -> dropped
	if !ok1 || !ok2 {
		t.Fatal("first two sends should succeed")
	}
	if ok3 {
		t.Fatal("third lossy send should be dropped, not succeed")
	}
	if atomic.LoadUint64(&c.Dropped) != 1 {
		t.Fatalf("Dropped = %d, want 1", c.Dropped)
	}
	select {
	case <-c.Done():
		t.Fatal("lossy drop must not close the connection")
	default:
	}
}

func TestSendBufferFullNonLossyCloses(t *testing.T) {
	c := newTestClient(1)
	ok1 := c.Send([]byte("msg1"), false)
	if !ok1 {
		t.Fatal("first send should succeed")
	}
	ok2 := c.Send([]byte("msg2"), false) // buffer full, must-not-drop -> close
	if ok2 {
		t.Fatal("second non-lossy send should fail when buffer is full")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("non-lossy backpressure should close the connection")
	}
}

func TestSendNotFull(t *testing.T) {
	c := newTestClient(100)
	if !c.Send([]byte("hello"), true) {
		t.Fatal("Send should succeed with a large buffer")
	}
	if atomic.LoadUint64(&c.Dropped) != 0 {
		t.Fatalf("Dropped = %d, want 0", c.Dropped)
	}
}

func TestUniqueIDs(t *testing.T) {
	atomic.StoreUint64(&clientIDCounter, 0)
	c1 := newTestClient(10)
	c2 := newTestClient(10)
	c3 := newTestClient(10)
	if c1.ID == c2.ID || c2.ID == c3.ID || c1.ID == c3.ID {
		t.Fatalf("client IDs should be unique: %d, %d, %d", c1.ID, c2.ID, c3.ID)
	}
}
