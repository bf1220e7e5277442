package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wallstreetsim/engine/internal/auth"
	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/persist"
	"github.com/wallstreetsim/engine/internal/retry"
	"github.com/wallstreetsim/engine/internal/rng"
)

func newTestAgent(id, endpoint, secret string) *domain.Agent {
	now := time.Now().UTC()
	return &domain.Agent{
		ID:              id,
		Status:          domain.AgentActive,
		WebhookEndpoint: &endpoint,
		WebhookSecret:   &secret,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestDeliverSignsPayloadAndSucceeds(t *testing.T) {
	const secret = "shared-secret-for-testing-purposes"
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-WSS-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := persist.NewMemoryGateway()
	ctx := context.Background()
	agent := newTestAgent("agent-1", srv.URL, secret)
	if err := gw.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	d := NewDispatcher(2*time.Second, gw, rng.NewRNG(1), nil)
	payload := map[string]any{"tick": 5}
	if err := d.Deliver(ctx, agent, payload); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}

	if gotSignature == "" {
		t.Fatal("expected an X-WSS-Signature header")
	}
	body := []byte(`{"tick":5}`)
	expected := "sha256=" + auth.SignWebhookPayload(secret, body)
	if gotSignature != expected {
		t.Errorf("signature = %q, want %q", gotSignature, expected)
	}

	if agent.WebhookSuccessCount != 1 {
		t.Errorf("WebhookSuccessCount = %d, want 1", agent.WebhookSuccessCount)
	}
	if agent.AvgResponseTimeMs == nil {
		t.Fatal("expected AvgResponseTimeMs to be set")
	}
}

func TestDeliverNoEndpointIsNoOp(t *testing.T) {
	gw := persist.NewMemoryGateway()
	agent := &domain.Agent{ID: "agent-1", Status: domain.AgentActive}
	d := NewDispatcher(time.Second, gw, rng.NewRNG(1), nil)
	if err := d.Deliver(context.Background(), agent, map[string]any{}); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestDeliverRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := persist.NewMemoryGateway()
	ctx := context.Background()
	secret := "another-shared-secret-value-here"
	agent := newTestAgent("agent-1", srv.URL, secret)
	if err := gw.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	d := NewDispatcher(2*time.Second, gw, rng.NewRNG(7), nil)
	if err := d.Deliver(ctx, agent, map[string]any{"tick": 1}); err != nil {
		t.Fatalf("Deliver should have succeeded after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

func TestDeliverNonRetryable4xxFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	gw := persist.NewMemoryGateway()
	ctx := context.Background()
	secret := "yet-another-shared-secret-value"
	agent := newTestAgent("agent-1", srv.URL, secret)
	if err := gw.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	d := NewDispatcher(2*time.Second, gw, rng.NewRNG(3), nil)
	if err := d.Deliver(ctx, agent, map[string]any{"tick": 1}); err == nil {
		t.Fatal("expected failure for non-retryable 4xx")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable status, got %d", calls)
	}
}

func TestDeliverTripsBreakerAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := persist.NewMemoryGateway()
	ctx := context.Background()
	secret := "breaker-test-shared-secret-value"
	agent := newTestAgent("agent-1", srv.URL, secret)
	if err := gw.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	d := NewDispatcher(500*time.Millisecond, gw, rng.NewRNG(9), nil)
	for i := 0; i < DefaultFailureThreshold; i++ {
		_ = d.Deliver(ctx, agent, map[string]any{"tick": i})
	}

	err := d.Deliver(ctx, agent, map[string]any{"tick": 999})
	if _, ok := err.(retry.CircuitOpenError); !ok {
		t.Fatalf("expected a CircuitOpenError once the breaker trips, got %T: %v", err, err)
	}
}

func TestRecordResponseTimeRoundsToNearest(t *testing.T) {
	gw := persist.NewMemoryGateway()
	d := NewDispatcher(time.Second, gw, rng.NewRNG(1), nil)
	agent := &domain.Agent{ID: "agent-1", Status: domain.AgentActive}

	d.recordResponseTime(context.Background(), agent, 3)
	if agent.WebhookSuccessCount != 1 || *agent.AvgResponseTimeMs != 3 {
		t.Fatalf("after first sample: count=%d avg=%v, want count=1 avg=3", agent.WebhookSuccessCount, agent.AvgResponseTimeMs)
	}

	// n=1, oldAvg=3, sample=4 -> round((3*1+4)/2) = round(3.5) = 4.
	d.recordResponseTime(context.Background(), agent, 4)
	if *agent.AvgResponseTimeMs != 4 {
		t.Fatalf("avg after second sample = %d, want 4", *agent.AvgResponseTimeMs)
	}
	if agent.WebhookSuccessCount != 2 {
		t.Fatalf("WebhookSuccessCount = %d, want 2", agent.WebhookSuccessCount)
	}
}
