package replay

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/events"
	"github.com/wallstreetsim/engine/internal/persist"
)

func newTestGateway(t *testing.T, agentID string) persist.Gateway {
	t.Helper()
	gw := persist.NewMemoryGateway()
	ctx := context.Background()

	agent := &domain.Agent{
		ID:        agentID,
		Status:    domain.AgentActive,
		Cash:      decimal.NewFromInt(50000),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := gw.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := gw.UpsertHolding(ctx, &domain.Holding{AgentID: agentID, Symbol: "AAPL", Quantity: 10, AvgCost: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("UpsertHolding: %v", err)
	}
	if err := gw.SaveWorldState(ctx, &domain.WorldState{Tick: 5, MarketOpen: true, Regime: domain.RegimeNormal, InterestRate: 0.03}); err != nil {
		t.Fatalf("SaveWorldState: %v", err)
	}
	for tick := uint64(1); tick <= 5; tick++ {
		rec := &domain.TickEventRecord{
			Tick:      tick,
			Timestamp: time.Now().UTC(),
			Trades: []domain.Trade{{
				ID: "trd", Symbol: "AAPL", Tick: tick,
				Price: decimal.NewFromInt(100), Quantity: 1,
				ExecutedAt: time.Now().UTC(),
			}},
		}
		if err := gw.SaveTickEventRecord(ctx, rec); err != nil {
			t.Fatalf("SaveTickEventRecord: %v", err)
		}
	}
	return gw
}

func TestRecoverAgentSendsCheckpointsAndReplaysTicks(t *testing.T) {
	gw := newTestGateway(t, "agent-1")
	r := NewRecoverer(gw)
	mgr := events.NewManager(256, zap.NewNop())
	c := mgr.Register(nil)

	if err := r.RecoverAgent(context.Background(), "agent-1", 2, mgr, c); err != nil {
		t.Fatalf("RecoverAgent: %v", err)
	}

	var types []string
	drain := len(c.SendCh())
	for i := 0; i < drain; i++ {
		<-c.SendCh()
		types = append(types, "msg")
	}
	if len(types) == 0 {
		t.Fatal("expected at least one message on the send channel")
	}
	// WORLD_STATE + PORTFOLIO + (3 ticks * (trade + tickUpdate)) + RECOVERY_COMPLETE
	wantMin := 2 + 3*2 + 1
	if len(types) < wantMin {
		t.Fatalf("got %d messages, want at least %d", len(types), wantMin)
	}
}

func TestRecoverAgentZeroLastKnownTickIsNotBeyondRetention(t *testing.T) {
	gw := newTestGateway(t, "agent-1")
	r := NewRecoverer(gw)
	mgr := events.NewManager(256, zap.NewNop())
	c := mgr.Register(nil)

	err := r.RecoverAgent(context.Background(), "agent-1", 0, mgr, c)
	if err != nil {
		t.Fatalf("lastKnownTick=0 should never be treated as beyond retention: %v", err)
	}
}

func TestRecoverAgentDetectsBeyondRetentionHorizon(t *testing.T) {
	ctx := context.Background()
	gw := persist.NewMemoryGateway()
	agent := &domain.Agent{ID: "agent-1", Status: domain.AgentActive, Cash: decimal.Zero, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := gw.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := gw.SaveWorldState(ctx, &domain.WorldState{Tick: 20000, Regime: domain.RegimeNormal}); err != nil {
		t.Fatalf("SaveWorldState: %v", err)
	}
	if err := gw.SaveTickEventRecord(ctx, &domain.TickEventRecord{Tick: 15000, Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("SaveTickEventRecord: %v", err)
	}

	r := NewRecoverer(gw)
	mgr := events.NewManager(256, zap.NewNop())
	c := mgr.Register(nil)

	err := r.RecoverAgent(ctx, "agent-1", 100, mgr, c)
	if err != ErrBeyondRetention {
		t.Fatalf("expected ErrBeyondRetention, got %v", err)
	}
}
