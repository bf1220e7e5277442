package tick

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/actions"
	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/events"
	"github.com/wallstreetsim/engine/internal/orderbook"
	"github.com/wallstreetsim/engine/internal/persist"
	"github.com/wallstreetsim/engine/internal/rng"
	"github.com/wallstreetsim/engine/internal/webhook"
	"github.com/wallstreetsim/engine/internal/world"
)

func newTestPipeline(t *testing.T, symbols []string) (*Pipeline, persist.Gateway) {
	t.Helper()
	gw := persist.NewMemoryGateway()
	ctx := context.Background()

	companies := make([]domain.Company, 0, len(symbols))
	for _, s := range symbols {
		companies = append(companies, domain.Company{
			Symbol:            s,
			Name:              s + " Inc",
			Sector:            "tech",
			CurrentPrice:      decimal.NewFromInt(100),
			SharesOutstanding: 1_000_000,
			Volatility:        0.01,
			IsPublic:          true,
		})
	}
	if err := gw.SeedCompaniesIfEmpty(ctx, companies); err != nil {
		t.Fatalf("seed companies: %v", err)
	}

	r := rng.NewRNG(42)
	engine := orderbook.NewEngine()
	engine.Initialize(symbols, decimal.NewFromFloat(0.01))
	w := world.NewEngine(r, companies)
	regime := world.NewMarkovRegimePolicy(r)
	mgr := events.NewManager(64, zap.NewNop())
	newID := idGenerator()
	processor := actions.NewProcessor(engine, gw, r, newID)

	p := NewPipeline(processor, engine, gw, w, regime, mgr, nil, r, newID, nil, Config{
		TicksPerTradingDay:       10,
		DefaultMarginRequirement: 0.5,
	}, symbols, 0)
	return p, gw
}

func mustCreateAgent(t *testing.T, gw persist.Gateway, id string, cash float64) *domain.Agent {
	t.Helper()
	agent := &domain.Agent{
		ID:          id,
		DisplayName: id,
		Status:      domain.AgentActive,
		Cash:        decimal.NewFromFloat(cash),
		MarginLimit: decimal.NewFromInt(100000),
		APIKeyHash:  id + "-hash",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := gw.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("create agent %s: %v", id, err)
	}
	return agent
}

func TestPipelineSubmitAndRunTickSettlesFill(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestPipeline(t, []string{"AAPL"})

	buyer := mustCreateAgent(t, gw, "buyer", 100000)
	seller := mustCreateAgent(t, gw, "seller", 100000)

	sellResult := p.Submit(ctx, seller, actions.Sell{Symbol: "AAPL", OrderType: "LIMIT", Quantity: 10, Price: decPtr(100)})
	if !sellResult.Success {
		t.Fatalf("sell action failed: %s", sellResult.Message)
	}
	buyResult := p.Submit(ctx, buyer, actions.Buy{Symbol: "AAPL", OrderType: "MARKET", Quantity: 10})
	if !buyResult.Success {
		t.Fatalf("buy action failed: %s", buyResult.Message)
	}
	if buyResult.Submission == nil || len(buyResult.Submission.Fills) != 1 {
		t.Fatalf("expected the market buy to match the resting sell immediately, got %+v", buyResult.Submission)
	}

	if err := p.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if p.CurrentTick() != 1 {
		t.Fatalf("expected tick 1, got %d", p.CurrentTick())
	}

	notional := decimal.NewFromInt(100 * 10)
	gotBuyer, err := gw.GetAgent(ctx, "buyer")
	if err != nil {
		t.Fatalf("get buyer: %v", err)
	}
	wantBuyerCash := decimal.NewFromFloat(100000).Sub(notional)
	if !gotBuyer.Cash.Equal(wantBuyerCash) {
		t.Errorf("buyer cash = %s, want %s", gotBuyer.Cash, wantBuyerCash)
	}

	gotSeller, err := gw.GetAgent(ctx, "seller")
	if err != nil {
		t.Fatalf("get seller: %v", err)
	}
	wantSellerCash := decimal.NewFromFloat(100000).Add(notional)
	if !gotSeller.Cash.Equal(wantSellerCash) {
		t.Errorf("seller cash = %s, want %s", gotSeller.Cash, wantSellerCash)
	}

	buyerHolding, err := gw.GetHolding(ctx, "buyer", "AAPL")
	if err != nil {
		t.Fatalf("get buyer holding: %v", err)
	}
	if buyerHolding.Quantity != 10 {
		t.Errorf("buyer holding quantity = %d, want 10", buyerHolding.Quantity)
	}

	sellerHolding, err := gw.GetHolding(ctx, "seller", "AAPL")
	if err != nil {
		t.Fatalf("get seller holding: %v", err)
	}
	if sellerHolding.Quantity != -10 {
		t.Errorf("seller holding quantity = %d, want -10", sellerHolding.Quantity)
	}
}

func TestPipelineMarginCallAndBankruptcy(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestPipeline(t, []string{"AAPL"})

	// Distressed agent already carries a large short position (seeded
	// directly, as if opened on an earlier tick) and negative cash from a
	// prior drawdown; a thin margin limit means this tick's mark-to-market
	// recompute should find marginUsed far beyond marginLimit. Buying one
	// more share makes them "touched" this tick so settle recomputes their
	// margin and bankruptcy status.
	distressed := mustCreateAgent(t, gw, "distressed", -2000)
	distressed.MarginLimit = decimal.NewFromInt(100)
	if err := gw.UpdateAgent(ctx, distressed); err != nil {
		t.Fatalf("update distressed margin limit: %v", err)
	}
	if err := gw.UpsertHolding(ctx, &domain.Holding{AgentID: "distressed", Symbol: "AAPL", Quantity: -50, AvgCost: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("seed short holding: %v", err)
	}
	seller := mustCreateAgent(t, gw, "seller", 100000)

	p.Submit(ctx, seller, actions.Sell{Symbol: "AAPL", OrderType: "LIMIT", Quantity: 1, Price: decPtr(100)})
	result := p.Submit(ctx, distressed, actions.Buy{Symbol: "AAPL", OrderType: "MARKET", Quantity: 1})
	if !result.Success || result.Submission == nil || len(result.Submission.Fills) != 1 {
		t.Fatalf("expected the buy to match the resting sell, got %+v", result)
	}

	if err := p.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	gotDistressed, err := gw.GetAgent(ctx, "distressed")
	if err != nil {
		t.Fatalf("get distressed: %v", err)
	}
	if !gotDistressed.Cash.IsNegative() {
		t.Fatalf("expected distressed cash to stay negative, got %s", gotDistressed.Cash)
	}
	if gotDistressed.MarginUsed.LessThanOrEqual(gotDistressed.MarginLimit) {
		t.Fatalf("expected marginUsed %s to exceed marginLimit %s", gotDistressed.MarginUsed, gotDistressed.MarginLimit)
	}
	if gotDistressed.Status != domain.AgentBankrupt {
		t.Errorf("expected distressed agent to be bankrupt, got status %s", gotDistressed.Status)
	}
}

func TestPipelineDayBoundaryRollsOverOpenHighLow(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestPipeline(t, []string{"AAPL"})

	// TicksPerTradingDay is 10 in newTestPipeline; tick 11 is the first
	// tick of the next trading day (ticks 1-10 are day one).
	for i := 0; i < 10; i++ {
		if err := p.RunTick(ctx); err != nil {
			t.Fatalf("RunTick %d: %v", i, err)
		}
	}
	before, err := gw.GetCompany(ctx, "AAPL")
	if err != nil {
		t.Fatalf("get company: %v", err)
	}

	if err := p.RunTick(ctx); err != nil {
		t.Fatalf("RunTick 11: %v", err)
	}
	after, err := gw.GetCompany(ctx, "AAPL")
	if err != nil {
		t.Fatalf("get company: %v", err)
	}
	if !after.PreviousClose.Equal(before.CurrentPrice) {
		t.Errorf("previousClose = %s, want prior close %s", after.PreviousClose, before.CurrentPrice)
	}
	if !after.Open.Equal(after.CurrentPrice) || !after.High.Equal(after.CurrentPrice) || !after.Low.Equal(after.CurrentPrice) {
		t.Errorf("expected open/high/low to reset to the new day's first price, got open=%s high=%s low=%s current=%s", after.Open, after.High, after.Low, after.CurrentPrice)
	}
}

func TestSchedulerStepAdvancesOneTick(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, []string{"AAPL"})
	s := NewScheduler(p, ModeStepped, time.Millisecond, nil)

	if err := s.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if p.CurrentTick() != 1 {
		t.Fatalf("CurrentTick = %d, want 1", p.CurrentTick())
	}
	if err := s.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if p.CurrentTick() != 2 {
		t.Fatalf("CurrentTick = %d, want 2", p.CurrentTick())
	}
}

func TestPipelineSchedulesWebhookForTouchedAgent(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestPipeline(t, []string{"AAPL"})

	var mu sync.Mutex
	var delivered int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		delivered++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := rng.NewRNG(7)
	p.Webhook = webhook.NewDispatcher(time.Second, gw, r, nil)

	endpoint := srv.URL
	secret := "test-secret"
	buyer := mustCreateAgent(t, gw, "buyer", 100000)
	buyer.WebhookEndpoint = &endpoint
	buyer.WebhookSecret = &secret
	if err := gw.UpdateAgent(ctx, buyer); err != nil {
		t.Fatalf("update buyer endpoint: %v", err)
	}
	seller := mustCreateAgent(t, gw, "seller", 100000)

	p.Submit(ctx, seller, actions.Sell{Symbol: "AAPL", OrderType: "LIMIT", Quantity: 5, Price: decPtr(100)})
	p.Submit(ctx, buyer, actions.Buy{Symbol: "AAPL", OrderType: "MARKET", Quantity: 5})

	if err := p.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		got := delivered
		mu.Unlock()
		if got > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for webhook delivery")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func idGenerator() func() string {
	var mu sync.Mutex
	counter := 0
	return func() string {
		mu.Lock()
		counter++
		mu.Unlock()
		return "id-" + time.Now().Format("20060102150405.000000000") + "-" + string(rune('a'+counter%26))
	}
}
