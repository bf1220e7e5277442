package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/actions"
	"github.com/wallstreetsim/engine/internal/auth"
	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/events"
	"github.com/wallstreetsim/engine/internal/orderbook"
	"github.com/wallstreetsim/engine/internal/persist"
	"github.com/wallstreetsim/engine/internal/rng"
	"github.com/wallstreetsim/engine/internal/tick"
	"github.com/wallstreetsim/engine/internal/world"
)

const testJWTSecret = "test-jwt-secret-at-least-32-bytes-long!"

func newTestServer(t *testing.T) (*Server, persist.Gateway) {
	t.Helper()
	gw := persist.NewMemoryGateway()
	ctx := context.Background()

	symbols := []string{"AAPL"}
	companies := []domain.Company{{
		Symbol:            "AAPL",
		Name:              "AAPL Inc",
		Sector:            "tech",
		CurrentPrice:      decimal.NewFromInt(100),
		SharesOutstanding: 1_000_000,
		Volatility:        0.01,
		IsPublic:          true,
	}}
	if err := gw.SeedCompaniesIfEmpty(ctx, companies); err != nil {
		t.Fatalf("seed companies: %v", err)
	}
	if err := gw.SaveWorldState(ctx, &domain.WorldState{Tick: 0, MarketOpen: true, Regime: domain.Regime("neutral"), LastTickAt: time.Now().UTC()}); err != nil {
		t.Fatalf("save world state: %v", err)
	}

	r := rng.NewRNG(1)
	engine := orderbook.NewEngine()
	engine.Initialize(symbols, decimal.NewFromFloat(0.01))
	w := world.NewEngine(r, companies)
	regime := world.NewMarkovRegimePolicy(r)
	mgr := events.NewManager(64, zap.NewNop())
	newID := idGen()
	processor := actions.NewProcessor(engine, gw, r, newID)
	pipeline := tick.NewPipeline(processor, engine, gw, w, regime, mgr, nil, r, newID, zap.NewNop(), tick.Config{
		TicksPerTradingDay:       10,
		DefaultMarginRequirement: 0.5,
	}, symbols, 0)

	s := NewServer(gw, engine, pipeline, testJWTSecret, zap.NewNop())
	return s, gw
}

func idGen() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func doRequest(s *Server, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndVerify(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/auth/register", registerRequest{DisplayName: "trader-1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var reg registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if reg.APIKey == "" || reg.AgentID == "" {
		t.Fatalf("expected non-empty apiKey and agentId, got %+v", reg)
	}

	verifyRec := doRequest(s, http.MethodPost, "/auth/verify", nil, reg.APIKey)
	if verifyRec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", verifyRec.Code, verifyRec.Body.String())
	}
	var verify struct {
		Valid        bool   `json:"valid"`
		AgentID      string `json:"agentId"`
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(verifyRec.Body.Bytes(), &verify); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if !verify.Valid || verify.AgentID != reg.AgentID || verify.SessionToken == "" {
		t.Fatalf("unexpected verify response: %+v", verify)
	}
}

func TestVerifyRejectsUnknownKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/auth/verify", nil, "not-a-real-key")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	var verify struct {
		Valid bool `json:"valid"`
	}
	json.Unmarshal(rec.Body.Bytes(), &verify)
	if verify.Valid {
		t.Fatal("expected valid=false for an unrecognized key")
	}
}

func TestActionsRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/actions", actionsRequest{Actions: []actionEnvelope{{Type: "BUY"}}}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestActionsSubmitsBuyAndSell(t *testing.T) {
	s, gw := newTestServer(t)
	ctx := context.Background()

	sellerKey, _, err := issueAgent(ctx, gw, "seller", 100000)
	if err != nil {
		t.Fatalf("create seller: %v", err)
	}
	buyerKey, _, err := issueAgent(ctx, gw, "buyer", 100000)
	if err != nil {
		t.Fatalf("create buyer: %v", err)
	}

	price := decimal.NewFromInt(100)
	sellRec := doRequest(s, http.MethodPost, "/actions", actionsRequest{Actions: []actionEnvelope{
		{Type: "SELL", Symbol: "AAPL", OrderType: "LIMIT", Quantity: 10, Price: &price},
	}}, sellerKey)
	if sellRec.Code != http.StatusOK {
		t.Fatalf("sell status = %d, body = %s", sellRec.Code, sellRec.Body.String())
	}

	buyRec := doRequest(s, http.MethodPost, "/actions", actionsRequest{Actions: []actionEnvelope{
		{Type: "BUY", Symbol: "AAPL", OrderType: "MARKET", Quantity: 10},
	}}, buyerKey)
	if buyRec.Code != http.StatusOK {
		t.Fatalf("buy status = %d, body = %s", buyRec.Code, buyRec.Body.String())
	}
	var buyResp struct {
		Results []actions.ActionResult `json:"results"`
	}
	if err := json.Unmarshal(buyRec.Body.Bytes(), &buyResp); err != nil {
		t.Fatalf("decode buy response: %v", err)
	}
	if len(buyResp.Results) != 1 || !buyResp.Results[0].Success {
		t.Fatalf("expected a successful fill, got %+v", buyResp.Results)
	}
}

func TestActionsRejectsTooManyActions(t *testing.T) {
	s, gw := newTestServer(t)
	ctx := context.Background()
	key, _, err := issueAgent(ctx, gw, "trader", 100000)
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	envs := make([]actionEnvelope, 11)
	for i := range envs {
		envs[i] = actionEnvelope{Type: "CANCEL_ORDER", OrderID: "nope"}
	}
	rec := doRequest(s, http.MethodPost, "/actions", actionsRequest{Actions: envs}, key)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMarketAndWorldReads(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := doRequest(s, http.MethodGet, "/market/stocks", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/market/stocks status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/market/stocks/AAPL", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/market/stocks/AAPL status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/market/stocks/NOPE", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("/market/stocks/NOPE status = %d, want 404", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/market/orderbook/AAPL", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/market/orderbook/AAPL status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/market/trades/AAPL?limit=500", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/market/trades/AAPL status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/world/status", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/world/status status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/world/tick", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/world/tick status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/world/leaderboard", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/world/leaderboard status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/world/investigations/most-wanted", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/world/investigations/most-wanted status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/world/prison", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/world/prison status = %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/news", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("/news status = %d", rec.Code)
	}
}

// issueAgent bypasses the HTTP layer to seed an agent directly, returning
// its raw API key (mirroring what handleRegister would return).
func issueAgent(ctx context.Context, gw persist.Gateway, id string, cash float64) (apiKey string, agentID string, err error) {
	key := id + "-raw-key"
	hash := auth.HashAPIKey(key)
	agent := &domain.Agent{
		ID:          id,
		DisplayName: id,
		Status:      domain.AgentActive,
		Cash:        decimal.NewFromFloat(cash),
		MarginLimit: decimal.NewFromInt(100000),
		APIKeyHash:  hash,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := gw.CreateAgent(ctx, agent); err != nil {
		return "", "", err
	}
	return key, id, nil
}

func TestActionsBankruptAgentGetsPerActionFailureNot403(t *testing.T) {
	s, gw := newTestServer(t)
	ctx := context.Background()

	key := "bankrupt-raw-key"
	agent := &domain.Agent{
		ID:          "bankrupt-agent",
		DisplayName: "bankrupt-agent",
		Status:      domain.AgentBankrupt,
		Cash:        decimal.NewFromInt(0),
		MarginLimit: decimal.NewFromInt(100000),
		APIKeyHash:  auth.HashAPIKey(key),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := gw.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	rec := doRequest(s, http.MethodPost, "/actions", actionsRequest{Actions: []actionEnvelope{
		{Type: "BUY", Symbol: "AAPL", OrderType: "MARKET", Quantity: 100},
	}}, key)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []actions.ActionResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Success {
		t.Fatalf("expected a single failed result, got %+v", resp.Results)
	}
	if !strings.Contains(strings.ToLower(resp.Results[0].Message), "bankrupt") {
		t.Fatalf("expected failure message to mention bankrupt, got %q", resp.Results[0].Message)
	}
}
