package actions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/orderbook"
	"github.com/wallstreetsim/engine/internal/persist"
	"github.com/wallstreetsim/engine/internal/rng"
)

func newTestProcessor() (*Processor, persist.Gateway) {
	gw := persist.NewMemoryGateway()
	engine := orderbook.NewEngine()
	engine.Initialize([]string{"AAPL"}, decimal.NewFromFloat(0.01))
	r := rng.NewRNG(42)
	counter := 0
	newID := func() string {
		counter++
		return "id-" + time.Now().Format("20060102150405") + "-" + string(rune('a'+counter%26))
	}
	return NewProcessor(engine, gw, r, newID), gw
}

func mustCreateAgent(t *testing.T, ctx context.Context, gw persist.Gateway, id string, status domain.AgentStatus, cash float64, reputation int) *domain.Agent {
	t.Helper()
	a := &domain.Agent{
		ID:         id,
		Status:     status,
		Cash:       decimal.NewFromFloat(cash),
		Reputation: reputation,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := gw.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	return a
}

// Scenario 5: an agent with reputation 50 issues RUMOR and succeeds, losing
// 5 reputation, with a news row reflecting the rumor.
func TestProcessRumorDeductsReputationAndPublishesNews(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Rumor{
		TargetSymbol: "AAPL",
		Content:      "flying car",
	})

	if !result.Success {
		t.Fatalf("expected success, got failure: %s", result.Message)
	}
	if agent.Reputation != 45 {
		t.Fatalf("expected reputation 45, got %d", agent.Reputation)
	}

	newsID, _ := result.Data["newsId"].(string)
	if newsID == "" {
		t.Fatalf("expected a newsId in result data")
	}

	mem := gw.(*persist.MemoryGateway)
	news := mem.AllNews()
	if len(news) != 1 {
		t.Fatalf("expected exactly one news row, got %d", len(news))
	}
	n := news[0]
	if n.Headline != "RUMOR: flying car" {
		t.Errorf("headline = %q, want %q", n.Headline, "RUMOR: flying car")
	}
	if n.Category != "rumor" {
		t.Errorf("category = %q, want %q", n.Category, "rumor")
	}
	if len(n.Symbols) != 1 || n.Symbols[0] != "AAPL" {
		t.Errorf("symbols = %v, want [AAPL]", n.Symbols)
	}
	if n.Sentiment != 0 {
		t.Errorf("sentiment = %v, want 0", n.Sentiment)
	}
}

func TestProcessRumorInsufficientReputation(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 2)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Rumor{
		TargetSymbol: "AAPL",
		Content:      "flying car",
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Insufficient reputation" {
		t.Errorf("message = %q, want %q", result.Message, "Insufficient reputation")
	}
}

// Scenario 6: a bankrupt agent's BUY is rejected with no order persisted.
func TestProcessBuyRejectsBankruptAgent(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentBankrupt, 0, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Buy{
		Symbol:    "AAPL",
		OrderType: "MARKET",
		Quantity:  100,
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if !strings.Contains(result.Message, "bankrupt") {
		t.Errorf("message = %q, want it to mention bankrupt", result.Message)
	}

	mem := gw.(*persist.MemoryGateway)
	if len(mem.AllOrders()) != 0 {
		t.Fatalf("expected no orders persisted, got %d", len(mem.AllOrders()))
	}
}

func TestProcessBuyRejectsInvalidQuantity(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Buy{
		Symbol:    "AAPL",
		OrderType: "MARKET",
		Quantity:  0,
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Invalid quantity" {
		t.Errorf("message = %q, want %q", result.Message, "Invalid quantity")
	}
}

// Scenario 7: agent B cannot cancel agent A's order.
func TestProcessCancelOrderRejectsNonOwner(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agentA := mustCreateAgent(t, ctx, gw, "agent-a", domain.AgentActive, 10000, 50)
	agentB := mustCreateAgent(t, ctx, gw, "agent-b", domain.AgentActive, 10000, 50)

	buyResult := p.Process(ctx, ProcessContext{AgentID: agentA.ID, Agent: agentA, Tick: 1}, Buy{
		Symbol:    "AAPL",
		OrderType: "LIMIT",
		Quantity:  10,
		Price:     decimalPtr(decimal.NewFromFloat(100)),
	})
	if !buyResult.Success {
		t.Fatalf("setup BUY failed: %s", buyResult.Message)
	}
	orderID, _ := buyResult.Data["orderId"].(string)
	if orderID == "" {
		t.Fatalf("expected an orderId from the setup BUY")
	}

	cancelResult := p.Process(ctx, ProcessContext{AgentID: agentB.ID, Agent: agentB, Tick: 2}, CancelOrder{
		OrderID: orderID,
	})

	if cancelResult.Success {
		t.Fatalf("expected failure, got success")
	}
	if cancelResult.Message != "Not your order" {
		t.Errorf("message = %q, want %q", cancelResult.Message, "Not your order")
	}
}

func TestProcessCancelOrderNotFound(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, CancelOrder{
		OrderID: "does-not-exist",
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Order not found" {
		t.Errorf("message = %q, want %q", result.Message, "Order not found")
	}
}

func TestProcessMessageRecipientNotFound(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Message{
		RecipientID: "ghost",
		Content:     "hello?",
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Recipient not found" {
		t.Errorf("message = %q, want %q", result.Message, "Recipient not found")
	}
}

func TestProcessAllyTargetNotActive(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)
	mustCreateAgent(t, ctx, gw, "agent-2", domain.AgentBankrupt, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Ally{
		TargetAgentID: "agent-2",
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Target agent is not active" {
		t.Errorf("message = %q, want %q", result.Message, "Target agent is not active")
	}
}

func TestProcessBribeInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 100, 50)
	mustCreateAgent(t, ctx, gw, "agent-2", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Bribe{
		TargetAgentID: "agent-2",
		Amount:        decimal.NewFromInt(5000),
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Insufficient funds" {
		t.Errorf("message = %q, want %q", result.Message, "Insufficient funds")
	}
}

func TestProcessFleeNoReasonToFlee(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Flee{
		Destination: "international waters",
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "No reason to flee" {
		t.Errorf("message = %q, want %q", result.Message, "No reason to flee")
	}
}

func TestProcessWhistleblowRequiresEvidence(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)
	mustCreateAgent(t, ctx, gw, "agent-2", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Whistleblow{
		TargetAgentID: "agent-2",
		Evidence:      "   ",
	})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Evidence required" {
		t.Errorf("message = %q, want %q", result.Message, "Evidence required")
	}
}

func TestProcessLogsActionOnFailure(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentBankrupt, 0, 50)

	p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 7}, Buy{
		Symbol:    "AAPL",
		OrderType: "MARKET",
		Quantity:  1,
	})

	mem := gw.(*persist.MemoryGateway)
	logged := mem.AllActions()
	if len(logged) != 1 {
		t.Fatalf("expected exactly one logged action, got %d", len(logged))
	}
	if logged[0].Success {
		t.Errorf("expected logged action to record failure")
	}
	if logged[0].ActionType != "BUY" {
		t.Errorf("actionType = %q, want %q", logged[0].ActionType, "BUY")
	}
	if logged[0].Tick != 7 {
		t.Errorf("tick = %d, want 7", logged[0].Tick)
	}
}

func TestProcessUnknownActionType(t *testing.T) {
	ctx := context.Background()
	p, gw := newTestProcessor()
	agent := mustCreateAgent(t, ctx, gw, "agent-1", domain.AgentActive, 10000, 50)

	result := p.Process(ctx, ProcessContext{AgentID: agent.ID, Agent: agent, Tick: 1}, Unknown{RawType: "TELEPORT"})

	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if result.Message != "Unknown action type" {
		t.Errorf("message = %q, want %q", result.Message, "Unknown action type")
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
