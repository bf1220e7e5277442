package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/orderbook"
	"github.com/wallstreetsim/engine/internal/persist"
	"github.com/wallstreetsim/engine/internal/rng"
)

// BribeInvestigationChance is the probability a BRIBE opens an
// investigation against the briber. The spec leaves this
// implementation-defined (≥0, ≤1); chosen to make bribery a real but not
// dominant risk.
const BribeInvestigationChance = 0.15

// WhistleblowReputationBonus is added to the whistleblower's reputation on
// a successful WHISTLEBLOW.
const WhistleblowReputationBonus = 10

// DefaultFlightCost is debited from an agent's cash when they FLEE.
var DefaultFlightCost = decimal.NewFromInt(10000)

// ProcessContext carries the caller identity and clock for one action.
type ProcessContext struct {
	AgentID string
	Agent   *domain.Agent
	Tick    uint64
}

// ActionResult is the uniform return value of Process.
type ActionResult struct {
	ActionType string
	Success    bool
	Message    string
	Data       map[string]any

	// AgentID and Submission are set only for accepted BUY/SELL/SHORT/COVER
	// actions, letting the tick pipeline collect this tick's fills without
	// resubmitting the order to the matching engine.
	AgentID    string
	Submission *orderbook.SubmitResult

	// TargetAgentID names the counterparty a tick-pipeline event about
	// this action should route to (BRIBE's recipient, WHISTLEBLOW's
	// accused), distinct from Data's JSON-facing identifiers.
	TargetAgentID string
}

// Processor holds the dependencies C6 needs: the matching engine, the
// persistence gateway, and a source of randomness for probabilistic
// outcomes (BRIBE) and ID generation.
type Processor struct {
	Engine  *orderbook.Engine
	Gateway persist.Gateway
	RNG     *rng.RNG
	NewID   func() string
}

// NewProcessor builds a Processor from its dependencies.
func NewProcessor(engine *orderbook.Engine, gw persist.Gateway, r *rng.RNG, newID func() string) *Processor {
	return &Processor{Engine: engine, Gateway: gw, RNG: r, NewID: newID}
}

// Process validates and applies a single action, always logging the
// outcome via Gateway.LogAction before returning — success or failure,
// this is the only write path to the Action audit table.
func (p *Processor) Process(ctx context.Context, pc ProcessContext, action Action) ActionResult {
	result := p.dispatch(ctx, pc, action)
	p.logAction(ctx, pc, action, result)
	return result
}

func (p *Processor) dispatch(ctx context.Context, pc ProcessContext, action Action) ActionResult {
	switch a := action.(type) {
	case Buy:
		return p.processOrder(ctx, pc, a.Symbol, domain.Buy, a.OrderType, a.Quantity, a.Price, "BUY")
	case Sell:
		return p.processOrder(ctx, pc, a.Symbol, domain.Sell, a.OrderType, a.Quantity, a.Price, "SELL")
	case Short:
		return p.processOrder(ctx, pc, a.Symbol, domain.Sell, a.OrderType, a.Quantity, a.Price, "SHORT")
	case Cover:
		return p.processOrder(ctx, pc, a.Symbol, domain.Buy, a.OrderType, a.Quantity, a.Price, "COVER")
	case CancelOrder:
		return p.processCancelOrder(ctx, pc, a)
	case Rumor:
		return p.processRumor(ctx, pc, a)
	case Message:
		return p.processMessage(ctx, pc, a)
	case Ally:
		return p.processAlly(ctx, pc, a)
	case AllyAccept:
		return p.processAllyAccept(ctx, pc, a)
	case AllyReject:
		return p.processAllyReject(ctx, pc, a)
	case AllyDissolve:
		return p.processAllyDissolve(ctx, pc, a)
	case Bribe:
		return p.processBribe(ctx, pc, a)
	case Whistleblow:
		return p.processWhistleblow(ctx, pc, a)
	case Flee:
		return p.processFlee(ctx, pc, a)
	default:
		return ActionResult{ActionType: "UNKNOWN", Success: false, Message: "Unknown action type"}
	}
}

func fail(actionType, message string) ActionResult {
	return ActionResult{ActionType: actionType, Success: false, Message: message}
}

func ok(actionType string, data map[string]any) ActionResult {
	return ActionResult{ActionType: actionType, Success: true, Data: data}
}

// --- Trading: BUY, SELL, SHORT, COVER ---

func (p *Processor) processOrder(ctx context.Context, pc ProcessContext, symbol string, side domain.Side, orderType string, quantity int64, price *decimal.Decimal, actionType string) ActionResult {
	if quantity < 1 {
		return fail(actionType, "Invalid quantity")
	}
	if !pc.Agent.CanTrade() {
		return fail(actionType, fmt.Sprintf("Agent is %s", pc.Agent.Status))
	}
	ot := domain.OrderType(orderType)
	if ot == "" {
		ot = domain.OrderMarket
	}
	if ot != domain.OrderMarket && price == nil {
		return fail(actionType, "Price required for LIMIT/STOP order")
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:            p.NewID(),
		AgentID:       pc.AgentID,
		Symbol:        symbol,
		Side:          side,
		Type:          ot,
		Quantity:      quantity,
		Status:        domain.OrderPending,
		TickSubmitted: pc.Tick,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if price != nil {
		order.Price = *price
	}

	submission := p.Engine.SubmitOrder(order)

	if err := p.Gateway.CreateOrder(ctx, order); err != nil {
		return fail(actionType, "Failed to persist order")
	}
	result := ok(actionType, map[string]any{"orderId": order.ID})
	result.AgentID = pc.AgentID
	result.Submission = &submission
	return result
}

// --- CANCEL_ORDER ---

func (p *Processor) processCancelOrder(ctx context.Context, pc ProcessContext, a CancelOrder) ActionResult {
	order, err := p.Gateway.GetOrder(ctx, a.OrderID)
	if err == persist.ErrNotFound {
		return fail("CANCEL_ORDER", "Order not found")
	}
	if err != nil {
		return fail("CANCEL_ORDER", "Failed to load order")
	}
	if order.AgentID != pc.AgentID {
		return fail("CANCEL_ORDER", "Not your order")
	}
	if order.Status != domain.OrderPending && order.Status != domain.OrderOpen && order.Status != domain.OrderPartial {
		return fail("CANCEL_ORDER", "Order cannot be cancelled")
	}

	p.Engine.CancelOrder(order.Symbol, order.ID)

	order.Status = domain.OrderCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateOrder(ctx, order); err != nil {
		return fail("CANCEL_ORDER", "Failed to persist cancellation")
	}
	return ok("CANCEL_ORDER", nil)
}

// --- RUMOR ---

func (p *Processor) processRumor(ctx context.Context, pc ProcessContext, a Rumor) ActionResult {
	if pc.Agent.Reputation < 5 {
		return fail("RUMOR", "Insufficient reputation")
	}

	content := a.Content
	headlineBody := content
	if len(headlineBody) > 100 {
		headlineBody = headlineBody[:100]
	}

	pc.Agent.Reputation -= 5
	pc.Agent.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAgent(ctx, pc.Agent); err != nil {
		return fail("RUMOR", "Failed to deduct reputation")
	}

	news := &domain.NewsArticle{
		ID:        p.NewID(),
		Tick:      pc.Tick,
		Headline:  "RUMOR: " + headlineBody,
		Content:   content,
		Category:  "rumor",
		Sentiment: 0,
		Symbols:   []string{a.TargetSymbol},
		AgentIDs:  []string{pc.AgentID},
		CreatedAt: time.Now().UTC(),
	}
	if err := p.Gateway.CreateNews(ctx, news); err != nil {
		return fail("RUMOR", "Failed to publish rumor")
	}
	return ok("RUMOR", map[string]any{"newsId": news.ID})
}

// --- MESSAGE ---

func (p *Processor) processMessage(ctx context.Context, pc ProcessContext, a Message) ActionResult {
	if _, err := p.Gateway.GetAgent(ctx, a.RecipientID); err == persist.ErrNotFound {
		return fail("MESSAGE", "Recipient not found")
	} else if err != nil {
		return fail("MESSAGE", "Failed to load recipient")
	}

	recipient := a.RecipientID
	msg := &domain.Message{
		ID:          p.NewID(),
		Tick:        pc.Tick,
		SenderID:    pc.AgentID,
		RecipientID: &recipient,
		Channel:     "direct",
		Content:     a.Content,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.Gateway.CreateMessage(ctx, msg); err != nil {
		return fail("MESSAGE", "Failed to send message")
	}
	return ok("MESSAGE", map[string]any{"messageId": msg.ID})
}

// --- ALLY / ALLY_ACCEPT / ALLY_REJECT / ALLY_DISSOLVE ---

func (p *Processor) processAlly(ctx context.Context, pc ProcessContext, a Ally) ActionResult {
	target, err := p.Gateway.GetAgent(ctx, a.TargetAgentID)
	if err == persist.ErrNotFound {
		return fail("ALLY", "Target agent not found")
	}
	if err != nil {
		return fail("ALLY", "Failed to load target agent")
	}
	if target.Status != domain.AgentActive {
		return fail("ALLY", "Target agent is not active")
	}

	now := time.Now().UTC()
	alliance := &domain.Alliance{
		ID:         p.NewID(),
		ProposerID: pc.AgentID,
		PartnerID:  a.TargetAgentID,
		Status:     domain.AlliancePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.Gateway.CreateAlliance(ctx, alliance); err != nil {
		return fail("ALLY", "Failed to create alliance")
	}

	subject := fmt.Sprintf("Alliance Proposal (%s)", alliance.ID)
	msg := &domain.Message{
		ID:          p.NewID(),
		Tick:        pc.Tick,
		SenderID:    pc.AgentID,
		RecipientID: &a.TargetAgentID,
		Channel:     "alliance",
		Subject:     &subject,
		Content:     "proposes an alliance",
		CreatedAt:   now,
	}
	if err := p.Gateway.CreateMessage(ctx, msg); err != nil {
		return fail("ALLY", "Failed to send alliance proposal")
	}
	return ok("ALLY", map[string]any{"allianceId": alliance.ID})
}

func (p *Processor) findAllianceProposal(ctx context.Context, allianceID, recipientID string) (*domain.Alliance, error, string) {
	alliance, err := p.Gateway.GetAlliance(ctx, allianceID)
	if err == persist.ErrNotFound {
		return nil, nil, "Alliance not found"
	}
	if err != nil {
		return nil, err, ""
	}
	if alliance.Status != domain.AlliancePending {
		return nil, nil, "Alliance is not pending"
	}
	if _, err := p.Gateway.FindAllianceProposalMessage(ctx, allianceID, recipientID); err == persist.ErrNotFound {
		return nil, nil, "Alliance proposal not found"
	} else if err != nil {
		return nil, err, ""
	}
	return alliance, nil, ""
}

func (p *Processor) processAllyAccept(ctx context.Context, pc ProcessContext, a AllyAccept) ActionResult {
	alliance, err, msg := p.findAllianceProposal(ctx, a.AllianceID, pc.AgentID)
	if msg != "" {
		return fail("ALLY_ACCEPT", msg)
	}
	if err != nil {
		return fail("ALLY_ACCEPT", "Failed to load alliance")
	}

	alliance.Status = domain.AllianceActive
	alliance.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAlliance(ctx, alliance); err != nil {
		return fail("ALLY_ACCEPT", "Failed to update alliance")
	}

	proposer := alliance.ProposerID
	confirm := &domain.Message{
		ID:          p.NewID(),
		Tick:        pc.Tick,
		SenderID:    pc.AgentID,
		RecipientID: &proposer,
		Channel:     "alliance",
		Content:     fmt.Sprintf("accepted your alliance proposal (%s)", alliance.ID),
		CreatedAt:   time.Now().UTC(),
	}
	_ = p.Gateway.CreateMessage(ctx, confirm)

	return ok("ALLY_ACCEPT", map[string]any{"allianceId": alliance.ID, "partnerId": alliance.ProposerID})
}

func (p *Processor) processAllyReject(ctx context.Context, pc ProcessContext, a AllyReject) ActionResult {
	alliance, err, msg := p.findAllianceProposal(ctx, a.AllianceID, pc.AgentID)
	if msg != "" {
		return fail("ALLY_REJECT", msg)
	}
	if err != nil {
		return fail("ALLY_REJECT", "Failed to load alliance")
	}

	reason := a.Reason
	if reason == "" {
		reason = "Proposal rejected"
	}
	alliance.Status = domain.AllianceDissolved
	alliance.DissolutionReason = &reason
	alliance.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAlliance(ctx, alliance); err != nil {
		return fail("ALLY_REJECT", "Failed to update alliance")
	}

	proposer := alliance.ProposerID
	notify := &domain.Message{
		ID:          p.NewID(),
		Tick:        pc.Tick,
		SenderID:    pc.AgentID,
		RecipientID: &proposer,
		Channel:     "alliance",
		Content:     fmt.Sprintf("rejected your alliance proposal (%s): %s", alliance.ID, reason),
		CreatedAt:   time.Now().UTC(),
	}
	_ = p.Gateway.CreateMessage(ctx, notify)

	return ok("ALLY_REJECT", map[string]any{"allianceId": alliance.ID, "proposerId": alliance.ProposerID})
}

func (p *Processor) processAllyDissolve(ctx context.Context, pc ProcessContext, a AllyDissolve) ActionResult {
	alliance, err := p.Gateway.GetAlliance(ctx, a.AllianceID)
	if err == persist.ErrNotFound {
		return fail("ALLY_DISSOLVE", "Alliance not found")
	}
	if err != nil {
		return fail("ALLY_DISSOLVE", "Failed to load alliance")
	}
	if alliance.ProposerID != pc.AgentID && alliance.PartnerID != pc.AgentID {
		return fail("ALLY_DISSOLVE", "Not your alliance")
	}
	if alliance.Status != domain.AllianceActive {
		return fail("ALLY_DISSOLVE", "Alliance is not active")
	}

	reason := fmt.Sprintf("Dissolved by %s", pc.AgentID)
	alliance.Status = domain.AllianceDissolved
	alliance.DissolutionReason = &reason
	alliance.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAlliance(ctx, alliance); err != nil {
		return fail("ALLY_DISSOLVE", "Failed to update alliance")
	}
	return ok("ALLY_DISSOLVE", map[string]any{"allianceId": alliance.ID})
}

// --- BRIBE ---

func (p *Processor) processBribe(ctx context.Context, pc ProcessContext, a Bribe) ActionResult {
	if pc.Agent.Cash.LessThan(a.Amount) {
		return fail("BRIBE", "Insufficient funds")
	}
	target, err := p.Gateway.GetAgent(ctx, a.TargetAgentID)
	if err == persist.ErrNotFound {
		return fail("BRIBE", "Target agent not found")
	}
	if err != nil {
		return fail("BRIBE", "Failed to load target agent")
	}

	pc.Agent.Cash = pc.Agent.Cash.Sub(a.Amount)
	pc.Agent.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAgent(ctx, pc.Agent); err != nil {
		return fail("BRIBE", "Failed to debit briber")
	}

	target.Cash = target.Cash.Add(a.Amount)
	target.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAgent(ctx, target); err != nil {
		return fail("BRIBE", "Failed to credit target")
	}

	if p.RNG.Float64() < BribeInvestigationChance {
		inv := &domain.Investigation{
			ID:            p.NewID(),
			TargetAgentID: pc.AgentID,
			CrimeType:     domain.CrimeBribery,
			Status:        domain.InvestigationOpen,
			TickOpened:    pc.Tick,
			CreatedAt:     time.Now().UTC(),
		}
		_ = p.Gateway.CreateInvestigation(ctx, inv)
	}

	result := ok("BRIBE", map[string]any{"amount": a.Amount.String()})
	result.TargetAgentID = a.TargetAgentID
	return result
}

// --- WHISTLEBLOW ---

func (p *Processor) processWhistleblow(ctx context.Context, pc ProcessContext, a Whistleblow) ActionResult {
	if strings.TrimSpace(a.Evidence) == "" {
		return fail("WHISTLEBLOW", "Evidence required")
	}

	crimeType := a.CrimeType
	if crimeType == "" {
		crimeType = domain.CrimeAccountingFraud
	}
	inv := &domain.Investigation{
		ID:            p.NewID(),
		TargetAgentID: a.TargetAgentID,
		CrimeType:     crimeType,
		Status:        domain.InvestigationOpen,
		Evidence:      a.Evidence,
		TickOpened:    pc.Tick,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.Gateway.CreateInvestigation(ctx, inv); err != nil {
		return fail("WHISTLEBLOW", "Failed to open investigation")
	}

	pc.Agent.Reputation += WhistleblowReputationBonus
	pc.Agent.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAgent(ctx, pc.Agent); err != nil {
		return fail("WHISTLEBLOW", "Failed to credit reputation")
	}

	result := ok("WHISTLEBLOW", map[string]any{"investigationId": inv.ID})
	result.TargetAgentID = a.TargetAgentID
	return result
}

// --- FLEE ---

func (p *Processor) processFlee(ctx context.Context, pc ProcessContext, a Flee) ActionResult {
	_, err := p.Gateway.GetOpenInvestigationForAgent(ctx, pc.AgentID)
	if err == persist.ErrNotFound {
		return fail("FLEE", "No reason to flee")
	}
	if err != nil {
		return fail("FLEE", "Failed to check investigation status")
	}

	pc.Agent.Cash = pc.Agent.Cash.Sub(DefaultFlightCost)
	pc.Agent.Status = domain.AgentFled
	pc.Agent.UpdatedAt = time.Now().UTC()
	if err := p.Gateway.UpdateAgent(ctx, pc.Agent); err != nil {
		return fail("FLEE", "Failed to process flight")
	}

	return ok("FLEE", map[string]any{"destination": a.Destination})
}

// --- Audit logging ---

func (p *Processor) logAction(ctx context.Context, pc ProcessContext, action Action, result ActionResult) {
	row := &domain.Action{
		ID:         p.NewID(),
		Tick:       pc.Tick,
		AgentID:    pc.AgentID,
		ActionType: result.ActionType,
		Payload:    result.Data,
		Success:    result.Success,
		Message:    result.Message,
		CreatedAt:  time.Now().UTC(),
	}
	if s, ok := actionSymbol(action); ok {
		row.TargetSymbol = &s
	}
	if id, ok := actionTargetAgent(action); ok {
		row.TargetAgentID = &id
	}
	_ = p.Gateway.LogAction(ctx, row)
}

func actionSymbol(action Action) (string, bool) {
	switch a := action.(type) {
	case Buy:
		return a.Symbol, true
	case Sell:
		return a.Symbol, true
	case Short:
		return a.Symbol, true
	case Cover:
		return a.Symbol, true
	case Rumor:
		return a.TargetSymbol, true
	}
	return "", false
}

func actionTargetAgent(action Action) (string, bool) {
	switch a := action.(type) {
	case Message:
		return a.RecipientID, true
	case Ally:
		return a.TargetAgentID, true
	case Bribe:
		return a.TargetAgentID, true
	case Whistleblow:
		return a.TargetAgentID, true
	}
	return "", false
}
