// Package tick implements the simulation clock (C7): a driven or stepped
// scheduler running the eight-step per-tick pipeline — settlement,
// price/regime evolution, event fanout, tick-record persistence, and
// webhook scheduling — to completion before the next tick begins.
//
// Grounded on the teacher's cmd/feedsim/main.go symbolRunner/stressRunner
// ticker loops, generalized from 30 independent per-symbol tickers into a
// single global clock advancing every tracked symbol together, since this
// domain's regime and margin state are cross-symbol rather than
// per-symbol-independent.
package tick

import (
	"context"
	"sync"
	"time"

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

// WebhookWorkers bounds the number of concurrent outbound webhook
// deliveries scheduled per tick (§5: "bounded worker pool").
const WebhookWorkers = 8

// Config carries the tick-pipeline-relevant subset of the simulator's
// runtime configuration, kept narrow so tests can construct a Pipeline
// without the full config.Config.
type Config struct {
	TicksPerTradingDay       int
	DefaultMarginRequirement float64
}

// Pipeline owns every dependency the eight tick steps touch and is safe
// for concurrent Submit calls interleaved with a single RunTick caller.
type Pipeline struct {
	Processor *actions.Processor
	Engine    *orderbook.Engine
	Gateway   persist.Gateway
	World     *world.Engine
	Regime    world.RegimePolicy
	Events    *events.Manager
	Webhook   *webhook.Dispatcher
	RNG       *rng.RNG
	NewID     func() string
	Log       *zap.Logger
	Config    Config
	Symbols   []string

	locks *agentLocks

	mu          sync.Mutex
	currentTick uint64
	pending     []actions.ActionResult
	activeEvents []domain.MarketEvent

	webhookSem chan struct{}
}

// NewPipeline builds a Pipeline. startTick resumes a simulation restored
// from persistence; pass 0 for a fresh world.
func NewPipeline(processor *actions.Processor, engine *orderbook.Engine, gw persist.Gateway, w *world.Engine, regime world.RegimePolicy, mgr *events.Manager, wh *webhook.Dispatcher, r *rng.RNG, newID func() string, log *zap.Logger, cfg Config, symbols []string, startTick uint64) *Pipeline {
	return &Pipeline{
		Processor:   processor,
		Engine:      engine,
		Gateway:     gw,
		World:       w,
		Regime:      regime,
		Events:      mgr,
		Webhook:     wh,
		RNG:         r,
		NewID:       newID,
		Log:         log,
		Config:      cfg,
		Symbols:     symbols,
		locks:       newAgentLocks(),
		currentTick: startTick,
		webhookSem:  make(chan struct{}, WebhookWorkers),
	}
}

// CurrentTick returns the tick number that has most recently completed
// (or is about to start, before the first RunTick call).
func (p *Pipeline) CurrentTick() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTick
}

// Submit validates and applies one agent action immediately, under a
// per-agent lock, and queues any resulting fills for settlement on the
// next RunTick. This is the action-ingress path the HTTP layer (C ingress)
// calls directly, matching spec.md §6's synchronous "returns ActionResult
// in submission order" contract while still giving the tick pipeline a
// stable per-tick batch of fills to settle (§4.7 step 1-2).
func (p *Pipeline) Submit(ctx context.Context, agent *domain.Agent, action actions.Action) actions.ActionResult {
	unlock := p.locks.Lock(agent.ID)
	defer unlock()

	pc := actions.ProcessContext{AgentID: agent.ID, Agent: agent, Tick: p.CurrentTick()}
	result := p.Processor.Process(ctx, pc, action)
	if result.AgentID == "" {
		result.AgentID = agent.ID
	}

	p.mu.Lock()
	p.pending = append(p.pending, result)
	p.mu.Unlock()
	return result
}

// RunTick executes the eight-step per-tick pipeline to completion. It
// never returns mid-step: a failure in one sub-step is logged and the
// remaining steps still run, per spec.md §4.7's "the tick always
// completes."
func (p *Pipeline) RunTick(ctx context.Context) error {
	p.mu.Lock()
	p.currentTick++
	tick := p.currentTick
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	p.Engine.SetTick(tick)

	// Steps 1-2 (action processing + matching) already ran inline inside
	// Submit; here we collect their output.
	fills, affected := collectFills(batch)

	// Step 3: settle fills, adjust holdings, recompute margin.
	touched, err := p.settle(ctx, fills, affected)
	if err != nil && p.Log != nil {
		p.Log.Error("tick: settlement error", zap.Uint64("tick", tick), zap.Error(err))
	}

	// Step 4: recompute per-symbol prices.
	priceUpdates, err := p.evolvePrices(ctx, tick, fills)
	if err != nil && p.Log != nil {
		p.Log.Error("tick: price evolution error", zap.Uint64("tick", tick), zap.Error(err))
	}

	// Step 5: evolve world state (regime + event decay).
	worldState, news, err := p.evolveWorld(ctx, tick, priceUpdates)
	if err != nil && p.Log != nil {
		p.Log.Error("tick: world evolution error", zap.Uint64("tick", tick), zap.Error(err))
	}

	// Step 6: emit events.
	p.emitEvents(tick, worldState, priceUpdates, fills, news, batch, touched)

	// Step 7: persist the tick-event record.
	record := &domain.TickEventRecord{
		Tick:         tick,
		Timestamp:    time.Now().UTC(),
		Trades:       fills,
		News:         news,
		PriceUpdates: priceUpdates,
	}
	if err := p.Gateway.SaveTickEventRecord(ctx, record); err != nil && p.Log != nil {
		p.Log.Error("tick: failed to persist tick event record", zap.Uint64("tick", tick), zap.Error(err))
	}

	// Step 8: schedule webhook deliveries.
	p.scheduleWebhooks(ctx, tick, batch, touched)

	return nil
}

func collectFills(batch []actions.ActionResult) ([]domain.Trade, []orderbook.AffectedRestingOrder) {
	var fills []domain.Trade
	var affected []orderbook.AffectedRestingOrder
	for _, r := range batch {
		if r.Submission == nil {
			continue
		}
		fills = append(fills, r.Submission.Fills...)
		affected = append(affected, r.Submission.AffectedRestingOrders...)
	}
	return fills, affected
}
