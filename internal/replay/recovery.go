// Package replay implements reconnection recovery (C10): on an
// authenticated reconnect carrying lastKnownTick, it sends a WORLD_STATE
// checkpoint, a per-agent PORTFOLIO checkpoint, replays every persisted
// TickEventRecord since lastKnownTick as discrete, replay-flagged events,
// and finally emits a RECOVERY_COMPLETE sentinel.
//
// Grounded on the teacher's internal/persist/snapshot.go Snapshotter.Load
// shape (load-then-replay) generalized from a single latest-snapshot read
// into a ranged tick-event replay, since this domain's clients reconnect
// mid-simulation rather than cold-starting from the newest snapshot.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/events"
	"github.com/wallstreetsim/engine/internal/persist"
)

// ErrBeyondRetention is returned when a client's lastKnownTick predates
// the server's hot-retention horizon; the client must full-refresh via
// REST instead of replaying.
var ErrBeyondRetention = errors.New("replay: lastKnownTick is beyond the retention horizon")

// Recoverer implements the C10 reconnection recovery sequence against a
// persistence gateway.
type Recoverer struct {
	Gateway persist.Gateway
}

// NewRecoverer creates a Recoverer bound to gw.
func NewRecoverer(gw persist.Gateway) *Recoverer {
	return &Recoverer{Gateway: gw}
}

// WorldStateCheckpoint is the §4.10 step-1 payload.
type WorldStateCheckpoint struct {
	Tick         uint64  `json:"tick"`
	MarketOpen   bool    `json:"marketOpen"`
	Regime       string  `json:"regime"`
	InterestRate float64 `json:"interestRate"`
}

// PortfolioCheckpoint is the §4.10 step-2 payload.
type PortfolioCheckpoint struct {
	AgentID   string                  `json:"agentId"`
	Cash      string                  `json:"cash"`
	Holdings  []PortfolioHolding      `json:"holdings"`
	OpenOrders []PortfolioOpenOrder   `json:"openOrders"`
}

// PortfolioHolding is one line of a PortfolioCheckpoint.
type PortfolioHolding struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	AvgCost  string `json:"avgCost"`
}

// PortfolioOpenOrder is one line of a PortfolioCheckpoint.
type PortfolioOpenOrder struct {
	OrderID  string `json:"orderId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
	Remaining int64 `json:"remaining"`
}

// RecoverAgent drives the full §4.10 sequence for one reconnecting
// client: WORLD_STATE, PORTFOLIO, replayed TickEventRecords in ascending
// order with synthesized per-connection sequence numbers (handled by
// events.Manager.SendDirect), then RECOVERY_COMPLETE.
func (r *Recoverer) RecoverAgent(ctx context.Context, agentID string, lastKnownTick uint64, mgr *events.Manager, c *events.Client) error {
	world, err := r.Gateway.GetWorldState(ctx)
	if err != nil {
		return fmt.Errorf("replay: load world state: %w", err)
	}

	if lastKnownTick > 0 {
		oldest, hasAny, err := r.Gateway.OldestTickEventRecord(ctx)
		if err != nil {
			return fmt.Errorf("replay: load oldest tick event: %w", err)
		}
		if hasAny && lastKnownTick < oldest {
			return ErrBeyondRetention
		}
	}

	mgr.SendDirect(c, "WORLD_STATE", WorldStateCheckpoint{
		Tick:         world.Tick,
		MarketOpen:   world.MarketOpen,
		Regime:       string(world.Regime),
		InterestRate: world.InterestRate,
	}, false)

	portfolio, err := r.buildPortfolioCheckpoint(ctx, agentID)
	if err != nil {
		return fmt.Errorf("replay: build portfolio checkpoint: %w", err)
	}
	mgr.SendDirect(c, "PORTFOLIO", portfolio, false)

	if lastKnownTick < world.Tick {
		records, err := r.Gateway.GetTickEventRecords(ctx, lastKnownTick, world.Tick)
		if err != nil {
			return fmt.Errorf("replay: load tick event records: %w", err)
		}
		for _, rec := range records {
			r.replayTick(mgr, c, rec)
		}
	}

	mgr.SendDirect(c, events.TypeRecoveryDone, map[string]uint64{"tick": world.Tick}, false)
	return nil
}

// replayTick emits one persisted tick's trades, news, and price updates
// as discrete replay-flagged events, preserving per-tick ordering: the
// batched price update first, then trades, then news, matching the live
// pipeline's own emission order (spec.md §4.7 step 6).
func (r *Recoverer) replayTick(mgr *events.Manager, c *events.Client, rec domain.TickEventRecord) {
	if len(rec.PriceUpdates) > 0 {
		mgr.SendDirect(c, events.TypePriceUpdate, rec.PriceUpdates, true)
	}
	for _, trade := range rec.Trades {
		mgr.SendDirect(c, events.TypeTrade, trade, true)
	}
	for _, n := range rec.News {
		mgr.SendDirect(c, events.TypeNews, n, true)
	}
	mgr.SendDirect(c, events.TypeTickUpdate, map[string]uint64{"tick": rec.Tick}, true)
}

func (r *Recoverer) buildPortfolioCheckpoint(ctx context.Context, agentID string) (PortfolioCheckpoint, error) {
	agent, err := r.Gateway.GetAgent(ctx, agentID)
	if err != nil {
		return PortfolioCheckpoint{}, err
	}

	holdings, err := r.Gateway.ListHoldingsForAgent(ctx, agentID)
	if err != nil {
		return PortfolioCheckpoint{}, err
	}
	out := PortfolioCheckpoint{
		AgentID: agentID,
		Cash:    agent.Cash.String(),
	}
	for _, h := range holdings {
		out.Holdings = append(out.Holdings, PortfolioHolding{
			Symbol:   h.Symbol,
			Quantity: h.Quantity,
			AvgCost:  h.AvgCost.String(),
		})
	}

	orders, err := r.Gateway.ListOpenOrdersForAgent(ctx, agentID)
	if err != nil {
		return PortfolioCheckpoint{}, err
	}
	for _, o := range orders {
		out.OpenOrders = append(out.OpenOrders, PortfolioOpenOrder{
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      string(o.Side),
			Quantity:  o.Quantity,
			Remaining: o.Remaining(),
		})
	}
	return out, nil
}
