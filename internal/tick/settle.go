package tick

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/orderbook"
	"github.com/wallstreetsim/engine/internal/persist"
)

// settle implements §4.7 step 3: debit buyer cash, credit seller cash
// (via the gateway's atomic SettleFills), adjust both sides' holdings,
// persist the fill deltas against resting orders touched by this tick's
// matches, then recompute marginUsed and status for every agent touched.
// Returns the updated agent records so step 6 can emit MARGIN_CALL/ALERT
// events from fresh state.
func (p *Pipeline) settle(ctx context.Context, fills []domain.Trade, affected []orderbook.AffectedRestingOrder) (map[string]*domain.Agent, error) {
	touched := make(map[string]*domain.Agent)
	if len(fills) == 0 && len(affected) == 0 {
		return touched, nil
	}

	settlements := make([]persist.Settlement, 0, len(fills))
	for _, f := range fills {
		notional := f.Price.Mul(decimal.NewFromInt(f.Quantity))
		settlements = append(settlements, persist.Settlement{
			Trade:        f,
			BuyerDebit:   notional.String(),
			SellerCredit: notional.String(),
		})
	}
	if len(settlements) > 0 {
		if err := p.Gateway.SettleFills(ctx, settlements); err != nil {
			return touched, fmt.Errorf("tick: settle fills: %w", err)
		}
	}

	for _, f := range fills {
		if err := p.adjustHolding(ctx, f.BuyerID, f.Symbol, f.Quantity, f.Price); err != nil && p.Log != nil {
			p.Log.Warn("tick: failed to adjust buyer holding", zap.String("agentId", f.BuyerID), zap.Error(err))
		}
		if err := p.adjustHolding(ctx, f.SellerID, f.Symbol, -f.Quantity, f.Price); err != nil && p.Log != nil {
			p.Log.Warn("tick: failed to adjust seller holding", zap.String("agentId", f.SellerID), zap.Error(err))
		}
		touched[f.BuyerID] = nil
		touched[f.SellerID] = nil
	}

	for _, ar := range affected {
		if err := p.applyRestingFill(ctx, ar); err != nil && p.Log != nil {
			p.Log.Warn("tick: failed to persist resting order fill", zap.String("orderId", ar.OrderID), zap.Error(err))
		}
		touched[ar.AgentID] = nil
	}

	for agentID := range touched {
		if agentID == "" {
			delete(touched, agentID)
			continue
		}
		agent, err := p.recomputeMargin(ctx, agentID)
		if err != nil {
			if p.Log != nil {
				p.Log.Warn("tick: failed to recompute margin", zap.String("agentId", agentID), zap.Error(err))
			}
			continue
		}
		touched[agentID] = agent
	}
	return touched, nil
}

// adjustHolding applies a signed quantity delta (positive = bought,
// negative = sold/shorted) to an agent's position, recomputing the
// volume-weighted average cost only on the side that increases exposure
// in the trade's direction (buying more long, or selling further short).
func (p *Pipeline) adjustHolding(ctx context.Context, agentID, symbol string, delta int64, price decimal.Decimal) error {
	if agentID == "" || delta == 0 {
		return nil
	}
	h, err := p.Gateway.GetHolding(ctx, agentID, symbol)
	if err == persist.ErrNotFound {
		h = &domain.Holding{AgentID: agentID, Symbol: symbol}
	} else if err != nil {
		return err
	}

	sameDirection := (h.Quantity >= 0 && delta > 0) || (h.Quantity <= 0 && delta < 0)
	newQty := h.Quantity + delta
	if sameDirection && h.Quantity != 0 {
		oldAbs := decimal.NewFromInt(abs64(h.Quantity))
		addAbs := decimal.NewFromInt(abs64(delta))
		totalAbs := oldAbs.Add(addAbs)
		if !totalAbs.IsZero() {
			h.AvgCost = h.AvgCost.Mul(oldAbs).Add(price.Mul(addAbs)).Div(totalAbs)
		}
	} else if h.Quantity == 0 {
		h.AvgCost = price
	}
	h.Quantity = newQty

	return p.Gateway.UpsertHolding(ctx, h)
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// applyRestingFill persists the cumulative fill recorded against a
// resting order that was matched by someone else's incoming order this
// tick; the matching engine itself only mutates its in-book copy.
func (p *Pipeline) applyRestingFill(ctx context.Context, ar orderbook.AffectedRestingOrder) error {
	order, err := p.Gateway.GetOrder(ctx, ar.OrderID)
	if err != nil {
		return err
	}
	order.FilledQuantity = ar.CumulativeFilledQty
	switch {
	case order.FilledQuantity >= order.Quantity:
		order.Status = domain.OrderFilled
	case order.FilledQuantity > 0:
		order.Status = domain.OrderPartial
	default:
		order.Status = domain.OrderOpen
	}
	order.UpdatedAt = time.Now().UTC()
	return p.Gateway.UpdateOrder(ctx, order)
}

// recomputeMargin reloads agent, holdings, and open orders, recomputes
// marginUsed from mark-to-market short exposure plus resting short-sell
// notional reservation, and applies the resolved margin-call/bankruptcy
// ordering: an agent crossing marginLimit is flagged with a MARGIN_CALL
// (handled by the caller from the returned agent), and only an agent with
// negative cash AND marginUsed exceeding marginLimit is marked bankrupt.
func (p *Pipeline) recomputeMargin(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := p.Gateway.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	holdings, err := p.Gateway.ListHoldingsForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	requirement := decimal.NewFromFloat(p.Config.DefaultMarginRequirement)

	marginUsed := decimal.Zero
	for _, h := range holdings {
		if h.Quantity >= 0 {
			continue
		}
		price := p.World.Price(h.Symbol)
		marginUsed = marginUsed.Add(decimal.NewFromInt(-h.Quantity).Mul(price).Mul(requirement))
	}

	orders, err := p.Gateway.ListOpenOrdersForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Side != domain.Sell {
			continue
		}
		price := o.Price
		if price.IsZero() {
			price = p.World.Price(o.Symbol)
		}
		marginUsed = marginUsed.Add(decimal.NewFromInt(o.Remaining()).Mul(price).Mul(requirement))
	}

	agent.MarginUsed = marginUsed
	agent.UpdatedAt = time.Now().UTC()
	if agent.Cash.IsNegative() && marginUsed.GreaterThan(agent.MarginLimit) {
		agent.Status = domain.AgentBankrupt
	}
	if err := p.Gateway.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}
