package tick

import (
	"github.com/wallstreetsim/engine/internal/actions"
	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/events"
)

// emitEvents implements §4.7 step 6: fan this tick's results out onto
// every relevant channel. It runs after the tick's settlement, company
// price and world-state writes; the tick's TickEventRecord is persisted
// afterwards, in step 7.
func (p *Pipeline) emitEvents(tick uint64, state *domain.WorldState, priceUpdates []domain.PriceUpdate, fills []domain.Trade, news []domain.NewsArticle, batch []actions.ActionResult, touched map[string]*domain.Agent) {
	if len(priceUpdates) > 0 {
		p.Events.Publish(events.ChannelPrices, events.TypePriceUpdate, priceUpdates)
	}
	for _, u := range priceUpdates {
		p.Events.Publish(events.ChannelForSymbol(u.Symbol), events.TypeMarketUpdate, u)
		p.Events.Publish(events.SymbolChannel(u.Symbol), events.TypeMarketUpdate, u)
	}

	for _, f := range fills {
		p.Events.Publish(events.ChannelTrades, events.TypeTrade, f)
		p.Events.Publish(events.ChannelForSymbol(f.Symbol), events.TypeTrade, f)
	}

	for _, n := range news {
		p.Events.Publish(events.ChannelNews, events.TypeNews, n)
	}

	regime := domain.RegimeNormal
	marketOpen := true
	if state != nil {
		regime = state.Regime
		marketOpen = state.MarketOpen
	}
	p.Events.Publish(events.ChannelTickUpdates, events.TypeTickUpdate, map[string]any{
		"tick":       tick,
		"regime":     regime,
		"marketOpen": marketOpen,
	})

	for _, result := range batch {
		p.emitActionEvent(result)
	}

	for agentID, agent := range touched {
		if agent == nil {
			continue
		}
		if agent.MarginUsed.GreaterThan(agent.MarginLimit) {
			p.Events.PublishToAgent(agentID, events.TypeMarginCall, map[string]any{
				"agentId":     agentID,
				"marginUsed":  agent.MarginUsed.String(),
				"marginLimit": agent.MarginLimit.String(),
			})
		}
		if agent.Status == domain.AgentBankrupt {
			p.Events.PublishToAgent(agentID, events.TypeAlert, map[string]any{
				"agentId": agentID,
				"message": "Account declared bankrupt",
			})
		}
	}
}

// emitActionEvent routes one action's outcome to the agents who need to
// hear about it: ORDER_FILLED to the submitter when the order actually
// matched this tick, and INVESTIGATION to the accused on a successful
// WHISTLEBLOW. No event is published for a BRIBE, including one that
// opened an investigation against the briber.
func (p *Pipeline) emitActionEvent(result actions.ActionResult) {
	if result.AgentID == "" {
		return
	}

	if result.Submission != nil && len(result.Submission.Fills) > 0 {
		orderID, _ := result.Data["orderId"].(string)
		p.Events.PublishToAgent(result.AgentID, events.TypeOrderFilled, map[string]any{
			"orderId":           orderID,
			"fills":             result.Submission.Fills,
			"remainingQuantity": result.Submission.RemainingQuantity,
		})
	}

	if !result.Success || result.TargetAgentID == "" {
		return
	}
	switch result.ActionType {
	case "WHISTLEBLOW":
		investigationID, _ := result.Data["investigationId"].(string)
		p.Events.PublishToAgent(result.TargetAgentID, events.TypeInvestigation, map[string]any{
			"investigationId": investigationID,
			"accusedBy":       result.AgentID,
		})
	}
}
