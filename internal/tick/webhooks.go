package tick

import (
	"context"

	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/actions"
	"github.com/wallstreetsim/engine/internal/domain"
)

// webhookPayload is the JSON body posted to an agent's registered
// endpoint: this tick's outcome for that agent specifically, not a
// global broadcast.
type webhookPayload struct {
	Tick        uint64                  `json:"tick"`
	Results     []actions.ActionResult  `json:"results,omitempty"`
	MarginCall  bool                    `json:"marginCall,omitempty"`
	Bankrupt    bool                    `json:"bankrupt,omitempty"`
}

// scheduleWebhooks implements §4.7 step 8: deliver a per-agent summary of
// this tick's outcome to every agent that had activity this tick, using a
// bounded pool of WebhookWorkers goroutines (§5: "webhook dispatcher uses
// a bounded worker pool"). Deliveries run in the background, but when
// every worker is busy, scheduling waits for a free slot before RunTick
// returns.
func (p *Pipeline) scheduleWebhooks(ctx context.Context, tick uint64, batch []actions.ActionResult, touched map[string]*domain.Agent) {
	if p.Webhook == nil {
		return
	}

	byAgent := make(map[string][]actions.ActionResult)
	for _, r := range batch {
		if r.AgentID == "" {
			continue
		}
		byAgent[r.AgentID] = append(byAgent[r.AgentID], r)
	}

	for agentID := range touched {
		if _, ok := byAgent[agentID]; !ok {
			byAgent[agentID] = nil
		}
	}

	for agentID, results := range byAgent {
		agent, err := p.Gateway.GetAgent(ctx, agentID)
		if err != nil || agent.WebhookEndpoint == nil {
			continue
		}

		payload := webhookPayload{Tick: tick, Results: results}
		if touchedAgent := touched[agentID]; touchedAgent != nil {
			payload.MarginCall = touchedAgent.MarginUsed.GreaterThan(touchedAgent.MarginLimit)
			payload.Bankrupt = touchedAgent.Status == domain.AgentBankrupt
		}

		p.webhookSem <- struct{}{}
		go func(agent *domain.Agent, payload webhookPayload) {
			defer func() { <-p.webhookSem }()
			if err := p.Webhook.Deliver(context.Background(), agent, payload); err != nil && p.Log != nil {
				p.Log.Warn("tick: webhook delivery failed", zap.String("agentId", agent.ID), zap.Error(err))
			}
		}(agent, payload)
	}
}
