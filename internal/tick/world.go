package tick

import (
	"context"
	"fmt"
	"time"

	"github.com/wallstreetsim/engine/internal/domain"
)

// evolveWorld implements §4.7 step 5: decrement active event durations,
// run the regime policy against this tick's aggregate price-move
// magnitudes, and persist the advanced WorldState. A regime change
// produces one breaking NewsArticle, the only systemic (non-agent)
// news the pipeline itself originates.
func (p *Pipeline) evolveWorld(ctx context.Context, tick uint64, priceUpdates []domain.PriceUpdate) (*domain.WorldState, []domain.NewsArticle, error) {
	state, err := p.Gateway.GetWorldState(ctx)
	if err != nil {
		state = &domain.WorldState{Regime: domain.RegimeNormal, MarketOpen: true}
	}

	p.decayEvents()

	moves := make([]float64, len(priceUpdates))
	for i, u := range priceUpdates {
		moves[i] = u.ChangePercent
	}

	var news []domain.NewsArticle
	newRegime := state.Regime
	if p.Regime != nil {
		newRegime = p.Regime.Next(state.Regime, moves)
	}
	if newRegime != state.Regime {
		p.World.SetRegime(newRegime)
		article := domain.NewsArticle{
			ID:        p.NewID(),
			Tick:      tick,
			Headline:  fmt.Sprintf("Market shifts to %s regime", newRegime),
			Content:   fmt.Sprintf("Aggregate price movement triggered a transition from %s to %s.", state.Regime, newRegime),
			Category:  "market",
			IsBreaking: true,
			CreatedAt: time.Now().UTC(),
		}
		if err := p.Gateway.CreateNews(ctx, &article); err == nil {
			news = append(news, article)
		}
	}

	state.Tick = tick
	state.Regime = newRegime
	state.LastTickAt = time.Now().UTC()
	if err := p.Gateway.SaveWorldState(ctx, state); err != nil {
		return state, news, fmt.Errorf("tick: save world state: %w", err)
	}
	return state, news, nil
}

// decayEvents decrements every active MarketEvent's remaining duration
// in place and drops expired ones. Events are a transient in-memory
// list, neither published to subscribers nor a persisted collection —
// spec.md's data model documents MarketEvent but the gateway exposes no
// CRUD surface for it, since nothing queries events outside the running
// process.
func (p *Pipeline) decayEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.activeEvents[:0]
	for _, e := range p.activeEvents {
		e.RemainingDuration--
		if e.Active() {
			kept = append(kept, e)
		}
	}
	p.activeEvents = kept
}

// PushEvent registers a transient MarketEvent to decay over subsequent
// ticks, used by scenario scripting or operator tooling rather than the
// core action set.
func (p *Pipeline) PushEvent(e domain.MarketEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeEvents = append(p.activeEvents, e)
}
