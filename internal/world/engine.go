// Package world evolves symbol prices tick by tick and tracks the market
// regime that modulates their volatility.
//
// Grounded on the teacher's internal/engine/market.go GBM tick formula —
// generalized from a read-only price feed (bound to a fixed 30-symbol
// universe) into a price engine whose GBM candidate is replaced by the
// tick's last matched trade price when one occurred (internal/tick), with
// sector shocks blended against the regime multiplier instead of a static
// per-symbol VolatilityMultiplier. Order-book mid prices are not used: on
// a tick without a trade the GBM candidate stands.
package world

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/rng"
)

const (
	baseDailyVol   = 0.02
	sectorBlend    = 0.60
	ticksPerDay    = 86400
)

// regimeMultiplier scales baseDailyVol by market regime.
var regimeMultiplier = map[domain.Regime]float64{
	domain.RegimeNormal: 1.0,
	domain.RegimeBull:   0.85,
	domain.RegimeBear:   1.2,
	domain.RegimeCrash:  2.5,
	domain.RegimeBubble: 1.6,
}

// regimeDrift is the per-tick log-return drift added by the current
// regime, on top of the idiosyncratic/sector gaussian shock.
var regimeDrift = map[domain.Regime]float64{
	domain.RegimeNormal: 0.0,
	domain.RegimeBull:   0.00003,
	domain.RegimeBear:   -0.00002,
	domain.RegimeCrash:  -0.0004,
	domain.RegimeBubble: 0.00015,
}

// Engine advances every symbol's price once per tick using a GBM step
// blended from a sector-wide shock and an idiosyncratic shock, modulated
// by the active regime.
type Engine struct {
	mu           sync.RWMutex
	rng          *rng.RNG
	prices       map[string]decimal.Decimal
	tickSizes    map[string]decimal.Decimal
	vol          map[string]float64
	sectors      map[string]string
	sectorShocks map[string]float64
	regime       domain.Regime
}

// NewEngine creates a price engine seeded from the given companies.
func NewEngine(r *rng.RNG, companies []domain.Company) *Engine {
	e := &Engine{
		rng:          r,
		prices:       make(map[string]decimal.Decimal, len(companies)),
		tickSizes:    make(map[string]decimal.Decimal, len(companies)),
		vol:          make(map[string]float64, len(companies)),
		sectors:      make(map[string]string, len(companies)),
		sectorShocks: make(map[string]float64),
		regime:       domain.RegimeNormal,
	}
	for _, c := range companies {
		e.prices[c.Symbol] = c.CurrentPrice
		e.tickSizes[c.Symbol] = decimal.NewFromFloat(0.01)
		e.vol[c.Symbol] = c.Volatility
		e.sectors[c.Symbol] = c.Sector
	}
	return e
}

// SetRegime updates the active regime, used by world.RegimePolicy.
func (e *Engine) SetRegime(r domain.Regime) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regime = r
}

// Regime returns the active regime.
func (e *Engine) Regime() domain.Regime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.regime
}

// GenerateSectorShocks produces one gaussian shock per sector. Call once
// per tick before Tick-ing individual symbols so same-sector symbols move
// together.
func (e *Engine) GenerateSectorShocks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]bool)
	for _, sec := range e.sectors {
		if seen[sec] {
			continue
		}
		seen[sec] = true
		e.sectorShocks[sec] = e.rng.Gaussian()
	}
}

// Tick advances one symbol's price by a GBM step and returns the new
// price. S(t+1) = S(t) * exp(drift + vol*Z), Z blended sectorBlend/idio,
// vol scaled by the active regime's multiplier.
func (e *Engine) Tick(symbol string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero
	}
	tickSize := e.tickSizes[symbol]
	volMult := e.vol[symbol]
	if volMult == 0 {
		volMult = 1.0
	}

	tickVol := baseDailyVol / math.Sqrt(ticksPerDay) * volMult * regimeMultiplier[e.regime]
	sectorZ := e.sectorShocks[e.sectors[symbol]]
	idioZ := e.rng.Gaussian()
	z := sectorBlend*sectorZ + (1-sectorBlend)*idioZ

	logReturn := regimeDrift[e.regime] + tickVol*z
	pf, _ := price.Float64()
	pf *= math.Exp(logReturn)

	next := decimal.NewFromFloat(pf)
	if !tickSize.IsZero() {
		units := next.Div(tickSize).Round(0)
		next = units.Mul(tickSize)
	}
	if next.LessThan(tickSize) {
		next = tickSize
	}

	e.prices[symbol] = next
	return next
}

// Price returns the current price for a symbol.
func (e *Engine) Price(symbol string) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prices[symbol]
}

// SetPrice overrides a symbol's price, used when restoring from
// persistence or applying a matched trade's last price.
func (e *Engine) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// AllPrices returns a snapshot of every tracked symbol's price.
func (e *Engine) AllPrices() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(e.prices))
	for k, v := range e.prices {
		out[k] = v
	}
	return out
}
