package world

import (
	"math"

	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/rng"
)

// RegimePolicy decides the market regime for the next tick given the
// recent history of aggregate price movement. Pluggable so a future
// scenario-scripted policy can replace the statistical default without
// touching the tick pipeline.
type RegimePolicy interface {
	// Next returns the regime that should be active for the upcoming
	// tick, given the absolute percent price changes observed across all
	// symbols on the tick just completed.
	Next(current domain.Regime, tickMoves []float64) domain.Regime
}

// RegimeWindowTicks is the rolling window size used to build the trailing
// distribution of aggregate move magnitude.
const RegimeWindowTicks = 50

// RegimeCooldownTicks is how many consecutive calm ticks (inside 1σ) are
// required before a non-normal regime reverts to normal.
const RegimeCooldownTicks = 20

// MarkovRegimePolicy is the default RegimePolicy: a Markov chain driven by
// a rolling window of aggregate price-move magnitude. Grounded on the
// teacher's engine.StressController, whose calm/active/burst phase
// controller is adapted here into five market regimes instead of three
// tick-rate phases — the shape (an intensity measure compared against
// widening thresholds, with a minimum dwell before reverting) is kept,
// the sine-wave component is dropped since regime transitions are driven
// by realized market moves, not a cosmetic timer.
type MarkovRegimePolicy struct {
	rng *rng.RNG

	window    []float64 // trailing aggregate |%change| per tick
	calmRun   int       // consecutive ticks within 1σ while non-normal
}

// NewMarkovRegimePolicy creates the default regime policy.
func NewMarkovRegimePolicy(r *rng.RNG) *MarkovRegimePolicy {
	return &MarkovRegimePolicy{rng: r}
}

// Next implements RegimePolicy.
func (p *MarkovRegimePolicy) Next(current domain.Regime, tickMoves []float64) domain.Regime {
	agg := 0.0
	for _, m := range tickMoves {
		if m < 0 {
			m = -m
		}
		agg += m
	}

	p.window = append(p.window, agg)
	if len(p.window) > RegimeWindowTicks {
		p.window = p.window[len(p.window)-RegimeWindowTicks:]
	}
	if len(p.window) < RegimeWindowTicks {
		// Not enough history yet: spec's documented default is to remain
		// in normal.
		return domain.RegimeNormal
	}

	mean, stddev := meanStddev(p.window)
	if stddev == 0 {
		return current
	}
	z := (agg - mean) / stddev

	switch {
	case z >= 3:
		p.calmRun = 0
		if p.rng.Float64() < 0.5 {
			return domain.RegimeCrash
		}
		return domain.RegimeBubble
	case z >= 1.5:
		p.calmRun = 0
		return domain.RegimeBull
	case z <= -1.5:
		p.calmRun = 0
		return domain.RegimeBear
	}

	// Inside 1σ: count toward cooldown if currently in a non-normal
	// regime, and revert once the dwell requirement is met.
	if current != domain.RegimeNormal {
		if z > -1 && z < 1 {
			p.calmRun++
			if p.calmRun >= RegimeCooldownTicks {
				p.calmRun = 0
				return domain.RegimeNormal
			}
		} else {
			p.calmRun = 0
		}
	}
	return current
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))

	return mean, math.Sqrt(variance)
}
