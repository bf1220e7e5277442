// Package retry provides the shared backoff-with-jitter and circuit
// breaker primitives used by both the webhook dispatcher (per-agent
// endpoint) and the persistence gateway's database retry profile.
package retry

import (
	"time"

	"github.com/wallstreetsim/engine/internal/rng"
)

// Profile holds the tunable constants for one retry policy.
type Profile struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction, e.g. 0.2 = ±20%
}

// WebhookProfile is the backoff policy for outbound webhook delivery.
var WebhookProfile = Profile{
	MaxRetries:   3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.1,
}

// DatabaseProfile is the backoff policy for persistence-layer writes.
var DatabaseProfile = Profile{
	MaxRetries:   2,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.2,
}

// Delay computes the backoff delay for the given attempt (0-indexed),
// jittered by ±Jitter fraction using r.
func (p Profile) Delay(attempt int, r *rng.RNG) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	jitterRange := d * p.Jitter
	d += (r.Float64()*2 - 1) * jitterRange
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
