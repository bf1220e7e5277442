package retry

import (
	"fmt"
	"sync"
	"time"
)

// State is a circuit breaker's current state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// CircuitBreaker is a mutex-guarded trip/reset state machine, one per
// monitored target (a webhook endpoint, or a database collection).
// Grounded in shape on web3guy0-polybot/risk/circuit_breaker.go — that
// file's P&L-drawdown trip condition is domain-specific and not reused;
// only the trip/reset/half-open mutex-guarded shape carries over, with the
// trip condition generalized to "N consecutive failures" instead of a
// loss-percentage threshold.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	openDuration     time.Duration

	state             State
	consecutiveFails  int
	consecutiveOK     int
	openedAt          time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and stays open for openDuration before allowing
// half-open probes. Closing from HalfOpen requires successThreshold
// consecutive successful probes; a single failure in HalfOpen reopens it
// immediately.
func NewCircuitBreaker(failureThreshold, successThreshold int, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openDuration:     openDuration,
		state:            Closed,
	}
}

// CircuitOpenError is returned by callers that consult Allow and find the
// breaker open; msUntilRetry tells the caller how long to wait before the
// next probe becomes possible.
type CircuitOpenError struct {
	MsUntilRetry int64
}

func (e CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open, retry in %dms", e.MsUntilRetry)
}

// Allow reports whether a call should be attempted right now, transitioning
// Open -> HalfOpen once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.openedAt) >= cb.openDuration {
			cb.state = HalfOpen
			cb.consecutiveOK = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	}
	return true
}

// MsUntilRetry reports how long until an Open breaker allows its next
// probe, for populating CircuitOpenError.
func (cb *CircuitBreaker) MsUntilRetry() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != Open {
		return 0
	}
	remaining := cb.openDuration - time.Since(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// RecordSuccess registers a successful call. In HalfOpen, the breaker only
// closes after successThreshold consecutive successes; elsewhere it simply
// clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0

	if cb.state == HalfOpen {
		cb.consecutiveOK++
		if cb.consecutiveOK >= cb.successThreshold {
			cb.reset()
		}
		return
	}
	cb.state = Closed
}

// RecordFailure increments the failure count and trips the breaker open
// once the threshold is reached (or immediately, from HalfOpen).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == HalfOpen {
		cb.trip()
		return
	}
	cb.consecutiveFails++
	if cb.consecutiveFails >= cb.failureThreshold {
		cb.trip()
	}
}

// Trip forces the breaker open immediately, bypassing the failure count.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip()
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
}

func (cb *CircuitBreaker) trip() {
	cb.state = Open
	cb.openedAt = time.Now()
	cb.consecutiveFails = 0
	cb.consecutiveOK = 0
}

func (cb *CircuitBreaker) reset() {
	cb.state = Closed
	cb.consecutiveFails = 0
	cb.consecutiveOK = 0
}

// CurrentState returns the breaker's current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
