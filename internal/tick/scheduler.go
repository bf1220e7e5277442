package tick

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Mode selects how the scheduler advances the simulation clock.
type Mode string

const (
	// ModeDriven advances one tick every interval in real time.
	ModeDriven Mode = "driven"
	// ModeStepped only advances on an explicit Step call, used by tests
	// and by an operator/replay tool driving the clock by hand.
	ModeStepped Mode = "stepped"
)

// Scheduler drives a Pipeline's RunTick either on a real-time ticker or
// on-demand. Grounded on the teacher's cmd/feedsim/main.go symbolRunner
// loop shape (ticker + context-cancellation select), collapsed from one
// goroutine per symbol into one goroutine for the whole simulation clock.
type Scheduler struct {
	Pipeline *Pipeline
	Mode     Mode
	Interval time.Duration
	Log      *zap.Logger
}

// NewScheduler creates a Scheduler. interval is only used in ModeDriven.
func NewScheduler(p *Pipeline, mode Mode, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{Pipeline: p, Mode: mode, Interval: interval, Log: log}
}

// Run blocks, advancing the clock until ctx is cancelled. In ModeStepped
// it only waits for cancellation — ticks are advanced via Step.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Mode == ModeStepped {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Pipeline.RunTick(ctx); err != nil && s.Log != nil {
				s.Log.Error("tick: pipeline run failed", zap.Error(err))
			}
		}
	}
}

// Step advances the clock by exactly one tick, for ModeStepped operation
// (tests, replay tooling, operator-issued advance commands).
func (s *Scheduler) Step(ctx context.Context) error {
	return s.Pipeline.RunTick(ctx)
}
