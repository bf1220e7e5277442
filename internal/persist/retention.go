package persist

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRetention periodically deletes tick event records older than the hot
// retention horizon (SPEC_FULL.md Open Question: 10,000 ticks). Blocks
// until ctx is cancelled. Pass retentionTicks <= 0 to disable. Grounded on
// teacher's internal/persist/retention.go's ticker-driven prune loop,
// retargeted from calendar-day trade pruning to tick-count tick-event
// pruning, and from log.Printf to zap.
func RunRetention(ctx context.Context, gw Gateway, currentTick func() uint64, retentionTicks uint64, logger *zap.Logger) {
	if retentionTicks == 0 {
		logger.Info("tick event retention disabled (keep forever)")
		return
	}

	interval := 5 * time.Minute
	logger.Info("tick event retention active",
		zap.Uint64("retentionTicks", retentionTicks),
		zap.Duration("interval", interval))

	pruneTickEvents(ctx, gw, currentTick(), retentionTicks, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneTickEvents(ctx, gw, currentTick(), retentionTicks, logger)
		}
	}
}

func pruneTickEvents(ctx context.Context, gw Gateway, tick uint64, retentionTicks uint64, logger *zap.Logger) {
	if tick <= retentionTicks {
		return
	}
	cutoff := tick - retentionTicks
	if err := gw.DeleteTickEventRecordsBefore(ctx, cutoff); err != nil {
		logger.Warn("tick event retention prune failed", zap.Error(err))
		return
	}
	logger.Debug("tick event retention pruned", zap.Uint64("cutoffTick", cutoff))
}
