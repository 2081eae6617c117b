package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/memory"
)

const retentionSweepInterval = time.Hour

// startRetentionJanitor deletes memory records older than retention on every
// tick until ctx is done.
func startRetentionJanitor(ctx context.Context, pruner memory.Pruner, retention, interval time.Duration, logger *zap.Logger) {
	if pruner == nil || retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = retentionSweepInterval
	}
	sweep := func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := pruner.PruneBefore(ctx, cutoff)
		if err != nil {
			logger.Warn("memory retention sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("memory retention sweep", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
		}
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		sweep()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}
