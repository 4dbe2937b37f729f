package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes samples older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RunRetention prunes samples older than retention every interval until ctx
// is done. Prune failures are logged and retried on the next tick.
func RunRetention(ctx context.Context, pruner Pruner, retention, interval time.Duration, logger *zap.Logger) error {
	logger = logger.With(zap.String("component", "metrics-retention"))
	if retention <= 0 {
		logger.Info("Metrics retention disabled")
		return nil
	}
	if interval <= 0 {
		interval = retention / 4
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Metrics retention started",
		zap.Duration("retention", retention),
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Metrics retention stopped")
			return nil
		case now := <-ticker.C:
			deleted, err := pruner.Prune(ctx, now.Add(-retention))
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("Failed to prune metrics samples", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Debug("Pruned metrics samples", zap.Int64("deleted", deleted))
			}
		}
	}
}
