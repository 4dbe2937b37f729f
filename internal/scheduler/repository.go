package scheduler

import (
	"context"
	"time"

	"github.com/sliceorch/placement/internal/domain"
)

// MetricsRepository is the read-only view of the worker metrics time series
// the scheduler decides on. Missing data is an empty result, not an error.
type MetricsRepository interface {
	// Latest returns the most recent sample of each requested worker.
	// An empty workerIDs slice selects every worker with data.
	Latest(ctx context.Context, workerIDs []string) (map[string]domain.WorkerSnapshot, error)

	// Window returns the samples of one worker taken within window of that
	// worker's own latest sample, in ascending timestamp order.
	Window(ctx context.Context, workerID string, window time.Duration) ([]domain.WorkerSnapshot, error)
}

// Snapshotter is implemented by repositories whose backing data can change
// between two reads. The scheduler takes one snapshot per placement so the
// latest samples and the overload windows come from the same data.
type Snapshotter interface {
	Snapshot(ctx context.Context) (MetricsRepository, error)
}
