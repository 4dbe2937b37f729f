// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/scheduler"
)

// Ensure MetricsRepository implements scheduler.MetricsRepository
var _ scheduler.MetricsRepository = (*MetricsRepository)(nil)

// MetricsRepository is an in-memory time series of worker snapshots.
type MetricsRepository struct {
	mu   sync.RWMutex
	data map[string][]domain.WorkerSnapshot

	// retention bounds the history kept per worker. Zero keeps everything.
	retention time.Duration
}

// NewMetricsRepository creates a new in-memory metrics repository.
func NewMetricsRepository(retention time.Duration) *MetricsRepository {
	return &MetricsRepository{
		data:      make(map[string][]domain.WorkerSnapshot),
		retention: retention,
	}
}

// Record stores samples, keeping each worker's series in timestamp order.
func (r *MetricsRepository) Record(ctx context.Context, snaps ...domain.WorkerSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range snaps {
		if s.WorkerID == "" {
			return fmt.Errorf("%w: sample without worker id", domain.ErrInvalidArgument)
		}
	}

	touched := make(map[string]struct{})
	for _, s := range snaps {
		r.data[s.WorkerID] = append(r.data[s.WorkerID], s)
		touched[s.WorkerID] = struct{}{}
	}

	for id := range touched {
		rows := r.data[id]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
		if r.retention > 0 {
			cutoff := rows[len(rows)-1].Timestamp.Add(-r.retention)
			first := sort.Search(len(rows), func(i int) bool { return !rows[i].Timestamp.Before(cutoff) })
			rows = append([]domain.WorkerSnapshot(nil), rows[first:]...)
		}
		r.data[id] = rows
	}

	return nil
}

// Latest returns the most recent sample of each requested worker. Workers
// without samples are absent from the result. An empty list means every
// known worker.
func (r *MetricsRepository) Latest(ctx context.Context, workerIDs []string) (map[string]domain.WorkerSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := workerIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(r.data))
		for id := range r.data {
			ids = append(ids, id)
		}
	}

	out := make(map[string]domain.WorkerSnapshot, len(ids))
	for _, id := range ids {
		rows := r.data[id]
		if len(rows) == 0 {
			continue
		}
		out[id] = rows[len(rows)-1]
	}
	return out, nil
}

// Window returns the worker's samples no older than window before its own
// latest sample, in ascending order.
func (r *MetricsRepository) Window(ctx context.Context, workerID string, window time.Duration) ([]domain.WorkerSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.data[workerID]
	if len(rows) == 0 {
		return nil, nil
	}

	start := rows[len(rows)-1].Timestamp.Add(-window)
	first := sort.Search(len(rows), func(i int) bool { return !rows[i].Timestamp.Before(start) })

	return append([]domain.WorkerSnapshot(nil), rows[first:]...), nil
}

// Workers returns the ids of every worker with samples, sorted.
func (r *MetricsRepository) Workers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.data))
	for id := range r.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SeedDemoData fills the repository with ten minutes of samples for the
// workers of the default zones, ending at now. worker1 is kept over 70%
// CPU for the whole period.
func (r *MetricsRepository) SeedDemoData(now time.Time) {
	type host struct {
		id                     string
		cpu, ram, storage      float64
		cpuUsed, ramUsed, disk float64
	}
	hosts := []host{
		{"server2", 32, 64, 1000, 6, 20, 300},
		{"server3", 16, 64, 500, 4, 24, 200},
		{"server4", 16, 64, 500, 6, 16, 120},
		{"worker1", 16, 64, 500, 13, 40, 250},
		{"worker2", 16, 64, 500, 4, 12, 100},
		{"worker3", 16, 64, 500, 6, 30, 350},
	}

	const (
		samples = 20
		step    = 30 * time.Second
	)
	var snaps []domain.WorkerSnapshot
	for _, h := range hosts {
		for i := 0; i < samples; i++ {
			// Small deterministic wobble so the series is not flat.
			wobble := float64(i%3) * 0.25
			snaps = append(snaps, domain.WorkerSnapshot{
				WorkerID:       h.id,
				Timestamp:      now.Add(-time.Duration(samples-1-i) * step),
				CPUTotal:       h.cpu,
				CPUUsed:        h.cpuUsed + wobble,
				RAMTotalGB:     h.ram,
				RAMUsedGB:      h.ramUsed,
				StorageTotalGB: h.storage,
				StorageUsedGB:  h.disk,
			})
		}
	}

	_ = r.Record(context.Background(), snaps...)
}
