package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/scheduler"
)

// Ensure MetricsRepository implements scheduler.MetricsRepository
var _ scheduler.MetricsRepository = (*MetricsRepository)(nil)

// MetricsRepository reads and writes the worker_metrics time series.
type MetricsRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewMetricsRepository creates a new PostgreSQL metrics repository.
func NewMetricsRepository(db *DB, logger *zap.Logger) *MetricsRepository {
	return &MetricsRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "worker_metrics")),
	}
}

const snapshotColumns = `worker_id, recorded_at, cpu_total, cpu_used,
	ram_total_gb, ram_used_gb, storage_total_gb, storage_used_gb`

// Record appends samples in a single batch. Samples already stored for the
// same worker and timestamp are replaced.
func (r *MetricsRepository) Record(ctx context.Context, snaps ...domain.WorkerSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	query := `
		INSERT INTO worker_metrics (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (worker_id, recorded_at) DO UPDATE SET
			cpu_total = EXCLUDED.cpu_total,
			cpu_used = EXCLUDED.cpu_used,
			ram_total_gb = EXCLUDED.ram_total_gb,
			ram_used_gb = EXCLUDED.ram_used_gb,
			storage_total_gb = EXCLUDED.storage_total_gb,
			storage_used_gb = EXCLUDED.storage_used_gb
	`

	batch := &pgx.Batch{}
	for _, s := range snaps {
		if s.WorkerID == "" {
			return fmt.Errorf("%w: sample without worker id", domain.ErrInvalidArgument)
		}
		batch.Queue(query,
			s.WorkerID, s.Timestamp.UTC(), s.CPUTotal, s.CPUUsed,
			s.RAMTotalGB, s.RAMUsedGB, s.StorageTotalGB, s.StorageUsedGB,
		)
	}

	if err := r.db.pool.SendBatch(ctx, batch).Close(); err != nil {
		r.logger.Error("Failed to record worker metrics", zap.Int("samples", len(snaps)), zap.Error(err))
		return fmt.Errorf("failed to record worker metrics: %w", err)
	}

	r.logger.Debug("Recorded worker metrics", zap.Int("samples", len(snaps)))
	return nil
}

// Latest returns the most recent sample of each requested worker. An empty
// list selects every worker.
func (r *MetricsRepository) Latest(ctx context.Context, workerIDs []string) (map[string]domain.WorkerSnapshot, error) {
	query := `
		SELECT DISTINCT ON (worker_id) ` + snapshotColumns + `
		FROM worker_metrics
		WHERE cardinality($1::text[]) = 0 OR worker_id = ANY($1::text[])
		ORDER BY worker_id, recorded_at DESC
	`

	ids := workerIDs
	if ids == nil {
		ids = []string{}
	}

	rows, err := r.db.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest worker metrics: %w", err)
	}
	snaps, err := collectSnapshots(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.WorkerSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.WorkerID] = s
	}
	return out, nil
}

// Window returns the worker's samples within window of its own latest
// sample, oldest first.
func (r *MetricsRepository) Window(ctx context.Context, workerID string, window time.Duration) ([]domain.WorkerSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM worker_metrics
		WHERE worker_id = $1
		  AND recorded_at >= (
			SELECT max(recorded_at) FROM worker_metrics WHERE worker_id = $1
		  ) - $2::interval
		ORDER BY recorded_at ASC
	`

	rows, err := r.db.pool.Query(ctx, query, workerID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics window of %s: %w", workerID, err)
	}
	return collectSnapshots(rows)
}

// Prune deletes samples older than the cutoff and reports how many were removed.
func (r *MetricsRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM worker_metrics WHERE recorded_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune worker metrics: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Info("Pruned worker metrics", zap.Int64("rows", n), zap.Time("before", before))
	}
	return tag.RowsAffected(), nil
}

func collectSnapshots(rows pgx.Rows) ([]domain.WorkerSnapshot, error) {
	snaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WorkerSnapshot, error) {
		var s domain.WorkerSnapshot
		err := row.Scan(
			&s.WorkerID, &s.Timestamp, &s.CPUTotal, &s.CPUUsed,
			&s.RAMTotalGB, &s.RAMUsedGB, &s.StorageTotalGB, &s.StorageUsedGB,
		)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan worker metrics: %w", err)
	}
	return snaps, nil
}
