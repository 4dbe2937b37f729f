// Package metrics provides ingestion of worker resource samples.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/monitoring"
)

// ErrReadOnly is returned when the configured metrics source cannot be written.
var ErrReadOnly = errors.New("metrics source is read-only")

// Recorder stores worker samples.
type Recorder interface {
	Record(ctx context.Context, snaps ...domain.WorkerSnapshot) error
}

// Invalidator drops cached data of workers.
type Invalidator interface {
	Invalidate(ctx context.Context, workerIDs ...string) error
}

// Sample is one worker sample as sent by the monitoring pipeline. Field
// names follow the snapshot CSV columns.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	Worker         string    `json:"worker_nombre"`
	CPUTotal       float64   `json:"cpu_total"`
	CPUUsed        float64   `json:"cpu_utilizado_bd"`
	RAMTotalGB     float64   `json:"ram_total_gb"`
	RAMUsedGB      float64   `json:"ram_utilizado_bd_gb"`
	StorageTotalGB float64   `json:"storage_total_gb"`
	StorageUsedGB  float64   `json:"storage_utilizado_bd_gb"`
}

func (s Sample) validate() error {
	if s.Worker == "" {
		return fmt.Errorf("%w: worker_nombre is required", domain.ErrInvalidArgument)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", domain.ErrInvalidArgument)
	}
	for _, v := range []float64{s.CPUTotal, s.CPUUsed, s.RAMTotalGB, s.RAMUsedGB, s.StorageTotalGB, s.StorageUsedGB} {
		if v < 0 {
			return fmt.Errorf("%w: negative value for worker %s", domain.ErrInvalidArgument, s.Worker)
		}
	}
	return nil
}

func (s Sample) snapshot() domain.WorkerSnapshot {
	return domain.WorkerSnapshot{
		WorkerID:       s.Worker,
		Timestamp:      s.Timestamp.UTC(),
		CPUTotal:       s.CPUTotal,
		CPUUsed:        s.CPUUsed,
		RAMTotalGB:     s.RAMTotalGB,
		RAMUsedGB:      s.RAMUsedGB,
		StorageTotalGB: s.StorageTotalGB,
		StorageUsedGB:  s.StorageUsedGB,
	}
}

// Service ingests samples into the metrics store.
type Service struct {
	recorder    Recorder
	invalidator Invalidator
	monitor     *monitoring.Monitor
	logger      *zap.Logger
}

// NewService creates a new ingestion service. A nil recorder makes the
// service read-only; a nil invalidator skips cache invalidation.
func NewService(recorder Recorder, invalidator Invalidator, monitor *monitoring.Monitor, logger *zap.Logger) *Service {
	return &Service{
		recorder:    recorder,
		invalidator: invalidator,
		monitor:     monitor,
		logger:      logger.Named("metrics-service"),
	}
}

// Writable reports whether samples can be ingested.
func (s *Service) Writable() bool {
	return s.recorder != nil
}

// Ingest validates and stores samples. Nothing is stored when any sample
// is invalid.
func (s *Service) Ingest(ctx context.Context, samples []Sample) (int, error) {
	if s.recorder == nil {
		return 0, ErrReadOnly
	}

	snaps := make([]domain.WorkerSnapshot, 0, len(samples))
	workers := make(map[string]struct{})
	for i, sample := range samples {
		if err := sample.validate(); err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		snaps = append(snaps, sample.snapshot())
		workers[sample.Worker] = struct{}{}
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	if err := s.recorder.Record(ctx, snaps...); err != nil {
		s.logger.Error("Failed to record samples", zap.Int("samples", len(snaps)), zap.Error(err))
		return 0, err
	}

	ids := make([]string, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, ids...); err != nil {
			s.logger.Warn("Failed to invalidate cached metrics", zap.Strings("workers", ids), zap.Error(err))
		}
	}

	s.monitor.ObserveIngest(len(snaps))
	s.logger.Debug("Ingested samples", zap.Int("samples", len(snaps)), zap.Strings("workers", ids))
	return len(snaps), nil
}
