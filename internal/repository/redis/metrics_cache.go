package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/scheduler"
)

// Ensure CachedMetricsRepository implements scheduler.MetricsRepository
var _ scheduler.MetricsRepository = (*CachedMetricsRepository)(nil)

// keyValueCache is the subset of Cache the metrics decorator needs.
type keyValueCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// CachedMetricsRepository is a read-through cache in front of another
// metrics repository. Cache failures are logged and fall through to the
// underlying store.
type CachedMetricsRepository struct {
	next   scheduler.MetricsRepository
	cache  keyValueCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedMetricsRepository wraps next with a cache whose entries live for ttl.
func NewCachedMetricsRepository(next scheduler.MetricsRepository, cache keyValueCache, ttl time.Duration, logger *zap.Logger) *CachedMetricsRepository {
	return &CachedMetricsRepository{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "metrics-cache")),
	}
}

func latestKey(workerID string) string {
	return fmt.Sprintf("metrics:latest:%s", workerID)
}

func windowKey(workerID string, window time.Duration) string {
	return fmt.Sprintf("metrics:window:%s:%d", workerID, int64(window/time.Second))
}

// Latest serves cached snapshots and loads the missing ones. The "all
// workers" query is never cached since its key set is unknown.
func (r *CachedMetricsRepository) Latest(ctx context.Context, workerIDs []string) (map[string]domain.WorkerSnapshot, error) {
	if len(workerIDs) == 0 {
		return r.next.Latest(ctx, workerIDs)
	}

	out := make(map[string]domain.WorkerSnapshot, len(workerIDs))
	var missing []string
	for _, id := range workerIDs {
		var snap domain.WorkerSnapshot
		err := r.cache.Get(ctx, latestKey(id), &snap)
		if err == nil {
			out[id] = snap
			continue
		}
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn("Failed to read cached snapshot", zap.String("worker", id), zap.Error(err))
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := r.next.Latest(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, snap := range loaded {
		out[id] = snap
		if err := r.cache.Set(ctx, latestKey(id), snap, r.ttl); err != nil {
			r.logger.Warn("Failed to cache snapshot", zap.String("worker", id), zap.Error(err))
		}
	}
	return out, nil
}

// Window serves a cached window or loads and caches it.
func (r *CachedMetricsRepository) Window(ctx context.Context, workerID string, window time.Duration) ([]domain.WorkerSnapshot, error) {
	key := windowKey(workerID, window)

	var snaps []domain.WorkerSnapshot
	err := r.cache.Get(ctx, key, &snaps)
	if err == nil {
		return snaps, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn("Failed to read cached window", zap.String("worker", workerID), zap.Error(err))
	}

	snaps, err = r.next.Window(ctx, workerID, window)
	if err != nil {
		return nil, err
	}
	if len(snaps) > 0 {
		if err := r.cache.Set(ctx, key, snaps, r.ttl); err != nil {
			r.logger.Warn("Failed to cache window", zap.String("worker", workerID), zap.Error(err))
		}
	}
	return snaps, nil
}

// Invalidate drops every cached entry of the given workers.
func (r *CachedMetricsRepository) Invalidate(ctx context.Context, workerIDs ...string) error {
	keys := make([]string, 0, len(workerIDs))
	for _, id := range workerIDs {
		keys = append(keys, latestKey(id))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate snapshots: %w", err)
	}
	for _, id := range workerIDs {
		if err := r.cache.DeletePattern(ctx, fmt.Sprintf("metrics:window:%s:*", id)); err != nil {
			return fmt.Errorf("failed to invalidate windows of %s: %w", id, err)
		}
	}
	return nil
}
