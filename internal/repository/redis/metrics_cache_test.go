package redis

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
)

// fakeCache is an in-memory keyValueCache.
type fakeCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(v, dest)
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = v
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.data, k)
		}
	}
	return nil
}

// countingRepo counts calls to the underlying store.
type countingRepo struct {
	snaps        map[string]domain.WorkerSnapshot
	latestCalls  int
	windowCalls  int
	latestLoaded [][]string
}

func (r *countingRepo) Latest(ctx context.Context, workerIDs []string) (map[string]domain.WorkerSnapshot, error) {
	r.latestCalls++
	r.latestLoaded = append(r.latestLoaded, workerIDs)
	out := make(map[string]domain.WorkerSnapshot)
	for _, id := range workerIDs {
		if s, ok := r.snaps[id]; ok {
			out[id] = s
		}
	}
	if len(workerIDs) == 0 {
		for id, s := range r.snaps {
			out[id] = s
		}
	}
	return out, nil
}

func (r *countingRepo) Window(ctx context.Context, workerID string, window time.Duration) ([]domain.WorkerSnapshot, error) {
	r.windowCalls++
	if s, ok := r.snaps[workerID]; ok {
		return []domain.WorkerSnapshot{s}, nil
	}
	return nil, nil
}

func newCountingRepo() *countingRepo {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &countingRepo{snaps: map[string]domain.WorkerSnapshot{
		"server3": {WorkerID: "server3", Timestamp: ts, CPUTotal: 16, CPUUsed: 4},
		"server4": {WorkerID: "server4", Timestamp: ts, CPUTotal: 16, CPUUsed: 8},
	}}
}

func TestCachedMetricsRepository_Latest(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	cached := NewCachedMetricsRepository(repo, newFakeCache(), time.Minute, zap.NewNop())

	first, err := cached.Latest(ctx, []string{"server3", "server4", "ghost"})
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(first))
	}

	second, _ := cached.Latest(ctx, []string{"server3", "server4"})
	if repo.latestCalls != 1 {
		t.Errorf("Expected the second read to be served from cache, got %d store calls", repo.latestCalls)
	}
	if !second["server4"].Timestamp.Equal(first["server4"].Timestamp) || second["server4"].CPUUsed != 8 {
		t.Errorf("Cached snapshot differs: %+v", second["server4"])
	}

	// Unknown workers are never cached, so they are looked up again
	if _, err := cached.Latest(ctx, []string{"server3", "ghost"}); err != nil {
		t.Fatal(err)
	}
	if got := repo.latestLoaded[len(repo.latestLoaded)-1]; len(got) != 1 || got[0] != "ghost" {
		t.Errorf("Expected only the missing worker to be loaded, got %v", got)
	}
}

func TestCachedMetricsRepository_AllWorkersBypassesCache(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	cached := NewCachedMetricsRepository(repo, newFakeCache(), time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		all, _ := cached.Latest(ctx, nil)
		if len(all) != 2 {
			t.Fatalf("Expected every worker, got %d", len(all))
		}
	}
	if repo.latestCalls != 2 {
		t.Errorf("Expected every all-workers read to hit the store, got %d", repo.latestCalls)
	}
}

func TestCachedMetricsRepository_WindowAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	cache := newFakeCache()
	cached := NewCachedMetricsRepository(repo, cache, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		w, err := cached.Window(ctx, "server3", 10*time.Minute)
		if err != nil || len(w) != 1 {
			t.Fatalf("Window: got %v, %v", w, err)
		}
	}
	if repo.windowCalls != 1 {
		t.Errorf("Expected one store read, got %d", repo.windowCalls)
	}

	if _, err := cached.Latest(ctx, []string{"server3"}); err != nil {
		t.Fatal(err)
	}
	if err := cached.Invalidate(ctx, "server3"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if len(cache.data) != 0 {
		t.Errorf("Expected an empty cache, got keys %v", cache.data)
	}

	if _, err := cached.Window(ctx, "server3", 10*time.Minute); err != nil {
		t.Fatal(err)
	}
	if repo.windowCalls != 2 {
		t.Errorf("Expected a reload after invalidation, got %d store reads", repo.windowCalls)
	}
}

func TestCachedMetricsRepository_CacheErrorFallsThrough(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	cache := newFakeCache()
	cache.getErr = errors.New("connection refused")
	cached := NewCachedMetricsRepository(repo, cache, time.Minute, zap.NewNop())

	got, err := cached.Latest(ctx, []string{"server3"})
	if err != nil {
		t.Fatalf("Expected cache failure to be tolerated, got %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected snapshot from the store, got %v", got)
	}
}

type recordingPublisher struct {
	channel    string
	events     []Event
	err        error
	subscribed []string
}

// Subscribe replays the recorded events and closes the stream.
func (p *recordingPublisher) Subscribe(ctx context.Context, channels ...string) <-chan Event {
	p.subscribed = append(p.subscribed, channels...)
	out := make(chan Event, len(p.events))
	for _, e := range p.events {
		out <- e
	}
	close(out)
	return out
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, event Event) error {
	p.channel = channel
	p.events = append(p.events, event)
	return p.err
}

func TestPlacementEvents(t *testing.T) {
	pub := &recordingPublisher{}
	events := NewPlacementEvents(pub, "events:placement", zap.NewNop())

	if err := events.PublishPlacement(context.Background(), "req-1", true, map[string]bool{"can_deploy": true}); err != nil {
		t.Fatal(err)
	}
	if err := events.PublishPlacement(context.Background(), "req-2", false, nil); err != nil {
		t.Fatal(err)
	}

	if pub.channel != "events:placement" {
		t.Errorf("Unexpected channel %q", pub.channel)
	}
	if pub.events[0].Type != EventPlacementDecided || pub.events[0].ResourceID != "req-1" {
		t.Errorf("Unexpected first event %+v", pub.events[0])
	}
	if pub.events[1].Type != EventPlacementFailed {
		t.Errorf("Expected a failure event, got %s", pub.events[1].Type)
	}

	pub.err = errors.New("down")
	if err := events.PublishPlacement(context.Background(), "req-3", true, nil); err == nil {
		t.Error("Expected publish error to be returned")
	}
}

func TestPlacementEvents_Watch(t *testing.T) {
	pub := &recordingPublisher{}
	events := NewPlacementEvents(pub, "events:placement", zap.NewNop())
	ctx := context.Background()

	events.PublishPlacement(ctx, "req-1", true, nil)
	events.PublishPlacement(ctx, "req-2", false, nil)

	var got []string
	for e := range events.Watch(ctx) {
		got = append(got, e.Type+"/"+e.ResourceID)
	}

	want := []string{"placement.decided/req-1", "placement.failed/req-2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Watched events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"events:placement"}, pub.subscribed); diff != "" {
		t.Errorf("Subscribed channels mismatch (-want +got):\n%s", diff)
	}
}
