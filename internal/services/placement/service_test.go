package placement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/repository/etcd"
	"github.com/sliceorch/placement/internal/repository/memory"
	"github.com/sliceorch/placement/internal/scheduler"
)

// fakePlacer records the request and returns a fixed plan.
type fakePlacer struct {
	plan   *domain.PlacementPlan
	got    *domain.SliceRequest
	calls  int
	panics bool
}

func (p *fakePlacer) Place(ctx context.Context, req *domain.SliceRequest) *domain.PlacementPlan {
	p.calls++
	p.got = req
	if p.panics {
		panic("boom")
	}
	return p.plan
}

func (p *fakePlacer) Zones() scheduler.ZoneTable {
	return scheduler.DefaultZones()
}

type fakeLocker struct {
	err      error
	acquired int
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

type recordedEvent struct {
	requestID string
	ok        bool
	payload   interface{}
}

type fakeEvents struct {
	events []recordedEvent
}

func (e *fakeEvents) PublishPlacement(ctx context.Context, requestID string, ok bool, payload interface{}) error {
	e.events = append(e.events, recordedEvent{requestID, ok, payload})
	return nil
}

func newTestService(placer Placer, opts ...Option) *Service {
	s := NewService(placer, zap.NewNop(), opts...)
	s.newID = func() string { return "req-1" }
	return s
}

func decode(t *testing.T, body string) *Request {
	t.Helper()
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &req
}

func TestService_Place_EndToEnd(t *testing.T) {
	now := time.Date(2025, 11, 26, 10, 0, 0, 0, time.UTC)
	repo := memory.NewMetricsRepository(0)
	repo.SeedDemoData(now)
	sched := scheduler.New(repo, scheduler.DefaultZones(), scheduler.DefaultConfig(), zap.NewNop())

	svc := newTestService(sched)
	resp := svc.Place(context.Background(), decode(t, `{
		"zone": "uhp",
		"instancias": [
			{"nombre": "vm-a", "cpu": "2", "ram": "2GB", "storage": "10GB"},
			{"nombre": "vm-b", "cpu": 1, "ram": "512MB", "storage": "5"}
		]
	}`))

	if !resp.CanDeploy {
		t.Fatalf("Expected the slice to be deployable, got %+v", resp)
	}
	if resp.Mode != ModeSingleWorker {
		t.Errorf("Expected single-worker mode, got %q", resp.Mode)
	}
	if resp.Platform != domain.PlatformOpenStack || resp.Zone != "UHP" {
		t.Errorf("Unexpected zone %s on %s", resp.Zone, resp.Platform)
	}

	// worker1 is overloaded in the demo data, worker2 has the most headroom.
	want := []Assignment{{VMName: "vm-a", Worker: "worker2"}, {VMName: "vm-b", Worker: "worker2"}}
	if diff := cmp.Diff(want, resp.Plan); diff != "" {
		t.Errorf("Plan mismatch (-want +got):\n%s", diff)
	}
	if resp.Diagnostics == nil || len(resp.Diagnostics.Overload) != 3 {
		t.Errorf("Expected diagnostics for the three UHP workers, got %+v", resp.Diagnostics)
	}
}

func TestService_Place_ConvertsRequest(t *testing.T) {
	placer := &fakePlacer{plan: &domain.PlacementPlan{Mode: domain.ModeInfeasible, Failure: domain.FailureInfeasible}}
	svc := newTestService(placer)

	svc.Place(context.Background(), decode(t, `{
		"zonadisponibilidad": "HP",
		"instancias": [
			{"nombre": "a", "cpu": 4, "ram": "1 gb", "storage": "20GB"},
			{"nombre": "b", "cpu": "1", "ram": "lots", "storage": "huge"},
			{"nombre": "c", "cpu": "2", "ram": 2048, "storage": null}
		]
	}`))

	want := &domain.SliceRequest{
		Zone: "HP",
		VMs: []domain.VMRequest{
			{Index: 0, Name: "a", CPUCores: 4, RAMGB: 1, StorageGB: 20},
			{Index: 1, Name: "b", CPUCores: 1, RAMGB: DefaultRAMGB, StorageGB: DefaultStorageGB},
			{Index: 2, Name: "c", CPUCores: 2, RAMGB: 2048, StorageGB: DefaultStorageGB},
		},
	}
	if diff := cmp.Diff(want, placer.got); diff != "" {
		t.Errorf("Converted request mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Place_InvalidCPU(t *testing.T) {
	placer := &fakePlacer{}
	svc := newTestService(placer)

	resp := svc.Place(context.Background(), decode(t, `{"zone":"BE","instancias":[{"nombre":"a","cpu":"two","ram":"1GB","storage":"1GB"}]}`))

	if resp.CanDeploy || resp.Failure != domain.FailureInvalidRequest {
		t.Errorf("Expected invalid_request, got %+v", resp)
	}
	if resp.Error == "" || resp.Plan == nil {
		t.Errorf("Expected an error message and an empty plan, got %+v", resp)
	}
	if placer.calls != 0 {
		t.Error("Scheduler must not run for an invalid request")
	}
}

func TestService_Place_PartialPackingIsMultiWorkerFailure(t *testing.T) {
	placer := &fakePlacer{plan: &domain.PlacementPlan{
		Zone:        "HP",
		Mode:        domain.ModeInfeasible,
		Failure:     domain.FailureInfeasible,
		Message:     "could not place the whole slice with the current constraints",
		Assignments: map[string][]int{},
		Unassigned:  []domain.VMRequest{{Index: 1}},
	}}
	svc := newTestService(placer, WithDiagnostics(false))

	resp := svc.Place(context.Background(), decode(t, `{"zone":"HP","instancias":[{"nombre":"a","cpu":"1","ram":"1GB","storage":"1GB"},{"nombre":"b","cpu":"1","ram":"1GB","storage":"1GB"}]}`))

	if resp.CanDeploy {
		t.Fatal("Expected a partial packing to be reported as not deployable")
	}
	if resp.Mode != ModeMultiWorker {
		t.Errorf("Expected multi-worker mode, got %q", resp.Mode)
	}
	if len(resp.Plan) != 0 {
		t.Errorf("Expected no assignments, got %v", resp.Plan)
	}
	if resp.Error != placer.plan.Message {
		t.Errorf("Unexpected error %q", resp.Error)
	}
	if resp.Diagnostics != nil {
		t.Error("Expected diagnostics to be omitted")
	}
}

func TestService_Place_Serialized(t *testing.T) {
	locker := &fakeLocker{}
	placer := &fakePlacer{plan: &domain.PlacementPlan{Mode: domain.ModeSingle, Assignments: map[string][]int{"server2": {0}}}}
	svc := newTestService(placer, WithLocker(locker))

	resp := svc.Place(context.Background(), decode(t, `{"zone":"BE","instancias":[{"nombre":"a","cpu":"1","ram":"1GB","storage":"1GB"}]}`))
	if !resp.CanDeploy {
		t.Fatalf("Expected success, got %+v", resp)
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Errorf("Expected one acquire and one release, got %d/%d", locker.acquired, locker.released)
	}

	locker.err = errors.New("etcd unreachable")
	resp = svc.Place(context.Background(), decode(t, `{"zone":"BE","instancias":[{"nombre":"a","cpu":"1","ram":"1GB","storage":"1GB"}]}`))
	if resp.Failure != domain.FailureInternal {
		t.Errorf("Expected internal_error without the lock, got %+v", resp)
	}
	if placer.calls != 1 {
		t.Errorf("Scheduler must not run without the lock, got %d calls", placer.calls)
	}
}

// overlapPlacer detects concurrent placements.
type overlapPlacer struct {
	active  atomic.Int32
	overlap atomic.Bool
}

func (p *overlapPlacer) Place(ctx context.Context, req *domain.SliceRequest) *domain.PlacementPlan {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	time.Sleep(2 * time.Millisecond)
	p.active.Add(-1)
	return &domain.PlacementPlan{Mode: domain.ModeSingle, Assignments: map[string][]int{"server2": {0}}}
}

func (p *overlapPlacer) Zones() scheduler.ZoneTable {
	return scheduler.DefaultZones()
}

// sharedSessionLock grants every caller at once, as an etcd mutex does for
// goroutines sharing one session.
type sharedSessionLock struct{}

func (sharedSessionLock) Lock(ctx context.Context, name string) (*etcd.Lock, error) {
	return &etcd.Lock{}, nil
}

func TestService_Place_SerializesConcurrentRequests(t *testing.T) {
	placer := &overlapPlacer{}
	locker := etcd.NewMutexLocker(sharedSessionLock{}, LockName, time.Second)
	svc := newTestService(placer, WithLocker(locker))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := svc.Place(context.Background(), &Request{
				Zone:      "BE",
				Instances: []Instance{{Name: "a", CPU: "1", RAM: "1GB", Storage: "1GB"}},
			})
			if !resp.CanDeploy {
				t.Errorf("Expected success, got %+v", resp)
			}
		}()
	}
	wg.Wait()

	if placer.overlap.Load() {
		t.Error("Expected placements of one replica to run one at a time")
	}
}

func TestService_Place_RecoversFromPanic(t *testing.T) {
	locker := &fakeLocker{}
	svc := newTestService(&fakePlacer{panics: true}, WithLocker(locker))

	resp := svc.Place(context.Background(), decode(t, `{"zone":"BE","instancias":[{"nombre":"a","cpu":"1","ram":"1GB","storage":"1GB"}]}`))
	if resp.CanDeploy || resp.Failure != domain.FailureInternal {
		t.Errorf("Expected internal_error, got %+v", resp)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("Expected the request id to survive the panic, got %q", resp.RequestID)
	}
	if locker.released != 1 {
		t.Error("Expected the lock to be released after a panic")
	}
}

func TestService_Place_PublishesEvent(t *testing.T) {
	events := &fakeEvents{}
	placer := &fakePlacer{plan: &domain.PlacementPlan{Mode: domain.ModeSingle, Assignments: map[string][]int{"server2": {0}}}}
	svc := newTestService(placer, WithEvents(events))

	svc.Place(context.Background(), decode(t, `{"zone":"BE","instancias":[{"nombre":"a","cpu":"1","ram":"1GB","storage":"1GB"}]}`))

	if len(events.events) != 1 {
		t.Fatalf("Expected one event, got %d", len(events.events))
	}
	ev := events.events[0]
	if ev.requestID != "req-1" || !ev.ok {
		t.Errorf("Unexpected event %+v", ev)
	}
	payload, ok := ev.payload.(*Response)
	if !ok || payload.Diagnostics != nil {
		t.Errorf("Expected a response payload without diagnostics, got %#v", ev.payload)
	}
}

func TestService_Zones(t *testing.T) {
	svc := newTestService(&fakePlacer{})

	zones := svc.Zones()
	if len(zones) != 3 {
		t.Fatalf("Expected 3 zones, got %d", len(zones))
	}
	if zones[0].Name != "BE" || zones[2].Name != "UHP" {
		t.Errorf("Expected zones ordered by name, got %s..%s", zones[0].Name, zones[2].Name)
	}
	if zones[1].SustainedDuration != "2m0s" {
		t.Errorf("Unexpected HP sustained duration %q", zones[1].SustainedDuration)
	}
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want FlexString
	}{
		{`"2"`, "2"},
		{`2`, "2"},
		{`1.5`, "1.5"},
		{`null`, ""},
		{`"512 MB"`, "512 MB"},
	}
	for _, tt := range tests {
		var got FlexString
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Errorf("%s: unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.in, tt.want, got)
		}
	}

	var f FlexString
	if err := json.Unmarshal([]byte(`true`), &f); err == nil {
		t.Error("Expected a boolean to be rejected")
	}
}
