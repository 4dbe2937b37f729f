package scheduler

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sliceorch/placement/internal/domain"
)

func packZone(cpu, ram, storage float64) domain.ZoneProfile {
	return domain.ZoneProfile{
		Name: "P", CPUFactor: cpu, RAMFactor: ram, StorageFactor: storage,
		CPUThresholdPct: 80, SustainedDuration: 1,
	}
}

func TestPackVMs_ExactFit(t *testing.T) {
	zone := packZone(2, 1, 1)
	vms := []domain.VMRequest{
		{Index: 0, Name: "a", CPUCores: 2, RAMGB: 1, StorageGB: 10},
		{Index: 1, Name: "b", CPUCores: 2, RAMGB: 2, StorageGB: 10},
		{Index: 2, Name: "c", CPUCores: 4, RAMGB: 1, StorageGB: 20},
	}
	workers := []WorkerCapacity{{WorkerID: "w", Free: domain.Resources{CPU: 4, RAMGB: 4, StorageGB: 40}}}

	result := PackVMs(vms, workers, zone)
	if !result.OK {
		t.Fatalf("Expected every VM to fit, unassigned %v", result.Unassigned)
	}
	if diff := cmp.Diff(map[string][]int{"w": {2, 0, 1}}, result.Assignments); diff != "" {
		t.Errorf("Assignments mismatch (-want +got):\n%s", diff)
	}
	if got := result.Remaining["w"]; got != (domain.Resources{}) {
		t.Errorf("Expected no capacity left, got %+v", got)
	}
}

func TestPackVMs_WorkerOrder(t *testing.T) {
	zone := packZone(1, 1, 1)
	vms := []domain.VMRequest{{Index: 0, CPUCores: 1, RAMGB: 1, StorageGB: 1}}
	workers := []WorkerCapacity{
		{WorkerID: "small", Free: domain.Resources{CPU: 2, RAMGB: 8, StorageGB: 8}},
		{WorkerID: "b-big", Free: domain.Resources{CPU: 6, RAMGB: 8, StorageGB: 8}},
		{WorkerID: "a-big", Free: domain.Resources{CPU: 6, RAMGB: 8, StorageGB: 8}},
	}

	result := PackVMs(vms, workers, zone)
	if diff := cmp.Diff(map[string][]int{"a-big": {0}}, result.Assignments); diff != "" {
		t.Errorf("Expected the largest worker first, ties by id (-want +got):\n%s", diff)
	}
}

func TestPackVMs_CapacityNeverNegative(t *testing.T) {
	zone := packZone(5, 1.3, 1)
	var vms []domain.VMRequest
	for i := 0; i < 12; i++ {
		vms = append(vms, domain.VMRequest{
			Index:     i,
			CPUCores:  1 + i%4,
			RAMGB:     float64(1 + i%3),
			StorageGB: float64(5 * (1 + i%2)),
		})
	}
	workers := []WorkerCapacity{
		{WorkerID: "server3", Free: domain.Resources{CPU: 2, RAMGB: 6, StorageGB: 30}},
		{WorkerID: "server4", Free: domain.Resources{CPU: 1.5, RAMGB: 4, StorageGB: 20}},
	}

	result := PackVMs(vms, workers, zone)

	placed := 0
	for id, indices := range result.Assignments {
		var used domain.Resources
		for _, idx := range indices {
			used = used.Add(zone.Effective(vms[idx].Resources()))
			placed++
		}
		var free domain.Resources
		for _, w := range workers {
			if w.WorkerID == id {
				free = w.Free
			}
		}
		if !used.Fits(free) {
			t.Errorf("Worker %s over-committed: used %+v of %+v", id, used, free)
		}
		rem := result.Remaining[id]
		if rem.CPU < -1e-9 || rem.RAMGB < -1e-9 || rem.StorageGB < -1e-9 {
			t.Errorf("Worker %s has negative remaining capacity %+v", id, rem)
		}
	}
	if placed+len(result.Unassigned) != len(vms) {
		t.Errorf("Expected every VM placed or unassigned once, got %d + %d", placed, len(result.Unassigned))
	}
	if result.OK != (len(result.Unassigned) == 0) {
		t.Errorf("OK=%v disagrees with %d unassigned", result.OK, len(result.Unassigned))
	}
}

func TestPackVMs_NoWorkers(t *testing.T) {
	vms := []domain.VMRequest{{Index: 0, CPUCores: 1}, {Index: 1, CPUCores: 3}}

	result := PackVMs(vms, nil, packZone(1, 1, 1))
	if result.OK {
		t.Fatal("Expected packing without workers to fail")
	}
	if len(result.Unassigned) != 2 || result.Unassigned[0].Index != 1 {
		t.Errorf("Expected unassigned VMs largest first, got %+v", result.Unassigned)
	}
}

func TestPackVMs_ExactFitEveryDefaultZone(t *testing.T) {
	vms := []domain.VMRequest{
		{Index: 0, Name: "a", CPUCores: 1, RAMGB: 1, StorageGB: 1},
		{Index: 1, Name: "b", CPUCores: 1, RAMGB: 1, StorageGB: 1},
		{Index: 2, Name: "c", CPUCores: 1, RAMGB: 1, StorageGB: 1},
	}

	for _, zone := range DefaultZones().Profiles() {
		t.Run(zone.Name, func(t *testing.T) {
			var free domain.Resources
			for _, vm := range vms {
				free = free.Add(zone.Effective(vm.Resources()))
			}
			workers := []WorkerCapacity{{WorkerID: "w", Free: free}}

			result := PackVMs(vms, workers, zone)
			if !result.OK {
				t.Fatalf("Expected the slice to fill the worker exactly, free %+v unassigned %v remaining %+v",
					free, result.Unassigned, result.Remaining["w"])
			}
			if got := result.Remaining["w"]; got != (domain.Resources{}) {
				t.Errorf("Expected no capacity left, got %+v", got)
			}
		})
	}
}

func TestPackVMs_RejectsRealShortfall(t *testing.T) {
	zone, _ := DefaultZones().Get("UHP")
	vm := domain.VMRequest{Index: 0, CPUCores: 2, RAMGB: 1.1, StorageGB: 1}
	eff := zone.Effective(vm.Resources())
	workers := []WorkerCapacity{{WorkerID: "w", Free: domain.Resources{
		CPU: eff.CPU, RAMGB: eff.RAMGB - 1e-6, StorageGB: eff.StorageGB,
	}}}

	if result := PackVMs([]domain.VMRequest{vm}, workers, zone); result.OK {
		t.Error("Expected a VM short by a micro-GB of ram to stay unassigned")
	}
}
