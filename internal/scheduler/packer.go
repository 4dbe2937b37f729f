package scheduler

import (
	"sort"

	"github.com/sliceorch/placement/internal/domain"
)

// WorkerCapacity is the free capacity of one worker offered to the packer.
type WorkerCapacity struct {
	WorkerID string
	Free     domain.Resources
}

// PackResult is the outcome of a bin-packing pass.
type PackResult struct {
	// OK is true when every VM was placed.
	OK          bool
	Assignments map[string][]int
	Unassigned  []domain.VMRequest
	// Remaining is the capacity left on each worker after the pass.
	Remaining map[string]domain.Resources
}

// PackVMs spreads VMs over workers with a single first-fit-decreasing pass.
// Workers are visited by free CPU descending and each is filled with every
// still unplaced VM that fits, largest CPU request first. A VM is only
// placed where its zone-effective requirement fits the worker's remaining
// capacity. There is no backtracking.
func PackVMs(vms []domain.VMRequest, workers []WorkerCapacity, zone domain.ZoneProfile) PackResult {
	result := PackResult{
		Assignments: make(map[string][]int),
		Remaining:   make(map[string]domain.Resources, len(workers)),
	}

	ordered := append([]WorkerCapacity(nil), workers...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Free.CPU != ordered[j].Free.CPU {
			return ordered[i].Free.CPU > ordered[j].Free.CPU
		}
		return ordered[i].WorkerID < ordered[j].WorkerID
	})
	for _, w := range ordered {
		result.Remaining[w.WorkerID] = w.Free
	}

	pending := append([]domain.VMRequest(nil), vms...)
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].CPUCores != pending[j].CPUCores {
			return pending[i].CPUCores > pending[j].CPUCores
		}
		return pending[i].Index < pending[j].Index
	})

	for _, w := range ordered {
		if len(pending) == 0 {
			break
		}
		remaining := result.Remaining[w.WorkerID]

		var next []domain.VMRequest
		for _, vm := range pending {
			eff := zone.Effective(vm.Resources())
			if eff.Fits(remaining) {
				result.Assignments[w.WorkerID] = append(result.Assignments[w.WorkerID], vm.Index)
				remaining = remaining.Sub(eff).Settle()
				continue
			}
			next = append(next, vm)
		}

		result.Remaining[w.WorkerID] = remaining
		pending = next
	}

	result.Unassigned = pending
	result.OK = len(pending) == 0
	return result
}
