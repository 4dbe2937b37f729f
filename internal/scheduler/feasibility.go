package scheduler

import (
	"fmt"
	"sort"

	"github.com/sliceorch/placement/internal/domain"
)

// FeasibilityReport is the evaluator output for one candidate pool.
type FeasibilityReport struct {
	// NoData is set when none of the candidates had a snapshot. It is
	// distinct from every candidate being rejected.
	NoData  bool
	Demand  domain.Resources
	Results []domain.FeasibilityResult
}

// Feasible returns the ids of workers that can host the whole slice.
func (r FeasibilityReport) Feasible() []string {
	var ids []string
	for _, res := range r.Results {
		if res.Feasible {
			ids = append(ids, res.WorkerID)
		}
	}
	return ids
}

// Result returns the verdict of one worker.
func (r FeasibilityReport) Result(workerID string) (domain.FeasibilityResult, bool) {
	for _, res := range r.Results {
		if res.WorkerID == workerID {
			return res, true
		}
	}
	return domain.FeasibilityResult{}, false
}

// EvaluateFeasibility checks the aggregate demand of a slice, scaled by the
// zone factors, against the free capacity of every snapshot. A worker is
// feasible only when cpu, ram and storage all fit.
func EvaluateFeasibility(demand domain.Resources, zone domain.ZoneProfile, snapshots map[string]domain.WorkerSnapshot) FeasibilityReport {
	report := FeasibilityReport{Demand: demand}
	if len(snapshots) == 0 {
		report.NoData = true
		return report
	}

	effective := zone.Effective(demand)

	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		free := snapshots[id].Free()
		res := domain.FeasibilityResult{
			WorkerID:      id,
			Effective:     effective,
			Free:          free,
			AcceptReasons: []string{},
			RejectReasons: []string{},
		}

		checks := []struct {
			name     string
			unit     string
			required float64
			free     float64
		}{
			{"CPU", "", effective.CPU, free.CPU},
			{"RAM", "GB", effective.RAMGB, free.RAMGB},
			{"Storage", "GB", effective.StorageGB, free.StorageGB},
		}
		for _, c := range checks {
			if domain.WithinCapacity(c.required, c.free) {
				res.AcceptReasons = append(res.AcceptReasons,
					fmt.Sprintf("%s sufficient: required=%.2f%s free=%.2f%s", c.name, c.required, c.unit, c.free, c.unit))
			} else {
				res.RejectReasons = append(res.RejectReasons,
					fmt.Sprintf("%s insufficient: required=%.2f%s free=%.2f%s", c.name, c.required, c.unit, c.free, c.unit))
			}
		}
		res.Feasible = len(res.RejectReasons) == 0

		report.Results = append(report.Results, res)
	}

	return report
}
