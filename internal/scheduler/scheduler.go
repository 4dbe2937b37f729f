// Package scheduler implements slice placement for the orchestration platform.
// It decides which worker, or which set of workers, should host the VMs of a
// slice based on zone policy, current free capacity and recent CPU load.
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
)

// Scheduler determines which worker(s) should host a slice.
//
// It holds no per-call state and never reserves capacity: two concurrent
// calls against the same snapshot may pick the same worker. Whoever deploys
// the plan must serialize per worker or re-check capacity before committing.
type Scheduler struct {
	metrics MetricsRepository
	zones   ZoneTable
	config  Config
	logger  *zap.Logger
}

// New creates a new Scheduler instance.
func New(metrics MetricsRepository, zones ZoneTable, config Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		metrics: metrics,
		zones:   zones,
		config:  config.withDefaults(),
		logger:  logger.With(zap.String("component", "scheduler")),
	}
}

// Zones returns the zone policy table the scheduler decides with.
func (s *Scheduler) Zones() ZoneTable {
	return s.zones
}

// Place computes a placement plan for the slice. It always returns a plan;
// failures are reported through plan.Failure and plan.Message, including
// unexpected internal faults.
//
// A single worker able to host the whole slice is preferred. Only when no
// eligible worker can, the VMs are spread with the bin packer.
func (s *Scheduler) Place(ctx context.Context, req *domain.SliceRequest) (plan *domain.PlacementPlan) {
	plan = &domain.PlacementPlan{
		Mode:        domain.ModeInfeasible,
		Assignments: map[string][]int{},
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Placement panicked", zap.Any("panic", r))
			fail(plan, domain.FailureInternal, fmt.Sprintf("internal placement error: %v", r))
		}
	}()

	if req == nil {
		fail(plan, domain.FailureInvalidRequest, "empty placement request")
		return plan
	}

	zone, fellBack, err := s.zones.Resolve(req.Zone, s.config.DefaultZone)
	if err != nil {
		s.logger.Error("Failed to resolve zone", zap.String("zone", req.Zone), zap.Error(err))
		fail(plan, domain.FailureInternal, err.Error())
		return plan
	}
	plan.Zone = zone.Name
	plan.Platform = zone.Platform
	if fellBack {
		plan.Diagnostics.ZoneFallback = true
		plan.Diagnostics.RequestedZone = req.Zone
	}

	logger := s.logger.With(
		zap.String("zone", zone.Name),
		zap.Int("vm_count", len(req.VMs)),
	)
	if fellBack {
		logger.Warn("Unknown zone, using default", zap.String("requested_zone", req.Zone))
	}
	logger.Info("Starting placement for slice")

	if len(req.VMs) == 0 {
		fail(plan, domain.FailureInvalidRequest, "the slice contains no instances")
		return plan
	}

	metrics := s.metrics
	if snap, ok := metrics.(Snapshotter); ok {
		view, err := snap.Snapshot(ctx)
		if err != nil {
			logger.Error("Failed to snapshot worker metrics", zap.Error(err))
			fail(plan, domain.FailureInternal, fmt.Sprintf("failed to read worker metrics: %v", err))
			return plan
		}
		metrics = view
	}

	// 1. Latest snapshot per pool worker (all workers for an unmapped pool)
	snapshots, err := metrics.Latest(ctx, zone.WorkerPool)
	if err != nil {
		logger.Error("Failed to read latest worker metrics", zap.Error(err))
		fail(plan, domain.FailureInternal, fmt.Sprintf("failed to read worker metrics: %v", err))
		return plan
	}
	ids := sortedIDs(snapshots)
	plan.Diagnostics.Candidates = ids

	// 2. Capacity check of the aggregate demand
	report := EvaluateFeasibility(domain.AggregateDemand(req.VMs), zone, snapshots)
	plan.Diagnostics.Feasibility = report.Results
	if report.NoData {
		logger.Warn("No metrics available for zone workers", zap.Strings("pool", zone.WorkerPool))
		fail(plan, domain.FailureDataUnavailable, fmt.Sprintf("no metrics available for the workers of zone %s", zone.Name))
		return plan
	}

	// 3. Sustained overload per worker
	var (
		packable []WorkerCapacity
		eligible []domain.CompetitionScore
		unknown  int
	)
	for _, id := range ids {
		window, err := metrics.Window(ctx, id, s.config.OverloadWindow)
		if err != nil {
			logger.Error("Failed to read worker metrics window", zap.String("worker", id), zap.Error(err))
			fail(plan, domain.FailureInternal, fmt.Sprintf("failed to read metrics window of %s: %v", id, err))
			return plan
		}
		verdict := DetectOverload(id, window, zone)
		plan.Diagnostics.Overload = append(plan.Diagnostics.Overload, verdict)

		switch verdict.State {
		case domain.OverloadUnknown:
			unknown++
			logger.Debug("Worker has no recent samples", zap.String("worker", id))
			continue
		case domain.OverloadOverloaded:
			logger.Debug("Worker is under sustained load",
				zap.String("worker", id),
				zap.Duration("longest_run", verdict.LongestRun),
				zap.Float64("threshold_cpu", verdict.ThresholdCPU),
			)
			continue
		}

		snap := snapshots[id]
		packable = append(packable, WorkerCapacity{WorkerID: id, Free: snap.Free()})

		if res, _ := report.Result(id); res.Feasible {
			eligible = append(eligible, ScoreWorker(snap))
		} else {
			logger.Debug("Worker cannot host the whole slice",
				zap.String("worker", id),
				zap.Strings("reasons", res.RejectReasons),
			)
		}
	}

	if len(packable) == 0 {
		if unknown == len(ids) {
			fail(plan, domain.FailureDataUnavailable, "no recent metrics samples for the workers of the zone")
		} else {
			fail(plan, domain.FailureInfeasible, "no worker meets the load thresholds of the zone")
		}
		logger.Warn("No eligible workers", zap.Int("candidates", len(ids)), zap.Int("unknown", unknown))
		return plan
	}

	// 4. Single-worker competition
	plan.Diagnostics.Scores = eligible
	if winners := SelectWinners(eligible, s.config.RegimeThreshold); len(winners) > 0 {
		host := winners[0]
		indices := make([]int, 0, len(req.VMs))
		for _, vm := range req.VMs {
			indices = append(indices, vm.Index)
		}
		plan.Mode = domain.ModeSingle
		plan.Assignments[host] = indices
		plan.Diagnostics.CoWinners = winners[1:]

		logger.Info("Placed slice on a single worker",
			zap.String("worker", host),
			zap.Strings("co_winners", winners[1:]),
			zap.Int("eligible", len(eligible)),
		)
		return plan
	}

	// 5. Spread across the pool
	packed := PackVMs(req.VMs, packable, zone)
	if !packed.OK {
		plan.Unassigned = packed.Unassigned
		fail(plan, domain.FailureInfeasible, "could not place the whole slice with the current constraints")
		logger.Warn("Slice does not fit the zone pool",
			zap.Int("unassigned", len(packed.Unassigned)),
			zap.Int("workers", len(packable)),
		)
		return plan
	}

	plan.Mode = domain.ModeMulti
	for worker, indices := range packed.Assignments {
		if len(indices) > 0 {
			plan.Assignments[worker] = indices
		}
	}

	logger.Info("Placed slice across workers", zap.Strings("workers", plan.Workers()))
	return plan
}

func fail(plan *domain.PlacementPlan, kind domain.FailureKind, msg string) {
	plan.Mode = domain.ModeInfeasible
	plan.Assignments = map[string][]int{}
	plan.Failure = kind
	plan.Message = msg
}

func sortedIDs(m map[string]domain.WorkerSnapshot) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
