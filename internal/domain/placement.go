package domain

import (
	"sort"
	"time"
)

// FeasibilityResult is the capacity verdict of one worker for a whole slice.
type FeasibilityResult struct {
	WorkerID      string    `json:"worker_id"`
	Feasible      bool      `json:"feasible"`
	AcceptReasons []string  `json:"accept_reasons"`
	RejectReasons []string  `json:"reject_reasons"`
	Effective     Resources `json:"effective"`
	Free          Resources `json:"free"`
}

// OverloadState is the outcome of sustained-load analysis.
type OverloadState string

const (
	OverloadOK         OverloadState = "ok"
	OverloadOverloaded OverloadState = "overloaded"
	// OverloadUnknown means no samples; it is never treated as safe.
	OverloadUnknown OverloadState = "unknown"
)

// OverloadVerdict is the sustained-load verdict of one worker.
type OverloadVerdict struct {
	WorkerID     string        `json:"worker_id"`
	State        OverloadState `json:"state"`
	ThresholdCPU float64       `json:"threshold_cpu"`
	LongestRun   time.Duration `json:"longest_run"`
	Samples      int           `json:"samples"`
}

// CompetitionScore holds the free-resource ratios and scores of one worker.
type CompetitionScore struct {
	WorkerID       string  `json:"worker_id"`
	CPURatio       float64 `json:"cpu_ratio"`
	RAMRatio       float64 `json:"ram_ratio"`
	StorageRatio   float64 `json:"storage_ratio"`
	BottleneckA    float64 `json:"bottleneck_ratio"`
	BalancePenalty float64 `json:"balance_penalty"`
	Score          float64 `json:"score"`
}

// PlacementMode is the terminal state of a placement decision.
type PlacementMode string

const (
	ModeSingle     PlacementMode = "single"
	ModeMulti      PlacementMode = "multi"
	ModeInfeasible PlacementMode = "infeasible"
)

// FailureKind classifies why a placement could not be produced.
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureDataUnavailable FailureKind = "data_unavailable"
	FailureInfeasible      FailureKind = "infeasible"
	FailureInvalidRequest  FailureKind = "invalid_request"
	FailureInternal        FailureKind = "internal_error"
)

// Diagnostics carries the per-worker trail behind a decision.
type Diagnostics struct {
	// ZoneFallback is set when the requested zone was unknown and the
	// default zone was used instead.
	ZoneFallback  bool                `json:"zone_fallback,omitempty"`
	RequestedZone string              `json:"requested_zone,omitempty"`
	Candidates    []string            `json:"candidates"`
	Feasibility   []FeasibilityResult `json:"feasibility"`
	Overload      []OverloadVerdict   `json:"overload"`
	Scores        []CompetitionScore  `json:"scores,omitempty"`
	CoWinners     []string            `json:"co_winners,omitempty"`
}

// PlacementPlan is the answer of the placement engine.
type PlacementPlan struct {
	Zone        string           `json:"zone"`
	Platform    Platform         `json:"platform"`
	Mode        PlacementMode    `json:"mode"`
	Assignments map[string][]int `json:"assignments"`
	Unassigned  []VMRequest      `json:"unassigned,omitempty"`
	Failure     FailureKind      `json:"failure,omitempty"`
	Message     string           `json:"message,omitempty"`
	Diagnostics Diagnostics      `json:"diagnostics"`
}

// OK reports whether the plan places the whole slice.
func (p *PlacementPlan) OK() bool {
	return p.Mode == ModeSingle || p.Mode == ModeMulti
}

// WorkerFor returns the worker assigned to the VM at index, if any.
func (p *PlacementPlan) WorkerFor(index int) (string, bool) {
	for worker, indices := range p.Assignments {
		for _, i := range indices {
			if i == index {
				return worker, true
			}
		}
	}
	return "", false
}

// Workers returns the ids of workers that received at least one VM, sorted.
func (p *PlacementPlan) Workers() []string {
	var out []string
	for worker, indices := range p.Assignments {
		if len(indices) > 0 {
			out = append(out, worker)
		}
	}
	sort.Strings(out)
	return out
}
