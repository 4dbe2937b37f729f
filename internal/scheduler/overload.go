package scheduler

import (
	"sort"
	"time"

	"github.com/sliceorch/placement/internal/domain"
)

// DetectOverload decides whether a worker has been at or above the zone CPU
// threshold for longer than the zone's sustained duration. window must hold
// the worker's samples of the trailing analysis window in ascending order.
//
// A run of over-threshold samples lasts from its first to its last sample
// plus the median sampling interval, since the last observed state holds
// until the next sample.
func DetectOverload(workerID string, window []domain.WorkerSnapshot, zone domain.ZoneProfile) domain.OverloadVerdict {
	verdict := domain.OverloadVerdict{
		WorkerID: workerID,
		State:    domain.OverloadUnknown,
		Samples:  len(window),
	}
	if len(window) == 0 {
		return verdict
	}

	var cpuTotal float64
	for _, s := range window {
		if s.CPUTotal > cpuTotal {
			cpuTotal = s.CPUTotal
		}
	}
	threshold := zone.CPUThresholdPct / 100.0 * cpuTotal
	verdict.ThresholdCPU = threshold

	step := medianInterval(window)

	var (
		inRun    bool
		runStart time.Time
		runEnd   time.Time
	)
	closeRun := func() {
		d := runEnd.Sub(runStart) + step
		if d > verdict.LongestRun {
			verdict.LongestRun = d
		}
		inRun = false
	}
	for _, s := range window {
		if s.CPUUsed >= threshold {
			if !inRun {
				inRun = true
				runStart = s.Timestamp
			}
			runEnd = s.Timestamp
			continue
		}
		if inRun {
			closeRun()
		}
	}
	if inRun {
		closeRun()
	}

	verdict.State = domain.OverloadOK
	if verdict.LongestRun > zone.SustainedDuration {
		verdict.State = domain.OverloadOverloaded
	}
	return verdict
}

// medianInterval returns the median gap between consecutive samples, or 0
// with fewer than two samples.
func medianInterval(window []domain.WorkerSnapshot) time.Duration {
	if len(window) < 2 {
		return 0
	}
	gaps := make([]time.Duration, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		gaps = append(gaps, window[i].Timestamp.Sub(window[i-1].Timestamp))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })

	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[mid]
	}
	return (gaps[mid-1] + gaps[mid]) / 2
}
