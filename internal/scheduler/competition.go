package scheduler

import (
	"math"
	"sort"

	"github.com/sliceorch/placement/internal/domain"
)

const (
	bottleneckWeight = 0.9
	balanceWeight    = 0.1
)

// ScoreWorker computes the free-resource ratios of a worker, its bottleneck
// ratio A = min(c, r, d), its balance penalty Bh = |c-r| + |r-d| + |d-c| and
// Score = 0.9*A + 0.1*Bh. Values are rounded to four decimals so that equal
// ratios compare equal.
func ScoreWorker(s domain.WorkerSnapshot) domain.CompetitionScore {
	free := s.Free()
	c := ratio(free.CPU, s.CPUTotal)
	r := ratio(free.RAMGB, s.RAMTotalGB)
	d := ratio(free.StorageGB, s.StorageTotalGB)

	a := math.Min(c, math.Min(r, d))
	bh := math.Abs(c-r) + math.Abs(r-d) + math.Abs(d-c)

	return domain.CompetitionScore{
		WorkerID:       s.WorkerID,
		CPURatio:       round4(c),
		RAMRatio:       round4(r),
		StorageRatio:   round4(d),
		BottleneckA:    round4(a),
		BalancePenalty: round4(bh),
		Score:          round4(bottleneckWeight*a + balanceWeight*bh),
	}
}

// SelectWinners picks the best host among scored candidates.
//
// The highest bottleneck ratio wins. Ties are broken by regime: below
// regimeThreshold (scarce) the highest Score wins, otherwise (abundant) the
// lowest Score wins, consolidating onto the busier of the tied workers.
// Residual ties are all returned, sorted by worker id.
func SelectWinners(candidates []domain.CompetitionScore, regimeThreshold float64) []string {
	if len(candidates) == 0 {
		return nil
	}

	bestA := candidates[0].BottleneckA
	for _, c := range candidates[1:] {
		if c.BottleneckA > bestA {
			bestA = c.BottleneckA
		}
	}

	var tied []domain.CompetitionScore
	for _, c := range candidates {
		if c.BottleneckA == bestA {
			tied = append(tied, c)
		}
	}

	if len(tied) > 1 {
		target := tied[0].Score
		for _, c := range tied[1:] {
			if bestA < regimeThreshold {
				target = math.Max(target, c.Score)
			} else {
				target = math.Min(target, c.Score)
			}
		}
		var kept []domain.CompetitionScore
		for _, c := range tied {
			if c.Score == target {
				kept = append(kept, c)
			}
		}
		tied = kept
	}

	winners := make([]string, 0, len(tied))
	for _, c := range tied {
		winners = append(winners, c.WorkerID)
	}
	sort.Strings(winners)
	return winners
}

func ratio(free, total float64) float64 {
	if total == 0 {
		return 0
	}
	return free / total
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
