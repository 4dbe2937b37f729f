package scheduler

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sliceorch/placement/internal/domain"
)

func TestScoreWorker(t *testing.T) {
	snap := snapshotAt("w", 0, usage{
		cpuTotal: 10, cpuUsed: 7,
		ramTotal: 10, ramUsed: 5,
		storageTotal: 10, storageUsed: 1,
	})

	got := ScoreWorker(snap)
	want := domain.CompetitionScore{
		WorkerID:       "w",
		CPURatio:       0.3,
		RAMRatio:       0.5,
		StorageRatio:   0.9,
		BottleneckA:    0.3,
		BalancePenalty: 1.2,
		Score:          0.39,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ScoreWorker mismatch (-want +got):\n%s", diff)
	}
}

func TestScoreWorker_ZeroTotals(t *testing.T) {
	got := ScoreWorker(snapshotAt("w", 0, usage{cpuTotal: 8, cpuUsed: 2, ramTotal: 16}))
	if got.StorageRatio != 0 || got.BottleneckA != 0 {
		t.Errorf("Expected zero storage total to give ratio 0, got %+v", got)
	}
}

func TestSelectWinners(t *testing.T) {
	score := func(id string, a, s float64) domain.CompetitionScore {
		return domain.CompetitionScore{WorkerID: id, BottleneckA: a, Score: s}
	}

	tests := []struct {
		name       string
		candidates []domain.CompetitionScore
		want       []string
	}{
		{
			name:       "no candidates",
			candidates: nil,
			want:       nil,
		},
		{
			name:       "highest bottleneck wins",
			candidates: []domain.CompetitionScore{score("a", 0.4, 0.5), score("b", 0.6, 0.55)},
			want:       []string{"b"},
		},
		{
			name:       "scarce tie picks higher score",
			candidates: []domain.CompetitionScore{score("x", 0.3, 0.35), score("y", 0.3, 0.40)},
			want:       []string{"y"},
		},
		{
			name:       "abundant tie picks lower score",
			candidates: []domain.CompetitionScore{score("x", 0.7, 0.65), score("y", 0.7, 0.70)},
			want:       []string{"x"},
		},
		{
			name:       "threshold itself is abundant",
			candidates: []domain.CompetitionScore{score("x", 0.5, 0.45), score("y", 0.5, 0.50)},
			want:       []string{"x"},
		},
		{
			name:       "residual ties sorted by id",
			candidates: []domain.CompetitionScore{score("c", 0.8, 0.72), score("a", 0.8, 0.72), score("b", 0.1, 0.9)},
			want:       []string{"a", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectWinners(tt.candidates, DefaultRegimeThreshold)
			if len(tt.want) == 0 {
				if len(got) != 0 {
					t.Errorf("Expected no winners, got %v", got)
				}
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SelectWinners mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectWinners_FromSnapshots(t *testing.T) {
	// Equal bottleneck, the second worker is less balanced.
	x := ScoreWorker(snapshotAt("x", 0, usage{cpuTotal: 10, cpuUsed: 7, ramTotal: 10, ramUsed: 7, storageTotal: 10, storageUsed: 7}))
	y := ScoreWorker(snapshotAt("y", 0, usage{cpuTotal: 10, cpuUsed: 7, ramTotal: 10, ramUsed: 5, storageTotal: 10, storageUsed: 5}))

	if x.BottleneckA != y.BottleneckA {
		t.Fatalf("Expected equal bottleneck, got %v and %v", x.BottleneckA, y.BottleneckA)
	}
	if got := SelectWinners([]domain.CompetitionScore{x, y}, DefaultRegimeThreshold); len(got) != 1 || got[0] != "y" {
		t.Errorf("Expected y in the scarce regime, got %v", got)
	}
}
