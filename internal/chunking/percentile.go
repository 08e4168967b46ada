package chunking

import (
	"math"
	"sort"

	"github.com/hyperjump/kirinuki/internal/models"
)

// PercentileBoundary places boundaries at the sharpest drops in adjacent
// similarity. The drop at transition i (between units i and i+1) is
// sims[i] - sims[i-1], so the first transition is never a boundary.
// Transitions whose drop falls at or below the Percentile-th percentile of
// all drops, and is strictly negative, become boundaries.
type PercentileBoundary struct {
	Percentile float64
}

func (p *PercentileBoundary) Name() string { return models.StrategyPercentile }

func (p *PercentileBoundary) Cluster(units []models.Unit, embeddings [][]float32) ([][]int, error) {
	sims, err := adjacentSimilarities(units, embeddings)
	if err != nil {
		return nil, err
	}
	return clustersFromCuts(len(units), percentileCuts(sims, p.Percentile)), nil
}

func percentileCuts(sims []float64, pct float64) []bool {
	cut := make([]bool, len(sims))
	// Fewer than two transitions leave no distribution to rank.
	if len(sims) < 2 {
		return cut
	}
	deltas := make([]float64, len(sims)-1)
	for i := 1; i < len(sims); i++ {
		deltas[i-1] = sims[i] - sims[i-1]
	}
	threshold := percentile(deltas, pct)
	for i, d := range deltas {
		cut[i+1] = d <= threshold && d < 0
	}
	return cut
}

// percentile returns the pct-th percentile of values using linear
// interpolation between closest ranks.
func percentile(values []float64, pct float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
