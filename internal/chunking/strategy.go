package chunking

import (
	"fmt"

	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/pkg/utils"
)

// Strategy groups adjacent units into clusters. Each cluster is a contiguous,
// ascending run of unit indices, and the clusters together cover every unit
// exactly once and in order.
type Strategy interface {
	Name() string
	Cluster(units []models.Unit, embeddings [][]float32) ([][]int, error)
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, threshold, percentile float64) (Strategy, error) {
	switch name {
	case models.StrategySlidingWindow:
		return &SlidingWindow{Threshold: threshold}, nil
	case models.StrategyPercentile:
		if percentile <= 0 || percentile >= 100 {
			return nil, fmt.Errorf("percentile must be in (0, 100), got %v", percentile)
		}
		return &PercentileBoundary{Percentile: percentile}, nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", name)
	}
}

// adjacentSimilarities returns sims[i] = cosine(embeddings[i], embeddings[i+1]).
func adjacentSimilarities(units []models.Unit, embeddings [][]float32) ([]float64, error) {
	if len(units) != len(embeddings) {
		return nil, fmt.Errorf("got %d embeddings for %d units", len(embeddings), len(units))
	}
	if len(units) < 2 {
		return nil, nil
	}
	sims := make([]float64, len(units)-1)
	for i := range sims {
		sims[i] = utils.Cosine(embeddings[i], embeddings[i+1])
	}
	return sims, nil
}

// clustersFromCuts turns a cut-after flag per transition into index clusters.
// cut[i] true means a boundary between unit i and unit i+1.
func clustersFromCuts(n int, cut []bool) [][]int {
	if n == 0 {
		return nil
	}
	clusters := [][]int{{0}}
	for i := 1; i < n; i++ {
		if cut[i-1] {
			clusters = append(clusters, []int{i})
			continue
		}
		last := len(clusters) - 1
		clusters[last] = append(clusters[last], i)
	}
	return clusters
}
