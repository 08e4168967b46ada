package chunking

import "github.com/hyperjump/kirinuki/internal/models"

// SlidingWindow extends the current cluster while the last unit in it and the
// next unit are at least Threshold similar. It makes one pass over the units.
type SlidingWindow struct {
	Threshold float64
}

func (s *SlidingWindow) Name() string { return models.StrategySlidingWindow }

func (s *SlidingWindow) Cluster(units []models.Unit, embeddings [][]float32) ([][]int, error) {
	sims, err := adjacentSimilarities(units, embeddings)
	if err != nil {
		return nil, err
	}
	return clustersFromCuts(len(units), slidingCuts(sims, s.Threshold)), nil
}

func slidingCuts(sims []float64, threshold float64) []bool {
	cut := make([]bool, len(sims))
	for i, sim := range sims {
		cut[i] = sim < threshold
	}
	return cut
}
