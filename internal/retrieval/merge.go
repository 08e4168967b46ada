// Package retrieval answers queries over one scope: dense and sparse
// retrieval run in parallel, their candidates are fused, and the fused pool
// is optionally reranked.
package retrieval

import (
	"sort"

	"github.com/hyperjump/kirinuki/internal/models"
)

// Fused is a merged candidate with its per-list normalized scores.
type Fused struct {
	ChunkID     string
	Score       float64
	DenseScore  float64
	SparseScore float64
	Type        models.RetrievalType
}

// Normalize min-max scales scores to [0,1]. Duplicate chunk ids keep their
// highest raw score. When every score is equal they all map to 1.
func Normalize(cands []models.Candidate) map[string]float64 {
	raw := make(map[string]float64, len(cands))
	for _, c := range cands {
		if s, ok := raw[c.ChunkID]; !ok || c.Score > s {
			raw[c.ChunkID] = c.Score
		}
	}
	if len(raw) == 0 {
		return raw
	}
	lo, hi := 0.0, 0.0
	first := true
	for _, s := range raw {
		if first {
			lo, hi, first = s, s, false
			continue
		}
		lo = min(lo, s)
		hi = max(hi, s)
	}
	out := make(map[string]float64, len(raw))
	for id, s := range raw {
		if hi == lo {
			out[id] = 1
		} else {
			out[id] = (s - lo) / (hi - lo)
		}
	}
	return out
}

// Merge fuses dense and sparse candidates with
// score = wDense*norm_dense + wSparse*norm_sparse (missing = 0), and returns
// at most poolSize results by descending score, ties broken by chunk id.
func Merge(dense, sparse []models.Candidate, wDense, wSparse float64, poolSize int) []Fused {
	nd := Normalize(dense)
	ns := Normalize(sparse)

	byID := make(map[string]*Fused, len(nd)+len(ns))
	for id, s := range nd {
		byID[id] = &Fused{ChunkID: id, DenseScore: s, Type: models.RetrievalDense}
	}
	for id, s := range ns {
		if f, ok := byID[id]; ok {
			f.SparseScore = s
			f.Type = models.RetrievalHybrid
			continue
		}
		byID[id] = &Fused{ChunkID: id, SparseScore: s, Type: models.RetrievalSparse}
	}

	out := make([]Fused, 0, len(byID))
	for _, f := range byID {
		f.Score = wDense*f.DenseScore + wSparse*f.SparseScore
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if poolSize > 0 && len(out) > poolSize {
		out = out[:poolSize]
	}
	return out
}
