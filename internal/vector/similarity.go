package vector

import (
	"math"

	"github.com/hyperjump/kirinuki/pkg/utils"
)

// InnerProduct returns the dot product of a and b (same length).
func InnerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Distance returns the euclidean distance between a and b.
func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// score returns a higher-is-more-similar score under distance d.
func score(d Distance, a, b []float32) float64 {
	switch d {
	case Dot:
		return InnerProduct(a, b)
	case Euclidean:
		return -L2Distance(a, b)
	default:
		return utils.Cosine(a, b)
	}
}
