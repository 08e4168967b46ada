package chunking

import (
	"math"
	"reflect"
	"testing"

	"github.com/hyperjump/kirinuki/internal/models"
)

// vectorsWithAdjacentSims returns unit vectors in the plane whose consecutive
// cosine similarities equal sims.
func vectorsWithAdjacentSims(sims []float64) [][]float32 {
	angle := 0.0
	vecs := [][]float32{{1, 0}}
	for _, s := range sims {
		angle += math.Acos(s)
		vecs = append(vecs, []float32{float32(math.Cos(angle)), float32(math.Sin(angle))})
	}
	return vecs
}

func fakeUnits(n int) []models.Unit {
	units := make([]models.Unit, n)
	for i := range units {
		units[i] = models.Unit{Text: "u", Start: i * 2, End: i*2 + 1}
	}
	return units
}

func TestSlidingWindow_Cluster(t *testing.T) {
	tests := []struct {
		name      string
		sims      []float64
		threshold float64
		want      [][]int
	}{
		{"two topics", []float64{0.9, 0.6, 0.85}, 0.75, [][]int{{0, 1}, {2, 3}}},
		{"all similar", []float64{0.9, 0.95, 0.8}, 0.75, [][]int{{0, 1, 2, 3}}},
		{"all different", []float64{0.1, 0.2, 0.3}, 0.75, [][]int{{0}, {1}, {2}, {3}}},
		{"single unit", nil, 0.75, [][]int{{0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vecs := vectorsWithAdjacentSims(tt.sims)
			s := &SlidingWindow{Threshold: tt.threshold}
			got, err := s.Cluster(fakeUnits(len(vecs)), vecs)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Cluster() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlidingWindow_thresholdIsInclusive(t *testing.T) {
	cuts := slidingCuts([]float64{0.75, 0.7499}, 0.75)
	if cuts[0] || !cuts[1] {
		t.Errorf("cuts = %v, want [false true]", cuts)
	}
}

func TestSlidingWindow_mismatchedEmbeddings(t *testing.T) {
	s := &SlidingWindow{Threshold: 0.5}
	if _, err := s.Cluster(fakeUnits(3), [][]float32{{1, 0}}); err == nil {
		t.Error("expected error when embeddings and units differ in length")
	}
}

func TestPercentileBoundary_Cluster(t *testing.T) {
	// deltas: -0.6 0.55 -0.05 -0.6 0.55; 30th percentile is -0.49.
	sims := []float64{0.9, 0.3, 0.85, 0.8, 0.2, 0.75}
	vecs := vectorsWithAdjacentSims(sims)
	p := &PercentileBoundary{Percentile: 30}
	got, err := p.Cluster(fakeUnits(len(vecs)), vecs)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]int{{0, 1}, {2, 3, 4}, {5, 6}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Cluster() = %v, want %v", got, want)
	}
}

func TestPercentileCuts(t *testing.T) {
	tests := []struct {
		name string
		sims []float64
		want [][]int
	}{
		{"uniform similarity", []float64{0.95, 0.95, 0.95, 0.95, 0.95, 0.95}, [][]int{{0, 1, 2, 3, 4, 5, 6}}},
		{"one drop", []float64{0.9, 0.9, 0.9, 0.3, 0.9, 0.9}, [][]int{{0, 1, 2, 3}, {4, 5, 6}}},
		{"low first transition", []float64{0.2, 0.9, 0.9, 0.9}, [][]int{{0, 1, 2, 3, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clustersFromCuts(len(tt.sims)+1, percentileCuts(tt.sims, 25))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("clusters = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPercentileBoundary_fewUnitsIsOneCluster(t *testing.T) {
	vecs := vectorsWithAdjacentSims([]float64{0.1})
	p := &PercentileBoundary{Percentile: 25}
	got, err := p.Cluster(fakeUnits(2), vecs)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, [][]int{{0, 1}}) {
		t.Errorf("Cluster() = %v", got)
	}
}

func TestPercentileBoundary_deterministic(t *testing.T) {
	sims := []float64{0.5, 0.9, 0.2, 0.8, 0.4, 0.95, 0.1}
	vecs := vectorsWithAdjacentSims(sims)
	p := &PercentileBoundary{Percentile: 40}
	first, _ := p.Cluster(fakeUnits(len(vecs)), vecs)
	for i := 0; i < 5; i++ {
		again, _ := p.Cluster(fakeUnits(len(vecs)), vecs)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, again, first)
		}
	}
	assertPartition(t, first, len(vecs))
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	tests := []struct {
		pct  float64
		want float64
	}{
		{0, 1},
		{50, 2.5},
		{100, 4},
		{25, 1.75},
	}
	for _, tt := range tests {
		if got := percentile(values, tt.pct); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentile(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(models.StrategySlidingWindow, 0.7, 25)
	if err != nil || s.Name() != models.StrategySlidingWindow {
		t.Errorf("sliding window: %v %v", s, err)
	}
	s, err = NewStrategy(models.StrategyPercentile, 0.7, 25)
	if err != nil || s.Name() != models.StrategyPercentile {
		t.Errorf("percentile: %v %v", s, err)
	}
	if _, err := NewStrategy("kmeans", 0.7, 25); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if _, err := NewStrategy(models.StrategyPercentile, 0.7, 0); err == nil {
		t.Error("expected error for zero percentile")
	}
}

// assertPartition checks clusters are contiguous, ordered, and cover 0..n-1 once.
func assertPartition(t *testing.T, clusters [][]int, n int) {
	t.Helper()
	next := 0
	for _, c := range clusters {
		if len(c) == 0 {
			t.Fatal("empty cluster")
		}
		for _, idx := range c {
			if idx != next {
				t.Fatalf("clusters %v are not a contiguous partition", clusters)
			}
			next++
		}
	}
	if next != n {
		t.Fatalf("clusters cover %d of %d units", next, n)
	}
}

func BenchmarkSlidingWindow(b *testing.B) {
	const n = 10000
	sims := make([]float64, n-1)
	for i := range sims {
		sims[i] = 0.5 + 0.5*math.Sin(float64(i))
	}
	vecs := vectorsWithAdjacentSims(sims)
	units := fakeUnits(n)
	s := &SlidingWindow{Threshold: 0.75}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Cluster(units, vecs); err != nil {
			b.Fatal(err)
		}
	}
}
