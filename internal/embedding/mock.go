package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/kirinuki/pkg/utils"
)

// MockProvider is a deterministic provider for tests and offline runs. It
// returns a fixed-dimension vector derived from the text hash so that the same
// text always gets the same embedding.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{dimensions: dimensions}
}

func (e *MockProvider) embedOne(text string) []float32 {
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

// Embed returns a deterministic embedding per text.
func (e *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *MockProvider) Dimensions() int   { return e.dimensions }
func (e *MockProvider) ModelName() string { return "mock" }
func (e *MockProvider) Close() error      { return nil }
