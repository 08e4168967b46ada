package chunking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEmbedder maps each text onto an axis by the first topic word it contains.
type topicEmbedder struct {
	calls int
}

func (e *topicEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "cat"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(t, "car"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: connection refused", models.ErrProviderUnavailable)
}

func testChunkingConfig() config.ChunkingConfig {
	return config.ChunkingConfig{
		Strategy:             models.StrategySlidingWindow,
		UnitMode:             "sentence",
		SimilarityThreshold:  0.75,
		BreakpointPercentile: 25,
		MinChunkSize:         1,
		MaxChunkSize:         1000,
		MaxUnits:             5000,
		MaxChunksPerDocument: 500,
	}
}

func TestChunker_Chunk(t *testing.T) {
	c, err := NewChunker(testChunkingConfig())
	require.NoError(t, err)

	doc := &models.Document{
		DocID:    "doc-1",
		Filename: "pets.pdf",
		Pages: []models.Page{
			{PageNumber: 1, Text: "The cat sleeps. The cat purrs."},
			{PageNumber: 2, Text: "The car drives. The car honks."},
		},
	}
	set, err := c.Chunk(context.Background(), doc, &topicEmbedder{})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", set.DocID)
	assert.Equal(t, "pets.pdf", set.DocumentName)
	assert.Equal(t, models.StrategySlidingWindow, set.ChunkStrategy)
	require.Len(t, set.Chunks, 2)
	assert.Equal(t, "The cat sleeps. The cat purrs.", set.Chunks[0].Text)
	assert.Equal(t, []int{1}, set.Chunks[0].PageNumbers)
	assert.Equal(t, "The car drives. The car honks.", set.Chunks[1].Text)
	assert.Equal(t, []int{2}, set.Chunks[1].PageNumbers)
	for i, ch := range set.Chunks {
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, 2, ch.TotalChunks)
	}
	assert.Empty(t, set.Warnings)
}

func TestChunker_Chunk_percentile(t *testing.T) {
	cfg := testChunkingConfig()
	cfg.Strategy = models.StrategyPercentile
	c, err := NewChunker(cfg)
	require.NoError(t, err)

	doc := &models.Document{DocID: "d", Filename: "f", Pages: []models.Page{
		{PageNumber: 1, Text: "A cat. Another cat. A car. Another car. Plain words. More plain words."},
	}}
	set, err := c.Chunk(context.Background(), doc, &topicEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyPercentile, set.ChunkStrategy)
	require.NotEmpty(t, set.Chunks)

	// Chunks tile the units in order without overlap.
	prevEnd := -1
	for _, ch := range set.Chunks {
		assert.Greater(t, ch.CharRange[0], prevEnd)
		prevEnd = ch.CharRange[1]
	}
}

func TestChunker_Chunk_singleUnitSkipsEmbedding(t *testing.T) {
	c, err := NewChunker(testChunkingConfig())
	require.NoError(t, err)
	emb := &topicEmbedder{}
	doc := &models.Document{DocID: "d", Filename: "f", Pages: []models.Page{{PageNumber: 1, Text: "Just one sentence."}}}
	set, err := c.Chunk(context.Background(), doc, emb)
	require.NoError(t, err)
	require.Len(t, set.Chunks, 1)
	assert.Equal(t, 0, emb.calls)
}

func TestChunker_Chunk_emptyDocument(t *testing.T) {
	c, err := NewChunker(testChunkingConfig())
	require.NoError(t, err)
	doc := &models.Document{DocID: "d", Filename: "f", Pages: []models.Page{{PageNumber: 1, Text: "  \n "}}}
	set, err := c.Chunk(context.Background(), doc, &topicEmbedder{})
	require.NoError(t, err)
	assert.Empty(t, set.Chunks)
	require.Len(t, set.Warnings, 1)
	assert.Equal(t, models.WarnEmptyDocument, set.Warnings[0].Code)
}

func TestChunker_Chunk_embeddingFailureFailsDocument(t *testing.T) {
	c, err := NewChunker(testChunkingConfig())
	require.NoError(t, err)
	doc := &models.Document{DocID: "d", Filename: "f", Pages: []models.Page{{PageNumber: 1, Text: "One. Two."}}}
	set, err := c.Chunk(context.Background(), doc, failingEmbedder{})
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
}

func TestChunker_Chunk_unitLimitWarns(t *testing.T) {
	cfg := testChunkingConfig()
	cfg.MaxUnits = 2
	c, err := NewChunker(cfg)
	require.NoError(t, err)
	doc := &models.Document{DocID: "d", Filename: "f", Pages: []models.Page{{PageNumber: 1, Text: "A cat. A cat. A cat."}}}
	set, err := c.Chunk(context.Background(), doc, &topicEmbedder{})
	require.NoError(t, err)
	require.NotEmpty(t, set.Warnings)
	assert.Equal(t, models.WarnMaxUnitsExceeded, set.Warnings[0].Code)
}
