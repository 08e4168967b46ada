package sparse

import (
	"context"
	"errors"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kirinuki/internal/ident"
	"github.com/hyperjump/kirinuki/internal/models"
)

func chunks(docID string, texts ...string) []*models.Chunk {
	out := make([]*models.Chunk, len(texts))
	for i, t := range texts {
		out[i] = &models.Chunk{ChunkID: ident.PointID(docID, i), DocID: docID, Text: t, Position: i}
	}
	return out
}

func TestRegistry_BuildAndRetrieve(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()

	require.NoError(t, r.Build(ctx, "d1", "s", chunks("d1",
		"The quarterly report mentions Omnisyan twice.",
		"Unrelated paragraph about weather in Lisbon.",
	)))
	require.NoError(t, r.Build(ctx, "d2", "s", chunks("d2", "Omnisyan appears here as well.")))
	require.NoError(t, r.Build(ctx, "d3", "other", chunks("d3", "Omnisyan in another scope.")))

	res, err := r.Retrieve(ctx, "omnisyan", r.DocsInScope("s"), 10)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	ids := []string{res.Candidates[0].ChunkID, res.Candidates[1].ChunkID}
	assert.ElementsMatch(t, []string{ident.PointID("d1", 0), ident.PointID("d2", 0)}, ids)
	for _, c := range res.Candidates {
		assert.Equal(t, models.RetrievalSparse, c.Type)
		assert.Greater(t, c.Score, 0.0)
	}
	assert.Empty(t, res.Degraded)
	assert.Empty(t, res.Missing)

	c, ok := r.Chunk(ident.PointID("d1", 1))
	require.True(t, ok)
	assert.Contains(t, c.Text, "Lisbon")
}

func TestRegistry_RetrieveTopKAndOrder(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()
	require.NoError(t, r.Build(ctx, "d", "s", chunks("d",
		"alpha beta", "alpha alpha alpha", "alpha", "gamma")))

	res, err := r.Retrieve(ctx, "alpha", []string{"d"}, 2)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.GreaterOrEqual(t, res.Candidates[0].Score, res.Candidates[1].Score)
}

func TestRegistry_RebuildReplaces(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()
	require.NoError(t, r.Build(ctx, "d", "s", chunks("d", "old words", "more old words")))
	require.NoError(t, r.Build(ctx, "d", "s", chunks("d", "fresh text")))

	res, err := r.Retrieve(ctx, "old", []string{"d"}, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	_, ok := r.Chunk(ident.PointID("d", 1))
	assert.False(t, ok, "stale chunk still resolvable")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_BuildFailureDegrades(t *testing.T) {
	ctx := context.Background()
	fail := true
	r := NewRegistry(WithIndexFactory(func() (bleve.Index, error) {
		if fail {
			return nil, errors.New("disk full")
		}
		return MemIndexFactory()
	}))
	defer r.Close()

	err := r.Build(ctx, "d", "s", chunks("d", "some text"))
	require.ErrorIs(t, err, models.ErrIndexBuildDegraded)
	assert.True(t, r.IsDegraded("d"))
	assert.Equal(t, []string{"d"}, r.DocsInScope("s"))

	res, err := r.Retrieve(ctx, "text", []string{"d", "unknown"}, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, []string{"d"}, res.Degraded)
	assert.Equal(t, []string{"unknown"}, res.Missing)

	fail = false
	require.NoError(t, r.Build(ctx, "d", "s", chunks("d", "some text")))
	assert.False(t, r.IsDegraded("d"))
}

func TestRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()
	require.NoError(t, r.Build(ctx, "d", "s", chunks("d", "text")))
	r.Remove("d")

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.DocsInScope("s"))
	_, ok := r.Chunk(ident.PointID("d", 0))
	assert.False(t, ok)
}
