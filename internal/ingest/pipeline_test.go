package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kirinuki/internal/chunking"
	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/embedding"
	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/sparse"
	"github.com/hyperjump/kirinuki/internal/storage"
	"github.com/hyperjump/kirinuki/internal/vector"
)

const dim = 16

var chunkCfg = config.ChunkingConfig{
	Strategy:             "sliding_window",
	UnitMode:             "sentence",
	SimilarityThreshold:  0.75,
	BreakpointPercentile: 25,
	MinChunkSize:         10,
	MaxChunkSize:         80,
	MaxUnits:             1000,
	MaxChunksPerDocument: 100,
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	pipeline *Pipeline
	adapter  *vector.Adapter
	catalog  *storage.SQLiteCatalog
	registry *sparse.Registry
}

func newFixture(t *testing.T, sparseOpts ...sparse.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	chunker, err := chunking.NewChunker(chunkCfg)
	require.NoError(t, err)
	catalog, err := storage.NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })
	registry := sparse.NewRegistry(sparseOpts...)
	t.Cleanup(func() { _ = registry.Close() })

	adapter := vector.NewAdapter(vector.NewMemoryStore(), "chunks", dim, vector.Cosine)
	require.NoError(t, adapter.EnsureCollection(ctx))

	batcher := embedding.NewBatcher(embedding.NewMockProvider(dim))
	return &fixture{
		pipeline: NewPipeline(chunker, batcher, adapter, catalog,
			WithSparse(registry), WithConcurrency(2), WithClock(func() time.Time { return fixedNow })),
		adapter:  adapter,
		catalog:  catalog,
		registry: registry,
	}
}

func (f *fixture) points(t *testing.T) int {
	t.Helper()
	n, err := f.adapter.Count(context.Background())
	require.NoError(t, err)
	return n
}

func sentences(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("Sentence number %d describes the quarterly harvest of region %d.", i, i*7)
	}
	return strings.Join(parts, " ")
}

func document(docID string, pages ...string) *models.Document {
	doc := &models.Document{DocID: docID, Filename: docID + ".pdf"}
	for i, text := range pages {
		doc.Pages = append(doc.Pages, models.Page{PageNumber: i + 1, Text: text})
	}
	return doc
}

func TestPipeline_Ingest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	set, err := f.pipeline.Ingest(ctx, "team-a", document("doc-1", sentences(4), sentences(3)))
	require.NoError(t, err)
	require.NotEmpty(t, set.Chunks)
	assert.Empty(t, set.Warnings)

	for i, c := range set.Chunks {
		assert.Equal(t, i, c.Position)
		assert.Len(t, c.Embedding, dim)
		assert.LessOrEqual(t, c.ChunkSize, chunkCfg.MaxChunkSize)
		require.NotNil(t, c.IngestionTimestamp)
		assert.True(t, c.IngestionTimestamp.Equal(fixedNow))
	}

	assert.Equal(t, len(set.Chunks), f.points(t))
	rec, err := f.catalog.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "team-a", rec.ScopeID)
	assert.Equal(t, len(set.Chunks), rec.ChunkCount)
	assert.Equal(t, []string{"doc-1"}, f.registry.DocsInScope("team-a"))
}

func TestPipeline_IngestRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, "team-a", &models.Document{DocID: "x"})
	assert.True(t, errors.Is(err, models.ErrMalformedInput))

	_, err = f.pipeline.Ingest(ctx, "", document("doc-1", "text."))
	assert.True(t, errors.Is(err, models.ErrMalformedInput))
	assert.Zero(t, f.points(t))
}

func TestPipeline_ReingestRemovesStaleChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	long, err := f.pipeline.Ingest(ctx, "team-a", document("doc-1", sentences(8)))
	require.NoError(t, err)
	short, err := f.pipeline.Ingest(ctx, "team-a", document("doc-1", "A single short sentence remains."))
	require.NoError(t, err)
	require.Greater(t, len(long.Chunks), len(short.Chunks))

	assert.Equal(t, len(short.Chunks), f.points(t))
	chunks, err := f.catalog.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, chunks, len(short.Chunks))
}

// flakyCatalog fails the first SaveChunkSet call.
type flakyCatalog struct {
	*storage.SQLiteCatalog
	failed bool
}

func (c *flakyCatalog) SaveChunkSet(ctx context.Context, scopeID, artifactHash string, set *models.ChunkSet) error {
	if !c.failed {
		c.failed = true
		return errors.New("database is locked")
	}
	return c.SQLiteCatalog.SaveChunkSet(ctx, scopeID, artifactHash, set)
}

func TestPipeline_ReingestAfterFailedSaveRemovesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chunker, err := chunking.NewChunker(chunkCfg)
	require.NoError(t, err)
	p := NewPipeline(chunker, embedding.NewBatcher(embedding.NewMockProvider(dim)), f.adapter,
		&flakyCatalog{SQLiteCatalog: f.catalog}, WithSparse(f.registry))

	_, err = p.Ingest(ctx, "team-a", document("doc-1", sentences(8)))
	require.Error(t, err)
	orphans := f.points(t)
	require.Greater(t, orphans, 1)

	short, err := p.Ingest(ctx, "team-a", document("doc-1", "A single short sentence remains."))
	require.NoError(t, err)
	require.Len(t, short.Chunks, 1)
	assert.Equal(t, 1, f.points(t))

	rec, err := f.catalog.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ChunkCount)
}

func TestPipeline_EmptyDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, "team-a", document("doc-1", sentences(3)))
	require.NoError(t, err)
	set, err := f.pipeline.Ingest(ctx, "team-a", document("doc-1", "   "))
	require.NoError(t, err)

	assert.Empty(t, set.Chunks)
	assert.Zero(t, f.points(t))
	assert.Zero(t, f.registry.Len())
}

func TestPipeline_SparseFailureDegrades(t *testing.T) {
	failing := sparse.WithIndexFactory(func() (bleve.Index, error) { return nil, errors.New("disk full") })
	f := newFixture(t, failing)

	st := f.pipeline.IngestBatch(context.Background(), "team-a", []*models.Document{document("doc-1", sentences(3))})
	require.Len(t, st, 1)
	assert.Equal(t, models.StatusDegraded, st[0].Status)
	require.NotEmpty(t, st[0].Warnings)
	assert.Equal(t, models.WarnSparseDegraded, st[0].Warnings[len(st[0].Warnings)-1].Code)
	assert.Equal(t, st[0].Chunks, f.points(t))
	assert.True(t, f.registry.IsDegraded("doc-1"))
}

func TestPipeline_IngestBatch(t *testing.T) {
	f := newFixture(t)
	docs := []*models.Document{
		document("doc-1", sentences(2)),
		{DocID: "broken"},
		document("doc-2", sentences(3)),
	}

	st := f.pipeline.IngestBatch(context.Background(), "team-a", docs)
	require.Len(t, st, 3)
	assert.Equal(t, models.StatusIngested, st[0].Status)
	assert.Equal(t, models.StatusFailed, st[1].Status)
	assert.Equal(t, "broken", st[1].DocID)
	assert.NotEmpty(t, st[1].Error)
	assert.Equal(t, models.StatusIngested, st[2].Status)
	assert.Equal(t, st[0].Chunks+st[2].Chunks, f.points(t))
}

func TestPipeline_DeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, "team-a", document("doc-1", sentences(3)))
	require.NoError(t, err)

	require.NoError(t, f.pipeline.DeleteDocument(ctx, "doc-1"))
	assert.Zero(t, f.points(t))
	assert.Zero(t, f.registry.Len())
	_, err = f.catalog.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, f.pipeline.DeleteDocument(ctx, "doc-1"), models.ErrNotFound)
}

func TestPipeline_ChunkDocumentStoresNothing(t *testing.T) {
	f := newFixture(t)

	set, err := f.pipeline.ChunkDocument(context.Background(), document("doc-1", sentences(3)))
	require.NoError(t, err)
	assert.NotEmpty(t, set.Chunks)
	assert.Zero(t, f.points(t))
	assert.Zero(t, f.registry.Len())
}

func TestPipeline_RebuildSparse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, "team-a", document("doc-1", sentences(3)))
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, "team-b", document("doc-2", sentences(2)))
	require.NoError(t, err)
	f.registry.Remove("doc-1")
	f.registry.Remove("doc-2")

	n, err := f.pipeline.RebuildSparse(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"doc-2"}, f.registry.DocsInScope("team-b"))
}

func TestPipeline_RebuildSparseClearsDegradedWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failing := sparse.NewRegistry(sparse.WithIndexFactory(func() (bleve.Index, error) { return nil, errors.New("disk full") }))
	t.Cleanup(func() { _ = failing.Close() })
	chunker, err := chunking.NewChunker(chunkCfg)
	require.NoError(t, err)
	degraded := NewPipeline(chunker, embedding.NewBatcher(embedding.NewMockProvider(dim)), f.adapter, f.catalog,
		WithSparse(failing))

	_, err = degraded.Ingest(ctx, "team-a", document("doc-1", sentences(3)))
	require.NoError(t, err)
	rec, err := f.catalog.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rec.Warnings, 1)
	assert.Equal(t, models.WarnSparseDegraded, rec.Warnings[0].Code)

	n, err := f.pipeline.RebuildSparse(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, err = f.catalog.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, rec.Warnings)

	n, err = degraded.RebuildSparse(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	rec, err = f.catalog.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rec.Warnings, 1)
	assert.Equal(t, models.WarnSparseDegraded, rec.Warnings[0].Code)
}

func TestPipeline_IngestFileSkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data, err := json.Marshal(document("doc-1", sentences(3)))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "doc-1.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	first := f.pipeline.IngestFile(ctx, "team-a", path)
	assert.Equal(t, models.StatusIngested, first.Status)
	second := f.pipeline.IngestFile(ctx, "team-a", path)
	assert.Equal(t, models.StatusSkipped, second.Status)
	assert.Equal(t, first.Chunks, second.Chunks)

	moved := f.pipeline.IngestFile(ctx, "team-b", path)
	assert.Equal(t, models.StatusIngested, moved.Status)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	bad := f.pipeline.IngestFile(ctx, "team-a", path)
	assert.Equal(t, models.StatusFailed, bad.Status)
}
