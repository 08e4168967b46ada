// Package ingest turns cleaned document artifacts into stored chunks: it runs
// the chunker, embeds chunk texts, upserts vectors, builds the sparse index,
// and records the chunk set in the catalog.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/chunking"
	"github.com/hyperjump/kirinuki/internal/ident"
	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/sparse"
	"github.com/hyperjump/kirinuki/internal/storage"
	"github.com/hyperjump/kirinuki/internal/vector"
)

var tracer = otel.Tracer("github.com/hyperjump/kirinuki/internal/ingest")

var sparseDegradedWarning = models.Warning{
	Code:    models.WarnSparseDegraded,
	Message: "keyword index unavailable; document is retrievable by dense search only",
}

// VectorWriter is the part of the vector adapter ingestion writes through.
type VectorWriter interface {
	Upsert(ctx context.Context, points []vector.Point) error
	Delete(ctx context.Context, ids []string) error
	DeleteDocument(ctx context.Context, docID string) error
}

// Pipeline ingests documents. It is safe for concurrent use; documents are
// independent of each other.
type Pipeline struct {
	chunker     *chunking.Chunker
	embedder    chunking.Embedder
	vectors     VectorWriter
	catalog     storage.Catalog
	sparse      *sparse.Registry
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for debug output and degraded steps.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithSparse builds a sparse index per document into registry.
func WithSparse(registry *sparse.Registry) Option {
	return func(p *Pipeline) { p.sparse = registry }
}

// WithConcurrency bounds how many documents IngestBatch processes at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClock overrides the clock used to stamp ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline with the given dependencies.
func NewPipeline(chunker *chunking.Chunker, embedder chunking.Embedder, vectors VectorWriter, catalog storage.Catalog, opts ...Option) *Pipeline {
	p := &Pipeline{
		chunker:     chunker,
		embedder:    embedder,
		vectors:     vectors,
		catalog:     catalog,
		concurrency: 4,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Ingest chunks, embeds, and stores doc in scopeID. Re-ingesting a doc_id
// overwrites its previous chunks. A sparse index failure is reported as a
// warning on the returned set, not as an error.
func (p *Pipeline) Ingest(ctx context.Context, scopeID string, doc *models.Document) (*models.ChunkSet, error) {
	return p.ingest(ctx, scopeID, doc, "")
}

func (p *Pipeline) ingest(ctx context.Context, scopeID string, doc *models.Document, artifactHash string) (set *models.ChunkSet, err error) {
	if scopeID == "" {
		return nil, fmt.Errorf("%w: scope_id is required", models.ErrMalformedInput)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "ingest.document",
		trace.WithAttributes(attribute.String("doc_id", doc.DocID), attribute.String("scope_id", scopeID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ingest failed")
		}
		span.End()
	}()

	set, err = p.chunk(ctx, doc)
	if err != nil {
		return nil, err
	}

	if err := p.embedChunks(ctx, set); err != nil {
		return nil, err
	}

	// The mark covers points written by attempts whose catalog save failed.
	prevCount, err := p.catalog.ReservePoints(ctx, doc.DocID, len(set.Chunks))
	if err != nil {
		return nil, fmt.Errorf("failed to reserve points: %w", err)
	}

	if err := p.upsert(ctx, scopeID, set, prevCount); err != nil {
		return nil, err
	}

	if p.sparse != nil {
		_, sspan := tracer.Start(ctx, "ingest.sparse_build")
		if len(set.Chunks) == 0 {
			p.sparse.Remove(doc.DocID)
		} else if err := p.sparse.Build(ctx, doc.DocID, scopeID, set.Chunks); err != nil {
			sspan.RecordError(err)
			set.Warnings = append(set.Warnings, sparseDegradedWarning)
		}
		sspan.End()
	}

	if err := p.catalog.SaveChunkSet(ctx, scopeID, artifactHash, set); err != nil {
		return nil, fmt.Errorf("failed to store chunk set: %w", err)
	}

	span.SetAttributes(attribute.Int("chunks", len(set.Chunks)))
	p.logger.Debug("document ingested",
		zap.String("doc_id", doc.DocID),
		zap.String("scope_id", scopeID),
		zap.Int("chunks", len(set.Chunks)),
		zap.Int("previous_chunks", prevCount))
	return set, nil
}

// chunk stamps the ingestion time when the artifact lacks one and runs the chunker.
func (p *Pipeline) chunk(ctx context.Context, doc *models.Document) (*models.ChunkSet, error) {
	d := *doc
	if d.IngestionTimestamp == nil {
		ts := p.now().UTC()
		d.IngestionTimestamp = &ts
	}
	ctx, span := tracer.Start(ctx, "ingest.cluster")
	defer span.End()
	return p.chunker.Chunk(ctx, &d, tracedEmbedder{p.embedder, "ingest.embed_units"})
}

func (p *Pipeline) embedChunks(ctx context.Context, set *models.ChunkSet) error {
	if len(set.Chunks) == 0 {
		return nil
	}
	texts := make([]string, len(set.Chunks))
	for i, c := range set.Chunks {
		texts[i] = c.Text
	}
	vecs, err := tracedEmbedder{p.embedder, "ingest.embed_chunks"}.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks of %s: %w", set.DocID, err)
	}
	for i, c := range set.Chunks {
		c.Embedding = vecs[i]
	}
	return nil
}

// upsert writes the chunk set, then removes the tail left over from a longer
// previous version. Ids are positional, so everything below len(chunks) was
// overwritten in place.
func (p *Pipeline) upsert(ctx context.Context, scopeID string, set *models.ChunkSet, prevCount int) error {
	ctx, span := tracer.Start(ctx, "ingest.upsert")
	defer span.End()

	points := make([]vector.Point, len(set.Chunks))
	for i, c := range set.Chunks {
		points[i] = vector.Point{ID: c.ChunkID, Vector: c.Embedding, Payload: c.Payload(scopeID)}
	}
	if len(points) > 0 {
		if err := p.vectors.Upsert(ctx, points); err != nil {
			return fmt.Errorf("upsert %s: %w", set.DocID, err)
		}
	}

	var stale []string
	for i := len(set.Chunks); i < prevCount; i++ {
		stale = append(stale, ident.PointID(set.DocID, i))
	}
	if len(stale) > 0 {
		if err := p.vectors.Delete(ctx, stale); err != nil {
			return fmt.Errorf("delete stale chunks of %s: %w", set.DocID, err)
		}
	}
	return nil
}

// ChunkDocument runs chunking only; nothing is embedded beyond unit
// embeddings and nothing is stored.
func (p *Pipeline) ChunkDocument(ctx context.Context, doc *models.Document) (*models.ChunkSet, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return p.chunk(ctx, doc)
}

// DeleteDocument removes a document's vector points, sparse index, and
// catalog rows. It returns ErrNotFound if the catalog did not know the
// document; stores are cleaned either way.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID string) error {
	_, known := p.catalog.GetDocument(ctx, docID)
	if known != nil && !errors.Is(known, models.ErrNotFound) {
		return fmt.Errorf("failed to read catalog: %w", known)
	}
	if err := p.vectors.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if p.sparse != nil {
		p.sparse.Remove(docID)
	}
	if err := p.catalog.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	p.logger.Debug("document deleted", zap.String("doc_id", docID))
	return known
}

// RebuildSparse rebuilds the sparse registry from the chunk texts in the
// catalog and returns the number of documents indexed.
func (p *Pipeline) RebuildSparse(ctx context.Context) (int, error) {
	if p.sparse == nil {
		return 0, nil
	}
	docs, err := p.catalog.ListDocuments(ctx, "", 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	n := 0
	for _, rec := range docs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		chunks, err := p.catalog.GetChunks(ctx, rec.DocID)
		if err != nil {
			return n, fmt.Errorf("failed to load chunks of %s: %w", rec.DocID, err)
		}
		if len(chunks) == 0 {
			continue
		}
		built := p.sparse.Build(ctx, rec.DocID, rec.ScopeID, chunks) == nil
		if err := p.syncDegradedWarning(ctx, rec, !built); err != nil {
			p.logger.Warn("failed to update document warnings", zap.String("doc_id", rec.DocID), zap.Error(err))
		}
		if built {
			n++
		}
	}
	p.logger.Info("sparse indices rebuilt", zap.Int("documents", n), zap.Int("catalog", len(docs)))
	return n, nil
}

// syncDegradedWarning makes the stored sparse-degraded warning match the
// outcome of the latest index build.
func (p *Pipeline) syncDegradedWarning(ctx context.Context, rec *storage.DocumentRecord, degraded bool) error {
	warnings := make([]models.Warning, 0, len(rec.Warnings)+1)
	had := false
	for _, w := range rec.Warnings {
		if w.Code == models.WarnSparseDegraded {
			had = true
			continue
		}
		warnings = append(warnings, w)
	}
	if had == degraded {
		return nil
	}
	if degraded {
		warnings = append(warnings, sparseDegradedWarning)
	}
	return p.catalog.SetWarnings(ctx, rec.DocID, warnings)
}

// IngestFile reads a JSON document artifact from path and ingests it. An
// artifact whose content hash matches the catalog entry for the same scope is
// skipped.
func (p *Pipeline) IngestFile(ctx context.Context, scopeID, path string) models.IngestStatus {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.IngestStatus{Status: models.StatusFailed, Error: fmt.Sprintf("read %s: %v", filepath.Base(path), err)}
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		err = fmt.Errorf("%w: decode %s: %v", models.ErrMalformedInput, filepath.Base(path), err)
		return models.IngestStatus{Status: models.StatusFailed, Error: err.Error()}
	}

	hash := ident.ContentHash(data)
	if rec, err := p.catalog.GetDocument(ctx, doc.DocID); err == nil && rec.ArtifactHash == hash && rec.ScopeID == scopeID {
		p.logger.Debug("skipping unchanged artifact", zap.String("path", path), zap.String("doc_id", doc.DocID))
		return models.IngestStatus{DocID: doc.DocID, Status: models.StatusSkipped, Chunks: rec.ChunkCount}
	}

	set, err := p.ingest(ctx, scopeID, &doc, hash)
	return StatusOf(doc.DocID, set, err)
}

// StatusOf summarizes an ingestion outcome.
func StatusOf(docID string, set *models.ChunkSet, err error) models.IngestStatus {
	if err != nil {
		return models.IngestStatus{DocID: docID, Status: models.StatusFailed, Error: err.Error()}
	}
	st := models.IngestStatus{DocID: docID, Status: models.StatusIngested, Chunks: len(set.Chunks), Warnings: set.Warnings}
	for _, w := range set.Warnings {
		if w.Code == models.WarnSparseDegraded {
			st.Status = models.StatusDegraded
		}
	}
	return st
}

// tracedEmbedder wraps each embedding call in a span.
type tracedEmbedder struct {
	inner chunking.Embedder
	name  string
}

func (t tracedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, t.name, trace.WithAttributes(attribute.Int("texts", len(texts))))
	defer span.End()
	vecs, err := t.inner.EmbedTexts(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
	}
	return vecs, err
}
