package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/rerank"
	"github.com/hyperjump/kirinuki/internal/sparse"
	"github.com/hyperjump/kirinuki/internal/vector"
)

var tracer = otel.Tracer("github.com/hyperjump/kirinuki/internal/retrieval")

// Engine runs hybrid retrieval for one query at a time; it is safe for
// concurrent use.
type Engine struct {
	dense    *DenseRetriever
	sparse   *sparse.Registry
	reranker *rerank.Reranker
	config   config.RetrievalConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for degraded stages.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithSparse enables sparse retrieval against registry.
func WithSparse(registry *sparse.Registry) EngineOption {
	return func(e *Engine) { e.sparse = registry }
}

// WithReranker enables reranking of the fused pool.
func WithReranker(r *rerank.Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// NewEngine creates a retrieval engine. Sparse retrieval and reranking are
// off unless enabled through options.
func NewEngine(dense *DenseRetriever, cfg config.RetrievalConfig, opts ...EngineOption) *Engine {
	e := &Engine{dense: dense, config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// hydrated is a fused candidate with its text and metadata resolved.
type hydrated struct {
	Fused
	text     string
	metadata map[string]any
}

// Retrieve answers q. Sparse and rerank failures, and a dense failure while
// sparse retrieval is still available, degrade the response instead of
// failing it; the skipped stages are listed in Degraded.
func (e *Engine) Retrieve(ctx context.Context, q *models.RetrievalQuery) (*models.RetrievalResponse, error) {
	start := time.Now()
	if err := q.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("scope_id", q.ScopeID), attribute.Int("top_k", q.TopK))

	resp := &models.RetrievalResponse{Query: q.Query, ScopeID: q.ScopeID, Results: []*models.RetrievalResult{}}
	degrade := func(stage models.Stage, msg string) {
		resp.Degraded = append(resp.Degraded, stage)
		resp.Warnings = append(resp.Warnings, msg)
	}

	var (
		denseHits []vector.Hit
		denseErr  error
		sparseRes *sparse.Result
		sparseErr error
		wg        sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, span := tracer.Start(ctx, "retrieve.dense")
		defer span.End()
		denseHits, denseErr = e.dense.Retrieve(ctx, q.Query, q.ScopeID, e.config.DenseTopK)
		if denseErr != nil {
			span.RecordError(denseErr)
			span.SetStatus(codes.Error, "dense retrieval failed")
		}
	}()

	if e.sparse != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, span := tracer.Start(ctx, "retrieve.sparse")
			defer span.End()
			sparseRes, sparseErr = e.sparse.Retrieve(ctx, q.Query, e.sparse.DocsInScope(q.ScopeID), e.config.SparseTopK)
			if sparseErr != nil {
				span.RecordError(sparseErr)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if denseErr != nil {
		if e.sparse == nil || sparseErr != nil {
			span.SetStatus(codes.Error, "no retriever available")
			return nil, fmt.Errorf("dense retrieval failed: %w", errors.Join(denseErr, sparseErr))
		}
		e.logger.Warn("dense retrieval failed, answering from sparse only",
			zap.String("scope_id", q.ScopeID), zap.Error(denseErr))
		degrade(models.StageDenseSearching, "dense retrieval unavailable: "+denseErr.Error())
	}
	if e.sparse != nil {
		switch {
		case sparseErr != nil:
			e.logger.Warn("sparse retrieval failed", zap.String("scope_id", q.ScopeID), zap.Error(sparseErr))
			degrade(models.StageSparseSearching, "sparse retrieval unavailable: "+sparseErr.Error())
			sparseRes = &sparse.Result{}
		case len(sparseRes.Degraded) > 0 || len(sparseRes.Missing) > 0:
			ids := append(append([]string{}, sparseRes.Degraded...), sparseRes.Missing...)
			degrade(models.StageSparseSearching, "no sparse index for documents: "+strings.Join(ids, ", "))
		}
	} else {
		sparseRes = &sparse.Result{}
	}

	pool := Merge(hitsToCandidates(denseHits), sparseRes.Candidates,
		e.config.DenseWeight, e.config.SparseWeight, e.config.PoolSize)
	candidates := e.hydrate(pool, denseHits, q.ScopeID)

	reranked := false
	if e.reranker != nil && len(candidates) > 0 {
		rctx, rspan := tracer.Start(ctx, "retrieve.rerank")
		items := make([]rerank.Item, len(candidates))
		byID := make(map[string]hydrated, len(candidates))
		for i, c := range candidates {
			items[i] = rerank.Item{ChunkID: c.ChunkID, Text: c.text, Score: c.Score}
			byID[c.ChunkID] = c
		}
		out, err := e.reranker.Rerank(rctx, q.Query, items, q.TopK)
		if err != nil {
			rspan.RecordError(err)
			degrade(models.StageReranking, "reranker unavailable, fused order kept")
		} else {
			reranked = true
		}
		rspan.End()
		candidates = candidates[:0]
		for _, it := range out {
			c := byID[it.ChunkID]
			c.Score = it.Score
			candidates = append(candidates, c)
		}
	}
	if len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}

	for _, c := range candidates {
		resp.Results = append(resp.Results, &models.RetrievalResult{
			ChunkID:       c.ChunkID,
			Text:          c.text,
			Score:         c.Score,
			RetrievalType: c.Type,
			Reranked:      reranked,
			Metadata:      c.metadata,
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Int("results", len(resp.Results)), attribute.Bool("degraded", resp.IsDegraded()))
	return resp, nil
}

// hydrate attaches text and metadata, preferring the vector payload and
// falling back to the sparse registry. Unresolvable candidates are dropped.
func (e *Engine) hydrate(pool []Fused, denseHits []vector.Hit, scopeID string) []hydrated {
	payloads := make(map[string]map[string]any, len(denseHits))
	for _, h := range denseHits {
		payloads[h.ID] = h.Payload
	}
	out := make([]hydrated, 0, len(pool))
	for _, f := range pool {
		p, ok := payloads[f.ChunkID]
		if !ok && e.sparse != nil {
			if c, found := e.sparse.Chunk(f.ChunkID); found {
				p, ok = c.Payload(scopeID), true
			}
		}
		if !ok {
			e.logger.Debug("dropping candidate without payload", zap.String("chunk_id", f.ChunkID))
			continue
		}
		meta := make(map[string]any, len(p))
		for k, v := range p {
			if k != "text" {
				meta[k] = v
			}
		}
		text, _ := p["text"].(string)
		out = append(out, hydrated{Fused: f, text: text, metadata: meta})
	}
	return out
}
