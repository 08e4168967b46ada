package sparse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/models"
)

type entry struct {
	scopeID string
	index   bleve.Index
	chunks  map[string]*models.Chunk
}

// Registry maps doc_id to that document's keyword index. It is safe for
// concurrent use; builds run outside the lock and swap in atomically.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	degraded map[string]string // doc_id -> scope_id
	byChunk  map[string]string // chunk_id -> doc_id
	factory  IndexFactory
	logger   *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for build failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithIndexFactory replaces the in-memory bleve factory.
func WithIndexFactory(f IndexFactory) Option {
	return func(r *Registry) { r.factory = f }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		degraded: make(map[string]string),
		byChunk:  make(map[string]string),
		factory:  MemIndexFactory,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Build replaces docID's index with one built from chunks. On failure the
// previous index is dropped, the document is marked degraded, and an error
// wrapping ErrIndexBuildDegraded is returned; callers log it and carry on.
func (r *Registry) Build(ctx context.Context, docID, scopeID string, chunks []*models.Chunk) error {
	idx, err := buildIndex(ctx, r.factory, chunks)
	if err != nil {
		r.mu.Lock()
		r.removeLocked(docID)
		r.degraded[docID] = scopeID
		r.mu.Unlock()
		r.logger.Warn("sparse index build failed, document degraded to dense-only",
			zap.String("doc_id", docID), zap.Int("chunks", len(chunks)), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", models.ErrIndexBuildDegraded, docID, err)
	}

	e := &entry{scopeID: scopeID, index: idx, chunks: make(map[string]*models.Chunk, len(chunks))}
	for _, c := range chunks {
		e.chunks[c.ChunkID] = c
	}

	r.mu.Lock()
	r.removeLocked(docID)
	delete(r.degraded, docID)
	r.entries[docID] = e
	for id := range e.chunks {
		r.byChunk[id] = docID
	}
	r.mu.Unlock()
	return nil
}

// Remove drops docID's index and degraded mark.
func (r *Registry) Remove(docID string) {
	r.mu.Lock()
	r.removeLocked(docID)
	delete(r.degraded, docID)
	r.mu.Unlock()
}

func (r *Registry) removeLocked(docID string) {
	old, ok := r.entries[docID]
	if !ok {
		return
	}
	for id := range old.chunks {
		delete(r.byChunk, id)
	}
	delete(r.entries, docID)
	if err := old.index.Close(); err != nil {
		r.logger.Debug("close sparse index", zap.String("doc_id", docID), zap.Error(err))
	}
}

// DocsInScope returns the ids of indexed and degraded documents in scopeID, sorted.
func (r *Registry) DocsInScope(scopeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.entries {
		if e.scopeID == scopeID {
			ids = append(ids, id)
		}
	}
	for id, scope := range r.degraded {
		if scope == scopeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsDegraded reports whether docID's last build failed.
func (r *Registry) IsDegraded(docID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.degraded[docID]
	return ok
}

// Chunk returns an indexed chunk by id.
func (r *Registry) Chunk(chunkID string) (*models.Chunk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docID, ok := r.byChunk[chunkID]
	if !ok {
		return nil, false
	}
	c, ok := r.entries[docID].chunks[chunkID]
	return c, ok
}

// Len returns the number of indexed documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Result is the outcome of a sparse query.
type Result struct {
	Candidates []models.Candidate
	// Degraded lists requested documents whose index build failed.
	Degraded []string
	// Missing lists requested documents with no index at all.
	Missing []string
}

// Retrieve scores query against the indices of docIDs only and returns the top
// topK candidates across them, ordered by score then chunk id. A failing index
// is reported as degraded; it does not fail the call.
func (r *Registry) Retrieve(ctx context.Context, query string, docIDs []string, topK int) (*Result, error) {
	res := &Result{}
	if topK <= 0 {
		return res, nil
	}

	type target struct {
		docID string
		index bleve.Index
	}
	var targets []target
	r.mu.RLock()
	for _, id := range docIDs {
		if e, ok := r.entries[id]; ok {
			targets = append(targets, target{id, e.index})
		} else if _, ok := r.degraded[id]; ok {
			res.Degraded = append(res.Degraded, id)
		} else {
			res.Missing = append(res.Missing, id)
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		hits, err := searchIndex(ctx, t.index, query, topK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// An index closed by a concurrent rebuild or delete is skipped.
			if errors.Is(err, bleve.ErrorIndexClosed) {
				continue
			}
			r.logger.Warn("sparse query failed", zap.String("doc_id", t.docID), zap.Error(err))
			res.Degraded = append(res.Degraded, t.docID)
			continue
		}
		res.Candidates = append(res.Candidates, hits...)
	}

	sort.SliceStable(res.Candidates, func(i, j int) bool {
		if res.Candidates[i].Score != res.Candidates[j].Score {
			return res.Candidates[i].Score > res.Candidates[j].Score
		}
		return res.Candidates[i].ChunkID < res.Candidates[j].ChunkID
	})
	if len(res.Candidates) > topK {
		res.Candidates = res.Candidates[:topK]
	}
	return res, nil
}

// Close releases every index.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, e := range r.entries {
		if err := e.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index %s: %w", id, err))
		}
	}
	r.entries = make(map[string]*entry)
	r.byChunk = make(map[string]string)
	return errors.Join(errs...)
}
