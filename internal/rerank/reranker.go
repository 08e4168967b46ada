// Package rerank reorders a fused candidate pool with a cross-encoder and
// falls back to the incoming order when the model is unavailable.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/retry"
)

// Scorer scores (query, passage) pairs jointly. Higher is more relevant.
// The returned slice must have one score per passage, in passage order.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
	Name() string
	Close() error
}

// Item is one candidate to rerank.
type Item struct {
	ChunkID string
	Text    string
	Score   float64
}

// Reranker wraps a Scorer with retries and fallback.
type Reranker struct {
	scorer Scorer
	policy retry.Policy
	logger *zap.Logger
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reranker) { r.logger = l }
}

// WithRetryPolicy sets the retry policy for scorer calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Reranker) { r.policy = p }
}

// New returns a reranker around scorer.
func New(scorer Scorer, opts ...Option) *Reranker {
	r := &Reranker{
		scorer: scorer,
		policy: retry.Policy{MaxRetries: 2, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Name returns the scorer name.
func (r *Reranker) Name() string { return r.scorer.Name() }

// Rerank scores items against query and returns the best topN, each carrying
// its cross-encoder score. Equal scores keep their incoming order.
//
// If scoring fails, the first topN items are returned unchanged together with
// an error wrapping ErrProviderUnavailable. The items are still usable.
func (r *Reranker) Rerank(ctx context.Context, query string, items []Item, topN int) ([]Item, error) {
	if topN <= 0 || topN > len(items) {
		topN = len(items)
	}
	if len(items) == 0 {
		return items, nil
	}

	passages := make([]string, len(items))
	for i, it := range items {
		passages[i] = it.Text
	}
	scores, err := retry.Do(ctx, r.policy, func(ctx context.Context) ([]float64, error) {
		s, err := r.scorer.Score(ctx, query, passages)
		if err == nil && len(s) != len(passages) {
			return nil, retry.Permanent(fmt.Errorf("%s returned %d scores for %d passages", r.scorer.Name(), len(s), len(passages)))
		}
		return s, err
	}, func(err error, wait time.Duration) {
		r.logger.Debug("rerank failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		r.logger.Warn("reranker unavailable, keeping fused order",
			zap.String("scorer", r.scorer.Name()), zap.Int("candidates", len(items)), zap.Error(err))
		fallback := make([]Item, topN)
		copy(fallback, items[:topN])
		return fallback, fmt.Errorf("%w: rerank: %v", models.ErrProviderUnavailable, err)
	}

	ranked := make([]Item, len(items))
	for i, it := range items {
		it.Score = scores[i]
		ranked[i] = it
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked[:topN], nil
}

// Close releases the scorer.
func (r *Reranker) Close() error { return r.scorer.Close() }
