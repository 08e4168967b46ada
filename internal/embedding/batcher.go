package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kirinuki/internal/ident"
	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/retry"
	"github.com/hyperjump/kirinuki/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of texts sent to the provider per call.
const DefaultBatchSize = 100

// Batcher embeds arbitrary numbers of texts through a Provider. It serves
// repeats from the cache, sends misses in fixed-size batches, and retries
// each batch with bounded exponential backoff. When a batch still fails the
// whole call fails; no vector is ever substituted. Safe for concurrent use.
type Batcher struct {
	provider  Provider
	cache     Cache
	batchSize int
	policy    retry.Policy
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithLogger sets a logger for retry and batch diagnostics.
func WithLogger(l *zap.Logger) BatcherOption {
	return func(b *Batcher) { b.logger = l }
}

// WithCache replaces the default in-process cache.
func WithCache(c Cache) BatcherOption {
	return func(b *Batcher) { b.cache = c }
}

// WithBatchSize sets how many texts go to the provider per call.
func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithRetryPolicy sets the per-batch retry policy.
func WithRetryPolicy(p retry.Policy) BatcherOption {
	return func(b *Batcher) { b.policy = p }
}

// WithRateLimit caps provider calls per second; zero disables the limit.
func WithRateLimit(perSecond float64) BatcherOption {
	return func(b *Batcher) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewBatcher wraps provider.
func NewBatcher(provider Provider, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		provider:  provider,
		cache:     NewShardedCache(10000, 16),
		batchSize: DefaultBatchSize,
		policy: retry.Policy{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			AttemptTimeout:  30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Dimensions returns the provider's vector length.
func (b *Batcher) Dimensions() int { return b.provider.Dimensions() }

// ModelName returns the provider's model.
func (b *Batcher) ModelName() string { return b.provider.ModelName() }

// EmbedTexts returns one vector per text, in order.
func (b *Batcher) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	model := b.provider.ModelName()
	dim := b.provider.Dimensions()

	// Identical texts within the call are embedded once.
	pending := make(map[string][]int)
	var missKeys []string
	var missTexts []string
	for i, text := range texts {
		key := ident.CacheKey(text, model)
		// A shared tier may hold vectors written under another dimension.
		if v, ok := b.cache.Get(ctx, key); ok && len(v) == dim {
			out[i] = v
			continue
		}
		if _, seen := pending[key]; !seen {
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
		pending[key] = append(pending[key], i)
	}

	for start := 0; start < len(missTexts); start += b.batchSize {
		end := min(start+b.batchSize, len(missTexts))
		vecs, err := b.embedBatch(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			key := missKeys[start+j]
			b.cache.Set(ctx, key, v)
			for _, i := range pending[key] {
				out[i] = v
			}
		}
	}

	b.logger.Debug("embedded texts",
		zap.Int("texts", len(texts)),
		zap.Int("cache_misses", len(missTexts)))
	return out, nil
}

// EmbedQuery embeds a single query text.
func (b *Batcher) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := b.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (b *Batcher) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	dim := b.provider.Dimensions()
	vecs, err := retry.Do(ctx, b.policy, func(ctx context.Context) ([][]float32, error) {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vecs, err := b.provider.Embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for i, v := range vecs {
			if len(v) != dim {
				return nil, retry.Permanent(fmt.Errorf("%w: vector %d has %d dimensions, want %d",
					models.ErrDimensionMismatch, i, len(v), dim))
			}
			if utils.IsZero(v) {
				return nil, fmt.Errorf("provider returned a zero vector for text %d", i)
			}
		}
		return vecs, nil
	}, func(err error, wait time.Duration) {
		b.logger.Warn("embedding batch failed, retrying",
			zap.Int("batch", len(batch)), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, models.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: embedding %d texts: %v", models.ErrProviderUnavailable, len(batch), err)
	}
	return vecs, nil
}
