package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/retry"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of points per upsert request.
const DefaultBatchSize = 256

// Adapter binds a Store to one collection. It validates every point before
// anything is written, upserts in batches, and retries transient backend
// failures. Contract violations fail immediately.
type Adapter struct {
	store      Store
	collection string
	dimension  int
	distance   Distance
	required   []string
	batchSize  int
	policy     retry.Policy
	logger     *zap.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *zap.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// WithBatchSize sets the upsert batch size.
func WithBatchSize(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithRetryPolicy sets the retry policy for backend calls.
func WithRetryPolicy(p retry.Policy) AdapterOption {
	return func(a *Adapter) { a.policy = p }
}

// WithRequiredFields overrides the payload fields every point must carry.
func WithRequiredFields(fields []string) AdapterOption {
	return func(a *Adapter) { a.required = fields }
}

// NewAdapter returns an adapter for collection.
func NewAdapter(store Store, collection string, dimension int, distance Distance, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		store:      store,
		collection: collection,
		dimension:  dimension,
		distance:   distance,
		required:   models.RequiredPayloadFields,
		batchSize:  DefaultBatchSize,
		policy:     retry.Policy{MaxRetries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Collection returns the bound collection name.
func (a *Adapter) Collection() string { return a.collection }

// Dimension returns the collection's vector length.
func (a *Adapter) Dimension() int { return a.dimension }

// EnsureCollection creates the collection if needed; an existing collection
// with another dimension is a hard error.
func (a *Adapter) EnsureCollection(ctx context.Context) error {
	return a.do(ctx, "ensure_collection", func(ctx context.Context) error {
		return a.store.EnsureCollection(ctx, a.collection, a.dimension, a.distance)
	})
}

// Upsert validates all points, then writes them in batches. Re-upserting the
// same ids overwrites, so a retried ingestion is idempotent.
func (a *Adapter) Upsert(ctx context.Context, points []Point) error {
	for _, p := range points {
		if err := ValidatePoint(p, a.dimension, a.required); err != nil {
			return err
		}
	}
	for start := 0; start < len(points); start += a.batchSize {
		batch := points[start:min(start+a.batchSize, len(points))]
		err := a.do(ctx, "upsert", func(ctx context.Context) error {
			return a.store.Upsert(ctx, a.collection, batch)
		})
		if err != nil {
			return fmt.Errorf("upsert points %d-%d: %w", start, start+len(batch), err)
		}
	}
	return nil
}

// Search returns up to topK hits ordered by descending score.
func (a *Adapter) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if len(vector) != a.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			models.ErrDimensionMismatch, len(vector), a.dimension)
	}
	var hits []Hit
	err := a.do(ctx, "search", func(ctx context.Context) error {
		var err error
		hits, err = a.store.Search(ctx, a.collection, vector, topK, filter)
		return err
	})
	return hits, err
}

// Delete removes points by id.
func (a *Adapter) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return a.do(ctx, "delete", func(ctx context.Context) error {
		return a.store.Delete(ctx, a.collection, ids)
	})
}

// DeleteDocument removes every point of docID.
func (a *Adapter) DeleteDocument(ctx context.Context, docID string) error {
	return a.do(ctx, "delete_document", func(ctx context.Context) error {
		return a.store.DeleteByFilter(ctx, a.collection, Filter{"doc_id": docID})
	})
}

// Count returns the number of points in the collection.
func (a *Adapter) Count(ctx context.Context) (int, error) {
	var n int
	err := a.do(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = a.store.Count(ctx, a.collection)
		return err
	})
	return n, err
}

func (a *Adapter) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := retry.Do(ctx, a.policy, func(ctx context.Context) (struct{}, error) {
		err := fn(ctx)
		if isContractError(err) {
			return struct{}{}, retry.Permanent(err)
		}
		return struct{}{}, err
	}, func(err error, wait time.Duration) {
		a.logger.Warn("vector store call failed, retrying",
			zap.String("op", op), zap.String("collection", a.collection),
			zap.Duration("wait", wait), zap.Error(err))
	})
	if err == nil || isContractError(err) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: vector store %s: %v", models.ErrProviderUnavailable, op, err)
}

func isContractError(err error) bool {
	return errors.Is(err, models.ErrDimensionMismatch) ||
		errors.Is(err, models.ErrMissingPayloadField) ||
		errors.Is(err, models.ErrMalformedInput) ||
		errors.Is(err, models.ErrNotFound)
}
