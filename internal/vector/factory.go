package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/retry"
)

// Backend names accepted in vector_store.backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

// NewStore opens the backend selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return OpenMemoryStore(cfg.SnapshotPath)
	case BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendQdrant:
		return NewQdrantStore(QdrantConfig{
			URL:     cfg.URL,
			APIKey:  config.SecretFromEnv(cfg.APIKeyEnv),
			Timeout: cfg.Timeout,
		}), nil
	case BackendPGVector:
		dsn := config.SecretFromEnv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("pgvector: environment variable %s is empty", cfg.DSNEnv)
		}
		return NewPGVectorStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown vector store backend: %s (supported: memory, sqlite, qdrant, pgvector)", cfg.Backend)
	}
}

// NewAdapterFromConfig binds store to the configured collection.
func NewAdapterFromConfig(store Store, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (*Adapter, error) {
	dist, err := ParseDistance(cfg.Distance)
	if err != nil {
		return nil, err
	}
	return NewAdapter(store, cfg.Collection, dimension, dist,
		WithBatchSize(cfg.BatchSize),
		WithRetryPolicy(retry.Policy{
			MaxRetries:     cfg.MaxRetries,
			AttemptTimeout: cfg.Timeout,
		}),
		WithLogger(logger),
	), nil
}
