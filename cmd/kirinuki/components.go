package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/chunking"
	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/embedding"
	"github.com/hyperjump/kirinuki/internal/ingest"
	"github.com/hyperjump/kirinuki/internal/rerank"
	"github.com/hyperjump/kirinuki/internal/retrieval"
	"github.com/hyperjump/kirinuki/internal/sparse"
	"github.com/hyperjump/kirinuki/internal/storage"
	"github.com/hyperjump/kirinuki/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Provider embedding.Provider
	Batcher  *embedding.Batcher
	Store    vector.Store
	Vectors  *vector.Adapter
	Catalog  storage.Catalog
	Sparse   *sparse.Registry
	Reranker *rerank.Reranker
	Pipeline *ingest.Pipeline
	Engine   *retrieval.Engine

	closers []func() error
}

// Close releases every component in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
}

// newEmbedder builds the provider and batcher; chunk dry runs need nothing else.
func newEmbedder(ctx context.Context, cfg *config.Config, logger *zap.Logger, c *Components) error {
	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	c.Provider = provider
	c.closers = append(c.closers, provider.Close)

	batcher, closeCache, err := embedding.NewBatcherFromConfig(ctx, provider, cfg.Embedding, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	c.Batcher = batcher
	c.closers = append(c.closers, closeCache)
	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", provider.ModelName()),
		zap.Int("dimensions", provider.Dimensions()))
	return nil
}

func newChunker(cfg *config.Config, logger *zap.Logger) (*chunking.Chunker, error) {
	chunker, err := chunking.NewChunker(cfg.Chunking, chunking.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}
	return chunker, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if err := newEmbedder(ctx, cfg, logger, c); err != nil {
		return nil, err
	}

	store, err := vector.NewStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	c.Store = store
	c.closers = append(c.closers, store.Close)
	adapter, err := vector.NewAdapterFromConfig(store, cfg.VectorStore, c.Batcher.Dimensions(), logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare collection %s: %w", cfg.VectorStore.Collection, err)
	}
	c.Vectors = adapter
	logger.Info("vector store initialized",
		zap.String("backend", cfg.VectorStore.Backend),
		zap.String("collection", cfg.VectorStore.Collection),
		zap.String("distance", cfg.VectorStore.Distance))

	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	c.Catalog = catalog
	c.closers = append(c.closers, catalog.Close)

	if cfg.Sparse.EnabledOrDefault() {
		c.Sparse = sparse.NewRegistry(sparse.WithLogger(logger))
		c.closers = append(c.closers, c.Sparse.Close)
	}

	reranker, err := rerank.NewFromConfig(cfg.Rerank, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}
	if reranker != nil {
		c.Reranker = reranker
		c.closers = append(c.closers, reranker.Close)
	}

	chunker, err := newChunker(cfg, logger)
	if err != nil {
		return nil, err
	}
	pipeOpts := []ingest.Option{ingest.WithLogger(logger), ingest.WithConcurrency(cfg.Ingest.Concurrency)}
	engineOpts := []retrieval.EngineOption{retrieval.WithLogger(logger)}
	if c.Sparse != nil {
		pipeOpts = append(pipeOpts, ingest.WithSparse(c.Sparse))
		engineOpts = append(engineOpts, retrieval.WithSparse(c.Sparse))
	}
	if c.Reranker != nil {
		engineOpts = append(engineOpts, retrieval.WithReranker(c.Reranker))
	}
	c.Pipeline = ingest.NewPipeline(chunker, c.Batcher, adapter, catalog, pipeOpts...)

	dense := retrieval.NewDenseRetriever(c.Batcher, adapter, cfg.Retrieval.QueryCacheTTL)
	c.Engine = retrieval.NewEngine(dense, cfg.Retrieval, engineOpts...)

	ok = true
	return c, nil
}
