package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate reports settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error

	switch c.Embedding.Provider {
	case "mock", "ollama", "openai", "onnx":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding.batch_size must be positive"))
	}
	if c.Embedding.MaxRetries < 0 {
		errs = append(errs, errors.New("embedding.max_retries must not be negative"))
	}

	ch := c.Chunking
	switch ch.Strategy {
	case "sliding_window", "percentile":
	default:
		errs = append(errs, fmt.Errorf("chunking.strategy: unknown strategy %q", ch.Strategy))
	}
	switch ch.UnitMode {
	case "sentence", "paragraph":
	default:
		errs = append(errs, fmt.Errorf("chunking.unit_mode: unknown mode %q", ch.UnitMode))
	}
	if ch.SimilarityThreshold < -1 || ch.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("chunking.similarity_threshold must be in [-1, 1]"))
	}
	if ch.BreakpointPercentile <= 0 || ch.BreakpointPercentile >= 100 {
		errs = append(errs, errors.New("chunking.breakpoint_percentile must be in (0, 100)"))
	}
	if ch.MinChunkSize < 0 || ch.MaxChunkSize <= 0 || ch.MinChunkSize >= ch.MaxChunkSize {
		errs = append(errs, errors.New("chunking: need 0 <= min_chunk_size < max_chunk_size"))
	}
	if ch.MaxUnits <= 0 || ch.MaxChunksPerDocument <= 0 {
		errs = append(errs, errors.New("chunking: max_units and max_chunks_per_document must be positive"))
	}

	switch c.VectorStore.Backend {
	case "sqlite", "memory", "qdrant", "pgvector":
	default:
		errs = append(errs, fmt.Errorf("vector_store.backend: unknown backend %q", c.VectorStore.Backend))
	}
	switch c.VectorStore.Distance {
	case "cosine", "dot", "euclid":
	default:
		errs = append(errs, fmt.Errorf("vector_store.distance: unknown distance %q", c.VectorStore.Distance))
	}
	if c.VectorStore.BatchSize < 100 || c.VectorStore.BatchSize > 500 {
		errs = append(errs, errors.New("vector_store.batch_size must be in [100, 500]"))
	}

	r := c.Retrieval
	if r.DenseWeight < 0 || r.SparseWeight < 0 || math.Abs(r.DenseWeight+r.SparseWeight-1) > 1e-6 {
		errs = append(errs, errors.New("retrieval: dense_weight and sparse_weight must be non-negative and sum to 1"))
	}
	if r.DefaultTopK <= 0 || r.MaxTopK < r.DefaultTopK {
		errs = append(errs, errors.New("retrieval: need 0 < default_top_k <= max_top_k"))
	}

	if c.Rerank.Enabled {
		switch c.Rerank.Provider {
		case "http", "onnx":
		default:
			errs = append(errs, fmt.Errorf("rerank.provider: unknown provider %q", c.Rerank.Provider))
		}
		switch c.Rerank.Format {
		case "tei", "jina":
		default:
			errs = append(errs, fmt.Errorf("rerank.format: unknown format %q", c.Rerank.Format))
		}
	}

	if c.Ingest.Concurrency <= 0 {
		errs = append(errs, errors.New("ingest.concurrency must be positive"))
	}

	return errors.Join(errs...)
}
