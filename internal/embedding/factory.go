package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/retry"
	"go.uber.org/zap"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "mock":
		return NewMockProvider(cfg.Dimensions), nil
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     config.SecretFromEnv(cfg.APIKeyEnv),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil
	case "onnx":
		return NewONNXProvider(cfg.ModelPath, cfg.Model, cfg.Dimensions, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewBatcherFromConfig wires a batcher around provider with the configured
// cache tiers, rate limit, and retry policy. The returned close func releases
// the Redis tier when one is configured.
func NewBatcherFromConfig(ctx context.Context, provider Provider, cfg config.EmbeddingConfig, logger *zap.Logger) (*Batcher, func() error, error) {
	var cache Cache = NewShardedCache(cfg.CacheSize, cfg.CacheShards)
	closeFn := func() error { return nil }

	if url := config.SecretFromEnv(cfg.RedisURLEnv); url != "" {
		rc, err := NewRedisCache(ctx, url, cfg.RedisTTL, logger)
		if err != nil {
			return nil, nil, err
		}
		cache = NewTieredCache(cache, rc)
		closeFn = rc.Close
	}

	b := NewBatcher(provider,
		WithCache(cache),
		WithBatchSize(cfg.BatchSize),
		WithRateLimit(cfg.RequestsPerSecond),
		WithRetryPolicy(retry.Policy{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.InitialBackoff,
			MaxInterval:     cfg.MaxBackoff,
			AttemptTimeout:  cfg.Timeout,
		}),
		WithLogger(logger),
	)
	return b, closeFn, nil
}
