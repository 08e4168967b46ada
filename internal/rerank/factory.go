package rerank

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/retry"
)

// NewFromConfig builds the configured reranker, or returns nil when
// reranking is disabled.
func NewFromConfig(cfg config.RerankConfig, logger *zap.Logger) (*Reranker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var scorer Scorer
	switch cfg.Provider {
	case "http", "":
		s, err := NewHTTPScorer(HTTPConfig{
			URL:     cfg.URL,
			Format:  cfg.Format,
			Model:   cfg.Model,
			APIKey:  config.SecretFromEnv(cfg.APIKeyEnv),
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		scorer = s
	case "onnx":
		s, err := NewONNXScorer(cfg.ModelPath, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		scorer = s
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
	}
	return New(scorer,
		WithLogger(logger),
		WithRetryPolicy(retry.Policy{MaxRetries: cfg.MaxRetries, AttemptTimeout: cfg.Timeout}),
	), nil
}
