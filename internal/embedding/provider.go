// Package embedding turns text into vectors: providers wrap embedding models,
// and the Batcher adds batching, caching, rate limiting, and retries on top.
package embedding

import "context"

// Provider produces one vector per input text, in input order. A provider
// must return an error rather than fewer vectors than texts.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}
