package retrieval

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/vector"
)

// QueryEmbedder embeds a single query; the embedding batcher satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Searcher is the vector store view the dense retriever needs.
type Searcher interface {
	Search(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Hit, error)
}

// DenseRetriever embeds queries and searches the vector store within a scope.
// Scores are passed through from the store untouched.
type DenseRetriever struct {
	embedder QueryEmbedder
	store    Searcher
	cache    *gocache.Cache
}

// NewDenseRetriever returns a retriever caching query vectors for ttl.
// A zero ttl disables the cache.
func NewDenseRetriever(embedder QueryEmbedder, store Searcher, ttl time.Duration) *DenseRetriever {
	d := &DenseRetriever{embedder: embedder, store: store}
	if ttl > 0 {
		d.cache = gocache.New(ttl, 2*ttl)
	}
	return d
}

func (d *DenseRetriever) embed(ctx context.Context, query string) ([]float32, error) {
	if d.cache != nil {
		if v, ok := d.cache.Get(query); ok {
			return v.([]float32), nil
		}
	}
	vec, err := d.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		d.cache.SetDefault(query, vec)
	}
	return vec, nil
}

// Retrieve returns the raw top-K hits for query in scopeID.
func (d *DenseRetriever) Retrieve(ctx context.Context, query, scopeID string, topK int) ([]vector.Hit, error) {
	vec, err := d.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return d.store.Search(ctx, vec, topK, vector.Filter{"scope_id": scopeID})
}

func hitsToCandidates(hits []vector.Hit) []models.Candidate {
	out := make([]models.Candidate, len(hits))
	for i, h := range hits {
		out[i] = models.Candidate{ChunkID: h.ID, Score: h.Score, Type: models.RetrievalDense}
	}
	return out
}
