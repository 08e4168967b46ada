package rerank

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kirinuki/internal/httpclient"
)

// Request formats understood by HTTPScorer.
const (
	FormatTEI  = "tei"  // text-embeddings-inference: POST /rerank
	FormatJina = "jina" // Jina/Cohere style: POST /v1/rerank
)

// HTTPConfig holds settings for a remote reranker.
type HTTPConfig struct {
	URL     string
	Format  string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// HTTPScorer calls a cross-encoder served over HTTP.
type HTTPScorer struct {
	client  *http.Client
	baseURL string
	format  string
	model   string
	apiKey  string
}

// NewHTTPScorer returns a scorer for cfg.
func NewHTTPScorer(cfg HTTPConfig) (*HTTPScorer, error) {
	switch cfg.Format {
	case "", FormatTEI:
		cfg.Format = FormatTEI
	case FormatJina:
	default:
		return nil, fmt.Errorf("unknown rerank format %q", cfg.Format)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("rerank url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPScorer{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.URL, "/"),
		format:  cfg.Format,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
	}, nil
}

type teiRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type teiResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type jinaRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type jinaResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	headers := map[string]string{}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	set := func(i int, v float64) error {
		if i < 0 || i >= len(passages) || seen[i] {
			return fmt.Errorf("rerank: bad result index %d", i)
		}
		scores[i], seen[i] = v, true
		return nil
	}

	switch s.format {
	case FormatJina:
		var resp jinaResponse
		err := httpclient.Do(ctx, s.client, "rerank", http.MethodPost, s.baseURL+"/v1/rerank", headers,
			jinaRequest{Model: s.model, Query: query, Documents: passages, TopN: len(passages)}, &resp)
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			if err := set(r.Index, r.RelevanceScore); err != nil {
				return nil, err
			}
		}
	default:
		var resp []teiResult
		err := httpclient.Do(ctx, s.client, "rerank", http.MethodPost, s.baseURL+"/rerank", headers,
			teiRequest{Query: query, Texts: passages}, &resp)
		if err != nil {
			return nil, err
		}
		for _, r := range resp {
			if err := set(r.Index, r.Score); err != nil {
				return nil, err
			}
		}
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank: no score for passage %d", i)
		}
	}
	return scores, nil
}

func (s *HTTPScorer) Name() string { return "http:" + s.format }

// Close is a no-op; the HTTP client needs no cleanup.
func (s *HTTPScorer) Close() error { return nil }
