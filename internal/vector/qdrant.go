package vector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kirinuki/internal/httpclient"
	"github.com/hyperjump/kirinuki/internal/models"
)

// QdrantConfig holds connection settings for a Qdrant server.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// QdrantStore talks to Qdrant over its REST API.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu        sync.RWMutex
	distances map[string]Distance
}

// NewQdrantStore returns a client for the server at cfg.URL.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &QdrantStore{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		client:    &http.Client{Timeout: cfg.Timeout},
		distances: make(map[string]Distance),
	}
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantMatch struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

type qdrantFilter struct {
	Must []qdrantMatch `json:"must"`
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (q *QdrantStore) collectionURL(name string, suffix string) string {
	return q.baseURL + "/collections/" + url.PathEscape(name) + suffix
}

func (q *QdrantStore) do(ctx context.Context, method, u string, in, out any) error {
	return httpclient.Do(ctx, q.client, "qdrant", method, u, map[string]string{"api-key": q.apiKey}, in, out)
}

func qdrantDistance(d Distance) string {
	switch d {
	case Dot:
		return "Dot"
	case Euclidean:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func toQdrantFilter(filter Filter) *qdrantFilter {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f := &qdrantFilter{}
	for _, k := range keys {
		f.Must = append(f.Must, qdrantMatch{Key: k, Match: map[string]any{"value": filter[k]}})
	}
	return f
}

func isStatus(err error, status int) bool {
	var se *httpclient.StatusError
	return errors.As(err, &se) && se.Status == status
}

// info fetches the collection's vector params. A missing collection is ErrNotFound.
func (q *QdrantStore) info(ctx context.Context, name string) (int, Distance, error) {
	var info qdrantCollectionInfo
	if err := q.do(ctx, http.MethodGet, q.collectionURL(name, ""), nil, &info); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return 0, "", fmt.Errorf("%w: collection %s", models.ErrNotFound, name)
		}
		return 0, "", err
	}
	v := info.Result.Config.Params.Vectors
	var dist Distance
	switch v.Distance {
	case "Dot":
		dist = Dot
	case "Euclid":
		dist = Euclidean
	default:
		dist = Cosine
	}
	q.remember(name, dist)
	return v.Size, dist, nil
}

func (q *QdrantStore) remember(name string, dist Distance) {
	q.mu.Lock()
	q.distances[name] = dist
	q.mu.Unlock()
}

func (q *QdrantStore) forget(name string) {
	q.mu.Lock()
	delete(q.distances, name)
	q.mu.Unlock()
}

// distance returns the collection's metric, asking the server only on a cache miss.
func (q *QdrantStore) distance(ctx context.Context, name string) (Distance, error) {
	q.mu.RLock()
	dist, ok := q.distances[name]
	q.mu.RUnlock()
	if ok {
		return dist, nil
	}
	_, dist, err := q.info(ctx, name)
	return dist, err
}

func (q *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	size, _, err := q.info(ctx, name)
	if err == nil {
		return checkDimension(name, size, dimension)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": qdrantDistance(distance)},
	}
	if err := q.do(ctx, http.MethodPut, q.collectionURL(name, ""), body, nil); err != nil {
		return err
	}
	q.remember(name, distance)
	return nil
}

func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qp := make([]qdrantPoint, len(points))
	for i, p := range points {
		qp[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	err := q.do(ctx, http.MethodPut, q.collectionURL(collection, "/points?wait=true"),
		map[string]any{"points": qp}, nil)
	if isStatus(err, http.StatusBadRequest) && strings.Contains(err.Error(), "dimension") {
		return fmt.Errorf("%w: %v", models.ErrDimensionMismatch, err)
	}
	return err
}

func (q *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	dist, err := q.distance(ctx, collection)
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := toQdrantFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL(collection, "/points/search"), req, &resp); err != nil {
		if isStatus(err, http.StatusNotFound) {
			q.forget(collection)
			return nil, fmt.Errorf("%w: collection %s", models.ErrNotFound, collection)
		}
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		s := r.Score
		if dist == Euclidean {
			// Qdrant reports euclidean distance; flip so higher is closer.
			s = -s
		}
		hits = append(hits, Hit{ID: fmt.Sprint(r.ID), Score: s, Payload: r.Payload})
	}
	return hits, nil
}

func (q *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.do(ctx, http.MethodPost, q.collectionURL(collection, "/points/delete?wait=true"),
		map[string]any{"points": ids}, nil)
}

func (q *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	f := toQdrantFilter(filter)
	if f == nil {
		f = &qdrantFilter{Must: []qdrantMatch{}}
	}
	return q.do(ctx, http.MethodPost, q.collectionURL(collection, "/points/delete?wait=true"),
		map[string]any{"filter": f}, nil)
}

func (q *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL(collection, "/points/count"),
		map[string]any{"exact": true}, &resp)
	if isStatus(err, http.StatusNotFound) {
		return 0, fmt.Errorf("%w: collection %s", models.ErrNotFound, collection)
	}
	return resp.Result.Count, err
}

// Close is a no-op; the HTTP client needs no cleanup.
func (q *QdrantStore) Close() error { return nil }
