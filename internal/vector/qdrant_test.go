package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hyperjump/kirinuki/internal/models"
)

// fakeQdrant serves the handful of endpoints QdrantStore uses.
type fakeQdrant struct {
	mu       sync.Mutex
	size     int
	distance string
	requests map[string]map[string]any
	apiKeys  []string
	infos    int
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	var body map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.requests[r.Method+" "+r.URL.Path] = body

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/collections/c":
		f.infos++
		if f.size == 0 {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"config": map[string]any{
			"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": f.distance}},
		}}})
	case r.Method == http.MethodPut && r.URL.Path == "/collections/c":
		vectors := body["vectors"].(map[string]any)
		f.size = int(vectors["size"].(float64))
		f.distance = vectors["distance"].(string)
		_, _ = w.Write([]byte(`{"result":true}`))
	case r.URL.Path == "/collections/c/points/search":
		_, _ = w.Write([]byte(`{"result":[{"id":"a","score":1.5,"payload":{"doc_id":"d1"}}]}`))
	case r.URL.Path == "/collections/c/points/count":
		_, _ = w.Write([]byte(`{"result":{"count":7}}`))
	default:
		_, _ = w.Write([]byte(`{"result":{}}`))
	}
}

func (f *fakeQdrant) infoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infos
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *QdrantStore) {
	t.Helper()
	f := &fakeQdrant{requests: make(map[string]map[string]any)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewQdrantStore(QdrantConfig{URL: srv.URL, APIKey: "secret"})
}

func TestQdrantStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	f, q := newFakeQdrant(t)

	if err := q.EnsureCollection(ctx, "c", 4, Euclidean); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if f.size != 4 || f.distance != "Euclid" {
		t.Errorf("created size=%d distance=%s", f.size, f.distance)
	}
	if err := q.EnsureCollection(ctx, "c", 8, Euclidean); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}
	for _, k := range f.apiKeys {
		if k != "secret" {
			t.Errorf("api-key header = %q", k)
		}
	}
}

func TestQdrantStore_SearchNegatesEuclid(t *testing.T) {
	ctx := context.Background()
	f, q := newFakeQdrant(t)
	f.size, f.distance = 2, "Euclid"

	hits, err := q.Search(ctx, "c", []float32{1, 0}, 3, Filter{"doc_id": "d1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" || hits[0].Score != -1.5 {
		t.Fatalf("hits = %+v", hits)
	}

	req := f.requests["POST /collections/c/points/search"]
	if req["limit"].(float64) != 3 || req["with_payload"] != true {
		t.Errorf("search request = %v", req)
	}
	must := req["filter"].(map[string]any)["must"].([]any)
	cond := must[0].(map[string]any)
	if cond["key"] != "doc_id" || cond["match"].(map[string]any)["value"] != "d1" {
		t.Errorf("filter = %v", must)
	}
}

func TestQdrantStore_CountAndDelete(t *testing.T) {
	ctx := context.Background()
	f, q := newFakeQdrant(t)

	n, err := q.Count(ctx, "c")
	if err != nil || n != 7 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if err := q.Delete(ctx, "c", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if pts := f.requests["POST /collections/c/points/delete"]["points"].([]any); len(pts) != 2 {
		t.Errorf("delete points = %v", pts)
	}
	if err := q.DeleteByFilter(ctx, "c", Filter{"doc_id": "d1"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.requests["POST /collections/c/points/delete"]["filter"]; !ok {
		t.Error("delete by filter sent no filter")
	}
}

func TestQdrantStore_missingCollection(t *testing.T) {
	_, q := newFakeQdrant(t)
	if _, err := q.Search(context.Background(), "c", []float32{1}, 1, nil); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestQdrantStore_SearchCachesDistance(t *testing.T) {
	ctx := context.Background()
	f, q := newFakeQdrant(t)

	if err := q.EnsureCollection(ctx, "c", 2, Euclidean); err != nil {
		t.Fatal(err)
	}
	before := f.infoCount()
	for i := 0; i < 3; i++ {
		hits, err := q.Search(ctx, "c", []float32{1, 0}, 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		if hits[0].Score != -1.5 {
			t.Errorf("score = %v, want -1.5", hits[0].Score)
		}
	}
	if n := f.infoCount(); n != before {
		t.Errorf("search fetched collection info %d times, want 0", n-before)
	}

	// A fresh client learns the metric once.
	fresh := NewQdrantStore(QdrantConfig{URL: q.baseURL, APIKey: "secret"})
	for i := 0; i < 2; i++ {
		if _, err := fresh.Search(ctx, "c", []float32{1, 0}, 1, nil); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.infoCount(); n != before+1 {
		t.Errorf("fresh client fetched info %d times, want 1", n-before)
	}
}
