package vector

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

// Runs only when KIRINUKI_TEST_PG_DSN points at a database with pgvector.
func TestPGVectorStore(t *testing.T) {
	dsn := os.Getenv("KIRINUKI_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("KIRINUKI_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPGVectorStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPGVectorStore: %v", err)
	}
	defer s.Close()

	name := "test_" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM kirinuki_points WHERE collection LIKE $1 || '%'`, name)
		_, _ = s.pool.Exec(ctx, `DELETE FROM kirinuki_collections WHERE name LIKE $1 || '%'`, name)
	})
	exerciseStore(t, &prefixedStore{Store: s, prefix: name})
}

// prefixedStore isolates test collections in a shared database.
type prefixedStore struct {
	Store
	prefix string
}

func (p *prefixedStore) EnsureCollection(ctx context.Context, name string, dim int, d Distance) error {
	return p.Store.EnsureCollection(ctx, p.prefix+name, dim, d)
}

func (p *prefixedStore) Upsert(ctx context.Context, c string, pts []Point) error {
	return p.Store.Upsert(ctx, p.prefix+c, pts)
}

func (p *prefixedStore) Search(ctx context.Context, c string, v []float32, k int, f Filter) ([]Hit, error) {
	return p.Store.Search(ctx, p.prefix+c, v, k, f)
}

func (p *prefixedStore) Delete(ctx context.Context, c string, ids []string) error {
	return p.Store.Delete(ctx, p.prefix+c, ids)
}

func (p *prefixedStore) DeleteByFilter(ctx context.Context, c string, f Filter) error {
	return p.Store.DeleteByFilter(ctx, p.prefix+c, f)
}

func (p *prefixedStore) Count(ctx context.Context, c string) (int, error) {
	return p.Store.Count(ctx, p.prefix+c)
}
