package embedding

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestLRUCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)
	if v, ok := c.Get(ctx, "a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set(ctx, "a", []float32{1, 2, 3})
	v, ok := c.Get(ctx, "a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set(ctx, "b", []float32{4, 5})
	c.Set(ctx, "c", []float32{6}) // evicts a
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get(ctx, "b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestShardedCache(t *testing.T) {
	ctx := context.Background()
	c := NewShardedCache(1000, 8)
	for i := 0; i < 100; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []float32{float32(i)})
	}
	for i := 0; i < 100; i++ {
		v, ok := c.Get(ctx, fmt.Sprintf("k%d", i))
		if !ok || v[0] != float32(i) {
			t.Fatalf("k%d: got %v %v", i, v, ok)
		}
	}
	// Same key always maps to the same shard.
	if c.shard("k1") != c.shard("k1") {
		t.Error("shard selection should be stable")
	}
}

func TestTieredCache_backfillsLocal(t *testing.T) {
	ctx := context.Background()
	local := NewLRUCache(10)
	remote := NewLRUCache(10)
	remote.Set(ctx, "k", []float32{7})
	c := NewTieredCache(local, remote)

	v, ok := c.Get(ctx, "k")
	if !ok || v[0] != 7 {
		t.Fatalf("Get: %v %v", v, ok)
	}
	if _, ok := local.Get(ctx, "k"); !ok {
		t.Error("remote hit should back-fill local tier")
	}
	c.Set(ctx, "n", []float32{1})
	if _, ok := remote.Get(ctx, "n"); !ok {
		t.Error("Set should write through to remote tier")
	}
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("KIRINUKI_TEST_REDIS_URL")
	if url == "" {
		t.Skip("KIRINUKI_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rc, err := NewRedisCache(ctx, url, time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	if _, ok := rc.Get(ctx, key); ok {
		t.Fatal("expected miss")
	}
	rc.Set(ctx, key, []float32{0.5, -0.25})
	v, ok := rc.Get(ctx, key)
	if !ok || len(v) != 2 || v[0] != 0.5 || v[1] != -0.25 {
		t.Errorf("Get: %v %v", v, ok)
	}
}
