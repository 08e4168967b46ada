package embedding

import (
	"container/list"
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Cache stores embeddings by content address (see ident.CacheKey).
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, value []float32)
}

// LRUCache is an in-process LRU cache for embeddings.
type LRUCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewLRUCache creates a new cache with the given capacity.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present.
func (c *LRUCache) Get(_ context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *LRUCache) Set(_ context.Context, key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// ShardedCache spreads keys over independent LRU shards so concurrent
// ingestions do not contend on one lock.
type ShardedCache struct {
	shards []*LRUCache
}

// NewShardedCache splits capacity evenly over n shards.
func NewShardedCache(capacity, n int) *ShardedCache {
	if n <= 0 {
		n = 1
	}
	per := capacity / n
	if per <= 0 {
		per = 1
	}
	shards := make([]*LRUCache, n)
	for i := range shards {
		shards[i] = NewLRUCache(per)
	}
	return &ShardedCache{shards: shards}
}

func (s *ShardedCache) shard(key string) *LRUCache {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *ShardedCache) Get(ctx context.Context, key string) ([]float32, bool) {
	return s.shard(key).Get(ctx, key)
}

func (s *ShardedCache) Set(ctx context.Context, key string, value []float32) {
	s.shard(key).Set(ctx, key, value)
}

// TieredCache reads through a fast local cache to a shared remote one and
// back-fills the local tier on remote hits.
type TieredCache struct {
	local  Cache
	remote Cache
}

// NewTieredCache returns a two-level cache.
func NewTieredCache(local, remote Cache) *TieredCache {
	return &TieredCache{local: local, remote: remote}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := t.local.Get(ctx, key); ok {
		return v, true
	}
	v, ok := t.remote.Get(ctx, key)
	if ok {
		t.local.Set(ctx, key, v)
	}
	return v, ok
}

func (t *TieredCache) Set(ctx context.Context, key string, value []float32) {
	t.local.Set(ctx, key, value)
	t.remote.Set(ctx, key, value)
}
