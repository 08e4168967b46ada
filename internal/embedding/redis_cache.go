package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kirinuki/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache shares embeddings between engine instances. Vectors are stored
// as little-endian float32 bytes under prefix+key.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to the Redis server at url and pings it.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, prefix: "kirinuki:emb:", ttl: ttl, logger: logger}, nil
}

// Get treats any Redis failure as a miss; the provider is the source of truth.
func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("redis cache get failed", zap.Error(err))
		}
		return nil, false
	}
	v, err := utils.BytesToFloat32s(data)
	if err != nil {
		r.logger.Debug("redis cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value []float32) {
	if err := r.client.Set(ctx, r.prefix+key, utils.Float32sToBytes(value), r.ttl).Err(); err != nil {
		r.logger.Debug("redis cache set failed", zap.Error(err))
	}
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
