// Package reqcache is an optional response cache for REST page fetches,
// grounded on the corpus's Redis cache wrapper (CRun0.9's
// infrastructure/cache.RedisCache): a minimal Get/Set interface over
// github.com/redis/go-redis/v9, used to avoid re-fetching REST pages whose
// window has already been fetched once within the TTL window. This sits in
// front of the REST stage only; it never substitutes for the on-disk cache
// store, which is the durable, content-addressed source of truth.
package reqcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the interface restapi.Client depends on, small enough to fake in
// tests without pulling in a real Redis instance.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by a single Redis instance.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Config addresses the Redis connection and default TTL.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New constructs a RedisCache. It does not dial eagerly; the first Get/Set
// call establishes the connection lazily, matching go-redis's client model.
func New(cfg Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached value for key, or ok=false on a cache miss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value under key. A zero ttl falls back to the cache's default.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the underlying connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
