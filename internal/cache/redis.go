package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellarlinkco/factubot/internal/config"
)

const keyPrefix = "factubot:billing:"

// store is the subset of *redis.Client the cache uses.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis keeps billing responses in Redis under a fixed key prefix.
type Redis struct {
	rdb    store
	prefix string
}

// NewRedis connects using a redis:// URL and checks the server answers.
func NewRedis(ctx context.Context, cfg config.CacheConfig) (*Redis, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	r := &Redis{rdb: redis.NewClient(opt), prefix: keyPrefix}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		_ = r.rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return r, nil
}

func newRedisWithStore(s store) *Redis {
	return &Redis{rdb: s, prefix: keyPrefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
