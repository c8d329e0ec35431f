package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore backs the limiter with a redis instance. INCR gives the
// atomic increment, EXPIRE/TTL manage the window.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(addr string) *RedisCounterStore {
	return &RedisCounterStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func (s *RedisCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisCounterStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}
