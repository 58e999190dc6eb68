package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares cache entries across instances. Expiry is delegated to
// Redis TTLs; pattern invalidation walks keys with SCAN to keep the server
// responsive under large keyspaces.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cache"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if s == nil || s.client == nil || key == "" {
		return nil, false
	}
	data, err := s.client.Get(ctx, s.prefixed(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s == nil || s.client == nil || key == "" || ttl <= 0 {
		return
	}
	s.client.Set(ctx, s.prefixed(key), value, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if s == nil || s.client == nil || key == "" {
		return
	}
	s.client.Del(ctx, s.prefixed(key))
}

func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) int {
	if s == nil || s.client == nil || pattern == "" {
		return 0
	}
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefixed(pattern), 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			removed += s.deleteBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		removed += s.deleteBatch(ctx, batch)
	}
	return removed
}

func (s *RedisStore) deleteBatch(ctx context.Context, keys []string) int {
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (s *RedisStore) prefixed(key string) string {
	var b strings.Builder
	b.WriteString(s.prefix)
	b.WriteString(":")
	b.WriteString(key)
	return b.String()
}
