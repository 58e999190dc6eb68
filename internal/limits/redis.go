package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares fixed-window counters across instances. Keys are bucketed
// by window slot so counters expire with the window they belong to.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	windowSecs := int64(window / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	slot := s.now().UTC().Unix() / windowSecs
	redisKey := fmt.Sprintf("rl:%s:%d", key, slot)

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		s.client.Expire(ctx, redisKey, window)
	}
	resetAt := time.Unix((slot+1)*windowSecs, 0)
	return count, resetAt, nil
}
