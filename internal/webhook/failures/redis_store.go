package failures

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore counts failures in Redis so the threshold holds
// across API instances. Keys expire one window after the first failure.
type RedisCounterStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCounterStore(client redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: "posbridge:failures:"}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
