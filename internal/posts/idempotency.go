package posts

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultIdempotencyTTL = 24 * time.Hour

	idempotencyTimeout = 5 * time.Second

	idempotencyKeyPrefix = "postboard-idempotency||"
	pendingMarker        = "pending"
	maxIdempotencyKeyLen = 128
)

var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)

type RedisIdempotencyStore struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewRedisIdempotencyStore(redisClient *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{
		redisClient: redisClient,
		ttl:         ttl,
	}
}

func idempotencyKey(identityID, key string) string {
	return idempotencyKeyPrefix + identityID + "||" + key
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, identityID, key string) (string, bool, error) {
	redisKey := idempotencyKey(identityID, key)

	reserved, err := s.redisClient.SetNX(ctx, redisKey, pendingMarker, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if reserved {
		return "", true, nil
	}

	val, err := s.redisClient.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired in between, the key is free again
			reserved, err := s.redisClient.SetNX(ctx, redisKey, pendingMarker, s.ttl).Result()
			if err != nil {
				return "", false, err
			}
			if reserved {
				return "", true, nil
			}
			return "", false, ErrSubmitPending
		}
		return "", false, err
	}

	if val == pendingMarker {
		return "", false, ErrSubmitPending
	}
	return val, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, identityID, key, postID string) error {
	return s.redisClient.Set(ctx, idempotencyKey(identityID, key), postID, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, identityID, key string) error {
	return s.redisClient.Del(ctx, idempotencyKey(identityID, key)).Err()
}
