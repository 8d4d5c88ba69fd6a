package auth

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

type LoginChecker struct {
	ttl         time.Duration
	redisClient *redis.Client
	NowFunc     func() time.Time
}

func NewLoginChecker(ttl time.Duration, redisClient *redis.Client) *LoginChecker {
	return &LoginChecker{
		ttl:         ttl,
		redisClient: redisClient,
		NowFunc:     time.Now,
	}
}

func (c *LoginChecker) Identity(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, nil
	}

	cmd := c.redisClient.Get(ctx, sessionKeyPrefix+token)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return Identity{}, nil
		}
		return Identity{}, err
	}

	s, err := parseSession(cmd.Val())
	if err != nil {
		return Identity{}, err
	}

	if c.NowFunc().Sub(s.createdAt) > c.ttl {
		return Identity{}, nil
	}

	return s.identity, nil
}
