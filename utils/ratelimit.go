package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter per key kept in redis.
type RateLimiter struct {
	client *redis.Client
	scope  string
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, scope: scope, limit: limit, window: window}
}

// Allow counts one attempt for key. When the window already holds limit attempts it
// returns false and the time left until the window resets.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	redisKey := "ratelimit:" + l.scope + ":" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// The window starts at the first attempt and is not extended by later ones.
		pipe.SetNX(ctx, redisKey, 0, l.window)
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.TTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limiter: %w", err)
	}

	if incr.Val() > int64(l.limit) {
		retry := ttl.Val()
		if retry < 0 {
			retry = l.window
		}
		return false, retry, nil
	}
	return true, 0, nil
}
