package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Shpigford/dutch-auction/internal/client"
)

const redisKeyPrefix = "rate_limit:"

// incrWindowScript increments the per-key counter and sets its expiry only on
// the first hit of a window, so the window is fixed from the first request.
const incrWindowScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RedisLimiter enforces the same check contract as MemoryLimiter against a
// shared Redis counter store, for deployments that need strict limits across
// multiple instances behind a load balancer.
type RedisLimiter struct {
	client   *client.RedisClient
	interval time.Duration
}

func NewRedisLimiter(redisClient *client.RedisClient, interval time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:   redisClient,
		interval: interval,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, key string, limit int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := l.client.Eval(ctx, incrWindowScript,
		[]string{redisKeyPrefix + key}, l.interval.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("rate limit increment failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected rate limit script result %T", result)
	}
	return count <= int64(limit), nil
}
