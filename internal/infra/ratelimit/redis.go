package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attestd/internal/domain"

	"github.com/redis/go-redis/v9"
)

// countAndExpire bumps the key's counter, starts the window TTL on the
// first hit, and reports the counter alongside the remaining TTL so the
// decision can carry an accurate reset time.
var countAndExpire = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

type redisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter builds a fixed-window counter backed by redis, giving
// every replica the same view of a key's attempt total. A nil now falls
// back to the wall clock.
func NewRedisLimiter(addr, password string, db int, now func() time.Time) (domain.RateLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if now == nil {
		now = time.Now
	}
	return &redisLimiter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		now: now,
	}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		// A non-positive limit disables limiting for the caller.
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = time.Second.Milliseconds()
	}

	reply, err := countAndExpire.Run(ctx, r.client, []string{key}, windowMillis).Result()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit script: %w", err)
	}
	hits, ttlMillis, err := decodeCounterReply(reply)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}

	decision := domain.RateLimitDecision{
		Allowed: hits <= int64(limit),
		Limit:   limit,
		ResetAt: r.now(),
	}
	if ttlMillis > 0 {
		decision.ResetAt = decision.ResetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	if remaining := limit - int(hits); remaining > 0 {
		decision.Remaining = remaining
	}
	return decision, nil
}

func decodeCounterReply(reply any) (hits, ttlMillis int64, err error) {
	values, ok := reply.([]any)
	if !ok || len(values) < 2 {
		return 0, 0, fmt.Errorf("rate limit script: malformed reply %T", reply)
	}
	hits, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("rate limit script: counter is %T, want int64", values[0])
	}
	ttlMillis, _ = values[1].(int64)
	return hits, ttlMillis, nil
}
