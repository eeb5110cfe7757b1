package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter implements domain.RateLimiter using a sliding window backed by
// a sorted set and an atomic Lua script.
type RateLimiter struct {
	client        *Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		client:        c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow counts a request for key when it fits within limit per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	now := rl.now()
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.client.Underlying(),
		[]string{rl.client.Key(rateLimitKey(key))},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return rateDecision(result, limit, now, window)
}

// rateDecision interprets the {allowed, count, oldest} script reply.
func rateDecision(result []int64, limit int, now time.Time, window time.Duration) (domain.RateDecision, error) {
	if len(result) < 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit: unexpected reply length %d", len(result))
	}
	d := domain.RateDecision{
		Allowed:   result[0] == 1,
		Remaining: max(0, limit-int(result[1])),
	}
	if !d.Allowed && result[2] > 0 {
		expires := time.UnixMicro(result[2]).Add(window)
		d.RetryAfter = max(0, expires.Sub(now))
	}
	return d, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
