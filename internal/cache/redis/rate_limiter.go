package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
)

// RateLimiter implements domain.RateLimiter with fixed windows: one counter
// per key and window, incremented and given an expiry in the same MULTI.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

func (rl *RateLimiter) windowKey(key string, window time.Duration, at time.Time) string {
	slot := at.UnixMilli() / window.Milliseconds()
	return rl.c.Key("ratelimit", key, fmt.Sprint(slot))
}

// Allow counts one request for key and reports whether it fits in limit
// for the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window < time.Millisecond {
		return false, fmt.Errorf("redis: rate limit %s: window %v too small", key, window)
	}
	wk := rl.windowKey(key, window, rl.now())

	pipe := rl.c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, wk)
	pipe.PExpire(ctx, wk, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
