package rateLimit

import (
	"context"
	"time"

	"github.com/robertarktes/event-ticketing/internal/observability"
)

type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	redis Counter
}

func NewRateLimiter(redis Counter) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Allow reports whether key may make another call within period.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.redis.IncrWindow(ctx, "rl:"+key, period)
	if err != nil {
		return false
	}
	if n > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
