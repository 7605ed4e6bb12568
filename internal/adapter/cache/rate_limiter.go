// internal/adapter/cache/rate_limiter.go

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SendLimiter is a fixed-window send rate limiter on Redis, one counter per
// sender per window.
type SendLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewSendLimiter creates a limiter allowing limit sends per window.
func NewSendLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *SendLimiter {
	if prefix == "" {
		prefix = "nearchat:send"
	}

	return &SendLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow increments the sender's window counter and reports whether the send
// is within the limit.
func (l *SendLimiter) Allow(ctx context.Context, senderID string) (bool, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, senderID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limiter incr: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limiter expire: %w", err)
		}
	}

	return count <= int64(l.limit), nil
}
