package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter enforces a per-user daily action cap. Counters live in Redis with
// a TTL to the next local midnight, so the day rolls over without a sweeper.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter creates a daily limiter. The location decides when a "day"
// resets.
func NewLimiter(client *redis.Client, prefix string, limit int, loc *time.Location, logger *zap.Logger) *Limiter {
	if loc == nil {
		loc = time.Local
	}
	return &Limiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Allow consumes one unit of today's budget for the user. Returns false when
// the cap is already spent. A Redis outage is reported to the caller, which
// can fall back on its own stored counts.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := l.key(userID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit store unavailable: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.untilMidnight()).Err(); err != nil {
			l.logger.Warn("failed to set rate limit expiry",
				zap.String("key", key), zap.Error(err))
		}
	}

	if count > int64(l.limit) {
		return false, nil
	}
	return true, nil
}

// Refund returns one unit after a failed action so an error does not burn
// budget.
func (l *Limiter) Refund(ctx context.Context, userID string) {
	if err := l.client.Decr(ctx, l.key(userID)).Err(); err != nil {
		l.logger.Warn("failed to refund rate limit unit",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// Remaining reports how much of today's budget is left.
func (l *Limiter) Remaining(ctx context.Context, userID string) (int, error) {
	count, err := l.client.Get(ctx, l.key(userID)).Int()
	if err != nil {
		if err == redis.Nil {
			return l.limit, nil
		}
		return 0, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Limit returns the configured daily cap.
func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) key(userID string) string {
	day := l.now().In(l.loc).Format("2006-01-02")
	return fmt.Sprintf("%s:%s:%s", l.prefix, userID, day)
}

func (l *Limiter) untilMidnight() time.Duration {
	now := l.now().In(l.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc).AddDate(0, 0, 1)
	return midnight.Sub(now)
}
