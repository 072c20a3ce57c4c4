package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, limit int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(client, "reqs", limit, time.UTC, zap.NewNop())
	return limiter, mr
}

func TestAllowUpToLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, 15)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		ok, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d should be allowed", i+1)
	}

	ok, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "16th attempt must be blocked")
}

func TestLimitIsPerUser(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCounterResetsAtMidnight(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 23, 30, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	ok, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Past midnight the key has expired and a new day's budget applies.
	mr.FastForward(time.Hour)
	limiter.now = func() time.Time { return base.Add(time.Hour) }

	ok, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRefundRestoresBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	limiter.Refund(ctx, "user-1")

	ok, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreOutageSurfacesError(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "user-1")
	require.Error(t, err)
}

func TestRemaining(t *testing.T) {
	limiter, _ := newTestLimiter(t, 15)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 15, remaining)

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
	}

	remaining, err = limiter.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 12, remaining)
}
