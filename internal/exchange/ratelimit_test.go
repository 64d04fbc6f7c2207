package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bandarscope/pkg/models"
)

func TestRateLimiterFailFast(t *testing.T) {
	r := NewRateLimiter(3, time.Hour, PolicyFailFast, 0, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(ctx))
	}
	assert.ErrorIs(t, r.Acquire(ctx), models.ErrRateLimited)
}

func TestRateLimiterBlockWaitsForToken(t *testing.T) {
	r := NewRateLimiter(1, 30*time.Millisecond, PolicyBlock, time.Second, nil)
	ctx := context.Background()

	require.NoError(t, r.Acquire(ctx))

	start := time.Now()
	require.NoError(t, r.Acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestRateLimiterBlockGivesUpAfterWaitTimeout(t *testing.T) {
	r := NewRateLimiter(1, time.Hour, PolicyBlock, 20*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, r.Acquire(ctx))

	start := time.Now()
	assert.ErrorIs(t, r.Acquire(ctx), models.ErrRateLimited)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimiterBlockReturnsCallerCancellation(t *testing.T) {
	r := NewRateLimiter(1, time.Hour, PolicyBlock, 0, nil)
	require.NoError(t, r.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.Acquire(ctx), context.Canceled)
}
