package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_RollingWindow(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(3, time.Minute)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow())
	clock = clock.Add(20 * time.Second)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, 3, l.InWindow())

	// The first admission leaves the window after a full minute.
	clock = clock.Add(40 * time.Second)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	clock = clock.Add(time.Minute)
	assert.Equal(t, 0, l.InWindow())
}

func TestLimiter_WaitBlocksUntilWindowResets(t *testing.T) {
	l := NewLimiter(2, 80*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0)
	assert.Equal(t, 1000, l.limit)
	assert.Equal(t, time.Minute, l.window)
}
