package repository

import (
	"context"
	"testing"
	"time"

	"nestsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatusRoundTrip(t *testing.T) {
	repo := NewMemoryStateRepository(time.Hour)
	ctx := context.Background()

	snap, err := repo.GetStatus(ctx, "device-1")
	require.NoError(t, err)
	assert.Nil(t, snap, "unknown device has no snapshot")

	want := &models.StatusSnapshot{DeviceID: "device-1", State: "pending", Pending: 3}
	require.NoError(t, repo.SetStatus(ctx, want))

	snap, err = repo.GetStatus(ctx, "device-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Pending)

	require.NoError(t, repo.ClearStatus(ctx, "device-1"))
	snap, err = repo.GetStatus(ctx, "device-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestMemoryStatusTTL(t *testing.T) {
	repo := NewMemoryStateRepository(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, repo.SetStatus(ctx, &models.StatusSnapshot{DeviceID: "device-1", State: "synced"}))
	time.Sleep(20 * time.Millisecond)

	snap, err := repo.GetStatus(ctx, "device-1")
	require.NoError(t, err)
	assert.Nil(t, snap, "expired snapshot is gone")
}

func TestMemoryRateLimit(t *testing.T) {
	repo := NewMemoryStateRepository(time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := repo.CheckRateLimit(ctx, "retry:cli", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d within limit", i+1)
	}

	allowed, err := repo.CheckRateLimit(ctx, "retry:cli", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed, "fourth attempt exceeds limit")

	// Separate keys count independently.
	allowed, err = repo.CheckRateLimit(ctx, "retry:other", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryRateLimitWindowReset(t *testing.T) {
	repo := NewMemoryStateRepository(time.Hour)
	ctx := context.Background()

	window := 10 * time.Millisecond
	for i := 0; i < 2; i++ {
		_, err := repo.CheckRateLimit(ctx, "retry:cli", 1, window)
		require.NoError(t, err)
	}

	time.Sleep(20 * time.Millisecond)

	allowed, err := repo.CheckRateLimit(ctx, "retry:cli", 1, window)
	require.NoError(t, err)
	assert.True(t, allowed, "window expiry resets the counter")
}
