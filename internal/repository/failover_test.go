package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"nestsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStateRepository struct {
	*MemoryStateRepository
	failing bool
	calls   int
}

func (r *flakyStateRepository) GetStatus(ctx context.Context, deviceID string) (*models.StatusSnapshot, error) {
	r.calls++
	if r.failing {
		return nil, errors.New("primary down")
	}
	return r.MemoryStateRepository.GetStatus(ctx, deviceID)
}

func (r *flakyStateRepository) SetStatus(ctx context.Context, snap *models.StatusSnapshot) error {
	r.calls++
	if r.failing {
		return errors.New("primary down")
	}
	return r.MemoryStateRepository.SetStatus(ctx, snap)
}

func newFailover(t *testing.T) (*FailoverStateRepository, *flakyStateRepository, *MemoryStateRepository) {
	t.Helper()
	logger := zerolog.New(os.Stdout)
	primary := &flakyStateRepository{MemoryStateRepository: NewMemoryStateRepository(time.Hour)}
	fallback := NewMemoryStateRepository(time.Hour)
	return NewFailoverStateRepository(primary, fallback, &logger), primary, fallback
}

func TestFailoverPrefersPrimary(t *testing.T) {
	repo, primary, fallback := newFailover(t)
	ctx := context.Background()

	require.NoError(t, repo.SetStatus(ctx, &models.StatusSnapshot{DeviceID: "d", State: "synced"}))

	snap, err := primary.MemoryStateRepository.GetStatus(ctx, "d")
	require.NoError(t, err)
	assert.NotNil(t, snap, "healthy primary receives writes")

	snap, err = fallback.GetStatus(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, snap, "fallback untouched while primary is up")
}

func TestFailoverFallsBackOnError(t *testing.T) {
	repo, primary, fallback := newFailover(t)
	ctx := context.Background()

	primary.failing = true
	require.NoError(t, repo.SetStatus(ctx, &models.StatusSnapshot{DeviceID: "d", State: "pending"}))

	snap, err := fallback.GetStatus(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, snap, "write lands in fallback when primary errors")
	assert.Equal(t, "pending", snap.State)

	// Marked down: subsequent calls skip the primary entirely.
	callsBefore := primary.calls
	_, err = repo.GetStatus(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, callsBefore, primary.calls, "downed primary is not probed before the recovery window")
}
