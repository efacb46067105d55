package repository

import (
	"context"
	"sync/atomic"
	"time"

	"nestsync/internal/domain"
	"nestsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverStateRepository serves from the primary (redis) and falls back to
// memory when it errors, probing the primary again after a minute.
type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStateRepository) GetStatus(ctx context.Context, deviceID string) (*models.StatusSnapshot, error) {
	if !r.isDown.Load() {
		snap, err := r.primary.GetStatus(ctx, deviceID)
		if err == nil {
			return snap, nil
		}
		r.markDown(err)
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		snap, err := r.primary.GetStatus(ctx, deviceID)
		if err == nil {
			r.isDown.Store(false)
			return snap, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetStatus(ctx, deviceID)
}

func (r *FailoverStateRepository) SetStatus(ctx context.Context, snap *models.StatusSnapshot) error {
	if !r.isDown.Load() {
		err := r.primary.SetStatus(ctx, snap)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetStatus(ctx, snap)
}

func (r *FailoverStateRepository) ClearStatus(ctx context.Context, deviceID string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearStatus(ctx, deviceID)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.ClearStatus(ctx, deviceID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}

func (r *FailoverStateRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary state repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck = time.Now()
}
