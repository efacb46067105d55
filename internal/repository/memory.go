package repository

import (
	"context"
	"sync"
	"time"

	"nestsync/internal/models"
)

// MemoryStateRepository is the in-process fallback for status snapshots and
// rate limiting when redis is missing or down.
type MemoryStateRepository struct {
	statuses   sync.Map
	rateLimits sync.Map
	ttl        time.Duration
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl: ttl,
	}
}

type statusEntry struct {
	snap      *models.StatusSnapshot
	expiresAt time.Time
}

func (r *MemoryStateRepository) GetStatus(ctx context.Context, deviceID string) (*models.StatusSnapshot, error) {
	val, ok := r.statuses.Load(deviceID)
	if !ok {
		return nil, nil
	}
	entry := val.(*statusEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.statuses.Delete(deviceID)
		return nil, nil
	}
	return entry.snap, nil
}

func (r *MemoryStateRepository) SetStatus(ctx context.Context, snap *models.StatusSnapshot) error {
	r.statuses.Store(snap.DeviceID, &statusEntry{snap: snap, expiresAt: time.Now().Add(r.ttl)})
	return nil
}

func (r *MemoryStateRepository) ClearStatus(ctx context.Context, deviceID string) error {
	r.statuses.Delete(deviceID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(key)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(key, entry)
	return entry.count <= limit, nil
}
