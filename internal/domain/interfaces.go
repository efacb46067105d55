package domain

import (
	"context"
	"time"

	"nestsync/internal/models"
)

// OperationStore is the durable log of mutations awaiting remote application.
type OperationStore interface {
	Enqueue(ctx context.Context, op *models.QueuedOperation) error
	Remove(ctx context.Context, id string) error
	ListReady(ctx context.Context, now time.Time) ([]models.QueuedOperation, error)
	ListAll(ctx context.Context) ([]models.QueuedOperation, error)
	MarkRetry(ctx context.Context, id string, errMsg string, nextRetryAt time.Time) error
	ResetBackoff(ctx context.Context) error
	CountPending(ctx context.Context) (int, error)
}

// Escalator moves an operation from the pending store into the error ledger
// in one atomic step, so the operation is never in both and never in neither.
type Escalator interface {
	Escalate(ctx context.Context, se *models.SyncError, opID string) error
}

// ErrorLedger records operations and listeners that exhausted their retries.
type ErrorLedger interface {
	Record(ctx context.Context, se *models.SyncError) error
	List(ctx context.Context) ([]models.SyncError, error)
	Clear(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Subscription is one live result-set stream from the remote store. Exactly
// one error is delivered, after which the subscription is dead and must be
// replaced by the caller.
type Subscription interface {
	Updates() <-chan []models.RemoteRecord
	Err() <-chan error
	Close()
}

// Backend is the opaque remote document store. The queue and listener engines
// rely only on this contract.
type Backend interface {
	Write(ctx context.Context, op *models.QueuedOperation) error
	Upsert(ctx context.Context, rec *models.RemoteRecord) error
	DeleteOwner(ctx context.Context, ownerID string) error
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)
	Health(ctx context.Context) error
}

// StatusSink receives engine state changes; the status aggregator implements it.
type StatusSink interface {
	SetSyncing(active bool)
	MarkPending(opID string)
	ClearPending(opID string)
	SetErrorCount(n int)
	MarkSyncCompleted(at time.Time)
}

// EventPublisher fans out engine events to independently registered reactors.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// StateRepository keeps the last reported status snapshot per device and the
// counters backing the manual-retry rate limit.
type StateRepository interface {
	GetStatus(ctx context.Context, deviceID string) (*models.StatusSnapshot, error)
	SetStatus(ctx context.Context, snap *models.StatusSnapshot) error
	ClearStatus(ctx context.Context, deviceID string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
