package database

import (
	"context"
	"fmt"
	"time"

	"nestsync/internal/models"
)

// Enqueue persists an operation. A duplicate id overwrites in place; callers
// own the idempotency of the mutation being replayed.
func (db *DB) Enqueue(ctx context.Context, op *models.QueuedOperation) error {
	query := `INSERT INTO pending_operations (id, op_type, owner_id, payload, priority, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  op_type = excluded.op_type,
                  owner_id = excluded.owner_id,
                  payload = excluded.payload,
                  priority = excluded.priority`
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	_, err := db.db.ExecContext(ctx, query,
		op.ID,
		op.Type,
		op.OwnerID,
		op.Payload,
		op.Priority,
		op.RetryCount,
		op.LastError,
		op.CreatedAt,
		op.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return nil
}

// Remove deletes an operation by id, on success or on terminal failure.
func (db *DB) Remove(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove operation: %w", err)
	}
	return nil
}

// ListReady returns a snapshot of operations whose backoff gate has passed,
// highest priority first and oldest first within a priority tier.
func (db *DB) ListReady(ctx context.Context, now time.Time) ([]models.QueuedOperation, error) {
	query := `SELECT id, op_type, owner_id, payload, priority, retry_count, last_error, created_at, next_retry_at
              FROM pending_operations
              WHERE next_retry_at IS NULL OR next_retry_at <= ?
              ORDER BY priority DESC, created_at ASC`
	rows, err := db.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// ListAll returns every queued operation regardless of backoff state.
func (db *DB) ListAll(ctx context.Context) ([]models.QueuedOperation, error) {
	query := `SELECT id, op_type, owner_id, payload, priority, retry_count, last_error, created_at, next_retry_at
              FROM pending_operations
              ORDER BY priority DESC, created_at ASC`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// MarkRetry records a failed attempt: increments retry_count and gates the
// next attempt behind nextRetryAt.
func (db *DB) MarkRetry(ctx context.Context, id string, errMsg string, nextRetryAt time.Time) error {
	query := `UPDATE pending_operations SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, errMsg, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// ResetBackoff clears every backoff gate so a manual retry drains everything.
func (db *DB) ResetBackoff(ctx context.Context) error {
	_, err := db.db.ExecContext(ctx, `UPDATE pending_operations SET next_retry_at = NULL`)
	if err != nil {
		return fmt.Errorf("failed to reset backoff: %w", err)
	}
	return nil
}

// CountPending returns the number of queued operations.
func (db *DB) CountPending(ctx context.Context) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanOperations(rows rowScanner) ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	for rows.Next() {
		var op models.QueuedOperation
		err := rows.Scan(
			&op.ID, &op.Type, &op.OwnerID, &op.Payload, &op.Priority, &op.RetryCount, &op.LastError, &op.CreatedAt, &op.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}
