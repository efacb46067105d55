package database

import (
	"context"
	"fmt"
	"time"

	"nestsync/internal/models"

	"github.com/google/uuid"
)

// Record stores a terminal failure. Ledger entries never expire on their own.
func (db *DB) Record(ctx context.Context, se *models.SyncError) error {
	if se.ID == "" {
		se.ID = uuid.NewString()
	}
	if se.FailedAt.IsZero() {
		se.FailedAt = time.Now()
	}
	query := `INSERT INTO sync_errors (id, operation_id, op_type, payload, message, failed_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, se.ID, se.OperationID, se.OpType, se.Payload, se.Message, se.FailedAt)
	if err != nil {
		return fmt.Errorf("failed to record sync error: %w", err)
	}
	return nil
}

// List returns all terminal errors, most recent first.
func (db *DB) List(ctx context.Context) ([]models.SyncError, error) {
	query := `SELECT id, operation_id, op_type, payload, message, failed_at
              FROM sync_errors ORDER BY failed_at DESC`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync errors: %w", err)
	}
	defer rows.Close()

	var errs []models.SyncError
	for rows.Next() {
		var se models.SyncError
		if err := rows.Scan(&se.ID, &se.OperationID, &se.OpType, &se.Payload, &se.Message, &se.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync error: %w", err)
		}
		errs = append(errs, se)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return errs, nil
}

// Escalate records a terminal failure and drops the pending operation in one
// transaction. Both tables live in this database, so a crash leaves exactly
// one of the two rows.
func (db *DB) Escalate(ctx context.Context, se *models.SyncError, opID string) error {
	if se.ID == "" {
		se.ID = uuid.NewString()
	}
	if se.FailedAt.IsZero() {
		se.FailedAt = time.Now()
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin escalation: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO sync_errors (id, operation_id, op_type, payload, message, failed_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, se.ID, se.OperationID, se.OpType, se.Payload, se.Message, se.FailedAt); err != nil {
		return fmt.Errorf("failed to record sync error: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, opID); err != nil {
		return fmt.Errorf("failed to remove escalated operation: %w", err)
	}
	return tx.Commit()
}

// Clear dismisses one terminal error.
func (db *DB) Clear(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM sync_errors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear sync error: %w", err)
	}
	return nil
}

// ClearAll dismisses every terminal error.
func (db *DB) ClearAll(ctx context.Context) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM sync_errors`)
	if err != nil {
		return fmt.Errorf("failed to clear sync errors: %w", err)
	}
	return nil
}

// Count returns the ledger size.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_errors`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync errors: %w", err)
	}
	return count, nil
}
