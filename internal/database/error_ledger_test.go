package database

import (
	"context"
	"testing"

	"nestsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLedgerCRUD(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	se := &models.SyncError{
		OperationID: "op-1",
		OpType:      models.OpRecipe,
		Payload:     `{"name":"puree"}`,
		Message:     "backend rejected write",
	}
	require.NoError(t, db.Record(ctx, se))
	assert.NotEmpty(t, se.ID, "id is assigned on record")
	assert.False(t, se.FailedAt.IsZero())

	errs, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "op-1", errs[0].OperationID)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, db.Clear(ctx, se.ID))
	count, _ = db.Count(ctx)
	assert.Equal(t, 0, count)
}

func TestEscalateMovesOperationAtomically(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	op := &models.QueuedOperation{ID: "op-1", Type: models.OpGrowthLog, OwnerID: "f", Payload: `{"weight": 7.2}`, Priority: models.PriorityHigh}
	require.NoError(t, db.Enqueue(ctx, op))

	se := &models.SyncError{OperationID: "op-1", OpType: op.Type, Payload: op.Payload, Message: "backend rejected write"}
	require.NoError(t, db.Escalate(ctx, se, "op-1"))

	pending, err := db.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending, "escalated operation leaves the pending store")

	errs, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "op-1", errs[0].OperationID)
	assert.NotEmpty(t, errs[0].ID)

	// A duplicate ledger id rolls the whole move back.
	op2 := &models.QueuedOperation{ID: "op-2", Type: models.OpNote, OwnerID: "f", Payload: `{}`, Priority: models.PriorityLow}
	require.NoError(t, db.Enqueue(ctx, op2))
	dup := &models.SyncError{ID: errs[0].ID, OperationID: "op-2", OpType: op2.Type, Message: "boom"}
	require.Error(t, db.Escalate(ctx, dup, "op-2"))

	pending, err = db.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "failed escalation keeps the operation queued")
}

func TestErrorLedgerClearAll(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Record(ctx, &models.SyncError{OperationID: "op", OpType: models.OpNote, Message: "boom"}))
	}

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, db.ClearAll(ctx))
	errs, err := db.List(ctx)
	require.NoError(t, err)
	assert.Len(t, errs, 0)
}
