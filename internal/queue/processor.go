package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"nestsync/internal/backoff"
	"nestsync/internal/domain"
	"nestsync/internal/events"
	"nestsync/internal/metrics"
	"nestsync/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Processor drains the pending operation store against the remote backend.
// Exactly one drain pass runs at a time; overlapping triggers are no-ops.
type Processor struct {
	store         domain.OperationStore
	ledger        domain.ErrorLedger
	backend       domain.Backend
	status        domain.StatusSink
	bus           domain.EventPublisher
	redis         *redis.Client
	policy        backoff.Policy
	online        func() bool
	drainInterval time.Duration
	deadLetterKey string
	logger        *zerolog.Logger

	isProcessing atomic.Bool
	trigger      chan struct{}
}

func NewProcessor(
	store domain.OperationStore,
	ledger domain.ErrorLedger,
	backend domain.Backend,
	status domain.StatusSink,
	bus domain.EventPublisher,
	redisClient *redis.Client,
	policy backoff.Policy,
	online func() bool,
	drainInterval time.Duration,
	logger *zerolog.Logger,
) *Processor {
	if policy.MaxRetries == 0 {
		policy.MaxRetries = models.DefaultMaxRetries
	}
	if policy.InitialDelay == 0 {
		policy.InitialDelay = 2 * time.Second
	}
	if policy.MaxDelay == 0 {
		policy.MaxDelay = time.Minute
	}
	if policy.BackoffFactor == 0 {
		policy.BackoffFactor = 2
	}
	if drainInterval <= 0 {
		drainInterval = time.Duration(models.DefaultDrainIntervalSec) * time.Second
	}
	if online == nil {
		online = func() bool { return true }
	}

	return &Processor{
		store:         store,
		ledger:        ledger,
		backend:       backend,
		status:        status,
		bus:           bus,
		redis:         redisClient,
		policy:        policy,
		online:        online,
		drainInterval: drainInterval,
		deadLetterKey: "nestsync:deadletter",
		logger:        logger,
		trigger:       make(chan struct{}, 1),
	}
}

// Enqueue validates and persists an operation, then fires a drain attempt if
// online. Replay failures never surface here; only a malformed operation does.
func (p *Processor) Enqueue(ctx context.Context, op *models.QueuedOperation) error {
	if op == nil || op.Type == "" {
		return errors.New("operation type is required")
	}
	if op.Payload == "" || !json.Valid([]byte(op.Payload)) {
		return errors.New("operation payload must be valid JSON")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	if err := p.store.Enqueue(ctx, op); err != nil {
		return err
	}
	p.status.MarkPending(op.ID)
	p.updateQueueDepth(ctx)

	if p.online() {
		p.Trigger()
	}
	return nil
}

// Trigger requests a drain pass without blocking. Coalesces with a pass that
// is already pending.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Restore reloads engine state after a restart: operations that survived in
// the durable store are reflected as pending, and the ledger size is
// re-mirrored, before any drain runs.
func (p *Processor) Restore(ctx context.Context) error {
	ops, err := p.store.ListAll(ctx)
	if err != nil {
		return err
	}
	for i := range ops {
		p.status.MarkPending(ops[i].ID)
	}
	p.syncErrorCount(ctx)
	p.updateQueueDepth(ctx)

	if len(ops) > 0 {
		p.logger.Info().Int("pending", len(ops)).Msg("restored queued operations")
	}
	return nil
}

// RetryAll clears every backoff gate and drains. Backs the user's manual
// "retry" action.
func (p *Processor) RetryAll(ctx context.Context) error {
	if err := p.store.ResetBackoff(ctx); err != nil {
		return err
	}
	return p.ProcessQueue(ctx)
}

// Start runs the periodic drain loop until ctx is done. Connectivity events
// and enqueues funnel in through Trigger.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info().Dur("interval", p.drainInterval).Msg("queue processor started")
	defer p.logger.Info().Msg("queue processor stopped")

	ticker := time.NewTicker(p.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		}
		if err := p.ProcessQueue(ctx); err != nil {
			p.logger.Error().Err(err).Msg("drain pass failed")
		}
	}
}

// ProcessQueue performs one drain pass. Offline is a no-op, as is a pass that
// overlaps one already in flight. The snapshot is taken at pass start;
// operations enqueued mid-pass wait for the next trigger.
func (p *Processor) ProcessQueue(ctx context.Context) error {
	if !p.online() {
		p.logger.Debug().Msg("skipping drain: offline")
		return nil
	}
	if !p.isProcessing.CompareAndSwap(false, true) {
		return nil
	}
	defer p.isProcessing.Store(false)

	p.status.SetSyncing(true)
	defer p.status.SetSyncing(false)

	ops, err := p.store.ListReady(ctx, time.Now())
	if err != nil {
		return err
	}

	var succeeded, failed int
	for i := range ops {
		if err := p.processOne(ctx, &ops[i]); err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	now := time.Now()
	p.status.MarkSyncCompleted(now)
	p.syncErrorCount(ctx)
	p.updateQueueDepth(ctx)
	metrics.IncDrain()

	if len(ops) > 0 {
		p.logger.Info().Int("attempted", len(ops)).Int("succeeded", succeeded).Int("failed", failed).Msg("drain pass completed")
	}
	if err := p.bus.PublishJSON(events.EventDrainCompleted, events.DrainPayload{
		Attempted: len(ops),
		Succeeded: succeeded,
		Failed:    failed,
		At:        now,
	}); err != nil {
		p.logger.Error().Err(err).Msg("publish drain event")
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, op *models.QueuedOperation) error {
	if err := p.backend.Write(ctx, op); err != nil {
		metrics.IncFailure(op.Type)
		p.retryOrEscalate(ctx, op, err)
		return err
	}

	if err := p.store.Remove(ctx, op.ID); err != nil {
		p.logger.Error().Err(err).Str("op_id", op.ID).Msg("remove applied operation")
	}
	p.status.ClearPending(op.ID)
	metrics.IncSynced(op.Type)
	return nil
}

func (p *Processor) retryOrEscalate(ctx context.Context, op *models.QueuedOperation, cause error) {
	attempt := op.RetryCount + 1
	if attempt >= p.policy.MaxRetries {
		p.escalate(ctx, op, cause)
		return
	}

	nextRetry := time.Now().Add(p.policy.NextDelay(attempt))
	if err := p.store.MarkRetry(ctx, op.ID, cause.Error(), nextRetry); err != nil {
		p.logger.Error().Err(err).Str("op_id", op.ID).Msg("mark retry")
		return
	}
	p.logger.Warn().
		Str("op_id", op.ID).
		Str("type", op.Type).
		Int("retry_count", attempt).
		Time("next_retry_at", nextRetry).
		Err(cause).
		Msg("operation failed, will retry")
}

// escalate moves an operation from the pending store to the error ledger.
// The operation never exists in both at once: a store that can do the move
// atomically does, otherwise it is recorded first and then removed, so a
// crash in between leaves it visible rather than lost.
func (p *Processor) escalate(ctx context.Context, op *models.QueuedOperation, cause error) {
	se := &models.SyncError{
		OperationID: op.ID,
		OpType:      op.Type,
		Payload:     op.Payload,
		Message:     cause.Error(),
		FailedAt:    time.Now(),
	}
	if esc, ok := p.ledger.(domain.Escalator); ok {
		if err := esc.Escalate(ctx, se, op.ID); err != nil {
			p.logger.Error().Err(err).Str("op_id", op.ID).Msg("escalate operation")
			return
		}
	} else {
		if err := p.ledger.Record(ctx, se); err != nil {
			p.logger.Error().Err(err).Str("op_id", op.ID).Msg("record sync error")
			return
		}
		if err := p.store.Remove(ctx, op.ID); err != nil {
			p.logger.Error().Err(err).Str("op_id", op.ID).Msg("remove escalated operation")
		}
	}
	p.status.ClearPending(op.ID)
	p.pushDeadLetter(ctx, op, cause)

	p.logger.Error().
		Str("op_id", op.ID).
		Str("type", op.Type).
		Int("retries", op.RetryCount+1).
		Err(cause).
		Msg("operation moved to error ledger")

	if err := p.bus.PublishJSON(events.EventOperationEscalated, se); err != nil {
		p.logger.Error().Err(err).Msg("publish escalation event")
	}
}

// pushDeadLetter mirrors a terminal operation into redis for external ops
// tooling. Best effort; a missing or unreachable redis is tolerated.
func (p *Processor) pushDeadLetter(ctx context.Context, op *models.QueuedOperation, cause error) {
	if p.redis == nil {
		return
	}
	entry := struct {
		models.QueuedOperation
		Error string `json:"error"`
	}{*op, cause.Error()}

	data, err := json.Marshal(entry)
	if err != nil {
		p.logger.Error().Err(err).Str("op_id", op.ID).Msg("encode deadletter")
		return
	}
	if err := p.redis.LPush(ctx, p.deadLetterKey, data).Err(); err != nil {
		p.logger.Warn().Err(err).Str("op_id", op.ID).Msg("deadletter push")
	}
}

func (p *Processor) updateQueueDepth(ctx context.Context) {
	if count, err := p.store.CountPending(ctx); err == nil {
		metrics.SetQueueDepth(count)
	}
}

func (p *Processor) syncErrorCount(ctx context.Context) {
	count, err := p.ledger.Count(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("count sync errors")
		return
	}
	p.status.SetErrorCount(count)
	metrics.SetLedgerSize(count)
}
