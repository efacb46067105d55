package listener

import (
	"context"
	"sync"
	"time"

	"nestsync/internal/backoff"
	"nestsync/internal/domain"
	"nestsync/internal/metrics"
	"nestsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Callback receives the owner's full result set on every successful delivery.
// Listeners deliver replacement snapshots, not deltas.
type Callback func(records []models.RemoteRecord)

// Supervisor owns long-lived subscriptions to the remote store and heals them
// across transient errors. A registration keeps its external id across every
// internal resubscription; a consumer never sees a changed identity.
type Supervisor struct {
	backend domain.Backend
	ledger  domain.ErrorLedger
	policy  backoff.Policy
	logger  *zerolog.Logger

	mu   sync.Mutex
	regs map[string]*registration
}

type registration struct {
	id         string
	ownerKey   string
	callback   Callback
	retryCount int

	// gen identifies the current subscription. Deliveries, errors and retry
	// timers carry the gen they were issued under; a mismatch means the
	// registration was recycled in between and the event is stale.
	gen uint64

	// parent outlives individual subscriptions; resubscriptions derive from it.
	parent context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

func NewSupervisor(backend domain.Backend, ledger domain.ErrorLedger, policy backoff.Policy, logger *zerolog.Logger) *Supervisor {
	if policy.MaxRetries == 0 {
		policy.MaxRetries = models.DefaultMaxListenerRetries
	}
	if policy.InitialDelay == 0 {
		policy.InitialDelay = 2 * time.Second
	}
	if policy.BackoffFactor == 0 {
		policy.BackoffFactor = 2
	}
	if policy.JitterFraction == 0 {
		policy.JitterFraction = 0.3
	}

	return &Supervisor{
		backend: backend,
		ledger:  ledger,
		policy:  policy,
		logger:  logger,
		regs:    make(map[string]*registration),
	}
}

// AddListener opens a subscription scoped to ownerKey and returns its stable
// id. ctx bounds the listener's whole lifetime, including resubscriptions.
func (s *Supervisor) AddListener(ctx context.Context, ownerKey string, onResult Callback) string {
	reg := &registration{
		id:       uuid.NewString(),
		ownerKey: ownerKey,
		callback: onResult,
		parent:   ctx,
	}

	s.mu.Lock()
	s.regs[reg.id] = reg
	s.open(reg)
	s.mu.Unlock()

	s.logger.Info().Str("listener_id", reg.id).Str("owner", ownerKey).Msg("listener added")
	return reg.id
}

// RemoveListener cancels the underlying subscription and discards all tracked
// state. An in-flight delivery is not interrupted, only future scheduling.
func (s *Supervisor) RemoveListener(id string) {
	s.mu.Lock()
	reg, ok := s.regs[id]
	if ok {
		delete(s.regs, id)
		s.stopLocked(reg)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info().Str("listener_id", id).Msg("listener removed")
	}
}

// ReconnectAll force-recycles every active registration with its retry count
// reset. Used after connectivity returns.
func (s *Supervisor) ReconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, reg := range s.regs {
		s.stopLocked(reg)
		reg.retryCount = 0
		s.open(reg)
	}
	s.logger.Info().Int("listeners", len(s.regs)).Msg("all listeners recycled")
}

// ActiveCount reports the number of live registrations.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// RetryCount exposes a registration's current retry count, or -1 if it is no
// longer tracked.
func (s *Supervisor) RetryCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.regs[id]; ok {
		return reg.retryCount
	}
	return -1
}

// open starts a new underlying subscription for reg and stamps it with a
// fresh generation. Caller holds s.mu.
func (s *Supervisor) open(reg *registration) {
	reg.gen++
	gen := reg.gen

	subCtx, cancel := context.WithCancel(reg.parent)
	reg.cancel = cancel

	sub, err := s.backend.Subscribe(subCtx, reg.ownerKey)
	if err != nil {
		cancel()
		s.scheduleRetryLocked(reg, gen, err)
		return
	}

	go s.consume(subCtx, reg, gen, sub)
}

func (s *Supervisor) consume(ctx context.Context, reg *registration, gen uint64, sub domain.Subscription) {
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case records, ok := <-sub.Updates():
			if !ok {
				return
			}
			s.onDelivery(reg, gen, records)
		case err, ok := <-sub.Err():
			if !ok {
				return
			}
			sub.Close()
			s.onError(reg, gen, err)
			return
		}
	}
}

func (s *Supervisor) onDelivery(reg *registration, gen uint64, records []models.RemoteRecord) {
	s.mu.Lock()
	if _, ok := s.regs[reg.id]; !ok || reg.gen != gen {
		s.mu.Unlock()
		return
	}
	reg.retryCount = 0
	s.mu.Unlock()

	reg.callback(records)
}

func (s *Supervisor) onError(reg *registration, gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regs[reg.id]; !ok || reg.gen != gen {
		return
	}
	s.scheduleRetryLocked(reg, gen, cause)
}

// scheduleRetryLocked applies the retry policy after a delivery error. Caller
// holds s.mu.
func (s *Supervisor) scheduleRetryLocked(reg *registration, gen uint64, cause error) {
	if reg.retryCount >= s.policy.MaxRetries {
		delete(s.regs, reg.id)
		metrics.IncListenerDrop()
		s.logger.Error().
			Str("listener_id", reg.id).
			Str("owner", reg.ownerKey).
			Int("retries", reg.retryCount).
			Err(cause).
			Msg("listener dropped after exhausting retries")
		s.recordDrop(reg, cause)
		return
	}

	reg.retryCount++
	delay := s.policy.NextDelay(reg.retryCount)
	s.logger.Warn().
		Str("listener_id", reg.id).
		Str("owner", reg.ownerKey).
		Int("retry_count", reg.retryCount).
		Dur("delay", delay).
		Err(cause).
		Msg("listener error, resubscribing after backoff")

	reg.timer = time.AfterFunc(delay, func() {
		s.resubscribe(reg.id, gen)
	})
}

func (s *Supervisor) resubscribe(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[id]
	if !ok || reg.gen != gen {
		return
	}
	metrics.IncListenerReconnect()
	s.open(reg)
}

// recordDrop surfaces a permanently failed listener through the error ledger
// so the user can see the subscription is gone instead of it vanishing
// silently.
func (s *Supervisor) recordDrop(reg *registration, cause error) {
	if s.ledger == nil {
		return
	}
	se := &models.SyncError{
		OperationID: reg.id,
		OpType:      "listener:" + reg.ownerKey,
		Message:     cause.Error(),
		FailedAt:    time.Now(),
	}
	if err := s.ledger.Record(context.Background(), se); err != nil {
		s.logger.Error().Err(err).Str("listener_id", reg.id).Msg("record listener drop")
	}
}

// stopLocked cancels a registration's subscription and pending retry timer.
// Caller holds s.mu.
func (s *Supervisor) stopLocked(reg *registration) {
	if reg.timer != nil {
		reg.timer.Stop()
		reg.timer = nil
	}
	if reg.cancel != nil {
		reg.cancel()
		reg.cancel = nil
	}
}
