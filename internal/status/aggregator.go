package status

import (
	"sync"
	"time"

	"nestsync/internal/models"
)

// Aggregator derives the single user-facing sync status from connectivity,
// queue state and the error ledger. Precedence, highest first:
// offline > syncing > pending > error > synced/idle.
type Aggregator struct {
	mu         sync.RWMutex
	online     bool
	syncing    bool
	pending    map[string]struct{}
	errorCount int
	lastSync   time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{pending: make(map[string]struct{})}
}

// SetOnline records a connectivity transition.
func (a *Aggregator) SetOnline(online bool) {
	a.mu.Lock()
	a.online = online
	a.mu.Unlock()
}

// SetSyncing is held true exactly while a drain pass is in flight.
func (a *Aggregator) SetSyncing(active bool) {
	a.mu.Lock()
	a.syncing = active
	a.mu.Unlock()
}

// MarkPending tracks an operation awaiting remote application.
func (a *Aggregator) MarkPending(opID string) {
	a.mu.Lock()
	a.pending[opID] = struct{}{}
	a.mu.Unlock()
}

// ClearPending drops an operation's pending entry after it was applied or
// escalated.
func (a *Aggregator) ClearPending(opID string) {
	a.mu.Lock()
	delete(a.pending, opID)
	a.mu.Unlock()
}

// SetErrorCount mirrors the error ledger size.
func (a *Aggregator) SetErrorCount(n int) {
	a.mu.Lock()
	a.errorCount = n
	a.mu.Unlock()
}

// MarkSyncCompleted stamps the end of a drain pass, full success or not.
func (a *Aggregator) MarkSyncCompleted(at time.Time) {
	a.mu.Lock()
	a.lastSync = at
	a.mu.Unlock()
}

// Status computes the current snapshot.
func (a *Aggregator) Status() models.SyncStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := models.SyncStatus{
		Pending:  len(a.pending),
		Errors:   a.errorCount,
		LastSync: a.lastSync,
	}

	switch {
	case !a.online:
		st.State = models.StateOffline
	case a.syncing:
		st.State = models.StateSyncing
	case len(a.pending) > 0:
		st.State = models.StatePending
	case a.errorCount > 0:
		st.State = models.StateError
	case !a.lastSync.IsZero():
		st.State = models.StateSynced
	default:
		st.State = models.StateIdle
	}
	return st
}

// Snapshot renders the status in its persisted per-device form.
func (a *Aggregator) Snapshot(deviceID string) *models.StatusSnapshot {
	st := a.Status()
	return &models.StatusSnapshot{
		DeviceID:   deviceID,
		State:      st.State.String(),
		Pending:    st.Pending,
		Errors:     st.Errors,
		LastSync:   st.LastSync,
		ReportedAt: time.Now(),
	}
}
