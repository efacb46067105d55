package models

import (
	"fmt"
	"time"
)

// SyncState is the coarse condition shown to the user. Exactly one state is
// active at a time; see status.Aggregator for the precedence rules.
type SyncState int

const (
	StateIdle SyncState = iota
	StateSynced
	StateError
	StatePending
	StateSyncing
	StateOffline
)

func (s SyncState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateSyncing:
		return "syncing"
	case StatePending:
		return "pending"
	case StateError:
		return "error"
	case StateSynced:
		return "synced"
	default:
		return "idle"
	}
}

// SyncStatus is the single user-facing status snapshot.
type SyncStatus struct {
	State    SyncState `json:"state"`
	Pending  int       `json:"pending"`
	Errors   int       `json:"errors"`
	LastSync time.Time `json:"last_sync,omitzero"`
}

// Message renders the status the way the app presents it.
func (s SyncStatus) Message() string {
	switch s.State {
	case StateOffline:
		return "Offline. Changes will sync when you're back online."
	case StateSyncing:
		return "Syncing..."
	case StatePending:
		if s.Pending == 1 {
			return "1 change waiting to sync"
		}
		return fmt.Sprintf("%d changes waiting to sync", s.Pending)
	case StateError:
		if s.Errors == 1 {
			return "1 item failed to sync"
		}
		return fmt.Sprintf("%d items failed to sync", s.Errors)
	case StateSynced:
		return fmt.Sprintf("Synced at %s", s.LastSync.Format("15:04"))
	default:
		return "Up to date"
	}
}

// StatusSnapshot is the persisted form of a device's last reported status,
// kept in the state repository so other surfaces can read it cheaply.
type StatusSnapshot struct {
	DeviceID   string    `json:"device_id"`
	State      string    `json:"state"`
	Pending    int       `json:"pending"`
	Errors     int       `json:"errors"`
	LastSync   time.Time `json:"last_sync,omitzero"`
	ReportedAt time.Time `json:"reported_at"`
}
