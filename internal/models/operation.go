package models

import "time"

// Operation types mirror the record kinds the tracking app produces locally.
const (
	OpSleepLog  = "sleep_log"
	OpDiaperLog = "diaper_log"
	OpFeedLog   = "feed_log"
	OpGrowthLog = "growth_log"
	OpRecipe    = "recipe"
	OpNote      = "note"
)

// Priority orders queued operations; higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a config/import string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// QueuedOperation is a durable mutation intent awaiting remote application.
// Payload is opaque to the queue; only the backend interprets it.
type QueuedOperation struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	OwnerID     string     `json:"owner_id"`
	Payload     string     `json:"payload"`
	Priority    Priority   `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// SyncError is the terminal record of an operation or listener that exhausted
// its retries. Cleared only by explicit user action.
type SyncError struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	OpType      string    `json:"op_type"`
	Payload     string    `json:"payload,omitempty"`
	Message     string    `json:"message"`
	FailedAt    time.Time `json:"failed_at"`
}

// RemoteRecord is one document in the remote store, delivered to listeners as
// part of full result-set snapshots.
type RemoteRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}
