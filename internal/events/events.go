package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventConnectivityRestored = "connectivity_restored"
	EventConnectivityLost     = "connectivity_lost"
	EventDrainCompleted       = "drain_completed"
	EventOperationEscalated   = "operation_escalated"
	EventRecordsUpdated       = "records_updated"
)

// ConnectivityPayload describes a connectivity transition. Consumers only
// react to the event itself; the payload is informational.
type ConnectivityPayload struct {
	Online    bool      `json:"online"`
	Interface string    `json:"interface,omitempty"`
	At        time.Time `json:"at"`
}

// DrainPayload summarizes one completed drain pass.
type DrainPayload struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}

// SnapshotPayload announces a fresh result-set delivery for an owner.
type SnapshotPayload struct {
	Owner   string    `json:"owner"`
	Records int       `json:"records"`
	At      time.Time `json:"at"`
}

// Event represents a lightweight engine event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub: one event, many independent reactors.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
