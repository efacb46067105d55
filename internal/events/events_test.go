package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventConnectivityRestored, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	payload := ConnectivityPayload{Online: true, At: time.Now()}
	if err := bus.PublishJSON(EventConnectivityRestored, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventConnectivityRestored {
		t.Errorf("expected type %s, got %s", EventConnectivityRestored, received.Type)
	}

	var decoded ConnectivityPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if !decoded.Online {
		t.Errorf("expected online=true")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventDrainCompleted, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventDrainCompleted, func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: EventDrainCompleted})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestEventBusNilReceiver(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventConnectivityLost, nil); err != nil {
		t.Errorf("nil bus publish should be a no-op, got %v", err)
	}
}
