package connectivity

import (
	"context"
	"sync/atomic"
	"time"

	"nestsync/internal/domain"
	"nestsync/internal/events"

	"github.com/rs/zerolog"
)

// Prober answers whether the remote backend is reachable right now.
type Prober interface {
	Health(ctx context.Context) error
}

const (
	stateUnknown int32 = iota
	stateOnline
	stateOffline
)

// Monitor periodically probes the backend and publishes connectivity
// transitions on the event bus. Both engines react to "restored" by
// re-triggering their own pass.
type Monitor struct {
	probe    Prober
	bus      domain.EventPublisher
	interval time.Duration
	logger   *zerolog.Logger
	state    atomic.Int32
}

func NewMonitor(probe Prober, bus domain.EventPublisher, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:    probe,
		bus:      bus,
		interval: interval,
		logger:   logger,
	}
}

// Online reports the last observed connectivity. Unknown counts as offline so
// the queue never drains before the first successful probe.
func (m *Monitor) Online() bool {
	return m.state.Load() == stateOnline
}

// Start runs the probe loop until ctx is done. The first probe happens
// immediately so startup does not wait a full interval.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("connectivity monitor started")
	defer m.logger.Info().Msg("connectivity monitor stopped")

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs a single probe and publishes a transition event if the
// observed state changed.
func (m *Monitor) Check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	next := stateOnline
	if err := m.probe.Health(probeCtx); err != nil {
		next = stateOffline
	}

	prev := m.state.Swap(next)
	if prev == next {
		return
	}

	payload := events.ConnectivityPayload{Online: next == stateOnline, At: time.Now()}
	if next == stateOnline {
		m.logger.Info().Msg("connectivity restored")
		if err := m.bus.PublishJSON(events.EventConnectivityRestored, payload); err != nil {
			m.logger.Error().Err(err).Msg("publish connectivity event")
		}
		return
	}

	m.logger.Warn().Msg("connectivity lost")
	if err := m.bus.PublishJSON(events.EventConnectivityLost, payload); err != nil {
		m.logger.Error().Err(err).Msg("publish connectivity event")
	}
}
