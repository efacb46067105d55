package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nestsync",
			Name:      "queue_depth",
			Help:      "Operations currently waiting in the pending store.",
		},
	)

	drains = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nestsync",
			Name:      "drain_passes_total",
			Help:      "Completed queue drain passes.",
		},
	)

	opsSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nestsync",
			Name:      "operations_synced_total",
			Help:      "Operations applied to the remote store, by type.",
		},
		[]string{"type"},
	)

	opFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nestsync",
			Name:      "operation_failures_total",
			Help:      "Failed write attempts, by type.",
		},
		[]string{"type"},
	)

	ledgerSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nestsync",
			Name:      "sync_errors",
			Help:      "Terminal errors currently in the ledger.",
		},
	)

	listenerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nestsync",
			Name:      "listener_reconnects_total",
			Help:      "Backoff-triggered listener resubscriptions.",
		},
	)

	listenerDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nestsync",
			Name:      "listener_drops_total",
			Help:      "Listeners dropped after exhausting retries.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(queueDepth, drains, opsSynced, opFailures, ledgerSize, listenerReconnects, listenerDrops)
	})
}

func SetQueueDepth(n int)      { queueDepth.Set(float64(n)) }
func IncDrain()                { drains.Inc() }
func IncSynced(opType string)  { opsSynced.WithLabelValues(opType).Inc() }
func IncFailure(opType string) { opFailures.WithLabelValues(opType).Inc() }
func SetLedgerSize(n int)      { ledgerSize.Set(float64(n)) }
func IncListenerReconnect()    { listenerReconnects.Inc() }
func IncListenerDrop()         { listenerDrops.Inc() }
