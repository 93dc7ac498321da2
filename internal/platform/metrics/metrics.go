package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the purchase engine.
type Metrics struct {
	ValidationAttempts   prometheus.Counter
	ValidationRetries    prometheus.Counter
	ValidationOutcomes   *prometheus.CounterVec
	ValidationDuration   prometheus.Histogram
	TransactionsFinished prometheus.Counter
	CacheUpdatesAccepted prometheus.Counter
	CacheUpdatesStale    prometheus.Counter
	RestoresCompleted    prometheus.Counter
	RestoresFailed       prometheus.Counter
}

// New creates and registers all engine metrics on reg. Pass a fresh registry
// per engine instance in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ValidationAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "purchasekit_validation_attempts_total",
			Help: "Backend validation attempts, including retries",
		}),
		ValidationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "purchasekit_validation_retries_total",
			Help: "Backend validation attempts beyond the first per transaction",
		}),
		ValidationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "purchasekit_validation_outcomes_total",
			Help: "Terminal validation outcomes by kind",
		}, []string{"outcome"}),
		ValidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "purchasekit_validation_duration_seconds",
			Help:    "Wall time of a full validation including retries",
			Buckets: prometheus.DefBuckets,
		}),
		TransactionsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "purchasekit_transactions_finished_total",
			Help: "Transactions finalized with the platform store",
		}),
		CacheUpdatesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "purchasekit_cache_updates_accepted_total",
			Help: "Purchaser info snapshots installed in the cache",
		}),
		CacheUpdatesStale: factory.NewCounter(prometheus.CounterOpts{
			Name: "purchasekit_cache_updates_stale_total",
			Help: "Purchaser info snapshots discarded as older than the cached one",
		}),
		RestoresCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "purchasekit_restores_completed_total",
			Help: "Restore batches that produced an aggregated success",
		}),
		RestoresFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "purchasekit_restores_failed_total",
			Help: "Restore batches that produced an aggregated failure",
		}),
	}
}

// NewUnregistered returns metrics backed by a private registry. Convenience
// for tests and for engines that do not export metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
