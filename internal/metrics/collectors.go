package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Prefetch metrics
	prefetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_prefetch_total",
			Help: "Total number of prefetch attempts",
		},
		[]string{"reason", "outcome"},
	)

	prefetchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgecache_prefetch_cycle_duration_seconds",
			Help:    "Duration of a full prefetch cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Model metrics
	modelUpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgecache_model_update_duration_seconds",
			Help:    "Duration of a model update pass",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	modelEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgecache_model_events",
			Help: "Number of usage events in the current model",
		},
	)

	// Forecast metrics
	offlineRisk = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgecache_offline_risk",
			Help: "Most recent combined offline risk score",
		},
	)

	offlinePredictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgecache_offline_predictions_total",
			Help: "Total number of cycles that predicted an outage",
		},
	)

	// Governor metrics
	aggressiveness = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgecache_aggressiveness",
			Help: "Current prefetch aggressiveness scalar",
		},
	)

	// Cache metrics
	cacheHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgecache_cache_hit_rate",
			Help: "Fraction of cache lookups served from cache",
		},
	)

	cacheFillRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgecache_cache_fill_ratio",
			Help: "Fraction of cache capacity in use",
		},
	)

	// Persistence metrics
	snapshotErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_snapshot_errors_total",
			Help: "Total number of snapshot save/load failures",
		},
		[]string{"op"},
	)
)

// RecordPrefetch records a single prefetch attempt.
func RecordPrefetch(reason, outcome string) {
	prefetchTotal.WithLabelValues(reason, outcome).Inc()
}

// RecordPrefetchCycle records the duration of a full cycle.
func RecordPrefetchCycle(d time.Duration) {
	prefetchCycleDuration.Observe(d.Seconds())
}

// RecordModelUpdate records a model rebuild.
func RecordModelUpdate(d time.Duration, events int) {
	modelUpdateDuration.Observe(d.Seconds())
	modelEvents.Set(float64(events))
}

// RecordRisk records the latest forecast.
func RecordRisk(risk float64, predicted bool) {
	offlineRisk.Set(risk)
	if predicted {
		offlinePredictions.Inc()
	}
}

// RecordAggressiveness records the governor output.
func RecordAggressiveness(v float64) {
	aggressiveness.Set(v)
}

// RecordCacheStats records cache effectiveness gauges.
func RecordCacheStats(hitRate, fillRatio float64) {
	cacheHitRate.Set(hitRate)
	cacheFillRatio.Set(fillRatio)
}

// RecordSnapshotError records a persistence failure.
func RecordSnapshotError(op string) {
	snapshotErrors.WithLabelValues(op).Inc()
}
