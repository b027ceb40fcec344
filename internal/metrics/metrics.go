// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes engine health metrics.
type Recorder struct {
	refreshTotal *prometheus.CounterVec
	statusGauge  *prometheus.GaugeVec
	feedLatency  *prometheus.HistogramVec
}

// New creates a Recorder registered on the default registry.
func New() *Recorder {
	return &Recorder{
		refreshTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collateralwatch_refresh_total",
				Help: "Refresh calls by collateral and outcome",
			},
			[]string{"collateral", "outcome"},
		),
		statusGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "collateralwatch_collateral_status",
				Help: "Collateral status: 0 sound, 1 iffy, 2 disabled",
			},
			[]string{"collateral"},
		),
		feedLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collateralwatch_feed_read_duration_seconds",
				Help:    "Duration of on-chain reads in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRefresh counts one refresh by outcome ("ok" or "error").
func (r *Recorder) RecordRefresh(collateral, outcome string) {
	r.refreshTotal.WithLabelValues(collateral, outcome).Inc()
}

// RecordStatus publishes a collateral's numeric status.
func (r *Recorder) RecordStatus(collateral string, status int) {
	r.statusGauge.WithLabelValues(collateral).Set(float64(status))
}

// RecordFeedLatency records one on-chain read duration.
func (r *Recorder) RecordFeedLatency(operation string, seconds float64) {
	r.feedLatency.WithLabelValues(operation).Observe(seconds)
}
