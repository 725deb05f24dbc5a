// Package metrics wires the node's Prometheus surface: block processing,
// validator-set and storage collectors, exposed over promhttp.Handler().
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the driver and storage layers update.
type Metrics struct {
	BlockHeight           prometheus.Gauge
	AppHashComputeSeconds prometheus.Histogram
	ValidatorsActive      prometheus.Gauge
	SlashEventsTotal      prometheus.Counter
	KVCommitSeconds       prometheus.Histogram
}

// New registers every collector against a fresh registry.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		BlockHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stakechain_block_height",
			Help: "Height of the last committed block.",
		}),
		AppHashComputeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stakechain_apphash_computation_seconds",
			Help:    "Time spent computing the app-hash at Finalize.",
			Buckets: prometheus.DefBuckets,
		}),
		ValidatorsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stakechain_validators_active",
			Help: "Number of validators currently in the active set.",
		}),
		SlashEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stakechain_slash_events_total",
			Help: "Total number of slash events applied.",
		}),
		KVCommitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stakechain_kv_commit_seconds",
			Help:    "Time spent committing a KV batch to the underlying store.",
			Buckets: prometheus.DefBuckets,
		}),
	}, reg
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
