// Package metrics holds the Prometheus collectors of the probe and the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mon"

// Batch outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Server side.
var (
	IngestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "batches_total",
		Help:      "Reading batches processed, by outcome.",
	}, []string{"outcome"})

	IngestValues = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "values_total",
		Help:      "Reading values committed.",
	})

	IngestDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "dropped_total",
		Help:      "Reading values dropped because their instance was unknown or inactive.",
	})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Committed status transitions, by resulting status.",
	}, []string{"status"})
)

// Probe side.
var (
	PluginFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "plugin",
		Name:      "fetch_total",
		Help:      "Plugin fetch invocations, by plugin and outcome.",
	}, []string{"plugin", "outcome"})

	PluginFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "plugin",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of plugin fetch invocations.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"plugin"})

	CatalogPlugins = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "plugins",
		Help:      "Plugins found by the last discovery scan.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
