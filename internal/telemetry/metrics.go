package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes engine activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	searchesTotal  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	buildsTotal    *prometheus.CounterVec
	indexedUnits   prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	searchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablerag",
			Name:      "searches_total",
			Help:      "Total searches by result mode.",
		},
		[]string{"mode"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tablerag",
			Name:      "search_duration_seconds",
			Help:      "Search latency in seconds by result mode.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"},
	)
	buildsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablerag",
			Name:      "builds_total",
			Help:      "Index builds and loads by outcome.",
		},
		[]string{"outcome"},
	)
	indexedUnits := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tablerag",
			Name:      "indexed_units",
			Help:      "Text units in the index currently served.",
		},
	)

	registry.MustRegister(searchesTotal, searchDuration, buildsTotal, indexedUnits)

	return &Metrics{
		registry:       registry,
		searchesTotal:  searchesTotal,
		searchDuration: searchDuration,
		buildsTotal:    buildsTotal,
		indexedUnits:   indexedUnits,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one finished search. Failed searches use mode "error".
func (m *Metrics) ObserveSearch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.searchesTotal.WithLabelValues(mode).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveBuild records a build or load outcome ("success" or "failure")
// and, on success, the number of units now served.
func (m *Metrics) ObserveBuild(outcome string, units int) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.indexedUnits.Set(float64(units))
	}
}

// Build outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
