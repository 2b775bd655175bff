package metrics

import (
	"SwapQuote/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetchTotal    *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	selections    *prometheus.CounterVec
	improvement   *prometheus.HistogramVec
	serviceHealth *prometheus.GaugeVec
	systemHealth  prometheus.Gauge
}

// New creates a Prometheus metrics recorder registered on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		fetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swapquote_source_fetch_total",
				Help: "Quote fetch attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		fetchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swapquote_source_fetch_duration_seconds",
				Help:    "Duration of quote fetches in seconds",
				Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source", "outcome"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swapquote_cache_lookups_total",
				Help: "Quote cache lookups by source and result",
			},
			[]string{"source", "result"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swapquote_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swapquote_best_quote_source_total",
				Help: "Number of times a source served the selected quote",
			},
			[]string{"source"},
		),
		improvement: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swapquote_price_improvement_bps",
				Help:    "Improvement of the selected quote over the baseline source in bps",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"source"},
		),
		serviceHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swapquote_service_health",
				Help: "Service health (0=healthy, 1=degraded, 2=down)",
			},
			[]string{"service"},
		),
		systemHealth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "swapquote_system_health",
				Help: "Overall system health (0=healthy, 1=degraded, 2=down)",
			},
		),
	}
}

// RecordFetch records one fetch attempt against a source.
func (r *Recorder) RecordFetch(source, outcome string, seconds float64) {
	r.fetchTotal.WithLabelValues(source, outcome).Inc()
	r.fetchLatency.WithLabelValues(source, outcome).Observe(seconds)
}

// RecordCacheLookup records a cache hit or miss.
func (r *Recorder) RecordCacheLookup(source string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(source, result).Inc()
}

// RecordBreakerState records the current state of a named breaker.
func (r *Recorder) RecordBreakerState(name, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	r.breakerState.WithLabelValues(name).Set(v)
}

// RecordSelection records which source won and by how much.
func (r *Recorder) RecordSelection(source string, improvementBps int64) {
	r.selections.WithLabelValues(source).Inc()
	r.improvement.WithLabelValues(source).Observe(float64(improvementBps))
}

// RecordServiceHealth records a per-service verdict.
func (r *Recorder) RecordServiceHealth(service string, status models.HealthStatus) {
	r.serviceHealth.WithLabelValues(service).Set(statusValue(status))
}

// RecordSystemHealth records the overall verdict.
func (r *Recorder) RecordSystemHealth(status models.HealthStatus) {
	r.systemHealth.Set(statusValue(status))
}

func statusValue(s models.HealthStatus) float64 {
	switch s {
	case models.StatusDegraded:
		return 1
	case models.StatusDown:
		return 2
	default:
		return 0
	}
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordFetch(string, string, float64) {}
func (Nop) RecordCacheLookup(string, bool) {}
func (Nop) RecordBreakerState(string, string) {}
func (Nop) RecordSelection(string, int64) {}
func (Nop) RecordServiceHealth(string, models.HealthStatus) {}
func (Nop) RecordSystemHealth(models.HealthStatus) {}
