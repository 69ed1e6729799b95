package archiver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the archiver.
type Metrics struct {
	Registry       *prometheus.Registry
	ItemsTotal     *prometheus.CounterVec
	AttemptsTotal  prometheus.Counter
	RetriesTotal   prometheus.Counter
	FetchDuration  prometheus.Histogram
	ErrorsTotal    *prometheus.CounterVec
	InFlight       prometheus.Gauge
	ProbeCacheHits prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_items_total",
			Help: "Items reaching a terminal outcome, by outcome.",
		},
		[]string{"outcome"},
	)
	attempts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_fetch_attempts_total",
			Help: "Total fetch attempts, including retries.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_retries_total",
			Help: "Total fetch retries scheduled after a failed attempt.",
		},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archiver_fetch_duration_seconds",
			Help:    "Wall-clock duration of individual fetch attempts.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_errors_total",
			Help: "Total archiver errors by type.",
		},
		[]string{"error_type"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "archiver_items_in_flight",
			Help: "Items currently holding a concurrency slot.",
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_probe_cache_hits_total",
			Help: "Probe results served from the in-run cache.",
		},
	)

	registry.MustRegister(items, attempts, retries, fetchDuration, errorsTotal, inFlight, cacheHits)

	return &Metrics{
		Registry:       registry,
		ItemsTotal:     items,
		AttemptsTotal:  attempts,
		RetriesTotal:   retries,
		FetchDuration:  fetchDuration,
		ErrorsTotal:    errorsTotal,
		InFlight:       inFlight,
		ProbeCacheHits: cacheHits,
	}
}

// IncItem increments the terminal-outcome counter for an outcome label.
func (m *Metrics) IncItem(outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

// IncAttempt increments the fetch attempts counter.
func (m *Metrics) IncAttempt() {
	if m == nil {
		return
	}
	m.AttemptsTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// ObserveFetch records one fetch attempt's duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SlotAcquired marks one concurrency slot as occupied.
func (m *Metrics) SlotAcquired() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// SlotReleased marks one concurrency slot as freed.
func (m *Metrics) SlotReleased() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// IncProbeCacheHit increments the probe cache hit counter.
func (m *Metrics) IncProbeCacheHit() {
	if m == nil {
		return
	}
	m.ProbeCacheHits.Inc()
}
