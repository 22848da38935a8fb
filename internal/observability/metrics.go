// internal/observability/metrics.go

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects tracking and discovery metrics.
// A nil *Metrics is valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	registry         *prometheus.Registry
	samplesTotal     *prometheus.CounterVec
	samplingInterval prometheus.Histogram
	writesTotal      *prometheus.CounterVec
	queriesTotal     *prometheus.CounterVec
	queryDuration    prometheus.Histogram
	eventsTotal      *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a dedicated registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tribe_position_samples_total",
			Help: "Position samples by outcome (accepted, failed, discarded).",
		}, []string{"outcome"}),
		samplingInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tribe_sampling_interval_seconds",
			Help:    "Delay scheduled before the next position sample.",
			Buckets: []float64{15, 30, 60, 90, 120, 180, 240, 300},
		}),
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tribe_position_writes_total",
			Help: "Backend position upserts by outcome.",
		}, []string{"outcome"}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tribe_proximity_queries_total",
			Help: "Proximity queries by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tribe_proximity_query_duration_seconds",
			Help:    "Round trip of proximity queries against the backend.",
			Buckets: prometheus.DefBuckets,
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tribe_reconciler_events_total",
			Help: "Push events handled by the reconciler by kind and action.",
		}, []string{"kind", "action"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tribe_active_sessions",
			Help: "Tracking sessions currently running.",
		}),
	}

	m.registry.MustRegister(
		m.samplesTotal,
		m.samplingInterval,
		m.writesTotal,
		m.queriesTotal,
		m.queryDuration,
		m.eventsTotal,
		m.activeSessions,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSample counts a sampling attempt
func (m *Metrics) ObserveSample(outcome string) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(outcome).Inc()
}

// ObserveInterval records the next scheduled sampling delay
func (m *Metrics) ObserveInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.samplingInterval.Observe(d.Seconds())
}

// ObserveWrite counts a position upsert
func (m *Metrics) ObserveWrite(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.writesTotal.WithLabelValues(outcome).Inc()
}

// ObserveQuery counts a proximity query and its duration
func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(d.Seconds())
}

// ObserveEvent counts a reconciler decision
func (m *Metrics) ObserveEvent(kind, action string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, action).Inc()
}

// SessionStarted increments the active session gauge
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionStopped decrements the active session gauge
func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
