// Package metrics holds the Prometheus collectors shared by the sync repository and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SyncAttempts  *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
	RemoteCalls   *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	UnsyncedGauge prometheus.Gauge
}

// New creates the collectors and registers them with reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SyncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smis",
			Name:      "sync_attempts_total",
			Help:      "Full sync attempts by outcome.",
		}, []string{"result"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smis",
			Name:      "sync_duration_seconds",
			Help:      "Duration of full sync runs including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smis",
			Name:      "remote_calls_total",
			Help:      "Calls to remote backends by backend, operation and outcome.",
		}, []string{"backend", "op", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smis",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smis",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		UnsyncedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smis",
			Name:      "unsynced_records",
			Help:      "Local records not yet confirmed by the backend of record.",
		}),
	}
	reg.MustRegister(m.SyncAttempts, m.SyncDuration, m.RemoteCalls, m.HTTPRequests, m.HTTPDuration, m.UnsyncedGauge)
	return m
}

// Remote records the outcome of one remote call.
func (m *Metrics) Remote(backend, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RemoteCalls.WithLabelValues(backend, op, result).Inc()
}

// SyncAttempt records one full sync attempt.
func (m *Metrics) SyncAttempt(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SyncAttempts.WithLabelValues(result).Inc()
}

// ObserveSync records the wall time of a full sync.
func (m *Metrics) ObserveSync(seconds float64) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(seconds)
}

// SetUnsynced publishes the current unsynced count.
func (m *Metrics) SetUnsynced(n int) {
	if m == nil {
		return
	}
	m.UnsyncedGauge.Set(float64(n))
}
