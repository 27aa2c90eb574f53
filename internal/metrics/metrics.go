// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// AuthOutcomes counts auth operations by result, e.g. login/invalid_credentials.
	AuthOutcomes *prometheus.CounterVec

	WebsocketClients   prometheus.Gauge
	ResetTokensCleared prometheus.Counter
	RateLimited        *prometheus.CounterVec

	// BackupRuns counts database backups by result, success or failure.
	BackupRuns *prometheus.CounterVec
	// PushSent counts web push deliveries by result.
	PushSent *prometheus.CounterVec
	// OnlineGifts counts offerings recorded from payment webhooks by kind.
	OnlineGifts *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flock_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_auth_outcomes_total",
				Help: "Auth operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		WebsocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flock_websocket_clients",
				Help: "Connected websocket clients",
			},
		),
		ResetTokensCleared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flock_reset_tokens_cleared_total",
				Help: "Expired password reset tokens removed by cleanup",
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		BackupRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_backup_runs_total",
				Help: "Database backup runs by result",
			},
			[]string{"result"},
		),
		PushSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_push_sent_total",
				Help: "Web push deliveries by result",
			},
			[]string{"result"},
		),
		OnlineGifts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_online_gifts_total",
				Help: "Offerings recorded from online payments",
			},
			[]string{"kind"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthOutcomes,
		m.WebsocketClients,
		m.ResetTokensCleared,
		m.RateLimited,
		m.BackupRuns,
		m.PushSent,
		m.OnlineGifts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AuthOutcome records one auth result. Safe on a nil receiver.
func (m *Metrics) AuthOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOutcomes.WithLabelValues(operation, outcome).Inc()
}

// BackupResult records one backup run. Safe on a nil receiver.
func (m *Metrics) BackupResult(err error) {
	if m == nil {
		return
	}
	m.BackupRuns.WithLabelValues(result(err)).Inc()
}

// PushResult records one push delivery. Safe on a nil receiver.
func (m *Metrics) PushResult(err error) {
	if m == nil {
		return
	}
	m.PushSent.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware instruments requests. It must wrap the ServeMux directly so
// that the matched route pattern is visible after dispatch; raw paths are
// never used as labels.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
