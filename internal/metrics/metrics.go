package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciliation outcomes
const (
	OutcomeSaved     = "saved"
	OutcomeHTTPError = "http_error"
	OutcomeExhausted = "exhausted"
	OutcomeStoreErr  = "store_error"
	OutcomeCanceled  = "canceled"
)

// Metrics holds all application collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	callsStarted     prometheus.Counter
	callsEnded       *prometheus.CounterVec
	callStartErrors  *prometheus.CounterVec
	activeCalls      prometheus.Gauge
	reconciliations  *prometheus.CounterVec
	reconcileAttempt prometheus.Counter
	reconcileLatency prometheus.Histogram
	pageConnections  prometheus.Counter
	activePages      prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

var instance *Metrics
var once sync.Once

// Get returns the process-wide metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates a Metrics backed by its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		callsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostline_calls_started_total",
			Help: "Calls whose realtime channel was established.",
		}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostline_calls_ended_total",
			Help: "Calls that left the active state, by reason.",
		}, []string{"reason"}),
		callStartErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostline_call_start_errors_total",
			Help: "Failed call starts, by stage.",
		}, []string{"stage"}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostline_active_calls",
			Help: "Calls currently active.",
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostline_reconciliations_total",
			Help: "Finished analytics reconciliations, by outcome.",
		}, []string{"outcome"}),
		reconcileAttempt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostline_reconcile_attempts_total",
			Help: "Analytics fetch attempts issued by reconciliations.",
		}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostline_reconcile_duration_seconds",
			Help:    "Wall time of a reconciliation from start to outcome.",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90},
		}),
		pageConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostline_page_connections_total",
			Help: "Page views that opened a websocket.",
		}),
		activePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostline_active_pages",
			Help: "Page views currently connected.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostline_http_requests_total",
			Help: "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostline_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.callsStarted,
		m.callsEnded,
		m.callStartErrors,
		m.activeCalls,
		m.reconciliations,
		m.reconcileAttempt,
		m.reconcileLatency,
		m.pageConnections,
		m.activePages,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// RecordCallStarted marks a call as active
func (m *Metrics) RecordCallStarted() {
	if m == nil {
		return
	}
	m.callsStarted.Inc()
	m.activeCalls.Inc()
}

// RecordCallEnded marks an active call as finished
func (m *Metrics) RecordCallEnded(reason string) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(reason).Inc()
	m.activeCalls.Dec()
}

// RecordCallStartError counts a failed start at the given stage ("create" or "transport")
func (m *Metrics) RecordCallStartError(stage string) {
	if m == nil {
		return
	}
	m.callStartErrors.WithLabelValues(stage).Inc()
}

// RecordReconcileAttempt counts one analytics fetch
func (m *Metrics) RecordReconcileAttempt() {
	if m == nil {
		return
	}
	m.reconcileAttempt.Inc()
}

// RecordReconciliation records a finished reconciliation
func (m *Metrics) RecordReconciliation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
	m.reconcileLatency.Observe(duration.Seconds())
}

// RecordPageConnect increments page connection counters
func (m *Metrics) RecordPageConnect() {
	if m == nil {
		return
	}
	m.pageConnections.Inc()
	m.activePages.Inc()
}

// RecordPageDisconnect decrements the active page gauge
func (m *Metrics) RecordPageDisconnect() {
	if m == nil {
		return
	}
	m.activePages.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
