// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the platform.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Write coordinator metrics (internal/store.Coordinator)
	WriteCommitsTotal   *prometheus.CounterVec
	WriteCommitDuration *prometheus.HistogramVec
	WriteQueueDepth     prometheus.Gauge

	// Envelope verification metrics (internal/envelope)
	EnvelopeVerificationsTotal *prometheus.CounterVec

	// Ledger/escrow metrics (internal/ledger)
	EscrowOperationsTotal *prometheus.CounterVec

	// Court metrics (internal/court)
	DisputeRulingsTotal *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered against
// the default Prometheus registerer.
func New(serviceName, version string) *Metrics {
	return NewWithRegistry(serviceName, version, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName, version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		WriteCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "write_coordinator_commits_total",
				Help: "Total number of write coordinator commits, by bucket and outcome",
			},
			[]string{"bucket", "outcome"},
		),
		WriteCommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "write_coordinator_commit_duration_seconds",
				Help:    "Write coordinator commit duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"bucket"},
		),
		WriteQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "write_coordinator_queue_depth",
				Help: "Current number of pending writes queued on the single write lane",
			},
		),

		EnvelopeVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envelope_verifications_total",
				Help: "Total number of signed envelope verification attempts, by outcome",
			},
			[]string{"outcome"},
		),

		EscrowOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Total number of escrow operations, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		DisputeRulingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispute_rulings_total",
				Help: "Total number of Court dispute rulings, by verdict",
			},
			[]string{"verdict"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.WriteCommitsTotal,
			m.WriteCommitDuration,
			m.WriteQueueDepth,
			m.EnvelopeVerificationsTotal,
			m.EscrowOperationsTotal,
			m.DisputeRulingsTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, version, environment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordWriteCommit records one write coordinator commit against a bucket.
func (m *Metrics) RecordWriteCommit(bucket, outcome string, duration time.Duration) {
	m.WriteCommitsTotal.WithLabelValues(bucket, outcome).Inc()
	m.WriteCommitDuration.WithLabelValues(bucket).Observe(duration.Seconds())
}

// SetWriteQueueDepth reports the current depth of the write coordinator's queue.
func (m *Metrics) SetWriteQueueDepth(depth int) {
	m.WriteQueueDepth.Set(float64(depth))
}

// RecordEnvelopeVerification records the outcome of a signed envelope check
// ("ok", "bad_signature", "expired", "unknown_signer", "malformed").
func (m *Metrics) RecordEnvelopeVerification(outcome string) {
	m.EnvelopeVerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordEscrowOperation records an escrow lifecycle operation
// (kind: "lock", "release", "split"; outcome: "ok", "insufficient_funds",
// "already_exists", "already_resolved", "error").
func (m *Metrics) RecordEscrowOperation(kind, outcome string) {
	m.EscrowOperationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordDisputeRuling records a Court verdict ("claimant", "respondent", "split").
func (m *Metrics) RecordDisputeRuling(verdict string) {
	m.DisputeRulingsTotal.WithLabelValues(verdict).Inc()
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENVIRONMENT")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return environment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance.
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName, version string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName, version)
	}
	return globalMetrics
}

// Global returns the global metrics instance, creating a default one if
// Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown", "0.0.0")
	}
	return globalMetrics
}
