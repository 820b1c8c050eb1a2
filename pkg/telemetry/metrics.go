package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbex/openbex/pkg/engine"
)

// Metrics provides Prometheus metrics for OpenBex. It implements
// engine.MetricsRecorder; when metrics are disabled every method is a no-op.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	// Target metrics
	targetsProcessed *prometheus.CounterVec

	// Credential metrics
	authAttempts *prometheus.CounterVec

	// Convergence metrics
	variantAttempts *prometheus.CounterVec
	capabilityWait  *prometheus.HistogramVec
	operationPoll   *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of completed runs by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		targetsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_processed_total",
				Help:      "Total number of targets processed by terminal status",
			},
			[]string{"status"},
		),

		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Total number of credential strategy attempts",
			},
			[]string{"strategy", "result"},
		),

		variantAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variant_attempts_total",
				Help:      "Total number of export create attempts by variant",
			},
			[]string{"variant", "result"},
		),
		capabilityWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capability_wait_seconds",
				Help:      "Time spent waiting for capability propagation",
				Buckets:   buckets,
			},
			[]string{"granted"},
		),
		operationPoll: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_poll_duration_seconds",
				Help:      "Time spent polling asynchronous operations to completion",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.targetsProcessed,
		m.authAttempts,
		m.variantAttempts,
		m.capabilityWait,
		m.operationPoll,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// RecordAuthAttempt counts one credential strategy attempt.
func (m *Metrics) RecordAuthAttempt(strategy string, ok bool) {
	if m.authAttempts == nil {
		return
	}
	m.authAttempts.WithLabelValues(strategy, boolResult(ok)).Inc()
}

// RecordVariantAttempt counts one export create attempt per variant.
func (m *Metrics) RecordVariantAttempt(variant, result string) {
	if m.variantAttempts == nil {
		return
	}
	m.variantAttempts.WithLabelValues(variant, result).Inc()
}

// RecordCapabilityWait observes one capability propagation wait.
func (m *Metrics) RecordCapabilityWait(seconds float64, granted bool) {
	if m.capabilityWait == nil {
		return
	}
	m.capabilityWait.WithLabelValues(boolResult(granted)).Observe(seconds)
}

// RecordOperationPoll observes one asynchronous operation poll to its
// terminal status.
func (m *Metrics) RecordOperationPoll(status string, seconds float64) {
	if m.operationPoll == nil {
		return
	}
	m.operationPoll.WithLabelValues(status).Observe(seconds)
}

// RecordTargetOutcome counts one terminal target outcome.
func (m *Metrics) RecordTargetOutcome(status string) {
	if m.targetsProcessed == nil {
		return
	}
	m.targetsProcessed.WithLabelValues(status).Inc()
}

// RecordRun observes one completed run.
func (m *Metrics) RecordRun(status string, seconds float64) {
	if m.runsTotal == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(seconds)
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished decrements the active run gauge.
func (m *Metrics) RunFinished() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Dec()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

func boolResult(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
