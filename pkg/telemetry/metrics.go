package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for nix-gui. A nil *Metrics and a
// disabled instance are both valid no-op collectors.
type Metrics struct {
	config MetricsConfig

	// Evaluator metrics
	evaluations        *prometheus.CounterVec
	evaluationRetries  prometheus.Counter
	evaluationDuration *prometheus.HistogramVec

	// Cache metrics
	cacheLookups    *prometheus.CounterVec
	cacheDiskLoads  *prometheus.CounterVec
	cacheDiskWrites *prometheus.CounterVec

	// Editor metrics
	updates          *prometheus.CounterVec
	updatesMerged    *prometheus.CounterVec
	undoDepth        prometheus.Gauge
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.EvaluationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of nix evaluations by outcome",
			},
			[]string{"outcome"},
		),
		evaluationRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluation_retries_total",
				Help:      "Total number of evaluations retried with --show-trace",
			},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Wall time of nix evaluations including retries",
				Buckets:   buckets,
			},
			[]string{"strict"},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Memoization cache lookups by function and result (hit, miss, stale)",
			},
			[]string{"function", "result"},
		),
		cacheDiskLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_disk_loads_total",
				Help:      "Entries loaded from the on-disk cache",
			},
			[]string{"function", "status"},
		),
		cacheDiskWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_disk_writes_total",
				Help:      "Entries written to the on-disk cache",
			},
			[]string{"function", "status"},
		),

		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "option_updates_total",
				Help:      "Option tree updates by kind and action (apply, undo, redo)",
			},
			[]string{"kind", "action"},
		),
		updatesMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "option_updates_merged_total",
				Help:      "Updates compacted into the previous undo log entry",
			},
			[]string{"kind"},
		),
		undoDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "undo_depth",
				Help:      "Current number of entries in the undo log",
			},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Edit policy violations by policy and severity",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.evaluations,
		m.evaluationRetries,
		m.evaluationDuration,
		m.cacheLookups,
		m.cacheDiskLoads,
		m.cacheDiskWrites,
		m.updates,
		m.updatesMerged,
		m.undoDepth,
		m.policyViolations,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Evaluator Metrics

// RecordEvaluation records a finished evaluation. outcome is one of
// success, warning (stdout trusted despite stderr) or failure.
func (m *Metrics) RecordEvaluation(outcome string, strict bool, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	m.evaluationDuration.WithLabelValues(strconv.FormatBool(strict)).Observe(duration.Seconds())
}

// RecordEvaluationRetry counts a trace-enabled retry.
func (m *Metrics) RecordEvaluationRetry() {
	if !m.enabled() {
		return
	}
	m.evaluationRetries.Inc()
}

// Cache Metrics

// RecordCacheLookup records a memoization lookup result.
func (m *Metrics) RecordCacheLookup(function, result string) {
	if !m.enabled() {
		return
	}
	m.cacheLookups.WithLabelValues(function, result).Inc()
}

// RecordCacheDiskLoad records an attempt to load a disk entry.
func (m *Metrics) RecordCacheDiskLoad(function string, err error) {
	if !m.enabled() {
		return
	}
	m.cacheDiskLoads.WithLabelValues(function, status(err)).Inc()
}

// RecordCacheDiskWrite records an attempt to persist a disk entry.
func (m *Metrics) RecordCacheDiskWrite(function string, err error) {
	if !m.enabled() {
		return
	}
	m.cacheDiskWrites.WithLabelValues(function, status(err)).Inc()
}

// Editor Metrics

// RecordUpdate records an update applied, undone or redone on the option tree.
func (m *Metrics) RecordUpdate(kind, action string) {
	if !m.enabled() {
		return
	}
	m.updates.WithLabelValues(kind, action).Inc()
}

// RecordMerge records an update merged into the top of the undo log.
func (m *Metrics) RecordMerge(kind string) {
	if !m.enabled() {
		return
	}
	m.updatesMerged.WithLabelValues(kind).Inc()
}

// SetUndoDepth sets the current undo log depth.
func (m *Metrics) SetUndoDepth(depth int) {
	if !m.enabled() {
		return
	}
	m.undoDepth.Set(float64(depth))
}

// RecordPolicyViolation records an edit policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Timer tracks operation duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer starts an HTTP server to expose metrics when a listen
// address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
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
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
