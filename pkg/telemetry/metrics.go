package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Unit outcome labels.
const (
	OutcomeInstalled = "installed"
	OutcomeUpdated   = "updated"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRemoved   = "removed"
)

// Metrics provides Prometheus metrics for installer runs. A run is a
// short-lived process, so metrics are exported to a textfile instead of
// being scraped.
type Metrics struct {
	config MetricsConfig

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	unitsTotal    *prometheus.CounterVec
	unitDuration  *prometheus.HistogramVec
	filesCopied   prometheus.Counter
	pathDecisions *prometheus.CounterVec
	backupBytes   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance; every recorder checks for a nil registry.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of installer runs by operation and status",
			},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of installer runs in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		unitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Total number of unit operations by unit and outcome",
			},
			[]string{"unit", "outcome"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Duration of a single unit operation in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"unit"},
		),
		filesCopied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_copied_total",
				Help:      "Total number of artifact files copied",
			},
		),
		pathDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "path_decisions_total",
				Help:      "Path validation decisions by action",
			},
			[]string{"action"},
		),
		backupBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backup_size_bytes",
				Help:      "Size of the last backup archive",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.runsTotal, m.runDuration, m.unitsTotal, m.unitDuration,
		m.filesCopied, m.pathDecisions, m.backupBytes,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// Enabled reports whether metrics are being collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(operation, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.runsTotal.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordUnit records the outcome of a single unit operation.
func (m *Metrics) RecordUnit(unit, outcome string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.unitsTotal.WithLabelValues(unit, outcome).Inc()
	m.unitDuration.WithLabelValues(unit).Observe(duration.Seconds())
}

// AddFilesCopied increments the copied files counter.
func (m *Metrics) AddFilesCopied(n int) {
	if !m.Enabled() || n <= 0 {
		return
	}
	m.filesCopied.Add(float64(n))
}

// RecordPathDecision counts an ALLOW/DENY/WARN decision.
func (m *Metrics) RecordPathDecision(action string) {
	if !m.Enabled() {
		return
	}
	m.pathDecisions.WithLabelValues(action).Inc()
}

// SetBackupSize records the size of the latest backup archive.
func (m *Metrics) SetBackupSize(bytes int64) {
	if !m.Enabled() {
		return
	}
	m.backupBytes.Set(float64(bytes))
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes all metrics to the configured textfile path.
func (m *Metrics) WriteTextfile() error {
	if !m.Enabled() || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
