// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Operations     *prometheus.CounterVec
	Assertions     *prometheus.CounterVec
	Cascades       *prometheus.CounterVec
	UBOFlagChanges *prometheus.CounterVec
	VerifyDuration prometheus.Histogram
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_operations_total",
			Help: "Engine operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		Assertions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_assertions_total",
			Help: "Assertion gate checks by kind and result.",
		}, []string{"kind", "result"}),
		Cascades: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_lifecycle_cascades_total",
			Help: "Lifecycle cascades executed, by kind.",
		}, []string{"kind"}),
		UBOFlagChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_ubo_flag_changes_total",
			Help: "Beneficial-owner flag transitions, by direction.",
		}, []string{"direction"}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "converge_verify_duration_seconds",
			Help:    "Latency of verify operations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewNop creates unregistered collectors for tests, avoiding duplicate
// registration across suites.
func NewNop() *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_operations_total",
		}, []string{"operation", "outcome"}),
		Assertions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_assertions_total",
		}, []string{"kind", "result"}),
		Cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_lifecycle_cascades_total",
		}, []string{"kind"}),
		UBOFlagChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_ubo_flag_changes_total",
		}, []string{"direction"}),
		VerifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "converge_verify_duration_seconds",
		}),
	}
}

// RecordOperation counts one operation outcome.
func (m *Metrics) RecordOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// RecordAssertion counts one gate check result.
func (m *Metrics) RecordAssertion(kind string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	m.Assertions.WithLabelValues(kind, result).Inc()
}

// RecordCascade counts one completed lifecycle cascade.
func (m *Metrics) RecordCascade(kind string) {
	m.Cascades.WithLabelValues(kind).Inc()
}

// RecordUBOFlag counts a beneficial-owner flag transition.
func (m *Metrics) RecordUBOFlag(flagged bool) {
	direction := "cleared"
	if flagged {
		direction = "set"
	}
	m.UBOFlagChanges.WithLabelValues(direction).Inc()
}

// ObserveVerify records one verify latency.
func (m *Metrics) ObserveVerify(d time.Duration) {
	m.VerifyDuration.Observe(d.Seconds())
}
