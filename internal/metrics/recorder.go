// Package metrics records engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder is the metrics port used by the services.
type Recorder interface {
	// ObserveOperation records one public operation and its outcome ("ok" or an error code).
	ObserveOperation(operation, outcome string, d time.Duration)
	ConflictDetected(scope, conflictType, severity string)
	ResolutionRecorded(conflictType, strategy string)
	BatchesApproved(approved, failed int)
	BatchesCreated(source string, n int)
	AuditFailure(entityType string)
}

// PrometheusRecorder implements Recorder on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	conflicts         *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	approvals         *prometheus.CounterVec
	batchesCreated    *prometheus.CounterVec
	auditFailures     *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with Go and process collectors registered.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Conflicts detected by scope, type and severity.",
		}, []string{"scope", "type", "severity"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_resolutions_total",
			Help:      "Automatic conflict resolutions by type and strategy.",
		}, []string{"type", "strategy"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_approvals_total",
			Help:      "Batch approval attempts by result.",
		}, []string{"result"}),
		batchesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_created_total",
			Help:      "Production batches created by source.",
		}, []string{"source"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit events that could not be written.",
		}, []string{"entity_type"}),
	}

	registry.MustRegister(r.operationDuration)
	registry.MustRegister(r.conflicts)
	registry.MustRegister(r.resolutions)
	registry.MustRegister(r.approvals)
	registry.MustRegister(r.batchesCreated)
	registry.MustRegister(r.auditFailures)

	return r
}

// Registry returns the underlying registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile dumps the current metrics in text exposition format, for
// pickup by a node exporter textfile collector.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *PrometheusRecorder) ObserveOperation(operation, outcome string, d time.Duration) {
	r.operationDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ConflictDetected(scope, conflictType, severity string) {
	r.conflicts.WithLabelValues(scope, conflictType, severity).Inc()
}

func (r *PrometheusRecorder) ResolutionRecorded(conflictType, strategy string) {
	r.resolutions.WithLabelValues(conflictType, strategy).Inc()
}

func (r *PrometheusRecorder) BatchesApproved(approved, failed int) {
	r.approvals.WithLabelValues("approved").Add(float64(approved))
	r.approvals.WithLabelValues("failed").Add(float64(failed))
}

func (r *PrometheusRecorder) BatchesCreated(source string, n int) {
	r.batchesCreated.WithLabelValues(source).Add(float64(n))
}

func (r *PrometheusRecorder) AuditFailure(entityType string) {
	r.auditFailures.WithLabelValues(entityType).Inc()
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveOperation(string, string, time.Duration) {}
func (Noop) ConflictDetected(string, string, string)        {}
func (Noop) ResolutionRecorded(string, string)              {}
func (Noop) BatchesApproved(int, int)                       {}
func (Noop) BatchesCreated(string, int)                     {}
func (Noop) AuditFailure(string)                            {}

var (
	_ Recorder = (*PrometheusRecorder)(nil)
	_ Recorder = Noop{}
)
