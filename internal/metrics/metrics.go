// Package metrics provides Prometheus metrics for fieldstore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for fieldstore.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Index metrics
	IndexOperationsTotal   *prometheus.CounterVec
	IndexOperationDuration *prometheus.HistogramVec
	FieldInsertsTotal      *prometheus.CounterVec
	FieldsTotal            prometheus.Gauge
	DocumentsTotal         prometheus.Gauge
	IndexVersionInfo       *prometheus.GaugeVec

	// Upgrade metrics
	UpgradeStepsTotal   *prometheus.CounterVec
	UpgradeStepDuration *prometheus.HistogramVec
	UpgradePhasesTotal  *prometheus.CounterVec

	ServerStartTime time.Time
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}
	factory := promauto.With(reg)

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Index metrics
	m.IndexOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldstore_index_operations_total",
			Help: "Total number of index operations",
		},
		[]string{"operation", "status"},
	)

	m.IndexOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldstore_index_operation_duration_seconds",
			Help:    "Duration of index operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.FieldInsertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldstore_field_inserts_total",
			Help: "Field registrations by outcome",
		},
		[]string{"result"},
	)

	m.FieldsTotal = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldstore_fields_total",
			Help: "Number of fields known to the index",
		},
	)

	m.DocumentsTotal = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldstore_documents_total",
			Help: "Number of documents stored in the index",
		},
	)

	m.IndexVersionInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldstore_index_version_info",
			Help: "Format version of the open index (value is always 1)",
		},
		[]string{"version"},
	)

	// Upgrade metrics
	m.UpgradeStepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldstore_upgrade_steps_total",
			Help: "Upgrade steps run, by target version and outcome",
		},
		[]string{"target", "status"},
	)

	m.UpgradeStepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldstore_upgrade_step_duration_seconds",
			Help:    "Duration of upgrade steps in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"target"},
	)

	m.UpgradePhasesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldstore_upgrade_phases_total",
			Help: "Upgrade phases entered",
		},
		[]string{"step", "phase"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fieldstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordIndexOperation records an index operation
func (m *Metrics) RecordIndexOperation(operation string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IndexOperationsTotal.WithLabelValues(operation, status).Inc()
	m.IndexOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFieldInserts counts field registrations; result is "new" or "exhausted"
func (m *Metrics) RecordFieldInserts(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FieldInsertsTotal.WithLabelValues(result).Add(float64(n))
}

// UpdateIndexStats sets the field and document counts read from the index
func (m *Metrics) UpdateIndexStats(fields int, documents int) {
	if m == nil {
		return
	}
	m.FieldsTotal.Set(float64(fields))
	m.DocumentsTotal.Set(float64(documents))
}

// SetIndexVersion replaces the reported index version
func (m *Metrics) SetIndexVersion(v string) {
	if m == nil {
		return
	}
	m.IndexVersionInfo.Reset()
	m.IndexVersionInfo.WithLabelValues(v).Set(1)
}

// RecordUpgradeStep records a finished upgrade step
func (m *Metrics) RecordUpgradeStep(target string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpgradeStepsTotal.WithLabelValues(target, status).Inc()
	m.UpgradeStepDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordUpgradePhase counts a phase entered by an upgrade step
func (m *Metrics) RecordUpgradePhase(step, phase string) {
	if m == nil {
		return
	}
	m.UpgradePhasesTotal.WithLabelValues(step, phase).Inc()
}
