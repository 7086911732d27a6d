package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Layer lifecycle metrics
	LayerOperationsTotal   *prometheus.CounterVec
	LayerOperationDuration *prometheus.HistogramVec
	LayersRegistered       prometheus.Gauge
	LayersLoaded           prometheus.Gauge

	// Sandbox metrics
	SandboxesActive          prometheus.Gauge
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LayerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerometa_layer_operations_total",
				Help: "Total number of layer operations",
			},
			[]string{"operation", "result"},
		),
		LayerOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zerometa_layer_operation_duration_seconds",
				Help:    "Layer operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		LayersRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zerometa_layers_registered",
				Help: "Number of layers in the registry",
			},
		),
		LayersLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zerometa_layers_loaded",
				Help: "Number of layers with native code loaded",
			},
		),
		SandboxesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zerometa_sandboxes_active",
				Help: "Number of live layer sandboxes",
			},
		),
		SandboxExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerometa_sandbox_executions_total",
				Help: "Total number of sandboxed command executions",
			},
			[]string{"result"},
		),
		SandboxExecutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zerometa_sandbox_execution_duration_seconds",
				Help:    "Sandboxed command duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
		),
	}

	registry.MustRegister(
		m.LayerOperationsTotal,
		m.LayerOperationDuration,
		m.LayersRegistered,
		m.LayersLoaded,
		m.SandboxesActive,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
	)

	return m
}

// RecordLayerOperation counts one layer operation. Safe on a nil receiver.
func (m *Metrics) RecordLayerOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.LayerOperationsTotal.WithLabelValues(operation, result).Inc()
	m.LayerOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetLayersRegistered sets the registry size gauge. Safe on a nil receiver.
func (m *Metrics) SetLayersRegistered(n int) {
	if m == nil {
		return
	}
	m.LayersRegistered.Set(float64(n))
}

// SetLayersLoaded sets the loaded layer gauge. Safe on a nil receiver.
func (m *Metrics) SetLayersLoaded(n int) {
	if m == nil {
		return
	}
	m.LayersLoaded.Set(float64(n))
}

// SetSandboxesActive sets the sandbox gauge. Safe on a nil receiver.
func (m *Metrics) SetSandboxesActive(n int) {
	if m == nil {
		return
	}
	m.SandboxesActive.Set(float64(n))
}

// RecordSandboxExecution counts one sandboxed execution. Only processes that
// ran to completion are timed. Safe on a nil receiver.
func (m *Metrics) RecordSandboxExecution(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SandboxExecutionsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.SandboxExecutionDuration.Observe(duration.Seconds())
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
