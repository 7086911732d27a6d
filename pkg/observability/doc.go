// Package observability provides logging setup and Prometheus metrics for zerometa.
//
// # Overview
//
// Logging uses logrus. NewLogger builds the human readable logger used by the
// CLI and NewJSONLogger the line-delimited JSON logger used for audit trails.
//
// Metrics are registered on a caller supplied prometheus.Registry. Every
// recording method is safe on a nil *Metrics so components can run without
// metrics wired in.
//
// ServeMetrics runs a standalone /metrics server for long running commands and
// shuts it down when its context ends. RecoverPanic guards their goroutines.
//
// # Metrics
//
//	zerometa_layer_operations_total{operation, result}
//	zerometa_layer_operation_duration_seconds{operation}
//	zerometa_layers_registered
//	zerometa_layers_loaded
//	zerometa_sandboxes_active
//	zerometa_sandbox_executions_total{result}
//	zerometa_sandbox_execution_duration_seconds
//
// # Usage Example
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//
//	mux := http.NewServeMux()
//	observability.RegisterMetricsEndpoint(mux, registry)
package observability
