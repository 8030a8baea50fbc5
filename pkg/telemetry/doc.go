// Package telemetry provides logging, tracing and metrics for convergence runs.
//
// Logging is zerolog based. Run and resource scoped loggers carry run_id,
// recipe, kind and resource fields so a single run can be followed through
// the log. The orchestrator stores the resource scoped logger in the context
// it hands to providers:
//
//	logger := telemetry.FromContext(ctx)
//	logger.Info("content changed")
//
// Tracing uses OpenTelemetry. A run produces one root span, one span per
// recipe and one span per resource. Exporters are otlp (gRPC), stdout or
// none; tracing is disabled unless configured.
//
// Metrics are Prometheus collectors on a private registry. A one-shot run
// writes them to a node_exporter textfile with WriteTextfile; the watch
// command serves them over HTTP with StartMetricsServer. A nil *Metrics is
// accepted everywhere and records nothing.
package telemetry
