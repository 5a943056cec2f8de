// Package observability provides logrus logging setup, Prometheus metrics,
// OpenTelemetry export, health checks and graceful shutdown for the cadplug
// binaries.
//
// # Logging
//
//	logger, err := observability.NewLogger("info", observability.FormatJSON, nil)
//	entry := observability.FromContext(ctx) // request_id, trace_id, span_id
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordVerification("archive", result.Valid, string(result.Stage), result.Duration)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # OpenTelemetry
//
//	telemetry, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "cadplug-verifier",
//	}, logger)
//	defer telemetry.Shutdown(ctx)
package observability
