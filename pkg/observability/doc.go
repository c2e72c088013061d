// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, graceful shutdown, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Named("evaluator").Info("Server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("Request failed")
//	observability.FromContext(ctx, logger).Info("Decision evaluated")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.DecisionsTotal.WithLabelValues("granted", "custom_role").Inc()
//	metrics.HTTPRequestDuration.WithLabelValues("POST", "/api/v1/authz/check").Observe(0.002)
//
// Business metrics:
//
//	metrics.RolesTotal.Set(float64(roleCount))
//	metrics.ActiveAssignments.Set(float64(assignmentCount))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
//
// PostgreSQL failure reports unhealthy; Redis failure only degrades
// because evaluation falls through the decision cache to the store.
//
// # OpenTelemetry
//
// Initialize tracing and OTLP metrics:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "porter",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Graceful Shutdown
//
// Coordinate server and dependency teardown:
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc("postgres", func(ctx context.Context) error { return db.Close() })
//	err := sm.WaitForShutdown()
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
