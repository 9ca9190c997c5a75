// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry setup and shutdown sequencing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("due_date", "2025-03-01").Info("generation started")
//
// Request-scoped logging:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	observability.FromContext(ctx).Warn("partial failure")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.SubscriptionOrdersTotal.WithLabelValues("generated").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: Request logging middleware
package observability
