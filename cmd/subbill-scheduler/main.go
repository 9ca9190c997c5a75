package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/subbill/pkg/app"
	"github.com/platinummonkey/subbill/pkg/config"
	"github.com/platinummonkey/subbill/pkg/observability"
)

var version = "dev"

var (
	runOnce = flag.String("run-once", "", "Run a single job and exit: generate, renew or all")
	logFmt  = flag.String("log-format", "text", "Scheduler log format: text or json")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogger(cfg.Observability.LogLevel.String(), *logFmt)
	serviceLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "subbill-scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, cfg.OTel(), serviceLogger)
	if err != nil {
		logger.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	application, err := app.New(ctx, cfg, serviceLogger, metrics)
	if err != nil {
		logger.Fatalf("Failed to initialize billing services: %v", err)
	}
	defer application.Close()

	j := &jobs{
		generator: application.Services.Generator,
		renewer:   application.Services.Renewer,
		logger:    logger,
		events:    serviceLogger,
	}

	if *runOnce != "" {
		if err := j.runNamed(ctx, *runOnce); err != nil {
			logger.Fatalf("Job %s failed: %v", *runOnce, err)
		}
		logger.Infof("Job %s completed", *runOnce)
		return
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cron.PrintfLogger(logger)),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)

	if _, err := c.AddFunc(cfg.Scheduler.GenerateSpec, func() { j.run(ctx, "generate", j.generate) }); err != nil {
		logger.Fatalf("Failed to schedule order generation: %v", err)
	}
	if _, err := c.AddFunc(cfg.Scheduler.RenewSpec, func() { j.run(ctx, "renew", j.renew) }); err != nil {
		logger.Fatalf("Failed to schedule renewals: %v", err)
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, application.HealthChecker(version))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Health server failed: %v", err)
			stop()
		}
	}()

	go func() {
		if err := application.RunBackground(ctx); err != nil {
			logger.Errorf("Plan watcher stopped: %v", err)
		}
	}()

	c.Start()
	logger.Info("Subbill scheduler started")
	logger.Infof("Order generation schedule: %s", cfg.Scheduler.GenerateSpec)
	logger.Infof("Renewal schedule: %s", cfg.Scheduler.RenewSpec)

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	// Wait for running jobs
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Health server shutdown: %v", err)
	}
	if providers != nil {
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("OpenTelemetry shutdown: %v", err)
		}
	}

	logger.Info("Scheduler stopped")
}

func setupLogger(logLevel, format string) *logrus.Logger {
	logger := logrus.New()
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
