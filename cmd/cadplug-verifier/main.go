// Command cadplug-verifier watches an inbox directory for plugin packages,
// verifies each one, records the outcome in the verification ledger and
// serves the verification API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/cadplug/pkg/api"
	"github.com/platinummonkey/cadplug/pkg/config"
	"github.com/platinummonkey/cadplug/pkg/observability"
	"github.com/platinummonkey/cadplug/pkg/plugins"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "config file (default is $"+config.EnvConfigFile+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Verifier stopped with an error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithField("version", version).Info("Starting cadplug verifier")

	telemetry, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	db, ledger, err := openLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		return err
	}

	opts := []api.ServiceOption{api.WithActor(cfg.Verifier.Actor)}
	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
		opts = append(opts, api.WithMetrics(metrics))
	}
	if cfg.Observability.OTelEnabled {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		opts = append(opts, api.WithOTelMetrics(otelMetrics))
	}
	service := api.NewVerificationService(plugins.NewVerifier(logger), ledger, logger, opts...)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Options{
			Service:  service,
			Ledger:   ledger,
			Health:   observability.NewHealthChecker(db, version),
			Metrics:  metrics,
			Registry: registry,
			Root:     cfg.Verifier.InboxDir,
			Logger:   logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var pending prometheus.Gauge
	if metrics != nil {
		pending = metrics.InboxPending
	}
	inbox, err := NewInbox(cfg.Verifier.InboxDir, cfg.Verifier.Debounce, func(ctx context.Context, path string) {
		if _, err := service.Verify(ctx, path, ""); err != nil {
			logger.WithError(err).WithField("path", path).Error("Failed to verify inbox package")
		}
	}, logger, pending)
	if err != nil {
		return err
	}
	if err := inbox.ScanExisting(); err != nil {
		return err
	}

	scheduler := cron.New()
	if err := scheduleRescan(ctx, scheduler, cfg.Verifier.RescanSchedule, service, logger); err != nil {
		return err
	}

	inboxCtx, stopInbox := context.WithCancel(ctx)
	inboxDone := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "inbox")
		inboxDone <- inbox.Run(inboxCtx)
	}()
	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("Verification API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			cancel()
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("inbox", func(ctx context.Context) error {
		stopInbox()
		select {
		case err := <-inboxDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("rescan scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("telemetry", telemetry.Shutdown)

	err = shutdown.WaitForShutdown(ctx)
	if closeErr := db.Close(); closeErr != nil {
		logger.WithError(closeErr).Warn("Failed to close ledger database")
	}

	select {
	case srvErr := <-serverErr:
		return errors.Join(srvErr, err)
	default:
		return err
	}
}
