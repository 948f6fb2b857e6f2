// Package main provides the entry point for the Hermes tap worker.
// The worker extracts documents and change events from MongoDB or Amazon
// DocumentDB and emits them as JSON lines, tracking resumable positions
// in a durable store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/janovincze/hermes/internal/config"
	"github.com/janovincze/hermes/internal/discovery"
	"github.com/janovincze/hermes/internal/health"
	"github.com/janovincze/hermes/internal/metrics"
	"github.com/janovincze/hermes/internal/notify"
	"github.com/janovincze/hermes/internal/tap/pipeline"
	"github.com/janovincze/hermes/internal/tap/position"
	"github.com/janovincze/hermes/internal/tap/sink"
	"github.com/janovincze/hermes/internal/tap/source/mongodb"
)

func main() {
	// Setup structured logging. Records go to stdout, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting Hermes tap worker",
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	metrics.Register()

	// Create the source driver
	driver, err := mongodb.New(ctx, mongodb.Config{
		URI:                    cfg.Source.URI,
		CredentialJSON:         cfg.Source.CredentialJSON,
		CredentialExtraOptions: cfg.Source.CredentialExtraOptions,
		Database:               cfg.Source.Database,
		AppName:                cfg.Source.AppName,
		ConnectTimeout:         cfg.Source.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create source driver: %w", err)
	}
	defer driver.Close(context.Background())

	// Create the position store
	store, err := newPositionStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create position store: %w", err)
	}
	defer store.Close()

	// Load stream definitions
	streams, err := config.LoadStreams(cfg.Tap.StreamsFile, cfg.Tap.OperationTypes)
	if err != nil {
		return fmt.Errorf("load streams: %w", err)
	}

	out := sink.NewWriter(os.Stdout)
	defer out.Close()

	runChecker := health.NewRunChecker()
	if cfg.Health.Enabled {
		manager := health.NewManager(health.ManagerConfig{
			Timeout: cfg.Health.ReadinessTimeout,
		}, logger)
		manager.Register(health.NewPingChecker("source", driver.Ping))
		manager.Register(runChecker)

		healthServer := health.NewServer(manager, health.ServerConfig{
			ListenAddr:   cfg.Health.ListenAddr,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}, logger)

		go func() {
			if err := healthServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server failed", "error", err)
			}
		}()
		defer healthServer.Stop(context.Background())
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

		go func() {
			logger.Info("starting metrics server", "addr", cfg.Metrics.ListenAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	coordinatorCfg := pipeline.Config{
		BatchSize:             cfg.Tap.BatchSize,
		FlushInterval:         cfg.Tap.FlushInterval,
		IdleTimeout:           cfg.Tap.IdleTimeout,
		PollInterval:          cfg.Tap.PollInterval,
		StartDate:             cfg.Tap.StartDate,
		AddRecordMetadata:     cfg.Tap.AddRecordMetadata,
		AllowCapabilityRepair: cfg.Tap.AllowCapabilityRepair,
		Retry: pipeline.RetryPolicy{
			MaxAttempts:     cfg.Tap.Retry.MaxAttempts,
			InitialInterval: cfg.Tap.Retry.InitialInterval,
			MaxInterval:     cfg.Tap.Retry.MaxInterval,
			Multiplier:      cfg.Tap.Retry.Multiplier,
			Jitter:          true,
		},
		RecordSchema: discovery.RecordSchema(),
	}

	logger.Info("tap configured",
		"database", cfg.Source.Database,
		"streams", len(streams),
		"position_backend", cfg.Position.Backend,
		"batch_size", cfg.Tap.BatchSize,
		"idle_timeout", cfg.Tap.IdleTimeout,
		"allow_capability_repair", cfg.Tap.AllowCapabilityRepair,
		"schedule", cfg.Worker.Schedule,
	)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	syncOnce := func(ctx context.Context) error {
		coordinator := pipeline.New(driver, store, out, coordinatorCfg, logger)
		startedAt := time.Now()
		err := coordinator.Run(ctx, streams)
		runChecker.SetResult(err)

		if notifier != nil && (err != nil || cfg.Notify.OnSuccess) {
			event := notify.Event{
				RunID:      coordinator.RunID(),
				Database:   cfg.Source.Database,
				Outcome:    notify.OutcomeSucceeded,
				StartedAt:  startedAt,
				FinishedAt: time.Now(),
			}
			if err != nil {
				event.Outcome = notify.OutcomeFailed
				event.Error = err.Error()
			}
			notifier.Notify(context.Background(), event)
		}
		return err
	}

	if cfg.Worker.Schedule == "" {
		if err := syncOnce(ctx); err != nil {
			return fmt.Errorf("sync run: %w", err)
		}
		logger.Info("tap worker stopped gracefully")
		return nil
	}

	return runScheduled(ctx, cfg.Worker.Schedule, syncOnce, logger)
}

// runScheduled runs syncOnce on a cron schedule until the context is
// cancelled. Runs never overlap: a tick that fires while a run is in
// flight is skipped.
func runScheduled(ctx context.Context, schedule string, syncOnce func(ctx context.Context) error, logger *slog.Logger) error {
	scheduler := cron.New()

	running := make(chan struct{}, 1)
	_, err := scheduler.AddFunc(schedule, func() {
		select {
		case running <- struct{}{}:
		default:
			logger.Warn("previous sync run still in flight, skipping tick")
			return
		}
		defer func() { <-running }()

		if err := syncOnce(ctx); err != nil {
			logger.Error("scheduled sync run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	scheduler.Start()
	logger.Info("scheduler started", "schedule", schedule)

	<-ctx.Done()

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for in-flight sync run")
	}

	logger.Info("tap worker stopped gracefully")
	return nil
}

// newNotifier builds the run notification manager, or nil when no
// channel is configured.
func newNotifier(cfg *config.Config, logger *slog.Logger) (*notify.Manager, error) {
	var senders []notify.Sender

	if cfg.Notify.SlackWebhookURL != "" {
		sender, err := notify.NewSlackSender(notify.SlackConfig{
			WebhookURL: cfg.Notify.SlackWebhookURL,
			Channel:    cfg.Notify.SlackChannel,
		}, logger)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}

	if cfg.Notify.WebhookURL != "" {
		sender, err := notify.NewWebhookSender(notify.WebhookConfig{
			URL: cfg.Notify.WebhookURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}

	if len(senders) == 0 {
		return nil, nil
	}
	return notify.NewManager(senders, cfg.Notify.Timeout, logger), nil
}

func newPositionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (position.Store, error) {
	switch cfg.Position.Backend {
	case "file":
		return position.NewFileStore(cfg.Position.Path, logger)
	case "postgres":
		return position.NewPostgresStore(ctx, position.PostgresConfig{
			DSN:          cfg.Position.Database.DSN(),
			MaxOpenConns: cfg.Position.Database.MaxOpenConns,
			MaxIdleConns: cfg.Position.Database.MaxIdleConns,
		}, logger)
	case "s3":
		return position.NewS3Store(position.S3Config{
			Endpoint:  cfg.Position.Storage.Endpoint,
			AccessKey: cfg.Position.Storage.AccessKey,
			SecretKey: cfg.Position.Storage.SecretKey,
			UseSSL:    cfg.Position.Storage.UseSSL,
			Region:    cfg.Position.Storage.Region,
			Bucket:    cfg.Position.Storage.Bucket,
			Key:       cfg.Position.Storage.Key,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown position backend %q", cfg.Position.Backend)
	}
}
