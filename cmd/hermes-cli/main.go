// Package main provides the entry point for the Hermes CLI tool.
// The CLI provides commands for discovering collections, running one-off
// syncs and inspecting stored positions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/janovincze/hermes/internal/config"
	"github.com/janovincze/hermes/internal/discovery"
	"github.com/janovincze/hermes/internal/tap/pipeline"
	"github.com/janovincze/hermes/internal/tap/position"
	"github.com/janovincze/hermes/internal/tap/sink"
	"github.com/janovincze/hermes/internal/tap/source/mongodb"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return nil
	}

	cmd := os.Args[1]
	switch cmd {
	case "version", "-v", "--version":
		fmt.Printf("hermes version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "discover":
		return cmdDiscover()
	case "sync":
		return cmdSync()
	case "positions":
		return cmdPositions(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func printUsage() {
	fmt.Println(`Hermes CLI - MongoDB/DocumentDB extraction

Usage:
  hermes <command> [options]

Commands:
  version     Show version information
  discover    Discover collections and print a catalog
  sync        Run one sync of all configured streams
  positions   Show stored positions (use "positions clear <stream>" to drop one)
  help        Show this help message

Configuration is read from HERMES_* environment variables.`)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func cmdDiscover() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	driver, err := mongodb.New(ctx, mongodb.Config{
		URI:                    cfg.Source.URI,
		CredentialJSON:         cfg.Source.CredentialJSON,
		CredentialExtraOptions: cfg.Source.CredentialExtraOptions,
		Database:               cfg.Source.Database,
		AppName:                cfg.Source.AppName,
		ConnectTimeout:         cfg.Source.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to source: %w", err)
	}
	defer driver.Close(context.Background())

	discoverer := discovery.NewDiscoverer(driver, cfg.Source.Prefix, cfg.Source.FilterCollections, logger)
	entries, err := discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"streams": entries})
}

func cmdSync() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	driver, err := mongodb.New(ctx, mongodb.Config{
		URI:                    cfg.Source.URI,
		CredentialJSON:         cfg.Source.CredentialJSON,
		CredentialExtraOptions: cfg.Source.CredentialExtraOptions,
		Database:               cfg.Source.Database,
		AppName:                cfg.Source.AppName,
		ConnectTimeout:         cfg.Source.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to source: %w", err)
	}
	defer driver.Close(context.Background())

	store, err := newPositionStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create position store: %w", err)
	}
	defer store.Close()

	streams, err := config.LoadStreams(cfg.Tap.StreamsFile, cfg.Tap.OperationTypes)
	if err != nil {
		return fmt.Errorf("load streams: %w", err)
	}

	out := sink.NewWriter(os.Stdout)
	defer out.Close()

	coordinator := pipeline.New(driver, store, out, pipeline.Config{
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
	}, logger)

	return coordinator.Run(ctx, streams)
}

func cmdPositions(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := newPositionStore(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("create position store: %w", err)
	}
	defer store.Close()

	if len(args) >= 2 && args[0] == "clear" {
		stream := args[1]
		if err := store.Delete(ctx, stream); err != nil {
			return fmt.Errorf("clear position for %s: %w", stream, err)
		}
		fmt.Printf("cleared position for stream %s\n", stream)
		return nil
	}

	positions, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	if len(positions) == 0 {
		fmt.Println("no positions stored")
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(positions)
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
