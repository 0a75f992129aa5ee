package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vpetreski/zapply/internal/config"
	"github.com/vpetreski/zapply/internal/mcp"
	"github.com/vpetreski/zapply/internal/scheduler"
	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/server"
	"github.com/vpetreski/zapply/internal/sources"
	"github.com/vpetreski/zapply/internal/storage"
	"github.com/vpetreski/zapply/internal/telemetry"
	"github.com/vpetreski/zapply/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ZAPPLY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("zapply starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Run embedded migrations. RunMigrations tracks applied files in
	// schema_migrations and skips duplicates, so errors here indicate
	// real failures (not "already exists").
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Register scrapers and reconcile the registry with stored configuration.
	registry := scraper.NewRegistry()
	if err := sources.RegisterAll(registry); err != nil {
		return fmt.Errorf("register sources: %w", err)
	}
	syncRes, err := scraper.SyncSources(ctx, db, registry, logger)
	if err != nil {
		return fmt.Errorf("sync sources: %w", err)
	}
	if len(syncRes.Added) > 0 {
		logger.Info("source configs added", "sources", syncRes.Added)
	}

	creds := func(meta scraper.Metadata) map[string]string {
		return config.SourceCredentials(meta.CredentialsEnvPrefix)
	}

	// Background runs inherit the process context, not the HTTP request
	// context, so a client disconnect never aborts an in-flight run.
	orchestrator := scraper.New(ctx, db, registry, creds, logger)

	// MCP server (mounted at /mcp by the HTTP server).
	mcpSrv := mcp.New(db, orchestrator, registry, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Orchestrator:        orchestrator,
		Registry:            registry,
		Creds:               creds,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Scheduled runs (no-op when frequency is manual).
	sched := scheduler.New(orchestrator, logger, cfg.RunFrequency, cfg.DailyRunHour, cfg.WindowDays, cfg.JobLimit)
	go sched.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("zapply shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("zapply stopped")
	return nil
}
