package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/roster/internal/auth"
	"github.com/JonMunkholm/roster/internal/config"
	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/JonMunkholm/roster/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
		"ingest_workers", cfg.Ingest.WorkerCount(),
		"watch_dir", cfg.Ingest.WatchDir,
		"require_auth", cfg.Security.RequireAuth,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Database.MigrateOnStart {
		if err := st.Migrate(slog.Default()); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	users, err := auth.ParseUsers(cfg.Security.AuthUsers)
	if err != nil {
		slog.Error("failed to parse AUTH_USERS", "error", err)
		os.Exit(1)
	}
	slog.Info("authentication configured", "users", users.Len(), "required", cfg.Security.RequireAuth)

	backend := core.NewStoreBackend(st)
	ingester := core.NewIngester(backend,
		core.OptionsFromConfig(cfg, st.MaxConns(), logging.NewSlogSink(slog.Default()))...)
	service := core.NewService(ingester,
		core.NewIngestLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime),
		core.WithIngestTimeout(cfg.Ingest.Timeout),
	)

	var watcher *core.Watcher
	if cfg.Ingest.WatchDir != "" {
		watcher, err = core.NewWatcher(service, st.Terms(), cfg.Ingest.WatchDir, cfg.Ingest.WatchSchedule)
		if err != nil {
			slog.Error("failed to create watch-folder job", "error", err)
			os.Exit(1)
		}
		if err := watcher.Start(ctx); err != nil {
			slog.Error("failed to start watch-folder job", "error", err)
			os.Exit(1)
		}
	}

	server := web.NewServer(cfg, web.Deps{
		Service:   service,
		Directory: web.NewStoreDirectory(st),
		Exporter:  core.NewExporter(backend.Accounts()),
		Auth:      users,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down...")
	}

	// A cancelled ctx keeps a running scan from starting its next file.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Cancel before stopping the watcher: its running scan waits on the
	// current ingest. In-flight chunks still commit.
	active := service.Limiter().Status().Active
	service.CancelAll()
	if watcher != nil {
		watcher.Stop()
	}
	if active > 0 {
		slog.Info("waiting for cancelled ingests", "active", active)
		if err := service.WaitForIngests(shutdownCtx); err != nil {
			slog.Warn("ingests did not finish in time", "error", err)
		} else {
			slog.Info("all ingests finished")
		}
	}
}
