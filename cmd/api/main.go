// Copyright (c) 2026 Loop Server. All rights reserved.

// Command api is the entry point for the loop-server HTTP API.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect the selected store engine (memory, postgres, or redis).
//  4. Run schema migrations / provisioning (idempotent).
//  5. Wire domain services and HTTP handlers.
//  6. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frsela/loop-server/internal/api"
	"github.com/frsela/loop-server/internal/call"
	"github.com/frsela/loop-server/internal/callurl"
	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/migration"
	pgstore "github.com/frsela/loop-server/internal/platform/postgres"
	redisstore "github.com/frsela/loop-server/internal/platform/redis"
	"github.com/frsela/loop-server/internal/platform/sec"
	"github.com/frsela/loop-server/internal/registration"
	"github.com/frsela/loop-server/internal/session"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("storage_engine", cfg.StorageEngine),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. Store Engine ───────────────────────────────────────────────────
	engines := kvstore.Engines{
		Engine:         cfg.StorageEngine,
		SchemaAttempts: cfg.SchemaRetryAttempts,
		SchemaBackoff:  cfg.SchemaRetryBackoff,
	}
	checkStorage := func() error { return nil }

	switch cfg.StorageEngine {
	case config.EnginePostgres:
		pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
		must(log, err, "connect to postgres")
		defer func() {
			log.Info("closing postgres pool")
			pool.Close()
		}()
		engines.Pool = pool
		checkStorage = func() error { return pgstore.Ping(context.Background(), pool) }

		// ── 4. Migrations (base schema for the document tables) ───────────
		must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	case config.EngineRedis:
		rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
		must(log, err, "connect to redis")
		defer func() {
			log.Info("closing redis client")
			if cerr := rdb.Close(); cerr != nil {
				log.Error("redis close error", slog.Any("error", cerr))
			}
		}()
		engines.Redis = rdb
		checkStorage = func() error { return redisstore.Ping(context.Background(), rdb) }

	default:
		log.Warn("using in-memory storage, all state is lost on restart")
	}

	sessionStore := kvstore.Open[session.Record](engines, constants.CollectionSessions)
	registrationStore := kvstore.Open[registration.Record](engines, constants.CollectionRegistrations)
	callURLStore := kvstore.Open[callurl.Token](engines, constants.CollectionCallURLs)
	callStore := kvstore.Open[call.Record](engines, constants.CollectionCalls)

	for name, store := range map[string]interface {
		EnsureSchema(context.Context) error
	}{
		constants.CollectionSessions:      sessionStore,
		constants.CollectionRegistrations: registrationStore,
		constants.CollectionCallURLs:      callURLStore,
		constants.CollectionCalls:         callStore,
	} {
		must(log, store.EnsureSchema(startupCtx), "provision collection "+name)
	}

	// ── 5. Domain Wiring ──────────────────────────────────────────────────
	verifier := sec.NewAssertionVerifier(cfg.AssertionSecret, cfg.IssuerTrusted)
	resolver := session.NewResolver(sessionStore, verifier, cfg, log)

	registrationService := registration.NewService(registrationStore, cfg, log)
	callURLService := callurl.NewService(callURLStore, cfg, log)

	var provider call.SessionProvider
	if cfg.ProviderURL != "" {
		provider = call.NewHTTPProvider(cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderAPISecret, cfg.ProviderHealthTimeout)
	} else {
		log.Warn("no media provider configured, minting sessions locally")
		provider = call.NewLocalProvider(cfg.ProviderAPIKey)
	}

	notifier := call.NewHTTPNotifier(cfg.NotifyTimeout, log)
	orchestrator := call.NewOrchestrator(callStore, registrationService, provider, notifier, cfg, log)

	// ── 6. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckStorage: checkStorage,
		CheckProvider: func() error {
			return provider.CheckHealth(context.Background())
		},
	}, log)

	// ── 7. HTTP Server ────────────────────────────────────────────────────
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	handlers := api.Handlers{
		Liveness:     liveness,
		Readiness:    readiness,
		Session:      session.NewHandler(resolver),
		Registration: registration.NewHandler(registrationService),
		CallURL:      callurl.NewHandler(callURLService),
		Call:         call.NewHandler(orchestrator, callURLService),
	}

	server := api.NewServer(serverCtx, cfg, log, resolver, handlers)

	// ── 8. Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
