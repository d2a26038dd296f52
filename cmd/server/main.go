package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helium/wallet-app-sub004/service/app"
	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/config"
	"github.com/helium/wallet-app-sub004/service/metrics"
	"github.com/helium/wallet-app-sub004/service/server"
	"github.com/helium/wallet-app-sub004/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"authorizer", cfg.Authorizer,
		"storage", cfg.StorageBackend,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics(nil) // nil uses default registry
	}

	wallet, err := app.New(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to initialize wallet services", "error", err)
		os.Exit(1)
	}
	defer wallet.Close()

	go func() {
		if err := wallet.AccountCache.Run(ctx, time.Second); err != nil {
			logger.Error("account cache stopped", "error", err)
		}
	}()

	var (
		authorizer server.Authorizer
		pending    server.PendingLister
		runner     *authz.Runner
	)
	switch cfg.Authorizer {
	case config.AuthorizerTemporal:
		tc, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			cfg.ApprovalTimeout,
			cfg.SigningTimeout,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer tc.Close()
		authorizer = tc
	default:
		registry := authz.NewRegistry(m, logger)
		approver := authz.NewPolicyApprover(cfg.TrustedOrigins, registry, logger)
		runner = authz.NewRunner(wallet.Orchestrator, approver, registry, cfg.ApprovalTimeout, logger)
		authorizer, pending = runner, registry
	}

	var events server.EventLister
	if wallet.DB != nil {
		events = wallet.DB
	}

	var stream *server.EventStream
	if cfg.NATSURL != "" {
		stream, err = server.NewEventStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create event stream", "error", err)
			os.Exit(1)
		}
		defer stream.Close()
	}

	httpServer := server.New(cfg.ServerAddr, authorizer, pending, events, stream, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"cluster", cfg.SolanaCluster,
		"nats_enabled", cfg.NATSURL != "",
		"audit_log", wallet.DB != nil,
		"trusted_origins", len(cfg.TrustedOrigins),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}
		if runner != nil {
			// In-flight requests finish once their approval times out.
			runner.Wait()
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
