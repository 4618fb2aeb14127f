package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brojonat/counterwallet/service/config"
	"github.com/brojonat/counterwallet/service/counter"
	"github.com/brojonat/counterwallet/service/metrics"
	natspkg "github.com/brojonat/counterwallet/service/nats"
	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/provider"
	"github.com/brojonat/counterwallet/service/server"
	"github.com/brojonat/counterwallet/service/session"
	"github.com/brojonat/counterwallet/service/store"
	"github.com/brojonat/counterwallet/service/txn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

func main() {
	os.Exit(run())
}

// run wires the service and blocks until shutdown. It returns the process
// exit code so deferred cleanup runs before exiting.
func run() int {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"store_backend", cfg.StoreBackend,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize session persistence
	st, err := openStore(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		return 1
	}
	defer st.Close()

	// Initialize wallet provider
	p, err := provider.Dial(ctx, cfg.ProviderRPCURL, logger,
		provider.WithReceiptInterval(cfg.ReceiptPollInterval),
		provider.WithMetrics(m),
	)
	if err != nil {
		logger.Error("failed to dial wallet provider", "error", err)
		return 1
	}
	defer p.Close()
	logger.Info("connected to wallet provider", "url", cfg.ProviderRPCURL)

	registry := networks.Default()
	if addr, ok := cfg.CounterAddress(); ok {
		registry = registry.WithCounterContract(addr)
		logger.Info("using counter contract override", "contract", addr.Hex())
	}

	tracker := txn.NewTracker(logger, txn.WithMetrics(m))
	machine := session.NewMachine(p, st, tracker, logger, m, session.Config{
		ErrorWindow:    cfg.ErrorDisplayWindow,
		MaxSubscribers: cfg.MaxSubscribers,
	})
	// Flush persistence last, after every writer below has stopped
	defer machine.Close()

	executor := counter.NewExecutor(p, machine, registry, logger, m, counter.Config{
		SettleDelay: cfg.SettleDelay,
	})

	var wg sync.WaitGroup
	// Stop background work before the machine flushes and the store closes
	defer func() {
		cancel()
		executor.Wait()
		wg.Wait()
	}()

	// Rehydrate the previous session, then resume confirmations it left pending
	if err := machine.Restore(ctx); err != nil {
		logger.Warn("failed to restore session", "error", err)
	}
	if s := machine.Session(); s.Connected() {
		logger.Info("restored session", "address", s.Address, "chain_id", s.ChainID)
	}
	executor.ResumePending(ctx)

	runBackground := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background task failed", "task", name, "error", err)
			}
		}()
	}

	runBackground("provider_watch", func(ctx context.Context) error {
		return p.Watch(ctx, cfg.ProviderPollInterval)
	})
	runBackground("session_events", machine.Run)

	// Initialize NATS fan-out if configured
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, m)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			return 1
		}
		defer publisher.Close()

		forwarder := natspkg.NewForwarder(publisher, registry, logger)
		sub, err := machine.Subscribe()
		if err != nil {
			logger.Error("failed to subscribe NATS forwarder", "error", err)
			return 1
		}
		forwarder.Attach(tracker)
		runBackground("nats_forwarder", func(ctx context.Context) error {
			defer sub.Close()
			return forwarder.Run(ctx, sub)
		})
		logger.Info("forwarding session events to NATS", "url", cfg.NATSURL)
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, machine, executor, registry, m, logger).
		WithActionContext(ctx)

	logger.Info("server initialized, all dependencies ready",
		"provider_rpc", cfg.ProviderRPCURL,
		"nats_url", cfg.NATSURL,
		"pending", len(tracker.Pending()),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		exitCode = 1
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Release confirmation waits and background loops before draining HTTP,
	// so in-flight counter actions answer instead of holding Shutdown open
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
		exitCode = 1
	}

	executor.Wait()
	wg.Wait()
	if err := machine.Sync(shutdownCtx); err != nil {
		logger.Warn("failed to flush session store", "error", err)
	}

	logger.Info("server shutdown complete")
	return exitCode
}

// openStore opens the configured snapshot backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (store.Store, error) {
	var backend store.Backend
	switch cfg.StoreBackend {
	case config.StoreBolt:
		b, err := store.NewBoltStore(cfg.StorePath, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, err
		}
		logger.Info("opened bolt session store", "path", cfg.StorePath)
		backend = b

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("connected to database")
		backend = pg

	default:
		backend = store.NewMemoryStore()
		logger.Warn("using in-memory session store; state will not survive restarts")
	}
	return store.New(backend, logger, m), nil
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
