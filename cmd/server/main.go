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

	"github.com/brojonat/walletfeed/service/chain"
	"github.com/brojonat/walletfeed/service/config"
	"github.com/brojonat/walletfeed/service/db"
	"github.com/brojonat/walletfeed/service/metrics"
	natspkg "github.com/brojonat/walletfeed/service/nats"
	"github.com/brojonat/walletfeed/service/outbox"
	"github.com/brojonat/walletfeed/service/profiles"
	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/brojonat/walletfeed/service/server"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// feedStore is the storage the engine, profile cache and outbox share.
type feedStore interface {
	reconcile.Store
	profiles.Storage
	outbox.Store
}

func main() {
	// Fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"wallet", cfg.WalletAddress,
		"store_backend", cfg.StoreBackend,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	store, closeStore, err := openStore(ctx, cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Subscriptions need a websocket RPC URL
	rpc, err := chain.Dial(ctx, cfg.EthRPCURL)
	if err != nil {
		logger.Error("failed to connect to rpc node", "error", err)
		os.Exit(1)
	}
	defer rpc.Close()

	chainClient, err := chain.NewClient(rpc, cfg.Contracts(), chain.Options{
		RateLimit: cfg.EthRPCRateLimit,
	}, metricsCollector, logger.With("component", "chain"))
	if err != nil {
		logger.Error("failed to create chain client", "error", err)
		os.Exit(1)
	}
	logger.Info("initialized chain client", "rate_limit", cfg.EthRPCRateLimit)

	// Profiles and outbox are optional; nil interfaces disable them.
	var (
		resolver reconcile.ProfileResolver
		channel  reconcile.OutboxChannel
	)
	if cfg.ProfileDirectoryURL != "" {
		directory := profiles.NewHTTPDirectory(cfg.ProfileDirectoryURL, nil)
		resolver = profiles.NewCache(directory, store, cfg.ProfileCacheTTL, metricsCollector, logger.With("component", "profiles"))
		logger.Info("profile directory enabled", "url", cfg.ProfileDirectoryURL, "ttl", cfg.ProfileCacheTTL)

		if cfg.ProfilePublicKey != "" {
			keys, err := outbox.ParseKeyPair(cfg.ProfilePublicKey, cfg.ProfilePrivateKey)
			if err != nil {
				logger.Error("invalid outbox key pair", "error", err)
				os.Exit(1)
			}
			channel = outbox.NewChannel(directory, store, keys, metricsCollector, logger.With("component", "outbox"))
			logger.Info("outbox channel enabled", "public_key", keys.PublicKey())
		}
	}

	var publisher reconcile.UpdatePublisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, cfg.WalletAddress, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	engine := reconcile.NewEngine(
		store,
		chainClient,
		resolver,
		channel,
		publisher,
		metricsCollector,
		reconcile.Config{Debounce: cfg.NotifyDebounce},
		logger.With("component", "engine"),
	)
	defer engine.Close()

	httpServer := server.New(cfg.ServerAddr, engine, metricsCollector, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Handlers answer 503 until Init completes.
		if err := engine.Init(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to initialize feed engine: %w", err)
		}
		logger.Info("feed engine ready")
		if err := engine.Listen(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("chain subscription: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

// openStore returns the configured store and a func releasing it.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (feedStore, func(), error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn("using in-memory store, the feed is lost on restart")
		return db.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("connected to database")
	return db.NewStore(pool, m), pool.Close, nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
