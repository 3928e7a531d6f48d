package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prophet/market-engine/internal/api"
	"github.com/prophet/market-engine/internal/claims"
	"github.com/prophet/market-engine/internal/config"
	"github.com/prophet/market-engine/internal/ledger"
	"github.com/prophet/market-engine/internal/lock"
	"github.com/prophet/market-engine/internal/market"
	"github.com/prophet/market-engine/internal/pricing"
	"github.com/prophet/market-engine/internal/rawtext"
	"github.com/prophet/market-engine/internal/review"
	"github.com/prophet/market-engine/internal/risk"
	"github.com/prophet/market-engine/internal/store"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket feed and review workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Storage ---
	st, rdb, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Market engine ---
	curve, err := pricing.New(cfg.Market.Curve,
		decimal.NewFromFloat(cfg.Market.Baseline),
		decimal.NewFromFloat(cfg.Market.Slope),
		decimal.NewFromFloat(cfg.Market.Liquidity),
		decimal.NewFromFloat(cfg.Market.MaxPrice))
	if err != nil {
		return err
	}
	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.DistributedLock {
		rl := lock.NewRedisLocker(rdb, "")
		rl.TTL = cfg.Redis.LockTTL.Duration
		locker = rl
		logger.Info("distributed market locks enabled")
	}
	limiter := risk.NewPositionLimiter(
		decimal.NewFromFloat(cfg.Risk.MaxPerClaim),
		decimal.NewFromFloat(cfg.Risk.MaxPerFamily))

	hub := api.NewWSHub(logger)
	engine := market.NewEngine(st, curve,
		market.WithLocker(locker),
		market.WithLimiter(limiter),
		market.WithPublisher(hub),
		market.WithLogger(logger),
		market.WithMaxRetries(cfg.Market.MaxRetries))

	// --- Claims and review ---
	claimSvc := claims.NewService(st, nil, logger)
	reviewer, err := newReviewer(cfg.Review)
	if err != nil {
		return err
	}
	var dispatcher *review.Dispatcher
	var extractor rawtext.Extractor = review.Heuristic{}
	if reviewer != nil {
		extractor = reviewer
		dispatcher = review.NewDispatcher(reviewer, claimSvc, review.DispatcherConfig{
			Workers:       cfg.Review.Workers,
			QueueSize:     cfg.Review.QueueSize,
			RatePerSecond: cfg.Review.RatePerSecond,
			Burst:         cfg.Review.Burst,
			Timeout:       cfg.Review.Timeout.Duration,
		}, logger)
		claimSvc.SetReviewQueue(dispatcher)
	} else {
		logger.Warn("AI review disabled, claims wait for review callbacks")
	}
	texts := rawtext.NewService(st, extractor, claimSvc, logger)

	// --- HTTP ---
	gateway := api.NewServer(claimSvc, texts, engine, ledger.New(st, logger), hub, api.Config{
		APIKey:      cfg.Server.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      gateway.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if dispatcher != nil {
		g.Go(func() error { return dispatcher.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("prophet listening", "port", cfg.Server.Port, "curve", curve.Name(), "store", storeKind(cfg))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("prophet stopped")
	return err
}

// openStore selects the store from config: PostgreSQL when a DSN is set,
// otherwise memory, wrapped in the Redis read-through cache when Redis is
// configured. The returned client is nil without Redis.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, redis.UniversalClient, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	var st store.Store
	if cfg.Database.DSN != "" {
		pool, err := store.Connect(ctx, cfg.Database.DSN, int(cfg.Database.MaxConns))
		if err != nil {
			return nil, nil, func() {}, err
		}
		cleanup = append(cleanup, pool.Close)
		if cfg.Database.RunMigrations {
			applied, err := store.RunMigrations(ctx, pool)
			if err != nil {
				closeAll()
				return nil, nil, func() {}, err
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", "versions", applied)
			}
		}
		st = store.NewPostgresStore(pool)
		logger.Info("connected to PostgreSQL")
	} else {
		logger.Warn("database dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	var rdb redis.UniversalClient
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opt)
		cleanup = append(cleanup, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("redis ping: %w", err)
		}
		rdb = client
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		logger.Info("Redis cache enabled")
	}
	return st, rdb, closeAll, nil
}

func newReviewer(cfg config.ReviewConfig) (review.Reviewer, error) {
	switch cfg.Provider {
	case "openai":
		o, err := review.NewOpenAI(review.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		return o, nil
	case "heuristic":
		return review.Heuristic{}, nil
	}
	return nil, nil
}

func storeKind(cfg *config.Config) string {
	kind := "memory"
	if cfg.Database.DSN != "" {
		kind = "postgres"
	}
	if cfg.Redis.URL != "" {
		kind += "+redis"
	}
	return kind
}
