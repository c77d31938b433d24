// Command catalog serves catalog search, the popularity surfaces and the
// retrieval-grounded chat assistant from one in-memory index.
//
// The index is loaded from PostgreSQL at startup and kept fresh by polling
// the record store and, when Kafka is enabled, by consuming book-change and
// borrow-event topics.
//
// Usage:
//
//	go run ./cmd/catalog [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/chat"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/completion"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/review"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/planner"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// httpRatePerMin is the per-caller request allowance for identities
// without their own limit.
const httpRatePerMin = 600

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting catalog service", "port", cfg.Server.Port, "index_shards", cfg.Index.Shards)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		metricsServer, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(sctx)
		}()
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrations := append([]string{}, store.Schema...)
	migrations = append(migrations, review.Schema, apikey.Schema)
	if err := db.Migrate(ctx, migrations...); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	idx := index.New(cfg.Index.Shards)
	pop := popularity.New(popularity.Options{
		HalfLife: cfg.Popularity.HalfLife,
		Shards:   cfg.Popularity.Shards,
		Exists:   idx.Contains,
		Metrics:  m,
	})

	var (
		redisClient *pkgredis.Client
		queryCache  *cache.QueryCache[planner.Result]
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New[planner.Result](redisClient, cache.Options{TTL: cfg.Redis.CacheTTL, Metrics: m})
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	plan := planner.New(idx, pop, planner.Options{
		MaxPageSize: cfg.Search.MaxPageSize,
		Cache:       queryCache,
		Metrics:     m,
	})

	var events chat.EventTracker
	var apiEvents api.EventTracker
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 10000, m)
		collector.Start(ctx)
		defer collector.Close()
		events, apiEvents = collector, collector
	}

	keys := apikey.NewValidator(db)
	httpLimiter := ratelimit.New(httpRatePerMin)
	chatLimiter := ratelimit.New(cfg.Chat.RateLimitPerMin)
	go httpLimiter.Run(ctx, 10*time.Minute)
	go chatLimiter.Run(ctx, 10*time.Minute)

	var asker api.Asker
	client, err := completion.NewHTTPClient(cfg.Completion, m)
	if err != nil {
		slog.Warn("completion service not configured, chat disabled", "error", err)
	} else {
		breaker := completion.NewBreaker("completion", client, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Completion.BreakerFailures,
			ResetTimeout:     cfg.Completion.BreakerReset,
		}, m)
		asker = chat.New(plan, breaker, chat.Options{
			MaxCandidates:    cfg.Chat.MaxCandidates,
			MaxQueryTerms:    cfg.Chat.MaxQueryTerms,
			MaxTokens:        cfg.Chat.MaxTokens,
			TurnTimeout:      cfg.Chat.TurnTimeout,
			CompleteTimeout:  cfg.Chat.CompleteTimeout,
			DescriptionChars: cfg.Chat.DescriptionChars,
			RequireIdentity:  cfg.Chat.RequireIdentity,
			RequireCitation:  cfg.Chat.RequireCitation,
			TraceTurns:       cfg.Tracing.Enabled,
			Titles:           chat.IndexTitles{Index: idx},
			Limiter:          chatLimiter,
			Reviews:          review.NewStore(db.DB),
			Events:           events,
			Metrics:          m,
		})
		slog.Info("chat assistant enabled", "model", cfg.Completion.Model)
	}

	adapter := store.NewAdapter(store.NewPostgresSource(db.DB), idx, pop, m)
	go func() {
		if err := adapter.Run(ctx, cfg.Index.SyncInterval, cfg.Index.SyncTimeout); err != nil && ctx.Err() == nil {
			slog.Error("record store sync stopped", "error", err)
		}
	}()

	if cfg.Kafka.Enabled {
		runner := ingest.NewRunner(cfg.Kafka, idx, pop, m)
		go func() {
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("change feed consumer stopped", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		if !idx.Ready() {
			return health.ComponentHealth{Status: health.StatusDown, Message: "initial sync pending"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d books", idx.Len())}
	})
	if redisClient != nil {
		checker.RegisterOptional("redis", health.PingCheck(redisClient.Ping))
	}

	opts := api.Options{Chat: asker, Events: apiEvents, DefaultLimit: cfg.Search.DefaultPageSize}
	if queryCache != nil {
		opts.Cache = queryCache
	}
	h := api.New(plan, idx, opts)

	routerCfg := api.RouterConfig{
		Health:         checker,
		Metrics:        m,
		Limiter:        httpLimiter,
		RequestTimeout: cfg.Server.WriteTimeout,
		CORS:           middleware.DefaultCORSConfig(),
	}
	if cfg.Auth.APIKeys {
		routerCfg.Keys = keys
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("catalog service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("catalog service stopped")
}
