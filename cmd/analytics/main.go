// Command analytics aggregates search and chat analytics events.
//
// It consumes the analytics topic, keeps running aggregates in memory,
// snapshots them to PostgreSQL, and serves GET /api/v1/analytics plus the
// rejected chat turns at GET /api/v1/chat/reviews.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/review"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/postgres"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

const snapshotInterval = time.Minute

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
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx, aggregator.Schema, review.Schema); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	snapshots := aggregator.NewStore(db.DB)
	if last, err := snapshots.LatestSnapshot(ctx); err != nil {
		slog.Warn("could not read latest snapshot", "error", err)
	} else if last != nil {
		slog.Info("previous analytics snapshot",
			"total_searches", last.TotalSearches,
			"chat_turns", last.ChatTurns,
		)
	}

	agg := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg),
		kafka.WithGroupSuffix("analytics"),
		kafka.WithResultHook(func(topic, status string) {
			m.KafkaMessagesTotal.WithLabelValues(topic, status).Inc()
		}),
	)
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("analytics consumer stopped", "error", err)
		}
	}()
	go snapshots.Run(ctx, agg, snapshotInterval)
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))

	analyticsHandler := analytics.NewHandler(agg)
	reviewHandler := review.NewHandler(review.NewStore(db.DB))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/chat/reviews", reviewHandler.List)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
