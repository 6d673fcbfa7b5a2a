// Package main provides the outbox relay entry point. It drains the
// transactional outbox into the prescription change feed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/config"
	"github.com/medledger/rxtrack/internal/observability/metrics"
	pgstore "github.com/medledger/rxtrack/internal/store/postgres"
	"github.com/medledger/rxtrack/internal/stream"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	admin, err := stream.NewAdmin(cfg.Brokers(), logger)
	if err != nil {
		logger.Fatal("broker admin creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("topic creation failed", zap.Error(err))
	}
	admin.Close()

	producerCfg := stream.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Brokers()

	producer, err := stream.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to broker", zap.Strings("brokers", cfg.Brokers()))

	m := metrics.New()

	outbox := pgstore.NewOutbox(pool, producer, pgstore.DefaultOutboxConfig(), logger).WithMetrics(m)
	outbox.Start()

	go serveMetrics(cfg.MetricsPort, logger)

	logger.Info("outbox relay started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	outbox.Stop()
	logger.Info("outbox relay stopped")
}

func serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"outbox-relay"}`))
	})
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.Error("metrics server error", zap.Error(err))
	}
}
