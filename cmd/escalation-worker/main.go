// Package main provides the escalation worker entry point. It sweeps
// open deliveries on an interval and re-evaluates prescriptions pushed
// on the change feed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/config"
	"github.com/medledger/rxtrack/internal/escalation"
	"github.com/medledger/rxtrack/internal/observability/metrics"
	"github.com/medledger/rxtrack/internal/observability/tracing"
	"github.com/medledger/rxtrack/internal/store"
	pgstore "github.com/medledger/rxtrack/internal/store/postgres"
	"github.com/medledger/rxtrack/internal/stream"
	"github.com/medledger/rxtrack/pkg/idempotency"
	"github.com/medledger/rxtrack/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing("escalation-worker"))
	if err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	if err := pgstore.Migrate(ctx, pool); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	m := metrics.New()

	prescriptions := pgstore.NewPrescriptionStore(pool, logger)
	notifications := pgstore.NewNotificationStore(pool, logger)
	directory := pgstore.NewDirectory(pool)

	engine, err := escalation.NewEngine(prescriptions, notifications, directory, m, cfg.EscalationInterval, logger)
	if err != nil {
		logger.Fatal("engine creation failed", zap.Error(err))
	}

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	workers, err := workerpool.New(workerpool.DefaultConfig(), func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		payload, ok := task.Payload.(json.RawMessage)
		if !ok {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload type")}
		}
		_, err := inbox.Process(ctx, task.ID, "escalation", payload, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			var ev store.ChangeEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				return nil, fmt.Errorf("invalid change event: %w", err)
			}
			m.ChangeEventsConsumed.Inc()
			return nil, engine.HandleChange(ctx, ev.PrescriptionID)
		})
		if err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()
	defer workers.Stop()

	consumerCfg := stream.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Brokers()

	// The offset is committed once the task is queued, so a crash before
	// the pool runs it can lose the event. The periodic sweep re-derives
	// any missed reminder from prescription state.
	consumer, err := stream.NewConsumer(consumerCfg, func(ctx context.Context, msg *stream.ConsumedMessage) error {
		return workers.Submit(&workerpool.Task{
			ID:      idempotency.GenerateKey(msg.Topic, msg.Partition, msg.Offset),
			Payload: json.RawMessage(msg.Value),
			Context: ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	defer consumer.Stop()

	go func() {
		if err := engine.Start(ctx); err != nil {
			logger.Error("escalation engine stopped", zap.Error(err))
		}
	}()

	go serveMetrics(cfg.MetricsPort, logger)

	logger.Info("escalation worker started",
		zap.Duration("sweep_interval", cfg.EscalationInterval),
		zap.Strings("brokers", cfg.Brokers()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	logger.Info("escalation worker stopped")
}

func serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"escalation-worker"}`))
	})
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.Error("metrics server error", zap.Error(err))
	}
}
