// Package main provides the prescription API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/api/handlers"
	"github.com/medledger/rxtrack/internal/api/middleware"
	"github.com/medledger/rxtrack/internal/config"
	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/inbox"
	"github.com/medledger/rxtrack/internal/ledger"
	"github.com/medledger/rxtrack/internal/observability/metrics"
	"github.com/medledger/rxtrack/internal/observability/tracing"
	pgstore "github.com/medledger/rxtrack/internal/store/postgres"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, cfg.Tracing("rx-api"))
	if err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	if err := pgstore.Migrate(ctx, pool); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	m := metrics.New()

	prescriptions := pgstore.NewPrescriptionStore(pool, logger)
	notifications := pgstore.NewNotificationStore(pool, logger)
	directory := pgstore.NewDirectory(pool)
	listener := pgstore.NewListener(pool, logger)

	anchor, err := ledger.NewClient(ledger.Config{
		BaseURL:        cfg.LedgerGatewayURL,
		ConfirmTimeout: cfg.LedgerConfirmTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("ledger client creation failed", zap.Error(err))
	}
	anchor.WithMetrics(m)

	machine := prescription.NewMachine(prescriptions, anchor, logger)

	inboxSvc, err := inbox.NewService(notifications, m, logger)
	if err != nil {
		logger.Fatal("inbox service creation failed", zap.Error(err))
	}

	prescriptionHandler := handlers.NewPrescriptionHandler(machine, prescriptions, m, logger)
	inboxHandler := handlers.NewInboxHandler(inboxSvc, directory, logger)
	watchHandler := handlers.NewWatchHandler(listener, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("rx-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ActorAuth(cfg.Keys()))
		r.Mount("/prescriptions", prescriptionHandler.Routes())
		r.Mount("/inbox", inboxHandler.Routes())
		r.Get("/watch", watchHandler.Watch)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // watch streams stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting prescription API", zap.Int("port", cfg.APIPort))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"rx-api","version":"1.0.0"}`)
}
