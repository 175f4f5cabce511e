// Package main provides the audit outbox relay entry point.
// Publishes review events written by the API to the audit topic.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/internal/config"
	"github.com/drfirst/go-rxreview/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxreview/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxreview/internal/observability/logging"
	"github.com/drfirst/go-rxreview/internal/observability/metrics"
	"github.com/drfirst/go-rxreview/internal/observability/tracing"
	"github.com/drfirst/go-rxreview/internal/scheduler"
)

const serviceName = "outbox-relay"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.BatchSize = cfg.OutboxBatchSize
	outboxCfg.PollInterval = cfg.OutboxPollInterval
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, logger)
	outbox.OnPublished(func(n int) { m.AuditEventsPublished.Add(float64(n)) })

	jobs := scheduler.New(logger)
	mustSchedule(logger, jobs.Every(cfg.OutboxCleanupPeriod, "cleanup-processed", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := outbox.CleanupProcessed(ctx, cfg.OutboxRetention)
		if err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
			return
		}
		logger.Info("cleaned processed outbox entries", zap.Int64("count", n))
	}))
	mustSchedule(logger, jobs.Every(time.Minute, "dead-letter", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := outbox.MoveToDeadLetter(ctx)
		if err != nil {
			logger.Error("dead letter move failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Warn("moved outbox entries to dead letter", zap.Int64("count", n))
		}
	}))
	mustSchedule(logger, jobs.Every(15*time.Second, "outbox-stats", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stats, err := outbox.GetStats(ctx)
		if err != nil {
			logger.Warn("outbox stats failed", zap.Error(err))
			return
		}
		m.OutboxPending.Set(float64(stats.Pending))
	}))

	outbox.Start()
	jobs.Start()
	logger.Info("outbox relay started", zap.Strings("jobs", jobs.Jobs()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := producer.Ping(r.Context()); err != nil {
			http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	jobs.Stop()
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(shutdownCtx); err != nil {
		logger.Warn("producer flush failed", zap.Error(err))
	}
	server.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}

func mustSchedule(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("scheduler setup failed", zap.Error(err))
	}
}
