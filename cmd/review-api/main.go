// Package main provides the prescription review API service entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/internal/api/handlers"
	"github.com/drfirst/go-rxreview/internal/api/middleware"
	"github.com/drfirst/go-rxreview/internal/app/desk"
	"github.com/drfirst/go-rxreview/internal/config"
	"github.com/drfirst/go-rxreview/internal/domain/document"
	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/infrastructure/collaborator"
	"github.com/drfirst/go-rxreview/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxreview/internal/observability/logging"
	"github.com/drfirst/go-rxreview/internal/observability/metrics"
	"github.com/drfirst/go-rxreview/internal/observability/tracing"
	"github.com/drfirst/go-rxreview/internal/scheduler"
	"github.com/drfirst/go-rxreview/pkg/circuitbreaker"
)

const serviceName = "review-api"

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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	breakers := circuitbreaker.NewManager(logger)
	aiBreaker, err := breakers.GetOrCreate(collaborator.AIServiceName, breakerConfig(collaborator.AIServiceName, m))
	if err != nil {
		logger.Fatal("breaker init failed", zap.Error(err))
	}
	exportBreaker, err := breakers.GetOrCreate(collaborator.ExportServiceName, breakerConfig(collaborator.ExportServiceName, m))
	if err != nil {
		logger.Fatal("breaker init failed", zap.Error(err))
	}

	ai := collaborator.NewAIClient(collaborator.AIConfig{
		BaseURL:        cfg.AIBaseURL,
		PrescribePath:  cfg.AIPrescribePath,
		SymptomsField:  cfg.AISymptomsField,
		DiagnosisField: cfg.AIDiagnosisField,
		Timeout:        cfg.AITimeout,
		Redact:         cfg.RedactPII,
	}, aiBreaker, logger)

	exportCfg := collaborator.DefaultExportConfig()
	exportCfg.BaseURL = cfg.ExportBaseURL
	exportCfg.Path = cfg.ExportPath
	exportCfg.Timeout = cfg.ExportTimeout
	exporter := collaborator.NewExportClient(exportCfg, exportBreaker, logger)

	// The audit log is optional; sessions themselves stay in memory.
	var (
		pool *pgxpool.Pool
		sink review.EventSink
	)
	if cfg.DatabaseURL != "" {
		pool, err = postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}
		sink = postgres.NewAuditStore(pool, review.AuditTopic, logger)
		logger.Info("audit log enabled")
	} else {
		logger.Warn("DATABASE_URL not set, audit log disabled")
	}

	store := review.NewStore(sink, logger)
	renderer := document.NewRenderer(cfg.DocumentLocale, cfg.Location())
	d := desk.New(store, ai, exporter, renderer, logger, desk.WithMetrics(m))

	limiter := middleware.NewRateLimiter(cfg.PrescribeRate, cfg.PrescribeBurst, m.RateLimited.Inc)
	sessionHandler := handlers.NewSessionHandler(d, limiter.Handler, logger)

	jobs := scheduler.New(logger)
	if err := jobs.Every(cfg.SessionSweepInterval, "sweep-sessions", func() {
		if n := d.Sweep(cfg.SessionIdleTTL); n > 0 {
			logger.Info("evicted idle sessions", zap.Int("count", n))
		}
	}); err != nil {
		logger.Fatal("scheduler setup failed", zap.Error(err))
	}
	if err := jobs.Every(time.Minute, "prune-rate-limits", func() {
		limiter.Prune()
	}); err != nil {
		logger.Fatal("scheduler setup failed", zap.Error(err))
	}
	jobs.Start()
	defer jobs.Stop()

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.BearerToken)

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler(reg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/breakers", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(breakers.GetHealthStatus())
		})
		r.Mount("/sessions", sessionHandler.Routes())
	})

	// AI calls may take up to AITimeout, so the write deadline follows it.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting review API",
		zap.String("port", cfg.Port),
		zap.String("ai", cfg.AIBaseURL),
		zap.String("locale", renderer.Locale()),
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func breakerConfig(name string, m *metrics.Metrics) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.IsSuccessful = collaborator.CountsAsSuccess
	cfg.OnStateChange = m.ObserveBreaker
	return cfg
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":"1.0.0"}`, serviceName)
}
