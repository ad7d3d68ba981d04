package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PulseMail/internal/api"
	"PulseMail/internal/config"
	"PulseMail/internal/db"
	"PulseMail/internal/email"
	"PulseMail/internal/memstore"
	"PulseMail/internal/metrics"
	"PulseMail/internal/queue"
	"PulseMail/internal/tplfile"
	"PulseMail/internal/worker"
)

// store is everything the server needs from a backing store.
type store interface {
	worker.Repository
	queue.Repository
	queue.TemplateStore
	tplfile.Upserter
}

func main() {

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Store
	// ------------------------------------------------
	var st store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, queued emails are lost on restart")
		st = memstore.New()

	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts, logger)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		pgStore := db.New(pool)
		defer pgStore.Close()

		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, pool, logger); err != nil {
				logger.Fatal("database migration failed", zap.Error(err))
			}
		}
		st = pgStore
	}

	// ------------------------------------------------
	// Templates
	// ------------------------------------------------
	if cfg.TemplatesFile != "" {
		templates, err := tplfile.Load(cfg.TemplatesFile)
		if err != nil {
			logger.Fatal("failed to load templates file", zap.String("path", cfg.TemplatesFile), zap.Error(err))
		}
		if err := tplfile.Seed(ctx, st, templates, logger); err != nil {
			logger.Fatal("failed to seed templates", zap.Error(err))
		}
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Email Transport
	// ------------------------------------------------
	var transport email.Transport
	switch cfg.MailTransport {
	case config.TransportResend:
		transport = email.NewResendTransport(cfg.ResendAPIKey)
	default:
		transport = email.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	}
	logger.Info("email transport configured", zap.String("transport", cfg.MailTransport))

	executor := email.NewExecutor(transport, cfg.SendTimeout)

	// ------------------------------------------------
	// Queue Processor + Scheduler
	// ------------------------------------------------
	processor := worker.NewProcessor(st, executor, logger, worker.Config{
		BatchSize:  cfg.BatchSize,
		SendDelay:  cfg.SendDelay,
		StaleAfter: cfg.StaleAfter,
	})

	scheduler, err := worker.NewScheduler(cfg.Schedule, processor, logger)
	if err != nil {
		logger.Fatal("invalid queue schedule", zap.String("schedule", cfg.Schedule), zap.Error(err))
	}
	scheduler.Start()

	// ------------------------------------------------
	// Enqueue API
	// ------------------------------------------------
	enqueuer := queue.NewEnqueuer(st, st, processor, logger, queue.Config{
		From:       queue.Recipient{Email: cfg.FromAddress, Name: cfg.FromName},
		MaxRetries: cfg.MaxRetries,
	})

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Queue:       enqueuer,
		Log:         logger,
		MaxBulkRows: cfg.MaxBulkRows,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiHandler.Routes(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting new emails first
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Let an in-flight pass finish its current entries
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
