package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"settlement-pipeline/config"
	"settlement-pipeline/internal/adapter/facilitator"
	pgStorage "settlement-pipeline/internal/adapter/storage/postgres"
	redisStorage "settlement-pipeline/internal/adapter/storage/redis"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/internal/metrics"
	"settlement-pipeline/internal/service"
	"settlement-pipeline/pkg/logger"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Getenv("SPL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("settlement-worker", cfg.Log.Level, cfg.Log.Pretty).With().Str("worker_id", cfg.Worker.ID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, "settlement-worker", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}

	facilitatorClient, err := facilitator.NewFromConfig(cfg.Facilitator, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize facilitator client")
	}

	webhookRepo := pgStorage.NewWebhookRepo(pool)
	auditSvc := service.NewAuditService(pgStorage.NewAuditRepo(pool), log)

	dispatcher := service.NewWebhookDispatcher(
		webhookRepo,
		encSvc,
		service.NewHMACSignatureService(),
		&http.Client{Timeout: cfg.Webhook.Timeout},
		service.WebhookDispatcherConfig{
			Timeout:      cfg.Webhook.Timeout,
			MaxAttempts:  cfg.Webhook.MaxAttempts,
			BatchSize:    cfg.Webhook.BatchSize,
			PollInterval: cfg.Webhook.PollInterval,
			Lease:        cfg.Webhook.Lease,
		},
		logger.Component(log, "webhook"),
	)

	worker := service.NewSettlementWorker(
		pgStorage.NewSettlementRepo(pool),
		facilitatorClient,
		service.SettlementWorkerConfig{
			WorkerID:     cfg.Worker.ID,
			LockTimeout:  cfg.Worker.LockTimeout,
			PollInterval: cfg.Worker.PollInterval,
			MaxAttempts:  cfg.Worker.MaxAttempts,
			BaseRetry:    cfg.Worker.BaseRetry,
			BatchSize:    cfg.Worker.BatchSize,
		},
		logger.Component(log, "settlement"),
		service.WithSettleResultCache(redisStorage.NewSettleResultCache(rdb, redisStorage.DefaultSettleResultTTL)),
		service.WithEventTrigger(dispatcher),
		service.WithAuditService(auditSvc),
	)

	if cfg.Worker.RunOnce {
		if err := runOnce(ctx, worker, dispatcher, cfg.Webhook.BatchSize, log); err != nil {
			log.Fatal().Err(err).Msg("Single pass failed")
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	if cfg.Worker.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Worker.MetricsAddr, log) })
	}

	log.Info().Msg("Worker running")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker exited with error")
		return
	}
	log.Info().Msg("Worker exited")
}

// runOnce performs a single settlement cycle and a single delivery drain.
func runOnce(ctx context.Context, worker *service.SettlementWorker, dispatcher ports.WebhookDispatcher, batchSize int, log zerolog.Logger) error {
	stats, err := worker.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("settlement cycle: %w", err)
	}
	log.Info().Interface("stats", stats).Msg("settlement cycle complete")

	if batchSize <= 0 {
		batchSize = service.DefaultWebhookBatchSize
	}
	delivered, err := dispatcher.ProcessPendingDeliveries(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("webhook drain: %w", err)
	}
	log.Info().Interface("stats", delivered).Msg("webhook drain complete")
	return nil
}

// serveMetrics exposes the prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
