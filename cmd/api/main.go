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
	"settlement-pipeline/docs"
	"settlement-pipeline/internal/adapter/facilitator"
	httpHandler "settlement-pipeline/internal/adapter/http/handler"
	pgStorage "settlement-pipeline/internal/adapter/storage/postgres"
	redisStorage "settlement-pipeline/internal/adapter/storage/redis"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/internal/service"
	"settlement-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load(os.Getenv("SPL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("settlement-api", cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting settlement pipeline admin API")

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, "settlement-api", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Repositories
	settlementRepo := pgStorage.NewSettlementRepo(pool)
	webhookRepo := pgStorage.NewWebhookRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)

	// Core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)

	if cfg.Admin.PasswordHash == "" {
		log.Warn().Msg("admin.password_hash is empty, operator login is disabled")
	}

	// The API only fans events out; the worker process delivers them.
	dispatcher := service.NewWebhookDispatcher(
		webhookRepo,
		encSvc,
		sigSvc,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		service.WebhookDispatcherConfig{
			Timeout:     cfg.Webhook.Timeout,
			MaxAttempts: cfg.Webhook.MaxAttempts,
		},
		logger.Component(log, "webhook"),
	)

	authSvc := service.NewAuthService(cfg.Admin.Username, cfg.Admin.PasswordHash, hashSvc, tokenSvc, auditSvc)
	settlementSvc := service.NewSettlementService(settlementRepo, auditSvc)
	subscriptionSvc := service.NewSubscriptionService(webhookRepo, encSvc, dispatcher, auditSvc)

	var facilitatorClient ports.FacilitatorClient
	if fc, err := facilitator.NewFromConfig(cfg.Facilitator, log); err != nil {
		log.Warn().Err(err).Msg("Facilitator client unavailable, /api/v1/facilitator routes disabled")
	} else {
		facilitatorClient = fc
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:         authSvc,
		SettlementSvc:   settlementSvc,
		SubscriptionSvc: subscriptionSvc,
		Facilitator:     facilitatorClient,
		TokenSvc:        tokenSvc,
		RateLimitStore:  redisStorage.NewRateLimitStore(rdb),
		HealthCheckers: []ports.HealthChecker{
			pgStorage.NewHealthCheck(pool),
			redisStorage.NewHealthCheck(rdb),
		},
		AuditSvc:    auditSvc,
		OpenAPISpec: docs.OpenAPI,
		Logger:      log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
