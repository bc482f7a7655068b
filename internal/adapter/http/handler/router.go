package handler

import (
	"settlement-pipeline/internal/adapter/http/middleware"
	redisStore "settlement-pipeline/internal/adapter/storage/redis"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxRequestBody = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc         ports.AuthService
	SettlementSvc   ports.SettlementService
	SubscriptionSvc ports.SubscriptionService
	Facilitator     ports.FacilitatorClient // nil = facilitator probes disabled
	TokenSvc        ports.TokenService
	RateLimitStore  *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	AuditSvc        ports.AuditService // nil = denial auditing disabled
	OpenAPISpec     []byte
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.MaxBodySize(maxRequestBody))
	r.Use(middleware.AuditContext())
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditDenied(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI("Settlement Pipeline - Admin API"))
		swagger.GET("/spec", SwaggerSpec(deps.OpenAPISpec))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	v1.POST("/auth/login", rl("auth_login"), authHandler.Login)

	// --- Operator routes (JWT) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	settlementHandler := NewSettlementHandler(deps.SettlementSvc)
	settlements := v1.Group("/settlements", jwtAuth)
	{
		settlements.POST("", rl("settlements_enqueue"), settlementHandler.Enqueue)
		settlements.GET("/stats", rl("admin_read"), settlementHandler.Stats)
		settlements.GET("/:id", rl("admin_read"), settlementHandler.Get)
		settlements.POST("/:id/retry", rl("admin_write"), settlementHandler.Retry)
	}

	webhookHandler := NewWebhookHandler(deps.SubscriptionSvc)
	webhooks := v1.Group("/webhooks", jwtAuth)
	{
		webhooks.GET("/event-types", rl("admin_read"), webhookHandler.EventTypes)
		webhooks.POST("/subscriptions", rl("admin_write"), webhookHandler.CreateSubscription)
		webhooks.GET("/subscriptions", rl("admin_read"), webhookHandler.ListSubscriptions)
		webhooks.PATCH("/subscriptions/:id", rl("admin_write"), webhookHandler.UpdateSubscription)
		webhooks.POST("/events", rl("webhook_events"), webhookHandler.RaiseEvent)
	}

	if deps.Facilitator != nil {
		facilitatorHandler := NewFacilitatorHandler(deps.Facilitator)
		facilitator := v1.Group("/facilitator", jwtAuth)
		{
			facilitator.GET("/supported", rl("admin_read"), facilitatorHandler.Supported)
			facilitator.POST("/verify", rl("admin_write"), facilitatorHandler.Verify)
		}
	}

	return r
}
