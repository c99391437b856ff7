package handler

import (
	"fotofeed-core/config"
	"fotofeed-core/internal/adapter/http/middleware"
	"fotofeed-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Ledger          ports.EventLedger
	Applier         ports.EventApplier
	Queue           ports.WorkQueue
	Redemptions     ports.RedemptionLedger
	OpsAuthSvc      ports.OpsAuthService
	TokenSvc        ports.TokenService
	SigSvc          ports.SignatureService
	WebhookSecrets  map[string]string
	SchedulerSecret string
	QueueCfg        config.QueueConfig
	HealthCheckers  []ports.HealthChecker
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Webhook receiver (HMAC-verified per provider) ---
	webhookHandler := NewWebhookHandler(deps.Ledger, deps.Applier, deps.SigSvc, deps.WebhookSecrets, deps.Logger)
	v1.POST("/webhooks/:provider", webhookHandler.Receive)

	// --- Platform-internal routes (shared-secret auth) ---
	schedulerAuth := middleware.SchedulerAuth(deps.SchedulerSecret, deps.Logger)
	schedulerHandler := NewSchedulerHandler(deps.Queue, deps.QueueCfg)
	photoHandler := NewPhotoHandler(deps.Queue)
	redemptionHandler := NewRedemptionHandler(deps.Redemptions)

	internal := v1.Group("", schedulerAuth)
	{
		internal.POST("/scheduler/poll", schedulerHandler.Poll)
		internal.POST("/photos/:id/process", photoHandler.Process)
		internal.POST("/redemptions", redemptionHandler.Commit)
	}

	// --- Ops surface (JWT-authenticated) ---
	opsHandler := NewOpsHandler(deps.OpsAuthSvc, deps.Ledger, deps.Applier, deps.Queue, deps.Logger)
	v1.POST("/ops/login", opsHandler.Login)

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	ops := v1.Group("/ops", jwtAuth)
	{
		ops.GET("/jobs/dead-letter", opsHandler.DeadLetterJobs)
		ops.GET("/events/failed", opsHandler.FailedEvents)
		ops.POST("/events/:id/replay", opsHandler.ReplayEvent)
	}

	return r
}
