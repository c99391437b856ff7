package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fotofeed-core/config"
	"fotofeed-core/internal/adapter/external"
	httpHandler "fotofeed-core/internal/adapter/http/handler"
	pgStorage "fotofeed-core/internal/adapter/storage/postgres"
	redisStorage "fotofeed-core/internal/adapter/storage/redis"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/internal/metrics"
	"fotofeed-core/internal/service"
	"fotofeed-core/pkg/logger"
	"fotofeed-core/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting FotoFeed core")

	ctx := context.Background()

	// Initialize tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer shutdownTracing()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	eventRepo := pgStorage.NewEventLedgerRepo(pool)
	jobRepo := pgStorage.NewJobRepo(pool)
	redemptionRepo := pgStorage.NewRedemptionRepo(pool)
	entitlementRepo := pgStorage.NewEntitlementRepo(pool)
	photoStateRepo := pgStorage.NewPhotoStateRepo(pool)
	transactor := pgStorage.NewTransactor(pool)
	replayCache := redisStorage.NewReplayCache(rdb)

	// Initialize metrics
	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize security services
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.Ops.JWTSecret, cfg.Ops.JWTExpiry, cfg.Ops.Issuer)
	opsAuthSvc := service.NewOpsAuth(cfg.Ops.Username, cfg.Ops.PasswordHash, hashSvc, tokenSvc, log)

	// Initialize collaborator clients
	httpClient := &http.Client{Timeout: cfg.Services.Timeout}
	faceSvc := external.NewFaceClient(cfg.Services.FaceURL, httpClient, log)
	previewSvc := external.NewPreviewClient(cfg.Services.PreviewURL, httpClient, log)

	// Initialize core services
	ledgerSvc := service.NewEventLedgerService(eventRepo, replayCache, m, log, cfg.Queue.ReplayTTL)
	applier := service.NewEntitlementApplier(entitlementRepo, log)
	queueSvc := service.NewWorkQueueService(jobRepo, []ports.JobHandler{
		service.NewFaceIndexHandler(photoStateRepo, faceSvc, log),
		service.NewPreviewHandler(photoStateRepo, previewSvc, log),
	}, cfg.Queue, m, log)
	redemptionSvc := service.NewRedemptionService(redemptionRepo, transactor, m, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:          ledgerSvc,
		Applier:         applier,
		Queue:           queueSvc,
		Redemptions:     redemptionSvc,
		OpsAuthSvc:      opsAuthSvc,
		TokenSvc:        tokenSvc,
		SigSvc:          sigSvc,
		WebhookSecrets:  cfg.Webhook.Secrets,
		SchedulerSecret: cfg.Scheduler.Secret,
		QueueCfg:        cfg.Queue,
		HealthCheckers:  []ports.HealthChecker{pgHealth, redisHealth},
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
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
