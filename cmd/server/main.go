package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratis-backend/internal/config"
	"stratis-backend/internal/database"
	"stratis-backend/internal/handlers"
	"stratis-backend/internal/logger"
	"stratis-backend/internal/metrics"
	"stratis-backend/internal/middleware"
	"stratis-backend/internal/models"
	"stratis-backend/internal/pipeline"
	"stratis-backend/internal/repository"
	"stratis-backend/internal/resilience"
	"stratis-backend/internal/router"
	"stratis-backend/internal/services"
	"stratis-backend/internal/storage"
	"stratis-backend/internal/websocket"
	"stratis-backend/internal/worker"
	"stratis-backend/migrations"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("🚀 Starting Stratis Backend...")
	log.Info("✓ Environment variables loaded", "env", cfg.Env)

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("✗ PostgreSQL connection failed", "error", err)
	}
	defer pool.Close()
	log.Info("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatal("✗ Redis connection failed", "error", err)
	}
	defer redisClients.Close()
	log.Info("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, migrations.FS, log); err != nil {
		log.Fatal("✗ Database migration failed", "error", err)
	}
	log.Info("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	runRepo := repository.NewRunRepo(pool)
	articleRepo := repository.NewArticleRepo(pool)
	runQueue := repository.NewRunQueue(redisClients.Runs, cfg.StaleRunAfter+5*time.Minute)
	researchCache := repository.NewResearchCache(redisClients.Runs, cfg.ResearchCacheTTL)

	// ──── Metrics ────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipeline(registry)

	// ──── Step 5: Initialize AI Clients ────
	youtubeService := services.NewYouTubeService(log)
	webPageService := services.NewWebPageService(log)
	fileExtractService := services.NewFileExtractService(cfg.StoragePath)
	referenceService := services.NewReferenceService(youtubeService, webPageService, fileExtractService)

	geminiService, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs, referenceService, log)
	if err != nil {
		log.Fatal("✗ Gemini client initialization failed", "error", err)
	}
	defer geminiService.Close()
	log.Info("✓ Gemini client initialized", "model", cfg.GeminiModel)

	var imageStore services.ObjectStore
	if cfg.ImageStorageEnabled() {
		s3Store, err := storage.NewImageStore(context.Background(), cfg)
		if err != nil {
			log.Fatal("✗ S3 image storage initialization failed", "error", err)
		}
		imageStore = s3Store
		log.Info("✓ S3 image storage enabled", "bucket", cfg.S3Bucket)
	} else {
		log.Warn("S3_BUCKET not set, visuals are returned as inline data URIs")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not set, every visual will fall back to its placeholder")
	}
	imageService := services.NewImageService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ImageModel, cfg.ImageSize, imageStore)

	executor := resilience.NewExecutor(cfg.RetryMaxAttempts, log)
	executor.OnRetry = pipelineMetrics.Retried

	gen := pipeline.New(geminiService, imageService, researchCache, pipeline.Options{
		Executor:         executor,
		ImageConcurrency: cfg.ImageConcurrency,
		Observer:         pipelineMetrics,
		Log:              log.With("component", "pipeline"),
	})

	notify := func(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
		if err := websocket.PublishUpdate(ctx, redisClients.Updates, userID, msg); err != nil {
			log.Warn("Failed to publish run update", "user_id", userID.String(), "error", err)
		}
	}

	// ──── Step 6: Start Job Worker Pool ────
	processor := worker.NewProcessor(runRepo, articleRepo, gen, notify, cfg.StaleRunAfter, log.With("component", "worker"))
	workerPool := worker.NewPool(redisClients.Runs, runQueue, processor, pipelineMetrics, cfg.WorkerCount, log)
	workerPool.Start()
	log.Info("✓ Worker pool started", "workers", cfg.WorkerCount)

	reaper := services.NewStaleRunReaper(runRepo, cfg.StaleRunSchedule, cfg.StaleRunAfter, func(run models.StaleRun) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runQueue.ReleaseUser(ctx, run.UserID, run.RunID)
		notify(ctx, run.UserID, models.WSMessage{
			Type:    models.WSTypeRunUpdate,
			Payload: models.Snapshot{RunID: run.RunID, Error: services.StaleRunMessage},
		})
	}, log.With("component", "reaper"))
	if err := reaper.Start(); err != nil {
		log.Fatal("✗ Stale run reaper failed to start", "error", err)
	}
	log.Info("✓ Stale run reaper started", "schedule", cfg.StaleRunSchedule)

	// ──── Step 7: Start WebSocket Hub ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	wsHub := websocket.NewHub(redisClients.Updates, jwtAuth, cfg.FrontendURL, log.With("component", "ws"))
	log.Info("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		router.Handlers{
			Articles:   handlers.NewArticleHandler(runRepo, articleRepo, runQueue, geminiService, executor, log),
			Runs:       handlers.NewRunHandler(runRepo, log),
			Ideas:      handlers.NewIdeasHandler(geminiService, executor, log),
			References: handlers.NewReferenceHandler(fileExtractService, log),
		},
		wsHub,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		map[string]router.Pinger{
			"postgres": pool.Ping,
			"redis":    redisClients.Ping,
		},
		cfg.FrontendURL,
	)

	// WriteTimeout covers uploads and synchronous model calls.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	stopped := shutdownOnSignal(sigChan, server, 30*time.Second, log, reaper.Stop, workerPool.Stop, wsHub.Close)

	log.Info(fmt.Sprintf("✓ Stratis Backend ready on http://localhost:%s", cfg.Port))
	log.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))
	log.Info(fmt.Sprintf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("Server error", "error", err)
	}
	<-stopped
	log.Info("✓ Shutdown complete")
}
