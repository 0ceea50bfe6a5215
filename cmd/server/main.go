package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/docsend/internal/api"
	"github.com/ignite/docsend/internal/config"
	"github.com/ignite/docsend/internal/dispatch"
	"github.com/ignite/docsend/internal/docgen"
	"github.com/ignite/docsend/internal/ingest"
	"github.com/ignite/docsend/internal/pkg/logger"
	"github.com/ignite/docsend/internal/schema"
	"github.com/ignite/docsend/internal/storage"
	"github.com/ignite/docsend/internal/template"
	"github.com/ignite/docsend/internal/tracking"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("Failed to connect to database: %v", err)
	}
	cancelPing()
	logger.Info("database connected")

	// Redis (optional: rate limiting, progress, layout cache)
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		cancel()
		logger.Info("redis connected")
	} else {
		logger.Warn("redis disabled; upload progress and layout cache are off")
	}

	// Blob storage
	var blobs storage.BlobStore
	switch cfg.Storage.Backend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		blobs, err = storage.NewS3Store(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Region, cfg.Storage.AWSProfile)
		cancel()
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		logger.Info("blob storage: s3", "bucket", cfg.Storage.S3Bucket)
	default:
		blobs, err = storage.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		logger.Info("blob storage: local", "dir", cfg.Storage.LocalDir)
	}

	// Services
	registry := schema.NewRegistry(db)
	pipeline := ingest.NewPipeline(db, redisClient, registry)
	pipeline.SetSkipEmptyRows(cfg.Ingest.SkipEmpty())
	rows := ingest.NewRowStore(db)
	mapper := ingest.NewMapper()
	templates := template.NewStore(db)
	renderer := template.NewRenderer()
	docs := docgen.NewStore(db)
	jobs := dispatch.NewJobStore(db)
	builder := dispatch.NewBuilder(registry, rows, templates, docs, jobs, cfg.Server.PublicURL)
	events := tracking.NewEventStore(db)
	tracker := tracking.NewTracker(jobs, events)

	// Transport provider
	var provider dispatch.Provider
	if cfg.Provider.Stub || cfg.Provider.BaseURL == "" {
		provider = dispatch.NewStubProvider()
		logger.Warn("using stub email provider; no real mail will be sent")
	} else {
		provider = dispatch.NewHTTPProvider(cfg.Provider)
	}

	// Background dispatcher
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Dispatch.Enabled {
		var limiter dispatch.SlotLimiter
		if redisClient != nil {
			limiter = dispatch.NewRateLimiter(redisClient)
		} else {
			limiter = dispatch.NewLocalRateLimiter()
			logger.Warn("redis unavailable; batch rate limits enforced per process only")
		}
		dispatcher := dispatch.NewDispatcher(jobs, provider, limiter, dispatch.DispatcherConfig{
			PollInterval:         cfg.Dispatch.PollInterval(),
			BatchSize:            cfg.Dispatch.BatchSize,
			Workers:              cfg.Dispatch.Workers,
			SendTimeout:          cfg.Dispatch.SendTimeout(),
			DefaultRatePerMinute: cfg.Dispatch.DefaultRatePerMinute,
		})
		go dispatcher.Run(rootCtx)
	}

	// HTTP server
	server := api.NewServer(*cfg, api.Deps{
		DB:       db,
		Redis:    redisClient,
		Registry: registry,
		Pipeline: pipeline,
		Rows:     rows,
		Mapper:   mapper,
		Tpls:     templates,
		Renderer: renderer,
		Docs:     docs,
		Blobs:    blobs,
		Jobs:     jobs,
		Builder:  builder,
		Tracker:  tracker,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
	db.Close()
	if redisClient != nil {
		redisClient.Close()
	}
}
