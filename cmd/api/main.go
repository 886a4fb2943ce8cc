package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/pixelchain/internal/api"
	"github.com/dunamismax/pixelchain/internal/codec"
	"github.com/dunamismax/pixelchain/internal/config"
	"github.com/dunamismax/pixelchain/internal/pipeline"
	"github.com/dunamismax/pixelchain/internal/queue"
	"github.com/dunamismax/pixelchain/internal/ratelimit"
	"github.com/dunamismax/pixelchain/internal/storage"
	"github.com/dunamismax/pixelchain/internal/store"
	"github.com/dunamismax/pixelchain/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := codec.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer codec.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelchain-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
		Environment:  cfg.Tracing.Environment,

		MaxPixels:     cfg.Imaging.MaxPixels,
		WebPAvailable: codec.WebPAvailable,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}


	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
	defer closeStore()

	objects, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
		objects = nil
	}

	limiter, closeLimiter, err := openRateLimiter(cfg)
	if err != nil {
		logger.Fatalf("rate limiter setup failed: %v", err)
	}
	defer closeLimiter()

	opts := api.Options{
		PresignTTL:     cfg.API.PresignTTL,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		UserIDHeader:   cfg.API.UserIDHeader,
		RateLimiter:    limiter,
		Transformer: pipeline.Transformer{
			Options: pipeline.ImagingOptions(cfg.Imaging),
			Tracer:  otel.Tracer("pixelchain/pipeline"),
		},
	}
	var app *api.Server
	if objects != nil {
		app = api.NewServer(logger, opts, queueClient, jobStore, objects)
	} else {
		app = api.NewServer(logger, opts, queueClient, jobStore, nil)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, func()) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Printf("job store backend=memory")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres job store failed: %v", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatalf("postgres schema setup failed: %v", err)
	}
	logger.Printf("job store backend=postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}

func openRateLimiter(cfg config.Config) (ratelimit.Limiter, func(), error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, func() {}, nil
	}

	if strings.EqualFold(rl.Backend, "memory") {
		limiter, err := ratelimit.NewMemoryTokenBucket(rl.Requests, rl.Window)
		return limiter, func() {}, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	limiter, err := ratelimit.NewRedisTokenBucket(client, rl.Requests, rl.Window, rl.KeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, func() {}, err
	}
	return limiter, func() { _ = client.Close() }, nil
}
