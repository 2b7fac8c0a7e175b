package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelcache/internal/api"
	"github.com/dunamismax/pixelcache/internal/bootstrap"
	"github.com/dunamismax/pixelcache/internal/config"
	"github.com/dunamismax/pixelcache/internal/logging"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/queue"
	"github.com/dunamismax/pixelcache/internal/ratelimit"
	"github.com/dunamismax/pixelcache/internal/telemetry"
	"go.opentelemetry.io/otel"
)

func main() {
	bootLogger := logging.New("info", "json", "api")
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}

	if err := pipeline.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("start image pipeline")
	}
	defer pipeline.Shutdown()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build serving core")
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error().Err(err).Msg("close runtime")
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Error().Err(err).Msg("queue client close")
		}
	}()

	deps := api.Deps{
		Logger:                logger,
		Images:                rt.Service,
		Sources:               rt.Sources,
		Registry:              rt.Registry,
		Tracer:                otel.Tracer("pixelcache/api"),
		Queue:                 queueClient,
		RateLimitUserIDHeader: cfg.API.RateLimitUserIDKey,
		MaxUploadBytes:        cfg.API.MaxUploadBytes,
		AllowedExtensions:     cfg.Images.AllowedExtensions,
	}
	if cfg.API.RateLimitEnabled {
		limiter, err := ratelimit.NewRedisTokenBucket(rt.RedisClient(), cfg.API.RateLimitCapacity, cfg.API.RateLimitWindow, ratelimit.DefaultKeyPrefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("create rate limiter")
		}
		deps.RateLimiter = limiter
	}

	app, err := api.NewServer(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("create api server")
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Str("pipeline", pipeline.Backend()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
}
