// Package bootstrap assembles the serving core from configuration. Both
// binaries share it so the API and the worker always read and write the
// same stores.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dunamismax/pixelcache/internal/cache"
	"github.com/dunamismax/pixelcache/internal/config"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/service"
	"github.com/dunamismax/pixelcache/internal/source"
	"github.com/dunamismax/pixelcache/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BackendFS       = "fs"
	BackendObject   = "object"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Runtime struct {
	Service  *service.Service
	Sources  source.Store
	Cache    cache.Store
	Registry *prometheus.Registry
	// Redis is shared by the redis cache backend and the API rate limiter;
	// nil until one of them asks for it.
	Redis redis.UniversalClient

	cfg     config.Config
	logger  zerolog.Logger
	storage *storage.Client
	closers []func() error
}

// NewRegistry returns a registry with the Go runtime and process collectors
// installed.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Build wires the stores named by cfg into a Service. The caller owns the
// pipeline lifecycle (pipeline.Startup / pipeline.Shutdown).
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Registry: NewRegistry(),
		cfg:      cfg,
		logger:   logger,
	}

	sources, err := rt.buildSources(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Sources = sources

	store, err := rt.buildCache(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Cache = store

	transformer, err := pipeline.New()
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create transformer: %w", err)
	}

	svc, err := service.New(sources, store, transformer, service.Options{
		Logger:     logger.With().Str("subsystem", "service").Logger(),
		Registerer: rt.Registry,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Service = svc

	logger.Info().
		Str("pipeline", pipeline.Backend()).
		Str("images_backend", cfg.Images.Backend).
		Str("cache_backend", cfg.Cache.Backend).
		Int("memory_entries", cfg.Cache.MemoryEntries).
		Msg("serving core ready")
	return rt, nil
}

// RedisClient returns the shared redis client, connecting on first use.
func (rt *Runtime) RedisClient() redis.UniversalClient {
	if rt.Redis == nil {
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     rt.cfg.Queue.RedisAddr,
			Password: rt.cfg.Queue.RedisPassword,
			DB:       rt.cfg.Queue.RedisDB,
		})
		client := rt.Redis
		rt.closers = append(rt.closers, client.Close)
	}
	return rt.Redis
}

// Close releases everything Build opened, newest first.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) objectStorage(ctx context.Context) (*storage.Client, error) {
	if rt.storage != nil {
		return rt.storage, nil
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint: rt.cfg.Storage.Endpoint,
		Access:   rt.cfg.Storage.AccessKey,
		Secret:   rt.cfg.Storage.SecretKey,
		Bucket:   rt.cfg.Storage.Bucket,
		UseSSL:   rt.cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", client.Bucket(), err)
	}
	rt.storage = client
	return client, nil
}

func (rt *Runtime) buildSources(ctx context.Context) (source.Store, error) {
	switch rt.cfg.Images.Backend {
	case "", BackendFS:
		return source.NewFSStore(rt.cfg.Images.Dir)
	case BackendObject:
		client, err := rt.objectStorage(ctx)
		if err != nil {
			return nil, err
		}
		return source.NewObjectStore(client, rt.cfg.Images.ObjectPrefix), nil
	default:
		return nil, fmt.Errorf("unknown images backend %q", rt.cfg.Images.Backend)
	}
}

func (rt *Runtime) buildCache(ctx context.Context) (cache.Store, error) {
	durable, err := rt.buildDurableCache(ctx)
	if err != nil {
		return nil, err
	}
	if rt.cfg.Cache.MemoryEntries <= 0 {
		return durable, nil
	}

	front, err := cache.NewMemoryStore(rt.cfg.Cache.MemoryEntries)
	if err != nil {
		return nil, err
	}
	return cache.NewTieredStore(front, durable), nil
}

func (rt *Runtime) buildDurableCache(ctx context.Context) (cache.Store, error) {
	cfg := rt.cfg.Cache
	switch cfg.Backend {
	case "", BackendFS:
		return cache.NewFSStore(cfg.Dir)
	case BackendObject:
		client, err := rt.objectStorage(ctx)
		if err != nil {
			return nil, err
		}
		return cache.NewObjectStore(client, cfg.ObjectPrefix), nil
	case BackendRedis:
		return cache.NewRedisStore(rt.RedisClient(), cfg.RedisPrefix, cfg.RedisTTL), nil
	case BackendPostgres:
		return rt.sqlCache(ctx, cache.DriverPostgres, rt.cfg.Database.DSN)
	case BackendSQLite:
		return rt.sqlCache(ctx, cache.DriverSQLite, filepath.Clean(cfg.SQLitePath))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func (rt *Runtime) sqlCache(ctx context.Context, driver, dsn string) (cache.Store, error) {
	store, err := cache.NewSQLStore(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, store.Close)
	return store, nil
}
