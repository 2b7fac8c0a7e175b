// Package service serves transformed images through the content-addressed
// cache: validate, normalize, derive the key, then either return the stored
// artifact or compute it once and store it.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dunamismax/pixelcache/internal/cache"
	"github.com/dunamismax/pixelcache/internal/cachekey"
	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/source"
	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeBypass Outcome = "bypass"
)

type Result struct {
	Data        []byte
	ContentType string
	// Key is empty for bypassed requests.
	Key     cachekey.Key
	Outcome Outcome
}

type Options struct {
	Logger     zerolog.Logger
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
}

type Service struct {
	sources     source.Store
	cache       cache.Store
	transformer pipeline.Transformer
	group       singleflight.Group
	logger      zerolog.Logger
	metrics     *metrics
	tracer      trace.Tracer
}

func New(sources source.Store, store cache.Store, transformer pipeline.Transformer, opts Options) (*Service, error) {
	if sources == nil {
		return nil, errors.New("source store is required")
	}
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if transformer == nil {
		return nil, errors.New("transformer is required")
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("pixelcache/service")
	}

	return &Service{
		sources:     sources,
		cache:       store,
		transformer: transformer,
		logger:      opts.Logger,
		metrics:     newMetrics(opts.Registerer),
		tracer:      tracer,
	}, nil
}

// Serve returns the bytes for image name transformed by the raw query
// params. An empty parameter set returns the stored source unchanged and
// never touches the cache.
func (s *Service) Serve(ctx context.Context, name string, params url.Values) (Result, error) {
	startedAt := time.Now()

	ctx, span := s.tracer.Start(ctx, "service.serve", trace.WithAttributes(
		attribute.String("image.name", name),
	))
	defer span.End()

	result, err := s.serve(ctx, name, params)
	if err != nil {
		s.metrics.failuresTotal.WithLabelValues(domain.Kind(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))

		event := s.logger.Warn()
		if errors.Is(err, domain.ErrDecode) || errors.Is(err, domain.ErrIO) || errors.Is(err, domain.ErrAlreadyExists) {
			event = s.logger.Error()
		}
		event.Err(err).Str("image", name).Str("kind", domain.Kind(err)).Msg("serve failed")
		return Result{}, err
	}

	s.metrics.requestsTotal.WithLabelValues(string(result.Outcome)).Inc()
	span.SetAttributes(
		attribute.String("cache.outcome", string(result.Outcome)),
		attribute.String("cache.key", result.Key.String()),
		attribute.Int("response.bytes", len(result.Data)),
	)
	span.SetStatus(codes.Ok, string(result.Outcome))

	s.logger.Debug().
		Str("image", name).
		Str("outcome", string(result.Outcome)).
		Str("key", result.Key.String()).
		Int("bytes", len(result.Data)).
		Dur("elapsed", time.Since(startedAt)).
		Msg("served")

	return result, nil
}

func (s *Service) serve(ctx context.Context, name string, params url.Values) (Result, error) {
	if err := source.ValidateName(name); err != nil {
		return Result{}, err
	}

	req, err := domain.ParseTransformRequest(params)
	if err != nil {
		return Result{}, err
	}

	if req.IsEmpty() {
		data, err := s.sources.Read(ctx, name)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Data:        data,
			ContentType: mimetype.Detect(data).String(),
			Outcome:     OutcomeBypass,
		}, nil
	}

	key := cachekey.Derive(name, req)
	data, err := s.cache.Get(ctx, key)
	if err == nil {
		return artifact(key, data, OutcomeHit), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}

	return s.compute(ctx, name, key, req)
}

// compute runs at most one populate per key at a time inside this process.
// The flight is detached from the caller's cancellation so a disconnecting
// client does not fail every request waiting on the same key.
func (s *Service) compute(ctx context.Context, name string, key cachekey.Key, req domain.TransformRequest) (Result, error) {
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(key.String(), func() (any, error) {
		return s.populate(flightCtx, name, key, req)
	})
	if shared {
		s.metrics.coalescedTotal.Inc()
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Service) populate(ctx context.Context, name string, key cachekey.Key, req domain.TransformRequest) (Result, error) {
	// A flight that finished just before this one started has already
	// stored the artifact.
	data, err := s.cache.Get(ctx, key)
	if err == nil {
		return artifact(key, data, OutcomeHit), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}

	src, err := s.sources.Read(ctx, name)
	if err != nil {
		return Result{}, err
	}

	ctx, span := s.tracer.Start(ctx, "pipeline.transform", trace.WithAttributes(
		attribute.String("cache.key", key.String()),
		attribute.String("transform.params", req.String()),
		attribute.Int("source.bytes", len(src)),
	))
	startedAt := time.Now()
	out, err := s.transformer.Transform(ctx, src, req)
	s.metrics.transformDuration.Observe(time.Since(startedAt).Seconds())
	s.metrics.transformsTotal.Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		span.End()
		return Result{}, fmt.Errorf("transform %s: %w", name, err)
	}
	span.SetAttributes(attribute.Int("output.width", out.Width), attribute.Int("output.height", out.Height))
	span.End()

	if err := s.cache.Put(ctx, key, out.Data); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.metrics.conflictsTotal.Inc()
			s.logger.Error().
				Err(err).
				Str("image", name).
				Str("key", key.String()).
				Str("params", req.String()).
				Msg("cache conflict: pipeline output differs from stored artifact")
		}
		return Result{}, err
	}
	s.metrics.artifactBytes.Observe(float64(len(out.Data)))

	s.logger.Debug().
		Str("image", name).
		Str("key", key.String()).
		Str("params", req.String()).
		Int("width", out.Width).
		Int("height", out.Height).
		Dur("elapsed", time.Since(startedAt)).
		Msg("transformed")

	return artifact(key, out.Data, OutcomeMiss), nil
}

func artifact(key cachekey.Key, data []byte, outcome Outcome) Result {
	return Result{
		Data:        data,
		ContentType: pipeline.ContentType,
		Key:         key,
		Outcome:     outcome,
	}
}

type WarmOutcome struct {
	Variant domain.Variant
	Key     cachekey.Key
	Outcome Outcome
	Err     error
}

// Warm ensures an artifact exists for every variant of image name. Variants
// are processed independently; the returned error joins every per-variant
// failure and the outcomes slice always has one entry per variant.
func (s *Service) Warm(ctx context.Context, name string, variants []domain.Variant) ([]WarmOutcome, error) {
	if err := source.ValidateName(name); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "service.warm", trace.WithAttributes(
		attribute.String("image.name", name),
		attribute.Int("warm.variants", len(variants)),
	))
	defer span.End()

	outcomes := make([]WarmOutcome, len(variants))
	var errs []error
	for i, variant := range variants {
		outcome := s.warmVariant(ctx, name, variant)
		outcomes[i] = outcome
		if outcome.Err != nil {
			s.metrics.failuresTotal.WithLabelValues(domain.Kind(outcome.Err)).Inc()
			errs = append(errs, fmt.Errorf("variants[%d]: %w", i, outcome.Err))
			continue
		}
		s.metrics.requestsTotal.WithLabelValues(string(outcome.Outcome)).Inc()
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "warm incomplete")
		s.logger.Warn().Err(err).Str("image", name).Int("failed", len(errs)).Int("variants", len(variants)).Msg("warm incomplete")
	} else {
		s.logger.Info().Str("image", name).Int("variants", len(variants)).Msg("warm complete")
	}
	return outcomes, err
}

func (s *Service) warmVariant(ctx context.Context, name string, variant domain.Variant) WarmOutcome {
	outcome := WarmOutcome{Variant: variant}

	req, err := domain.ParseTransformRequest(variant.Values())
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if req.IsEmpty() {
		outcome.Err = fmt.Errorf("%w: variant has no transformation", domain.ErrInvalidParameter)
		return outcome
	}

	outcome.Key = cachekey.Derive(name, req)
	exists, err := s.cache.Exists(ctx, outcome.Key)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if exists {
		outcome.Outcome = OutcomeHit
		return outcome
	}

	result, err := s.compute(ctx, name, outcome.Key, req)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Outcome = result.Outcome
	return outcome
}
