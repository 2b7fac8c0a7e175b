package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelcache/internal/config"
	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/queue"
	"github.com/dunamismax/pixelcache/internal/service"
	"github.com/dunamismax/pixelcache/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	statusSucceeded = "succeeded"
	statusRetrying  = "retrying"
	statusFailed    = "failed"
)

type warmer interface {
	Warm(ctx context.Context, name string, variants []domain.Variant) ([]service.WarmOutcome, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger        zerolog.Logger
	server        *asynq.Server
	sem           chan struct{}
	warmer        warmer
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	warmer warmer,
	webhookClient webhookSender,
	registry *prometheus.Registry,
) (*Server, error) {
	if warmer == nil {
		return nil, errors.New("warmer is required")
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	queueName := queueCfg.Name
	if queueName == "" {
		queueName = queue.DefaultQueue
	}

	s := newServer(logger, workerCfg.MaxActiveJobs, warmer, webhookClient, registry)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: max(1, workerCfg.Concurrency),
			Queues:      map[string]int{queueName: 1},
			Logger:      asynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()},
			LogLevel:    asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().
					Err(err).
					Str("type", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Msg("task failed")
			}),
		},
	)
	return s, nil
}

func newServer(logger zerolog.Logger, maxActive int, warmer warmer, webhookClient webhookSender, registry *prometheus.Registry) *Server {
	return &Server{
		logger:        logger,
		sem:           make(chan struct{}, max(1, maxActive)),
		warmer:        warmer,
		webhookClient: webhookClient,
		metrics:       newMetrics(registry),
		tracer:        otel.Tracer("pixelcache/worker"),
	}
}

// Run blocks until the process receives SIGTERM or SIGINT.
func (s *Server) Run() error {
	return s.server.Run(s.mux())
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeWarmImage, s.handleWarmImage)
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleWarmImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	status := statusFailed

	payload, err := queue.ParseWarmImagePayload(task)
	if err != nil {
		s.metrics.jobsTotal.WithLabelValues(status).Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.warm_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("image.name", payload.Image),
		attribute.Int("warm.variants", len(payload.Variants)),
		attribute.String("request.id", payload.RequestID),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(status).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(status).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		status = statusRetrying
		return fmt.Errorf("wait for worker slot: %w", ctx.Err())
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger := s.logger.With().
		Str("image", payload.Image).
		Str("request_id", payload.RequestID).
		Int("variants", len(payload.Variants)).
		Logger()
	logger.Info().Msg("warming")

	outcomes, err := s.warmer.Warm(ctx, payload.Image, payload.Variants)
	for _, outcome := range outcomes {
		label := string(outcome.Outcome)
		if outcome.Err != nil {
			label = "error"
		}
		s.metrics.variantsTotal.WithLabelValues(label).Inc()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "warm failed")

		if retryable(err) && !finalAttempt(ctx) {
			status = statusRetrying
			logger.Warn().Err(err).Msg("warm incomplete, will retry")
			return fmt.Errorf("warm %s: %w", payload.Image, err)
		}

		logger.Error().Err(err).Msg("warm failed")
		s.dispatchWebhook(ctx, logger, payload, webhook.EventWarmFailed, map[string]any{
			"image":        payload.Image,
			"status":       statusFailed,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"variants":     variantReports(outcomes),
			"error":        err.Error(),
		})
		return fmt.Errorf("warm %s: %v: %w", payload.Image, err, asynq.SkipRetry)
	}

	logger.Info().Dur("elapsed", time.Since(startedAt)).Msg("warmed")
	if err := s.dispatchWebhook(ctx, logger, payload, webhook.EventWarmCompleted, map[string]any{
		"image":        payload.Image,
		"status":       statusSucceeded,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"variants":     variantReports(outcomes),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		status = statusRetrying
		return err
	}

	status = statusSucceeded
	span.SetStatus(codes.Ok, "warmed")
	return nil
}

// retryable reports whether another attempt could succeed. Storage failures
// are transient; bad input and undecodable sources fail the same way every
// time.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrIO) {
		return true
	}
	return domain.Kind(err) == "internal"
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

type variantReport struct {
	Params  domain.Variant `json:"params"`
	Key     string         `json:"key,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func variantReports(outcomes []service.WarmOutcome) []variantReport {
	reports := make([]variantReport, 0, len(outcomes))
	for _, outcome := range outcomes {
		report := variantReport{
			Params:  outcome.Variant,
			Key:     outcome.Key.String(),
			Outcome: string(outcome.Outcome),
		}
		if outcome.Err != nil {
			report.Error = outcome.Err.Error()
		}
		reports = append(reports, report)
	}
	return reports
}

func (s *Server) dispatchWebhook(ctx context.Context, logger zerolog.Logger, payload queue.WarmImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		logger.Error().Err(err).Str("event", event).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}
