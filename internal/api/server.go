package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/queue"
	"github.com/dunamismax/pixelcache/internal/service"
	"github.com/dunamismax/pixelcache/internal/source"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerCache     = "X-Cache"
	headerRequestID = "X-Request-ID"

	artifactCacheControl = "public, max-age=31536000, immutable"
	defaultMaxUpload     = 32 << 20
)

type imageService interface {
	Serve(ctx context.Context, name string, params url.Values) (service.Result, error)
}

type warmEnqueuer interface {
	EnqueueWarm(ctx context.Context, payload queue.WarmImagePayload) (*asynq.TaskInfo, error)
}

type Deps struct {
	Logger   zerolog.Logger
	Images   imageService
	Sources  source.Store
	Registry *prometheus.Registry
	Tracer   trace.Tracer

	// Queue is optional; without it warm requests are rejected with 503.
	Queue warmEnqueuer

	// RateLimiter is optional and applies to mutating /images routes.
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string

	MaxUploadBytes    int64
	AllowedExtensions []string
}

type Server struct {
	logger                zerolog.Logger
	images                imageService
	sources               source.Store
	queue                 warmEnqueuer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	maxUploadBytes        int64
	allowedExtensions     []string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Images == nil {
		return nil, errors.New("image service is required")
	}
	if deps.Sources == nil {
		return nil, errors.New("source store is required")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUpload
	}
	if len(deps.AllowedExtensions) == 0 {
		deps.AllowedExtensions = source.DefaultAllowedExtensions
	}
	if strings.TrimSpace(deps.RateLimitUserIDHeader) == "" {
		deps.RateLimitUserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                deps.Logger,
		images:                deps.Images,
		sources:               deps.Sources,
		queue:                 deps.Queue,
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: deps.RateLimitUserIDHeader,
		maxUploadBytes:        deps.MaxUploadBytes,
		allowedExtensions:     deps.AllowedExtensions,
		metrics:               newMetrics(deps.Registry),
		tracer:                deps.Tracer,
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the mux wrapped in the middleware chain, outermost first:
// request id, access log, metrics, tracing, rate limit.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withAccessLog(h)
	h = s.withRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /images", s.handleListImages)
	s.mux.HandleFunc("POST /images", s.handleUploadImage)
	s.mux.HandleFunc("GET /images/{name}", s.handleGetImage)
	s.mux.HandleFunc("POST /images/{name}/warm", s.handleWarmImage)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	names, err := s.sources.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": names})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrInvalidParameter))
		return
	}
	defer file.Close()

	name := source.SanitizeFilename(header.Filename)
	if !source.AllowedExtension(name, s.allowedExtensions) {
		s.writeError(w, r, fmt.Errorf("%w: file type of %q is not allowed", domain.ErrInvalidParameter, header.Filename))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrIO, err))
		return
	}
	if detected := mimetype.Detect(data); !strings.HasPrefix(detected.String(), "image/") {
		s.writeError(w, r, fmt.Errorf("%w: upload content is %s, not an image", domain.ErrInvalidParameter, detected.String()))
		return
	}

	if err := s.sources.Write(r.Context(), name, data); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.uploadsTotal.Inc()
	zerolog.Ctx(r.Context()).Info().Str("image", name).Int("bytes", len(data)).Msg("image uploaded")
	writeJSON(w, http.StatusCreated, map[string]string{"image": name})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	result, err := s.images.Serve(r.Context(), name, r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", result.ContentType)
	h.Set(headerCache, strings.ToUpper(string(result.Outcome)))
	if result.Key != "" {
		etag := `"` + result.Key.String() + `"`
		h.Set("ETag", etag)
		h.Set("Cache-Control", artifactCacheControl)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(result.Data)
}

func (s *Server) handleWarmImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := source.ValidateName(name); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req domain.WarmRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidParameter, err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "warm queue is not configured"})
		return
	}

	info, err := s.queue.EnqueueWarm(r.Context(), queue.WarmImagePayload{
		Image:       name,
		Variants:    req.Variants,
		WebhookURL:  strings.TrimSpace(req.WebhookURL),
		RequestID:   requestIDFrom(r.Context()),
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("image", name).Msg("enqueue warm failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "failed to enqueue warm request"})
		return
	}

	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"image":    name,
		"variants": len(req.Variants),
		"queue":    info.Queue,
		"task_id":  info.ID,
		"state":    info.State.String(),
	})
}
