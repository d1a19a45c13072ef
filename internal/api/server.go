// Package api is the HTTP front door: report submission, job status and the
// metrics exposition.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/metrics"
	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/resilience"
	"github.com/sells-group/sightings/internal/submission"
)

const (
	// ExpositionContentType is the Prometheus text format content type.
	ExpositionContentType = "text/plain; version=0.0.4; charset=utf-8"

	// LoggedInHeader carries whether the submitter was signed in.
	LoggedInHeader = "X-Logged-In"

	maxBodyBytes = 16 << 20
)

// Jobs starts enrichment runs and reports on them.
type Jobs interface {
	Submit(ctx context.Context, raw model.RawReport, meta *model.RequestMetadata) (*model.JobHandle, error)
	Status(ctx context.Context, jobID string) (*model.Job, error)
	Snapshots(ctx context.Context, jobID string) ([]string, error)
}

// ImageUploader stores a base64 image and returns its public URL.
type ImageUploader interface {
	UploadBase64(ctx context.Context, data string) (string, error)
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	jobs           Jobs
	sink           *metrics.Sink
	metrics        *metrics.PipelineMetrics
	uploader       ImageUploader
	store          Pinger
	breakers       *resilience.ServiceBreakers
	publicBaseURL  string
	allowedOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithPipelineMetrics serves the runtime registry at /metrics/runtime.
func WithPipelineMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithImageUploader enables POST /images.
func WithImageUploader(u ImageUploader) Option {
	return func(s *Server) { s.uploader = u }
}

// WithHealthChecks adds the store and circuit breakers to /health.
func WithHealthChecks(store Pinger, breakers *resilience.ServiceBreakers) Option {
	return func(s *Server) {
		s.store = store
		s.breakers = breakers
	}
}

// WithPublicBaseURL prefixes status URLs in submission responses.
func WithPublicBaseURL(u string) Option {
	return func(s *Server) { s.publicBaseURL = strings.TrimRight(u, "/") }
}

// WithAllowedOrigins sets the CORS allow list.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// New creates a Server. sink may be nil when this process hosts no worker.
func New(jobs Jobs, sink *metrics.Sink, opts ...Option) *Server {
	s := &Server{jobs: jobs, sink: sink, allowedOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", LoggedInHeader},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Post("/submit_ship", s.handleSubmit)
	r.Post("/reports", s.handleSubmit)
	r.Get("/reports/{id}", s.handleStatus)
	r.Get("/reports/{id}/metrics", s.handleReportMetrics)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/runtime", s.handleRuntimeMetrics)
	r.Post("/images", s.handleImage)
	return r
}

// MetricsRouter serves only the metrics and health endpoints, for a worker
// running without the front door.
func MetricsRouter(sink *metrics.Sink, pm *metrics.PipelineMetrics, opts ...Option) http.Handler {
	s := New(nil, sink, append(opts, WithPipelineMetrics(pm))...)
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/runtime", s.handleRuntimeMetrics)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "sightings",
		"endpoints": []string{
			"POST /submit_ship",
			"POST /reports",
			"GET /reports/{id}",
			"GET /reports/{id}/metrics",
			"GET /metrics",
			"GET /metrics/runtime",
			"POST /images",
			"GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	code := http.StatusOK

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["store"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["store"] = "ok"
		}
	}
	if s.breakers != nil {
		body["circuits"] = s.breakers.States()
	}
	writeJSON(w, code, body)
}

type submitResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var raw model.RawReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handle, err := s.jobs.Submit(r.Context(), raw, requestMetadata(r))
	switch {
	case err == nil:
	case errors.Is(err, submission.ErrInvalidReport):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, submission.ErrUploadFailed):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	default:
		zap.L().Error("api: submit failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could not start enrichment")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:    "accepted",
		JobID:     handle.JobID,
		StatusURL: s.publicBaseURL + "/reports/" + handle.JobID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleReportMetrics(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.jobs.Snapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, err)
		return
	}
	w.Header().Set("Content-Type", ExpositionContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.Exposition(snaps)))
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", ExpositionContentType)
	w.WriteHeader(http.StatusOK)
	if s.sink == nil {
		_, _ = w.Write([]byte(metrics.Header))
		return
	}
	if _, err := s.sink.WriteTo(w); err != nil {
		zap.L().Warn("api: write exposition", zap.Error(err))
	}
}

func (s *Server) handleRuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

type imageRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		writeError(w, http.StatusNotImplemented, "image storage is not configured")
		return
	}
	var req imageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Image == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	url, err := s.uploader.UploadBase64(r.Context(), req.Image)
	if err != nil {
		zap.L().Error("api: image upload failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "image upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, submission.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	zap.L().Error("api: job lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "job lookup failed")
}

// requestMetadata captures who sent r. RealIP has already rewritten
// RemoteAddr when a forwarding header was present.
func requestMetadata(r *http.Request) *model.RequestMetadata {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	loggedIn, _ := strconv.ParseBool(r.Header.Get(LoggedInHeader))
	return &model.RequestMetadata{
		IP:        ip,
		UserAgent: r.UserAgent(),
		LoggedIn:  loggedIn,
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
