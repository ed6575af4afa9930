// Package server exposes the generation service over HTTP for the UI.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"defgen/internal/generation"
	"defgen/internal/llm"
	"defgen/internal/logging"
	"defgen/internal/usage"
)

// StatsSource reports aggregate telemetry.
type StatsSource interface {
	Stats() usage.AggregatedStats
}

// Server routes HTTP requests to the generation service.
type Server struct {
	svc       *generation.Service
	completer llm.Completer
	stats     StatsSource
	gatherer  prometheus.Gatherer
	previews  *previewCache
	validate  *validator.Validate
	router    chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithCompleter enables POST /api/generate.
func WithCompleter(c llm.Completer) Option {
	return func(s *Server) { s.completer = c }
}

// WithStats enables GET /api/telemetry/stats.
func WithStats(src StatsSource) Option {
	return func(s *Server) { s.stats = src }
}

// WithGatherer serves /metrics from g instead of the default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithPreviewCache bounds the previews kept for later validation.
func WithPreviewCache(capacity int, ttl time.Duration) Option {
	return func(s *Server) { s.previews = newPreviewCache(capacity, ttl) }
}

// New creates a server for svc.
func New(svc *generation.Service, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		gatherer: prometheus.DefaultGatherer,
		previews: newPreviewCache(DefaultPreviewCapacity, DefaultPreviewTTL),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/prepare", s.handlePrepare)
		r.Post("/validate", s.handleValidate)
		r.Post("/generate", s.handleGenerate)

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", s.handleCatalog)
			r.Get("/rules/{ruleID}", s.handleRule)
		})
		r.Get("/telemetry/stats", s.handleStats)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logging.Server("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.APIDebug("%s %s -> %d (%s) request_id=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
