package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/config"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/push"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

const defaultRequestTimeout = 60 * time.Second

// IngestService is the job surface the handlers drive.
type IngestService interface {
	Submit(ctx context.Context, rawURL string) (registry.IngestJob, error)
	Resubmit(ctx context.Context, domain, seedURL string) (registry.IngestJob, error)
	Get(ctx context.Context, jobID string) (registry.IngestJob, error)
	List(ctx context.Context, limit int) ([]registry.IngestJob, error)
}

// PushService accepts snippet page pushes.
type PushService interface {
	PushPage(ctx context.Context, req push.Request) (push.Response, error)
}

// RequestIDGenerator issues request correlation ids.
type RequestIDGenerator interface {
	NewRequestID() (string, error)
}

// Deps are the services the HTTP layer fronts. Push may be nil, in which
// case the push route is not mounted.
type Deps struct {
	Ingest     IngestService
	Registries registry.RegistryStore
	Push       PushService
	RequestIDs RequestIDGenerator
}

// Server wires HTTP handlers to the ingest pipeline and stores.
type Server struct {
	router     chi.Router
	ingest     IngestService
	registries registry.RegistryStore
	push       PushService
	requestIDs RequestIDGenerator
	baseURL    string
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		ingest:     deps.Ingest,
		registries: deps.Registries,
		push:       deps.Push,
		requestIDs: deps.RequestIDs,
		baseURL:    strings.TrimSuffix(cfg.Pipeline.BaseURL, "/"),
		logger:     logging.OrNop(logger),
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(defaultRequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/registry", func(r chi.Router) {
		r.Get("/", s.listRegistries)
		r.Get("/{domain}", s.getRegistry)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if s.push != nil {
			// The snippet authenticates with its tenant key instead of the operator key.
			r.Post("/ingest/push", s.pushPage)
		}
		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Post("/ingest", s.submitIngest)
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listJobs)
				r.Get("/{job_id}", s.getJob)
			})
			r.Post("/admin/refresh", s.refreshRegistry)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.registries.ListRegistries(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" && s.requestIDs != nil {
			if id, err := s.requestIDs.NewRequestID(); err == nil {
				reqID = id
			}
		}
		if reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
