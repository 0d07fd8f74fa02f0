// Package server assembles the HTTP API: router, middleware chain, and
// graceful lifecycle around net/http.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/costscope/costscope/internal/errors"
	"github.com/costscope/costscope/internal/server/handlers"
	"github.com/costscope/costscope/internal/server/middleware"
)

// Option customizes a Server at construction time.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the build version reported by health and version
// endpoints.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithJobs mounts the job lifecycle endpoints.
func WithJobs(jobs *handlers.Jobs) Option {
	return func(s *Server) { s.jobs = jobs }
}

// WithHealthChecker registers a named dependency health check.
func WithHealthChecker(name string, c handlers.HealthChecker) Option {
	return func(s *Server) { s.checkers[name] = c }
}

// WithRateLimit caps sustained request throughput. Zero disables.
func WithRateLimit(rps float64) Option {
	return func(s *Server) { s.rateLimitRPS = rps }
}

// WithTimeouts sets the read, write, and idle timeouts on the listener.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// Server is the HTTP API server.
type Server struct {
	host    string
	port    int
	version string
	logger  *zap.Logger

	jobs         *handlers.Jobs
	checkers     map[string]handlers.HealthChecker
	rateLimitRPS float64

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router chi.Router
	srv    *http.Server
}

// New builds a server bound to host:port with its routes mounted. Port 0
// asks the kernel for an ephemeral port at Start time.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		version:      "dev",
		logger:       zap.NewNop(),
		checkers:     make(map[string]handlers.HealthChecker),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the fully assembled router.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns the host:port the server binds to.
func (s *Server) Addr() string { return net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return middleware.Recovery(s.logger, next)
	})
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.RateLimit(s.rateLimitRPS))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound, apperrors.CodeNotFound,
			fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path),
			middleware.GetRequestID(req.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed for %s", req.Method, req.URL.Path),
			middleware.GetRequestID(req.Context()))
	})

	health := handlers.NewHealthManager(s.version)
	for name, c := range s.checkers {
		health.RegisterChecker(name, c)
	}
	r.Get("/healthz", health.HealthHandler)
	r.Get("/healthz/live", health.LivenessHandler)
	r.Get("/version", health.VersionHandler)

	if s.jobs != nil {
		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", s.jobs.Create)
			r.Get("/", s.jobs.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.jobs.Get)
				r.Get("/executions", s.jobs.Executions)
				r.Post("/uploaded", s.jobs.Uploaded)
				r.Post("/advance", s.jobs.Advance)
				r.Post("/run", s.jobs.Run)
				r.Post("/retry", s.jobs.Retry)
			})
		})
	}

	return r
}

// Start serves until the listener fails or Shutdown is called. It blocks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = addr.Port
	}

	s.srv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
