// Package server exposes the memory service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcliao/semantic-memory/internal/memory"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires a Server. Registry defaults to a fresh registry.
type Config struct {
	Service      *memory.Service
	Pinger       Pinger
	Logger       *slog.Logger
	Registry     *prometheus.Registry
	RateLimitRPM int
	Version      string
}

// Server is the HTTP front end for a memory.Service.
type Server struct {
	svc      *memory.Service
	pinger   Pinger
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *httpMetrics
	limiter  *RateLimiter
	version  string
	handler  http.Handler
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	s := &Server{
		svc:      cfg.Service,
		pinger:   cfg.Pinger,
		logger:   cfg.Logger,
		registry: cfg.Registry,
		metrics:  newHTTPMetrics(cfg.Registry),
		limiter:  NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitRPM/6),
		version:  cfg.Version,
	}
	s.handler = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/", s.handleRoot())
	r.Get("/health", s.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/memory", func(r chi.Router) {
		if s.limiter.Enabled() {
			r.Use(s.rateLimit)
		}
		r.Post("/save", s.handleSave())
		r.Get("/search", s.handleSearch())
		r.Get("/stats", s.handleStats())
		r.Get("/{id}", s.handleGet())
		r.Post("/{id}/archive", s.handleArchive(true))
		r.Post("/{id}/unarchive", s.handleArchive(false))
	})

	return r
}

// cors allows browser clients from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go s.limiter.Run(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ListenAndServe binds addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}
