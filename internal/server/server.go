// Package server is the development HTTP server. It serves a project's dev
// content source, the host API websocket, metrics and a health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/pagepack/internal/config"
	"github.com/conneroisu/pagepack/internal/hostapi"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/project"
	"github.com/conneroisu/pagepack/internal/source"
	"github.com/conneroisu/pagepack/internal/validation"
	"github.com/conneroisu/pagepack/internal/version"
)

// Reserved paths.
const (
	HostAPIPath = "/_pagepack/host"
	HealthPath  = "/_pagepack/healthz"
	MetricsPath = "/metrics"
)

// Option configures a DevServer.
type Option func(*DevServer)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *DevServer) { s.logger = l }
}

// WithMetrics serves and records metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *DevServer) { s.metrics = m }
}

// WithHostAPIOptions are passed to the host API server.
func WithHostAPIOptions(opts ...hostapi.Option) Option {
	return func(s *DevServer) { s.hostOptions = append(s.hostOptions, opts...) }
}

// DevServer serves one project in development mode.
type DevServer struct {
	config      *config.Config
	project     *project.Project
	routes      project.RoutesOptions
	logger      logging.Logger
	metrics     *metrics.Metrics
	hostOptions []hostapi.Option
	hostAPI     *hostapi.Server
	handler     http.Handler
	started     time.Time

	serverMutex  sync.RWMutex // Protects httpServer and listener
	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// New creates a dev server for proj.
func New(cfg *config.Config, proj *project.Project, opts ...Option) *DevServer {
	s := &DevServer{
		config:  cfg,
		project: proj,
		routes:  cfg.RoutesOptions(),
		started: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.WithComponent("server")

	hostOpts := append([]hostapi.Option{
		hostapi.WithLogger(s.logger),
		hostapi.WithMetrics(s.metrics),
		hostapi.WithOriginPatterns(originPatterns(cfg.Server.AllowedOrigins)...),
	}, s.hostOptions...)
	s.hostAPI = hostapi.New(hostOpts...)
	s.handler = s.router()
	return s
}

// Handler returns the server's HTTP handler.
func (s *DevServer) Handler() http.Handler { return s.handler }

func (s *DevServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.cors)

	r.Get(HealthPath, s.handleHealth)
	r.Handle(MetricsPath, s.metrics.Handler())
	r.Handle(HostAPIPath, s.hostAPI)
	r.Handle("/*", &source.Handler{
		Root: func(r *http.Request) (source.ContentSource, error) {
			return s.project.DevSource(s.routes).Get(r.Context())
		},
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	return r
}

// Start listens on the configured address and serves until Shutdown.
func (s *DevServer) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.serverMutex.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer // Get local copy for safe access
	s.serverMutex.Unlock()

	base := "http://" + listener.Addr().String()
	s.logger.Info(ctx, "Dev server listening", "url", base, "project", s.project.ProjectDir())
	if s.config.Server.Open {
		go s.openBrowser(ctx, base)
	}

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *DevServer) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server and disconnects every host.
func (s *DevServer) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		// Hijacked websocket connections are not tracked by Shutdown.
		s.hostAPI.Close()
		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})
	return shutdownErr
}

func (s *DevServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *DevServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+project.RSCHeader)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is in the allowed origins list
func (s *DevServer) isAllowedOrigin(origin string) bool {
	return origin != "" && validation.ValidateOrigin(origin, s.config.Server.AllowedOrigins) == nil
}

// originPatterns turns allowed origins into host patterns for the websocket
// origin check.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

// handleHealth returns the server health status for health checks
func (s *DevServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, overall := http.StatusOK, "healthy"
	routes := map[string]interface{}{"status": "healthy"}
	if rs, err := s.project.Routes(r.Context(), s.routes); err != nil {
		status, overall = http.StatusServiceUnavailable, "unhealthy"
		routes = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
	} else {
		routes["count"] = rs.Len()
		routes["conflicts"] = len(rs.Conflicts())
	}

	health := map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).String(),
		"version":   version.GetShortVersion(),
		"project":   s.project.ProjectDir(),
		"mode":      s.project.Options().Mode,
		"checks": map[string]interface{}{
			"routes": routes,
			"engine": map[string]interface{}{"status": "healthy", "cells": s.project.Engine().CellCount()},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

func (s *DevServer) openBrowser(ctx context.Context, target string) {
	if err := validation.ValidateURL(target); err != nil {
		s.logger.Warn(ctx, err, "Refusing to open browser", "url", target)
		return
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	case "darwin":
		cmd = exec.Command("open", target)
	default:
		s.logger.Warn(ctx, nil, "Cannot open browser on this platform", "os", runtime.GOOS)
		return
	}
	if err := cmd.Start(); err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser")
	}
}
