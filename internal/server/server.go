// Package server exposes edit sessions over HTTP: an SSE endpoint, a
// WebSocket variant, the add-in's static files and a small admin API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/relay"
)

// sseFlushWriter wraps a ResponseWriter to flush after each write.
type sseFlushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw sseFlushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}
	return n, err
}

// SessionRunner runs one edit session against a sink.
type SessionRunner interface {
	Run(ctx context.Context, req relay.Request, sink relay.Sink) error
}

// Options configures the optional parts of a Server.
type Options struct {
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	// RecentSessions backs GET /admin/sessions.
	RecentSessions func(ctx context.Context, limit int) (any, error)
	// Reload backs POST /admin/config/reload.
	Reload func(ctx context.Context) error
}

type Server struct {
	runner  SessionRunner
	cfg     config.ServerConfig
	opts    Options
	mux     *http.ServeMux
	logger  zerolog.Logger
	handler http.Handler
}

func New(logger zerolog.Logger, runner SessionRunner, cfg config.ServerConfig, opts Options) *Server {
	s := &Server{
		runner: runner,
		cfg:    cfg,
		opts:   opts,
		mux:    http.NewServeMux(),
		logger: logger,
	}

	s.setupRoutes()
	s.handler = s.loggingMiddleware(s.corsMiddleware(s.mux))
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/process", s.processHandler)
	s.mux.HandleFunc("/api/process/ws", s.processWebSocketHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/admin/sessions", s.adminMiddleware(s.sessionsHandler))
	s.mux.HandleFunc("/admin/config/reload", s.adminMiddleware(s.reloadHandler))
	if s.opts.Metrics != nil {
		path := s.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle(path, s.opts.Metrics)
	}
	s.mux.Handle("/assets/", s.assetsHandler())
	s.mux.HandleFunc("/", s.rootHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Incoming request")
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowedOrigin(origin); allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			if allowed != "*" {
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				reqHeaders := r.Header.Get("Access-Control-Request-Headers")
				if reqHeaders == "" {
					reqHeaders = "Content-Type, Authorization, X-API-Key"
				}
				h.Set("Access-Control-Allow-Headers", reqHeaders)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("Unhandled route")
	http.NotFound(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
