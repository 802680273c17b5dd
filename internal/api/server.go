package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyuha/sensorfeed/internal/metrics"
	"github.com/vyuha/sensorfeed/internal/monitor"
	"github.com/vyuha/sensorfeed/internal/summary"
)

// Options configures NewServer. Zero values are usable.
type Options struct {
	// Summarizer answers POST /api/summary. Nil answers with the local
	// fallback only.
	Summarizer summary.Summarizer

	Metrics *metrics.Metrics

	// SummaryRPS and SummaryBurst bound POST /api/summary.
	SummaryRPS   float64
	SummaryBurst int

	// StaticDir, when set, is served at / as a single-page app.
	StaticDir string
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server is the HTTP API layer for sensorfeed.
type Server struct {
	monitor        *monitor.Monitor
	sse            *SSEBroadcaster
	mux            *http.ServeMux
	server         *http.Server
	summarizer     summary.Summarizer
	metrics        *metrics.Metrics
	summaryLimiter *rate.Limiter
	staticDir      string
}

// NewServer creates a Server over mon. Pass the same SSE hub that the
// monitor broadcasts to (see NewMonitorBroadcaster).
func NewServer(mon *monitor.Monitor, sse *SSEBroadcaster, opts Options) *Server {
	if sse == nil {
		sse = NewSSEBroadcaster(opts.Metrics)
	}
	rps, burst := opts.SummaryRPS, opts.SummaryBurst
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &Server{
		monitor:        mon,
		sse:            sse,
		mux:            http.NewServeMux(),
		summarizer:     opts.Summarizer,
		metrics:        opts.Metrics,
		summaryLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		staticDir:      opts.StaticDir,
	}
}

// RegisterRoutes wires up every API endpoint.
func (s *Server) RegisterRoutes() {
	// -- Device session ---------------------------------------------------
	s.mux.HandleFunc("POST /api/session", s.handleConnect)
	s.mux.HandleFunc("DELETE /api/session", s.handleDisconnect)
	s.mux.HandleFunc("GET /api/session", s.handleSessionStatus)
	s.mux.HandleFunc("GET /api/window", s.handleWindow)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessionHistory)

	// -- Summaries (POST is rate-limited) ---------------------------------
	s.mux.HandleFunc("POST /api/summary",
		s.withRateLimit(s.summaryLimiter, s.handleSummarize))
	s.mux.HandleFunc("GET /api/summary", s.handleLatestSummary)

	// -- SSE event stream -------------------------------------------------
	s.mux.HandleFunc("GET /api/events", s.handleSSE)

	// -- Health and metrics -----------------------------------------------
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	if s.staticDir != "" {
		s.serveFrontend(s.staticDir)
	}
}

// serveFrontend registers a static file handler for a dashboard build.
// dir is tried as given and relative to the executable; if neither
// exists static serving is skipped.
func (s *Server) serveFrontend(dir string) {
	candidates := []string{dir}
	if exe, err := os.Executable(); err == nil && !filepath.IsAbs(dir) {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), dir))
	}

	var distDir string
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			distDir = c
			break
		}
	}
	if distDir == "" {
		slog.Warn("static dir not found, dashboard not served", "dir", dir)
		return
	}

	absDir, _ := filepath.Abs(distDir)
	slog.Info("serving dashboard", "dir", absDir)

	distFS := os.DirFS(distDir)
	fileServer := http.FileServerFS(distFS)

	s.mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Stat(distFS, path); err == nil && !f.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		// SPA fallback: serve index.html for client-side routing.
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

// Handler returns the fully-wrapped http.Handler (middleware chain + mux).
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoveryMiddleware(h)
	h = loggingMiddleware(h)
	h = corsMiddleware(h)
	return h
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /api/events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown closes SSE streams, then gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sse.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "sensorfeed",
		"source":    s.monitor.SourceName(),
		"connected": s.monitor.Connected(),
	})
}

// ---------------------------------------------------------------------------
// JSON response helpers
// ---------------------------------------------------------------------------

// writeJSON writes an arbitrary value as JSON with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a standardised JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// queryLimit parses ?limit=, falling back to def and capping at max.
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware allows requests from any localhost origin (dashboard dev
// servers).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the status code written by downstream handlers.
// It also implements http.Flusher so SSE streaming works through the
// logging middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher by delegating to the underlying writer.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware logs method, path, duration and status code.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"internal server error"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit wraps a handler with a token-bucket rate limiter.
// Returns 429 when the limiter is exhausted. The limiter is per-server,
// not per-client.
func (s *Server) withRateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			writeJSON(w, http.StatusTooManyRequests, summary.ErrorResponse{Message: "rate limit exceeded"})
			slog.Warn("rate limit exceeded",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			return
		}
		next(w, r)
	}
}
