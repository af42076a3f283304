package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/star/isstrack/internal/auth"
	"github.com/star/isstrack/internal/groundtrack"
	"github.com/star/isstrack/internal/health"
	"github.com/star/isstrack/internal/httputil"
	"github.com/star/isstrack/internal/metrics"
	"github.com/star/isstrack/internal/refresh"
	"github.com/star/isstrack/internal/stream"
	"github.com/star/isstrack/internal/tracker"
	"github.com/star/isstrack/internal/vectors"
)

// Refresher triggers an out-of-schedule refresh.
type Refresher interface {
	RefreshNow(ctx context.Context) (refresh.Result, error)
	State() refresh.State
}

// Deps are the collaborators the routes read from.
type Deps struct {
	Store       *vectors.Store
	Tracker     *tracker.Service
	GroundTrack *groundtrack.Builder
	Refresher   Refresher
	Stream      *stream.Handler

	// TrustProxy makes request logs use the forwarded client address.
	TrustProxy bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool { return deps.Store.Current() != nil }))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /epochs", epochsHandler(logger, deps.Tracker))
	mux.HandleFunc("GET /epochs/{epoch}", epochHandler(logger, deps.Tracker))
	mux.HandleFunc("GET /epochs/{epoch}/speed", speedHandler(logger, deps.Tracker))
	mux.HandleFunc("GET /epochs/{epoch}/location", locationHandler(logger, deps.Tracker))
	mux.HandleFunc("GET /now", nowHandler(logger, deps.Tracker))

	mux.HandleFunc("GET /api/v1/summary", summaryHandler(logger, deps.Tracker))
	mux.HandleFunc("GET /api/v1/table", tableHandler(deps.Store, deps.Refresher))
	mux.HandleFunc("GET /api/v1/groundtrack", groundTrackHandler(logger, deps.GroundTrack))
	mux.HandleFunc("POST /api/v1/refresh", refreshHandler(logger, deps.Refresher))
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/now", deps.Stream.HandleNow)
	}

	// Build middleware chain: metrics -> request id -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, deps.TrustProxy)(handler)
	handler = requestIDMiddleware(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware propagates the caller's request id or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE works behind the logging middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", requestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
