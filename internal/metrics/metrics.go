package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh results used as the "result" label.
const (
	RefreshReplaced      = "replaced"
	RefreshUnchanged     = "unchanged"
	RefreshProviderError = "provider_error"
	RefreshInvalidTable  = "invalid_table"
	RefreshDiscarded     = "discarded"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isstrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "isstrack_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isstrack_refresh_total",
			Help: "Refresh attempts by result.",
		},
		[]string{"result"},
	)

	refreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "isstrack_refresh_duration_seconds",
			Help:    "Duration of refresh attempts in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	refreshHookErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isstrack_refresh_hook_errors_total",
			Help: "Post-install hook failures by hook name.",
		},
		[]string{"hook"},
	)

	tableGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "isstrack_table_generation",
			Help: "Generation id of the installed state-vector table.",
		},
	)

	tableVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "isstrack_table_vectors",
			Help: "Number of state vectors in the installed table.",
		},
	)

	tableAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "isstrack_table_age_seconds",
			Help: "Seconds since the installed table was fetched.",
		},
	)

	streamClientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "isstrack_stream_clients_active",
			Help: "Number of connected SSE clients.",
		},
	)

	streamEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "isstrack_stream_events_total",
			Help: "Total SSE position events sent.",
		},
	)

	geocodeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isstrack_geocode_requests_total",
			Help: "Reverse geocoding requests by result.",
		},
		[]string{"result"},
	)

	groundtrackBuildSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "isstrack_groundtrack_build_seconds",
			Help:    "Time to build the ground track for a table generation.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		refreshTotal,
		refreshDurationSeconds,
		refreshHookErrorsTotal,
		tableGeneration,
		tableVectors,
		tableAgeSeconds,
		streamClientsActive,
		streamEventsTotal,
		geocodeRequestsTotal,
		groundtrackBuildSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRefresh counts one refresh attempt and its duration.
func RecordRefresh(result string, d time.Duration) {
	refreshTotal.WithLabelValues(result).Inc()
	refreshDurationSeconds.Observe(d.Seconds())
}

// IncRefreshHookError counts a failed post-install hook.
func IncRefreshHookError(hook string) {
	refreshHookErrorsTotal.WithLabelValues(hook).Inc()
}

// SetTable records the generation and size of a newly installed table.
func SetTable(generation uint64, vectors int) {
	tableGeneration.Set(float64(generation))
	tableVectors.Set(float64(vectors))
}

// SetTableAge sets the age gauge of the installed table.
func SetTableAge(seconds float64) {
	tableAgeSeconds.Set(seconds)
}

func StreamClientConnected() { streamClientsActive.Inc() }
func StreamClientDisconnected() { streamClientsActive.Dec() }
func IncStreamEvents() { streamEventsTotal.Inc() }

// RecordGeocode counts a reverse geocoding request ("ok", "empty", "error").
func RecordGeocode(result string) {
	geocodeRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveGroundtrackBuild records how long a ground track build took.
func ObserveGroundtrackBuild(d time.Duration) {
	groundtrackBuildSeconds.Observe(d.Seconds())
}

var exactRoutes = map[string]bool{
	"/healthz":            true,
	"/readyz":             true,
	"/metrics":            true,
	"/epochs":             true,
	"/now":                true,
	"/api/v1/summary":     true,
	"/api/v1/groundtrack": true,
	"/api/v1/table":       true,
	"/api/v1/refresh":     true,
	"/api/v1/stream/now":  true,
}

// normalizeRoute maps a request path to a bounded set of labels so that
// per-epoch paths and scanner noise cannot blow up series cardinality.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, "/epochs/")
	if !ok || rest == "" {
		return "other"
	}
	epoch, suffix, _ := strings.Cut(rest, "/")
	if epoch == "" {
		return "other"
	}
	switch suffix {
	case "":
		return "/epochs/{epoch}"
	case "speed":
		return "/epochs/{epoch}/speed"
	case "location":
		return "/epochs/{epoch}/location"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through to the underlying writer so SSE keeps working
// behind this middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController clear the write deadline on streams.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
