// Package stream implements Server-Sent Events (SSE) streaming of the
// spacecraft's position. Clients connect via GET /api/v1/stream/now and
// receive the state nearest to the current instant at a fixed interval.
//
// SSE message format:
//
//	event: position
//	data: {"type":"position","generation":3,"latitude":...,"speed":7.66,"now_timestamp":"..."}
//
// The first event is metadata when a table is installed:
//
//	event: metadata
//	data: {"type":"metadata","generation":3,"token":"...","table_age_seconds":1800}
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/isstrack/internal/httputil"
	"github.com/star/isstrack/internal/metrics"
	"github.com/star/isstrack/internal/tracker"
	"github.com/star/isstrack/internal/vectors"
)

// NowSource yields the state nearest to the current instant.
type NowSource interface {
	Now(ctx context.Context) (tracker.NowResult, error)
}

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	Interval           time.Duration // Default time between position events (default: 5s).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Honor X-Forwarded-For / X-Real-IP for limits.
}

// Handler manages SSE streaming connections.
type Handler struct {
	source  NowSource
	store   *vectors.Store
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(source NowSource, store *vectors.Store, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP < 1 {
		config.MaxConcurrentPerIP = 10
	}
	if config.MaxTotal < 1 {
		config.MaxTotal = 1000
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		source:  source,
		store:   store,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
	}
}

// HandleNow serves the SSE position stream.
// GET /api/v1/stream/now?interval=5
func (h *Handler) HandleNow(w http.ResponseWriter, r *http.Request) {
	interval := h.config.Interval
	if v := r.URL.Query().Get("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			writeError(w, http.StatusBadRequest, "invalid interval parameter, must be 1-60")
			return
		}
		interval = time.Duration(n) * time.Second
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		h.logger.Warn("stream rate limit exceeded",
			"component", "stream",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.StreamClientConnected()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"component", "stream",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"interval_seconds", interval.Seconds(),
	)

	// Cleanup on disconnect: release rate limit slot and update metrics.
	defer func() {
		h.limiter.release(ip)
		metrics.StreamClientDisconnected()
		h.logger.Info("stream disconnected",
			"component", "stream",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "component", "stream", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) so a server restart does not cause a
	// reconnection storm.
	if err := c.sendRetry(time.Duration(3000+rand.Intn(4000)) * time.Millisecond); err != nil {
		return
	}

	if t := h.store.Current(); t != nil {
		meta := metadataMessage{
			Type:       "metadata",
			Generation: t.Generation(),
			Token:      string(t.Token()),
			TableAge:   int(time.Since(t.FetchedAt()).Seconds()),
		}
		if err := c.send("metadata", meta); err != nil {
			h.logger.Warn("stream send error (metadata)", "component", "stream", "remote_ip", ip, "error", err)
			return
		}
	}

	ctx := r.Context()
	if err := h.sendPosition(ctx, c); err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := h.sendPosition(ctx, c); err != nil {
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				h.logger.Warn("stream keepalive error", "component", "stream", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// sendPosition writes one position event. A missing table is skipped; only
// write failures end the stream.
func (h *Handler) sendPosition(ctx context.Context, c *client) error {
	res, err := h.source.Now(ctx)
	if err != nil {
		if errors.Is(err, vectors.ErrNotReady) {
			h.logger.Debug("stream skipped, no table yet", "component", "stream", "remote_ip", c.ip)
		} else {
			h.logger.Warn("stream position error", "component", "stream", "remote_ip", c.ip, "error", err)
		}
		return nil
	}

	msg := positionMessage{Type: "position", NowResult: res}
	if t := h.store.Current(); t != nil {
		msg.Generation = t.Generation()
	}
	if err := c.send("position", msg); err != nil {
		h.logger.Warn("stream send error", "component", "stream", "remote_ip", c.ip, "error", err)
		return err
	}
	metrics.IncStreamEvents()
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// SSE message payload types.

type metadataMessage struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	Token      string `json:"token"`
	TableAge   int    `json:"table_age_seconds"`
}

type positionMessage struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	tracker.NowResult
}
