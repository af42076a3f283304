package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/star/isstrack/internal/groundtrack"
	"github.com/star/isstrack/internal/refresh"
	"github.com/star/isstrack/internal/tracker"
	"github.com/star/isstrack/internal/vectors"
)

// vectorView is the JSON form of a state vector.
type vectorView struct {
	Epoch string  `json:"epoch"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	XDot  float64 `json:"x_dot"`
	YDot  float64 `json:"y_dot"`
	ZDot  float64 `json:"z_dot"`
}

func toView(sv vectors.StateVector) vectorView {
	return vectorView{
		Epoch: sv.RawEpoch,
		X:     sv.Position.X,
		Y:     sv.Position.Y,
		Z:     sv.Position.Z,
		XDot:  sv.Velocity.X,
		YDot:  sv.Velocity.Y,
		ZDot:  sv.Velocity.Z,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch vectors.KindOf(err) {
	case vectors.KindNotFound:
		return http.StatusNotFound
	case vectors.KindEpochFormat, vectors.KindInvalidValue:
		return http.StatusBadRequest
	case vectors.KindNotReady:
		return http.StatusServiceUnavailable
	case vectors.KindProviderUnavailable, vectors.KindInvalidTable:
		return http.StatusBadGateway
	}
	if errors.Is(err, refresh.ErrStopped) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDomainError responds with the status for err. Unclassified errors are
// logged and hidden behind a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "component", "api", "request_id", requestID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// queryInt parses a non-negative integer query parameter, returning def when
// the parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, okL := queryInt(r, "limit", math.MaxInt32)
	offset, okO := queryInt(r, "offset", 0)
	if !okL || !okO {
		writeError(w, http.StatusBadRequest, "invalid limit/offset parameter; limit/offset must be non-negative integers")
		return 0, 0, false
	}
	return limit, offset, true
}

// epochsHandler handles GET /epochs?limit=N&offset=M.
func epochsHandler(logger *slog.Logger, svc *tracker.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		svs, err := svc.Epochs(limit, offset)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		out := make([]vectorView, len(svs))
		for i, sv := range svs {
			out[i] = toView(sv)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// epochHandler handles GET /epochs/{epoch}.
func epochHandler(logger *slog.Logger, svc *tracker.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sv, err := svc.Lookup(r.PathValue("epoch"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toView(sv))
	}
}

// speedHandler handles GET /epochs/{epoch}/speed.
func speedHandler(logger *slog.Logger, svc *tracker.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp, err := svc.SpeedOf(r.PathValue("epoch"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)
	}
}

// locationHandler handles GET /epochs/{epoch}/location.
func locationHandler(logger *slog.Logger, svc *tracker.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, err := svc.PositionOf(r.Context(), r.PathValue("epoch"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	}
}

// nowHandler handles GET /now.
func nowHandler(logger *slog.Logger, svc *tracker.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Now(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// summaryHandler handles GET /api/v1/summary.
func summaryHandler(logger *slog.Logger, svc *tracker.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := svc.Summary()
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

type tableResponse struct {
	Loaded       bool      `json:"loaded"`
	Generation   uint64    `json:"generation,omitempty"`
	Token        string    `json:"token,omitempty"`
	Source       string    `json:"source,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	AgeSeconds   int       `json:"age_seconds,omitempty"`
	Vectors      int       `json:"vectors"`
	RefreshState string    `json:"refresh_state,omitempty"`
}

// tableHandler handles GET /api/v1/table. It reports on the installed
// generation and never fails, so it doubles as a debugging probe.
func tableHandler(store *vectors.Store, ref Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp tableResponse
		if ref != nil {
			resp.RefreshState = ref.State().String()
		}
		if t := store.Current(); t != nil {
			resp.Loaded = true
			resp.Generation = t.Generation()
			resp.Token = string(t.Token())
			resp.Source = t.Source()
			resp.FetchedAt = t.FetchedAt()
			resp.AgeSeconds = int(store.AgeSeconds())
			resp.Vectors = t.Len()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type groundTrackResponse struct {
	Generation uint64              `json:"generation"`
	Model      string              `json:"model"`
	Total      int                 `json:"total"`
	Skipped    int                 `json:"skipped"`
	Points     []groundtrack.Point `json:"points"`
}

// groundTrackHandler handles GET /api/v1/groundtrack?limit=N&offset=M.
func groundTrackHandler(logger *slog.Logger, b *groundtrack.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		track, err := b.Current(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, groundTrackResponse{
			Generation: track.Generation(),
			Model:      track.Model().String(),
			Total:      track.Len(),
			Skipped:    track.Skipped(),
			Points:     track.Points(offset, limit),
		})
	}
}

// refreshHandler handles POST /api/v1/refresh.
func refreshHandler(logger *slog.Logger, ref Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ref == nil {
			writeError(w, http.StatusServiceUnavailable, "refresh is disabled")
			return
		}
		logger.Info("manual refresh requested", "component", "api", "request_id", requestID(r.Context()))
		res, err := ref.RefreshNow(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
