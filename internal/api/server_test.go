package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/star/isstrack/internal/auth"
	"github.com/star/isstrack/internal/groundtrack"
	"github.com/star/isstrack/internal/refresh"
	"github.com/star/isstrack/internal/tracker"
	"github.com/star/isstrack/internal/transform"
	"github.com/star/isstrack/internal/vectors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var testEpochs = []string{
	"2025-050T12:00:00.000Z",
	"2025-050T12:04:00.000Z",
	"2025-050T12:08:00.000Z",
}

func testStore(t *testing.T) *vectors.Store {
	t.Helper()
	svs := make([]vectors.StateVector, len(testEpochs))
	for i, raw := range testEpochs {
		e, err := vectors.ParseEpoch(raw)
		if err != nil {
			t.Fatal(err)
		}
		svs[i] = vectors.StateVector{
			Epoch:    e,
			RawEpoch: raw,
			Position: vectors.Vec3{X: -4942.1309, Y: -2829.6548, Z: 3658.4917},
			Velocity: vectors.Vec3{X: 3, Y: 4, Z: 0},
		}
	}
	store := vectors.NewStore()
	if _, _, err := store.Replace(vectors.Payload{Token: "v1", Source: "test", FetchedAt: time.Now(), Vectors: svs}); err != nil {
		t.Fatal(err)
	}
	return store
}

type fakeRefresher struct {
	calls int
	res   refresh.Result
	err   error
}

func (f *fakeRefresher) RefreshNow(ctx context.Context) (refresh.Result, error) {
	f.calls++
	return f.res, f.err
}

func (f *fakeRefresher) State() refresh.State { return refresh.StateIdle }

func newTestServer(store *vectors.Store, ref Refresher, authCfg auth.Config) http.Handler {
	logger := testLogger()
	deps := Deps{
		Store:       store,
		Tracker:     tracker.New(store, nil, transform.ModelIAU76, logger),
		GroundTrack: groundtrack.NewBuilder(store, groundtrack.Config{Workers: 2, Model: transform.ModelIAU76}, logger),
		Refresher:   ref,
	}
	return NewServer(":0", logger, authCfg, deps).Handler()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouteStatus(t *testing.T) {
	h := newTestServer(testStore(t), &fakeRefresher{}, auth.Config{})

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"list", "/epochs", http.StatusOK},
		{"list window", "/epochs?limit=1&offset=1", http.StatusOK},
		{"bad limit", "/epochs?limit=abc", http.StatusBadRequest},
		{"negative offset", "/epochs?offset=-1", http.StatusBadRequest},
		{"epoch", "/epochs/2025-050T12:04:00.000Z", http.StatusOK},
		{"epoch missing", "/epochs/2025-050T12:05:00.000Z", http.StatusNotFound},
		{"epoch malformed", "/epochs/yesterday", http.StatusBadRequest},
		{"speed", "/epochs/2025-050T12:04:00.000Z/speed", http.StatusOK},
		{"speed missing", "/epochs/2025-051T12:04:00.000Z/speed", http.StatusNotFound},
		{"location", "/epochs/2025-050T12:04:00.000Z/location", http.StatusOK},
		{"location malformed", "/epochs/2025-400T12:04:00.000Z/location", http.StatusBadRequest},
		{"now", "/now", http.StatusOK},
		{"summary", "/api/v1/summary", http.StatusOK},
		{"table", "/api/v1/table", http.StatusOK},
		{"groundtrack", "/api/v1/groundtrack?limit=2", http.StatusOK},
		{"groundtrack bad offset", "/api/v1/groundtrack?offset=x", http.StatusBadRequest},
		{"healthz", "/healthz", http.StatusOK},
		{"readyz", "/readyz", http.StatusOK},
		{"unknown", "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "GET", tt.target)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if w.Code >= 400 && tt.name != "unknown" {
				var resp map[string]any
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decode error body: %v", err)
				}
				if _, ok := resp["error"]; !ok {
					t.Error("expected 'error' field in response")
				}
			}
		})
	}
}

func TestEpochsPagination(t *testing.T) {
	h := newTestServer(testStore(t), nil, auth.Config{})

	w := do(t, h, "GET", "/epochs?limit=1&offset=1")
	var got []vectorView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Epoch != testEpochs[1] {
		t.Fatalf("got %+v, want only %s", got, testEpochs[1])
	}

	w = do(t, h, "GET", "/epochs")
	got = nil
	json.NewDecoder(w.Body).Decode(&got)
	if len(got) != len(testEpochs) {
		t.Errorf("default limit returned %d vectors, want %d", len(got), len(testEpochs))
	}

	w = do(t, h, "GET", "/epochs?offset=10")
	got = nil
	json.NewDecoder(w.Body).Decode(&got)
	if w.Code != http.StatusOK || len(got) != 0 {
		t.Errorf("offset past end: status %d, %d vectors; want 200 and none", w.Code, len(got))
	}
}

func TestSpeedBody(t *testing.T) {
	h := newTestServer(testStore(t), nil, auth.Config{})

	w := do(t, h, "GET", "/epochs/2025-050T12:00:00.000Z/speed")
	var got tracker.Speed
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Speed != 5 || got.Units != tracker.SpeedUnits {
		t.Errorf("speed = %+v, want 5 %s", got, tracker.SpeedUnits)
	}
}

func TestEmptyStore(t *testing.T) {
	h := newTestServer(vectors.NewStore(), nil, auth.Config{})

	for _, target := range []string{"/now", "/epochs", "/api/v1/summary", "/api/v1/groundtrack", "/readyz"} {
		if w := do(t, h, "GET", target); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", target, w.Code)
		}
	}

	w := do(t, h, "GET", "/api/v1/table")
	var resp tableResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || resp.Loaded {
		t.Errorf("table: status %d loaded %v, want 200 and false", w.Code, resp.Loaded)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	ref := &fakeRefresher{res: refresh.Result{Outcome: "replaced", Generation: 2}}
	h := newTestServer(testStore(t), ref, auth.Config{Enabled: true, Token: "s3cret"})

	if w := do(t, h, "POST", "/api/v1/refresh"); w.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d, want 401", w.Code)
	}
	if ref.calls != 0 {
		t.Fatal("refresh ran without a token")
	}

	req := httptest.NewRequest("POST", "/api/v1/refresh", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with token: status = %d, want 200", w.Code)
	}
	var res refresh.Result
	json.NewDecoder(w.Body).Decode(&res)
	if res.Generation != 2 || ref.calls != 1 {
		t.Errorf("result = %+v after %d calls", res, ref.calls)
	}

	// Reads stay public.
	if w := do(t, h, "GET", "/now"); w.Code != http.StatusOK {
		t.Errorf("/now with auth enabled: status = %d, want 200", w.Code)
	}
}

func TestRefreshErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"provider down", vectors.Errorf(vectors.KindProviderUnavailable, "fetch", "timeout"), http.StatusBadGateway},
		{"bad table", vectors.Errorf(vectors.KindInvalidTable, "parse", "no vectors"), http.StatusBadGateway},
		{"stopped", refresh.ErrStopped, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(testStore(t), &fakeRefresher{err: tt.err}, auth.Config{})
			if w := do(t, h, "POST", "/api/v1/refresh"); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	h := newTestServer(testStore(t), nil, auth.Config{})
	if w := do(t, h, "POST", "/api/v1/refresh"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no refresher: status = %d, want 503", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{vectors.ErrNotFound, http.StatusNotFound},
		{vectors.ErrEpochFormat, http.StatusBadRequest},
		{vectors.ErrInvalidValue, http.StatusBadRequest},
		{vectors.ErrNotReady, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", vectors.ErrNotFound), http.StatusNotFound},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRequestID(t *testing.T) {
	h := newTestServer(testStore(t), nil, auth.Config{})

	w := do(t, h, "GET", "/healthz")
	if id := w.Header().Get(RequestIDHeader); len(id) != 36 {
		t.Errorf("generated request id = %q, want a uuid", id)
	}

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if id := w.Header().Get(RequestIDHeader); id != "abc-123" {
		t.Errorf("request id = %q, want caller's abc-123", id)
	}
}

func TestProbePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/healthz", true},
		{"/readyz", true},
		{"/metrics", true},
		{"/now", false},
		{"/epochs", false},
	}
	for _, tt := range tests {
		if got := probePath(tt.path); got != tt.want {
			t.Errorf("probePath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
