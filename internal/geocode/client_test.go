package geocode

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func TestResolvePlace(t *testing.T) {
	var gotQuery, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"place_id":1,"display_name":"Austin, Travis County, Texas, United States"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "isstrack-test", 0, testLogger)
	name, err := c.ResolvePlace(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	assert.Equal(t, "Austin, Travis County, Texas, United States", name)
	assert.Contains(t, gotQuery, "format=jsonv2")
	assert.Contains(t, gotQuery, "lat=30.267200")
	assert.Contains(t, gotQuery, "lon=-97.743100")
	assert.Equal(t, "isstrack-test", gotUA)
}

func TestResolvePlaceOcean(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer server.Close()

	name, err := NewClient(server.URL, "", 0, testLogger).ResolvePlace(context.Background(), 0, -140)
	require.NoError(t, err)
	assert.Equal(t, NoAddress, name)
}

func TestResolvePlaceFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			name, err := NewClient(server.URL, "", 0, testLogger).ResolvePlace(context.Background(), 10, 10)
			assert.Error(t, err)
			assert.Equal(t, NoAddress, name)
		})
	}
}
