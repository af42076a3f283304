package oem

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/star/isstrack/internal/vectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderFetchVectors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Wed, 19 Feb 2025 12:00:00 GMT")
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte(sampleOEM))
	}))
	defer server.Close()

	p := NewProvider(NewFetcher(server.URL, 0, 0, testLogger), testLogger)

	tok, err := p.FetchFreshnessToken(context.Background())
	require.NoError(t, err)

	payload, err := p.FetchVectors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, payload.Token)
	assert.Equal(t, server.URL, payload.Source)
	assert.Equal(t, "ISS", payload.Metadata.ObjectName)
	assert.Len(t, payload.Vectors, 3)
	assert.False(t, payload.FetchedAt.IsZero())
}

func TestProviderTokenFallsBackToCreationDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleOEM))
	}))
	defer server.Close()

	p := NewProvider(NewFetcher(server.URL, 0, 0, testLogger), testLogger)
	payload, err := p.FetchVectors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vectors.FreshnessToken("created:2025-050T08:10:25.531Z"), payload.Token)
}

func TestProviderErrorKinds(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	p := NewProvider(NewFetcher(down.URL, 0, 0, testLogger), testLogger)
	_, err := p.FetchFreshnessToken(context.Background())
	assert.ErrorIs(t, err, vectors.ErrProviderUnavailable)
	_, err = p.FetchVectors(context.Background())
	assert.ErrorIs(t, err, vectors.ErrProviderUnavailable)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer garbage.Close()

	p = NewProvider(NewFetcher(garbage.URL, 0, 0, testLogger), testLogger)
	_, err = p.FetchVectors(context.Background())
	assert.ErrorIs(t, err, vectors.ErrInvalidTable)
}
