package oem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/isstrack/internal/vectors"
)

const (
	// DefaultSourceURL is NASA's public ISS ephemeris in the J2000 frame.
	DefaultSourceURL = "https://nasa-public-data.s3.amazonaws.com/iss-coords/current/ISS_OEM/ISS.OEM_J2K_EPH.xml"

	defaultMaxBodyBytes = 50 << 20
	defaultTimeout      = 30 * time.Second
)

// Fetcher retrieves the raw OEM document and its freshness token.
type Fetcher struct {
	sourceURL    string
	httpClient   *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL.
func NewFetcher(sourceURL string, timeout time.Duration, maxBodyBytes int64, logger *slog.Logger) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Fetcher{
		sourceURL:    sourceURL,
		httpClient:   &http.Client{Timeout: timeout},
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Head asks the source for its current freshness token without downloading
// the document. A source that does not support HEAD, or sends neither
// Last-Modified nor ETag, yields the empty (unknown) token.
func (f *Fetcher) Head(ctx context.Context) (vectors.FreshnessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting OEM headers: %w", err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return tokenFromHeader(resp.Header), nil
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		f.logger.Debug("source does not support HEAD", "component", "oem", "status", resp.StatusCode)
		return "", nil
	default:
		return "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}
}

// Fetch performs an HTTP GET for the OEM document. The token is read from
// the same response as the body so the two always agree.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, vectors.FreshnessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching OEM data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, "", fmt.Errorf("response from %s exceeds %d byte limit", f.sourceURL, f.maxBodyBytes)
	}

	return body, tokenFromHeader(resp.Header), nil
}

func tokenFromHeader(h http.Header) vectors.FreshnessToken {
	if lm := h.Get("Last-Modified"); lm != "" {
		return vectors.FreshnessToken(lm)
	}
	return vectors.FreshnessToken(h.Get("ETag"))
}
