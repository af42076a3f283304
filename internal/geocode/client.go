// Package geocode resolves coordinates to place names with a Nominatim
// compatible reverse geocoding service.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/star/isstrack/internal/metrics"
)

const (
	// DefaultBaseURL is the public OpenStreetMap Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	// NoAddress is returned when a point has no address, e.g. over the ocean.
	NoAddress = "no address available"

	defaultUserAgent = "isstrack/1.0"
	maxBodyBytes     = 1 << 20
)

// Client is a reverse geocoding client.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. Nominatim's usage policy requires an
// identifying User-Agent.
func NewClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// ResolvePlace returns the display name of the place at lat/lon in degrees.
// A point with no address yields NoAddress and a nil error; transport and
// decoding failures yield NoAddress and the error.
func (c *Client) ResolvePlace(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("zoom", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return NoAddress, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGeocode("error")
		return NoAddress, fmt.Errorf("reverse geocoding: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordGeocode("error")
		return NoAddress, fmt.Errorf("unexpected status code %d from geocoder", resp.StatusCode)
	}

	var out reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		metrics.RecordGeocode("error")
		return NoAddress, fmt.Errorf("decoding geocoder response: %w", err)
	}

	if out.Error != "" || out.DisplayName == "" {
		metrics.RecordGeocode("empty")
		c.logger.Debug("no address for position", "component", "geocode", "lat", lat, "lon", lon, "reason", out.Error)
		return NoAddress, nil
	}

	metrics.RecordGeocode("ok")
	return out.DisplayName, nil
}
