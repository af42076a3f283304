// Package oem implements the state-vector provider backed by a CCSDS Orbit
// Ephemeris Message published over HTTP.
package oem

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/star/isstrack/internal/vectors"
)

// Provider fetches and parses OEM documents into payloads for the store.
type Provider struct {
	fetcher *Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewProvider creates a Provider around f.
func NewProvider(f *Fetcher, logger *slog.Logger) *Provider {
	return &Provider{
		fetcher: f,
		logger:  logger,
		now:     time.Now,
	}
}

// FetchFreshnessToken returns the source's current token. Transport
// failures are ProviderUnavailable errors.
func (p *Provider) FetchFreshnessToken(ctx context.Context) (vectors.FreshnessToken, error) {
	tok, err := p.fetcher.Head(ctx)
	if err != nil {
		return "", vectors.NewError(vectors.KindProviderUnavailable, "fetch freshness token", err)
	}
	return tok, nil
}

// FetchVectors downloads and parses the full document. When the response
// carries no Last-Modified or ETag header, the OEM creation date stands in
// as the token.
func (p *Provider) FetchVectors(ctx context.Context) (vectors.Payload, error) {
	start := p.now()
	body, tok, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return vectors.Payload{}, vectors.NewError(vectors.KindProviderUnavailable, "fetch vectors", err)
	}

	md, svs, err := Parse(bytes.NewReader(body))
	if err != nil {
		return vectors.Payload{}, err
	}
	if tok == "" && md.CreationDate != "" {
		tok = vectors.FreshnessToken("created:" + md.CreationDate)
	}

	p.logger.Debug("OEM document parsed",
		"component", "oem",
		"vectors", len(svs),
		"bytes", len(body),
		"token", string(tok),
		"duration_ms", p.now().Sub(start).Milliseconds(),
	)

	return vectors.Payload{
		Token:     tok,
		Source:    p.fetcher.SourceURL(),
		FetchedAt: p.now().UTC(),
		Metadata:  md,
		Vectors:   svs,
	}, nil
}
