// Package notify publishes table generation changes to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/star/isstrack/internal/vectors"
)

// DefaultSubject is the subject generation events are published on.
const DefaultSubject = "isstrack.table.generation"

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Event announces a newly installed table generation.
type Event struct {
	Generation  uint64    `json:"generation"`
	Token       string    `json:"token"`
	Source      string    `json:"source"`
	Vectors     int       `json:"vectors"`
	FirstEpoch  string    `json:"first_epoch"`
	LastEpoch   string    `json:"last_epoch"`
	FetchedAt   time.Time `json:"fetched_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher sends generation events.
type Publisher struct {
	conn    Conn
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// Connect dials the NATS server at url.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("isstrack"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "component", "notify", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "component", "notify", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewPublisher(nc, subject, logger), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
		now:     time.Now,
	}
}

// Publish sends an event for t and waits for the server to acknowledge the
// flush, bounded by ctx.
func (p *Publisher) Publish(ctx context.Context, t *vectors.Table) error {
	first, last := t.Span()
	ev := Event{
		Generation:  t.Generation(),
		Token:       string(t.Token()),
		Source:      t.Source(),
		Vectors:     t.Len(),
		FirstEpoch:  vectors.FormatEpoch(first),
		LastEpoch:   vectors.FormatEpoch(last),
		FetchedAt:   t.FetchedAt(),
		PublishedAt: p.now().UTC(),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}

	p.logger.Debug("published generation event", "component", "notify", "subject", p.subject, "generation", ev.Generation)
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
