package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// writeWindow bounds each individual write on a stream connection.
const writeWindow = 30 * time.Second

// client is one SSE connection. Every event carries a name so browsers can
// listen for "metadata" and "position" separately.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger

	eventsSent int64
}

// send writes v as a named SSE event: "event: name\ndata: {json}\n\n".
func (c *client) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)); err != nil {
		return err
	}
	c.eventsSent++
	return nil
}

// sendKeepalive writes an SSE comment so idle proxies keep the connection.
func (c *client) sendKeepalive() error {
	return c.write(":\n\n")
}

// sendRetry tells the browser how long to wait before reconnecting.
func (c *client) sendRetry(d time.Duration) error {
	return c.write(fmt.Sprintf("retry: %d\n\n", d.Milliseconds()))
}

func (c *client) write(s string) error {
	// Each write gets its own deadline since the server-wide one is cleared.
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeWindow)); err != nil {
		c.logger.Debug("could not set write deadline", "component", "stream", "error", err)
	}
	if _, err := fmt.Fprint(c.w, s); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()
	return nil
}
