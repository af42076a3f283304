package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/isstrack/internal/vectors"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

type fakeConn struct {
	subjects []string
	payloads [][]byte
	pubErr   error
	flushErr error
	drained  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) FlushWithContext(ctx context.Context) error { return f.flushErr }

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func testTable(t *testing.T) *vectors.Table {
	t.Helper()
	var svs []vectors.StateVector
	for _, raw := range []string{"2025-050T12:04:00.000Z", "2025-050T12:00:00.000Z"} {
		e, err := vectors.ParseEpoch(raw)
		require.NoError(t, err)
		svs = append(svs, vectors.StateVector{Epoch: e, Position: vectors.Vec3{X: 6778}})
	}
	tbl, _, err := vectors.NewStore().Replace(vectors.Payload{
		Token:     "v1",
		Source:    "https://example.test/oem.xml",
		FetchedAt: time.Date(2025, 2, 19, 12, 0, 0, 0, time.UTC),
		Vectors:   svs,
	})
	require.NoError(t, err)
	return tbl
}

func TestPublishEncodesEvent(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "", testLogger)
	p.now = func() time.Time { return time.Date(2025, 2, 19, 12, 1, 0, 0, time.UTC) }

	require.NoError(t, p.Publish(context.Background(), testTable(t)))
	require.Len(t, conn.payloads, 1)
	assert.Equal(t, DefaultSubject, conn.subjects[0])

	var ev Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &ev))
	assert.Equal(t, uint64(1), ev.Generation)
	assert.Equal(t, "v1", ev.Token)
	assert.Equal(t, 2, ev.Vectors)
	assert.Equal(t, "2025-050T12:00:00.000Z", ev.FirstEpoch)
	assert.Equal(t, "2025-050T12:04:00.000Z", ev.LastEpoch)

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestPublishErrors(t *testing.T) {
	tbl := testTable(t)

	p := NewPublisher(&fakeConn{pubErr: errors.New("nats: connection closed")}, "custom", testLogger)
	assert.ErrorContains(t, p.Publish(context.Background(), tbl), "failed to publish")

	p = NewPublisher(&fakeConn{flushErr: context.DeadlineExceeded}, "custom", testLogger)
	err := p.Publish(context.Background(), tbl)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
