// Package persist keeps the last good table outside the process so a restart
// can serve queries before the first successful refresh.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/isstrack/internal/vectors"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot available")

// Snapshotter saves and restores a table generation.
type Snapshotter interface {
	Save(ctx context.Context, t *vectors.Table) error
	Load(ctx context.Context) (vectors.Payload, error)
}

const snapshotVersion = 1

// Restore installs the saved table into store. A missing snapshot returns
// (nil, nil); a corrupt one is an error and leaves the store untouched.
func Restore(ctx context.Context, s Snapshotter, store *vectors.Store, logger *slog.Logger) (*vectors.Table, error) {
	p, err := s.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		logger.Info("no snapshot found, starting without state vectors", "component", "persist")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	t, _, err := store.Replace(p)
	if err != nil {
		return nil, fmt.Errorf("installing snapshot: %w", err)
	}
	logger.Info("restored state vectors from snapshot",
		"component", "persist",
		"generation", t.Generation(),
		"vectors", t.Len(),
		"token", string(t.Token()),
		"fetched_at", t.FetchedAt().Format(time.RFC3339),
	)
	return t, nil
}

type snapshot struct {
	Version    int              `json:"version"`
	Generation uint64           `json:"generation"`
	Token      string           `json:"token"`
	Source     string           `json:"source"`
	FetchedAt  time.Time        `json:"fetched_at"`
	SavedAt    time.Time        `json:"saved_at"`
	Metadata   vectors.Metadata `json:"metadata"`
	Vectors    []snapshotVector `json:"vectors"`
}

type snapshotVector struct {
	Epoch    string     `json:"epoch"`
	Position [3]float64 `json:"position_km"`
	Velocity [3]float64 `json:"velocity_km_s"`
}

func encode(t *vectors.Table, savedAt time.Time) ([]byte, error) {
	p := t.Payload()
	s := snapshot{
		Version:    snapshotVersion,
		Generation: t.Generation(),
		Token:      string(p.Token),
		Source:     p.Source,
		FetchedAt:  p.FetchedAt,
		SavedAt:    savedAt.UTC(),
		Metadata:   p.Metadata,
		Vectors:    make([]snapshotVector, len(p.Vectors)),
	}
	for i, v := range p.Vectors {
		s.Vectors[i] = snapshotVector{
			Epoch:    v.RawEpoch,
			Position: [3]float64{v.Position.X, v.Position.Y, v.Position.Z},
			Velocity: [3]float64{v.Velocity.X, v.Velocity.Y, v.Velocity.Z},
		}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// decode rebuilds a payload from a snapshot. Epochs go through the same
// strict parser as the provider, so a corrupted snapshot is rejected whole.
func decode(data []byte) (vectors.Payload, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return vectors.Payload{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return vectors.Payload{}, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}

	svs := make([]vectors.StateVector, len(s.Vectors))
	for i, v := range s.Vectors {
		epoch, err := vectors.ParseEpoch(v.Epoch)
		if err != nil {
			return vectors.Payload{}, fmt.Errorf("snapshot vector %d: %w", i, err)
		}
		svs[i] = vectors.StateVector{
			Epoch:    epoch,
			RawEpoch: v.Epoch,
			Position: vectors.Vec3{X: v.Position[0], Y: v.Position[1], Z: v.Position[2]},
			Velocity: vectors.Vec3{X: v.Velocity[0], Y: v.Velocity[1], Z: v.Velocity[2]},
		}
	}

	return vectors.Payload{
		Token:     vectors.FreshnessToken(s.Token),
		Source:    s.Source,
		FetchedAt: s.FetchedAt,
		Metadata:  s.Metadata,
		Vectors:   svs,
	}, nil
}
