// Package groundtrack derives the sub-satellite track of a whole table
// generation. A track is built once per generation, in parallel, and served
// from memory until the next generation is installed.
package groundtrack

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/isstrack/internal/metrics"
	"github.com/star/isstrack/internal/transform"
	"github.com/star/isstrack/internal/vectors"
)

// Point is one ground-track sample.
type Point struct {
	Epoch     string  `json:"epoch"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
}

// Track is the immutable ground track of one table generation.
type Track struct {
	generation uint64
	model      transform.Model
	points     []Point
	skipped    int
}

func (t *Track) Generation() uint64 { return t.generation }
func (t *Track) Model() transform.Model { return t.model }
func (t *Track) Len() int { return len(t.points) }
func (t *Track) Skipped() int { return t.skipped }

// Points returns a copy of up to limit points starting at offset.
func (t *Track) Points(offset, limit int) []Point {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.points) || limit <= 0 {
		return []Point{}
	}
	end := len(t.points)
	if limit < end-offset {
		end = offset + limit
	}
	out := make([]Point, end-offset)
	copy(out, t.points[offset:end])
	return out
}

// Config holds ground-track settings.
type Config struct {
	Workers int             // worker pool size (default: runtime.NumCPU())
	Model   transform.Model // frame model used for the conversion
}

// Builder builds and caches ground tracks.
type Builder struct {
	store  *vectors.Store
	pool   *workerPool
	logger *slog.Logger

	track   atomic.Pointer[Track]
	buildMu sync.Mutex // serializes rebuilds
}

// NewBuilder creates a Builder reading from store.
func NewBuilder(store *vectors.Store, cfg Config, logger *slog.Logger) *Builder {
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Builder{
		store:  store,
		pool:   newWorkerPool(cfg.Workers, cfg.Model, logger),
		logger: logger,
	}
}

// Current returns the track for the installed table, building it on first
// use. An empty store is a NotReady error.
func (b *Builder) Current(ctx context.Context) (*Track, error) {
	t := b.store.Current()
	if t == nil {
		return nil, vectors.NewError(vectors.KindNotReady, "ground track", nil)
	}
	return b.For(ctx, t)
}

// Warm builds the track for t ahead of the first request. Its signature
// matches a refresh hook.
func (b *Builder) Warm(ctx context.Context, t *vectors.Table) error {
	_, err := b.For(ctx, t)
	return err
}

// For returns the track for t, rebuilding the cache if the generation has
// changed (double-checked locking). A request for an older generation than
// the cached one is built but not cached.
func (b *Builder) For(ctx context.Context, t *vectors.Table) (*Track, error) {
	if c := b.track.Load(); c != nil && c.generation == t.Generation() {
		return c, nil
	}

	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	if c := b.track.Load(); c != nil && c.generation == t.Generation() {
		return c, nil
	}

	start := time.Now()
	points, skipped, err := b.pool.convertBatch(ctx, t.Sorted())
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)
	metrics.ObserveGroundtrackBuild(duration)

	track := &Track{
		generation: t.Generation(),
		model:      b.pool.model,
		points:     points,
		skipped:    skipped,
	}

	b.logger.Info("ground track rebuilt",
		"component", "groundtrack",
		"generation", track.generation,
		"points", len(points),
		"skipped", skipped,
		"model", track.model.String(),
		"duration_ms", duration.Milliseconds(),
	)

	if c := b.track.Load(); c == nil || c.generation < track.generation {
		b.track.Store(track)
	}
	return track, nil
}
