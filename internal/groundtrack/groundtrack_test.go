package groundtrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/star/isstrack/internal/transform"
	"github.com/star/isstrack/internal/vectors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// circularOrbit returns n vectors on a 6778 km circular orbit inclined
// 51.6°, four minutes apart, in reverse epoch order.
func circularOrbit(n int) []vectors.StateVector {
	base := time.Date(2025, 2, 19, 12, 0, 0, 0, time.UTC)
	const r = 6778.0
	inc := 51.6 * math.Pi / 180
	out := make([]vectors.StateVector, n)
	for i := 0; i < n; i++ {
		u := float64(i) * 2 * math.Pi / 23
		out[n-1-i] = vectors.StateVector{
			Epoch:    base.Add(time.Duration(i) * 4 * time.Minute),
			Position: vectors.Vec3{X: r * math.Cos(u), Y: r * math.Sin(u) * math.Cos(inc), Z: r * math.Sin(u) * math.Sin(inc)},
			Velocity: vectors.Vec3{X: -7.67 * math.Sin(u), Y: 7.67 * math.Cos(u) * math.Cos(inc), Z: 7.67 * math.Cos(u) * math.Sin(inc)},
		}
	}
	return out
}

func install(t *testing.T, store *vectors.Store, token string, svs []vectors.StateVector) *vectors.Table {
	t.Helper()
	tbl, _, err := store.Replace(vectors.Payload{Token: vectors.FreshnessToken(token), FetchedAt: time.Now(), Vectors: svs})
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	return tbl
}

func TestCurrentEmptyStore(t *testing.T) {
	b := NewBuilder(vectors.NewStore(), Config{Workers: 2}, testLogger())
	_, err := b.Current(context.Background())
	if !errors.Is(err, vectors.ErrNotReady) {
		t.Fatalf("Current on empty store: got %v, want NotReady", err)
	}
}

// TestTrackOrderAndValues verifies points come out in epoch order with sane
// geodetic values for a LEO orbit.
func TestTrackOrderAndValues(t *testing.T) {
	store := vectors.NewStore()
	install(t, store, "v1", circularOrbit(40))
	b := NewBuilder(store, Config{Workers: 4}, testLogger())

	track, err := b.Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if track.Len() != 40 {
		t.Fatalf("track has %d points, want 40", track.Len())
	}
	if track.Model() != transform.ModelIAU76 {
		t.Errorf("model = %s, want iau76", track.Model())
	}

	pts := track.Points(0, 40)
	var prev time.Time
	for i, p := range pts {
		e, err := vectors.ParseEpoch(p.Epoch)
		if err != nil {
			t.Fatalf("point %d: bad epoch %q", i, p.Epoch)
		}
		if i > 0 && !e.After(prev) {
			t.Errorf("point %d epoch %s not after %s", i, p.Epoch, vectors.FormatEpoch(prev))
		}
		prev = e
		if math.Abs(p.Latitude) > 52 {
			t.Errorf("point %d latitude %.2f exceeds inclination", i, p.Latitude)
		}
		if p.Altitude < 380 || p.Altitude > 430 {
			t.Errorf("point %d altitude %.1f km out of range", i, p.Altitude)
		}
		if math.Abs(p.Speed-7.67) > 1e-9 {
			t.Errorf("point %d speed %.4f, want 7.67", i, p.Speed)
		}
	}
}

// TestTrackCachedPerGeneration verifies the double-checked cache returns the
// same track until a new generation is installed.
func TestTrackCachedPerGeneration(t *testing.T) {
	store := vectors.NewStore()
	install(t, store, "v1", circularOrbit(10))
	b := NewBuilder(store, Config{Workers: 2}, testLogger())

	first, err := b.Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	again, _ := b.Current(context.Background())
	if first != again {
		t.Error("expected cached track for unchanged generation")
	}

	tbl := install(t, store, "v2", circularOrbit(12))
	if err := b.Warm(context.Background(), tbl); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	next, _ := b.Current(context.Background())
	if next == first || next.Generation() != 2 || next.Len() != 12 {
		t.Errorf("expected rebuilt track for generation 2, got generation %d with %d points", next.Generation(), next.Len())
	}
}

func TestTrackConcurrentBuildsShareResult(t *testing.T) {
	store := vectors.NewStore()
	install(t, store, "v1", circularOrbit(200))
	b := NewBuilder(store, Config{Workers: 4}, testLogger())

	var wg sync.WaitGroup
	tracks := make([]*Track, 8)
	for i := range tracks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr, err := b.Current(context.Background())
			if err != nil {
				t.Errorf("Current failed: %v", err)
				return
			}
			tracks[i] = tr
		}(i)
	}
	wg.Wait()

	for i, tr := range tracks[1:] {
		if tr != tracks[0] {
			t.Errorf("goroutine %d got a different track instance", i+1)
		}
	}
}

func TestTrackSkipsInvalidPositions(t *testing.T) {
	svs := circularOrbit(5)
	svs[2].Position = vectors.Vec3{}
	store := vectors.NewStore()
	install(t, store, "v1", svs)

	track, err := NewBuilder(store, Config{Workers: 1}, testLogger()).Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if track.Len() != 4 || track.Skipped() != 1 {
		t.Errorf("got %d points and %d skipped, want 4 and 1", track.Len(), track.Skipped())
	}
}

func TestTrackPointsWindow(t *testing.T) {
	store := vectors.NewStore()
	install(t, store, "v1", circularOrbit(10))
	track, err := NewBuilder(store, Config{Workers: 2}, testLogger()).Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	tests := []struct {
		offset, limit, want int
	}{
		{0, 3, 3},
		{8, 5, 2},
		{10, 1, 0},
		{-4, 2, 2},
		{0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.offset, tt.limit), func(t *testing.T) {
			if got := len(track.Points(tt.offset, tt.limit)); got != tt.want {
				t.Errorf("Points(%d, %d) returned %d points, want %d", tt.offset, tt.limit, got, tt.want)
			}
		})
	}
}

func TestBuildCancelled(t *testing.T) {
	store := vectors.NewStore()
	tbl := install(t, store, "v1", circularOrbit(50))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(store, Config{Workers: 2}, testLogger())
	if _, err := b.For(ctx, tbl); !errors.Is(err, context.Canceled) {
		t.Fatalf("For with cancelled context: got %v, want context.Canceled", err)
	}
	// Nothing was cached, so a live context still builds.
	if _, err := b.For(context.Background(), tbl); err != nil {
		t.Fatalf("For after cancellation: %v", err)
	}
}
