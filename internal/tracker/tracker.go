// Package tracker answers point queries against the installed state-vector
// table: exact-epoch lookup, nearest-to-now, speed and ground position.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/star/isstrack/internal/transform"
	"github.com/star/isstrack/internal/vectors"
)

// TimestampLayout is the human-readable layout of epoch_timestamp and
// now_timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// SpeedUnits is the unit of every speed this package reports.
const SpeedUnits = "km/s"

const noAddress = "no address available"

// Geocoder resolves a geodetic position to a place name.
type Geocoder interface {
	ResolvePlace(ctx context.Context, lat, lon float64) (string, error)
}

// Speed is the instantaneous speed at one epoch.
type Speed struct {
	Epoch string  `json:"epoch"`
	Speed float64 `json:"speed"`
	Units string  `json:"units"`
}

// Location is the geodetic position at one epoch plus its place name.
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Altitude       float64 `json:"altitude"`
	EpochTimestamp string  `json:"epoch_timestamp"`
	Geoposition    string  `json:"geoposition"`
}

// NowResult is the state closest to the current instant.
type NowResult struct {
	Location
	Speed        float64 `json:"speed"`
	NowTimestamp string  `json:"now_timestamp"`
}

// Summary describes the installed table.
type Summary struct {
	Generation   uint64           `json:"generation"`
	Token        string           `json:"token"`
	Source       string           `json:"source"`
	FetchedAt    time.Time        `json:"fetched_at"`
	Metadata     vectors.Metadata `json:"metadata"`
	Vectors      int              `json:"vectors"`
	FirstEpoch   string           `json:"first_epoch"`
	LastEpoch    string           `json:"last_epoch"`
	ClosestEpoch string           `json:"closest_epoch"`
	AverageSpeed float64          `json:"average_speed"`
	InstantSpeed float64          `json:"instant_speed"`
	Units        string           `json:"units"`
}

// Service is the read-side query surface. It never blocks on a refresh.
type Service struct {
	store    *vectors.Store
	geocoder Geocoder
	model    transform.Model
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service. A nil geocoder reports every position as having no
// address.
func New(store *vectors.Store, geocoder Geocoder, model transform.Model, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		geocoder: geocoder,
		model:    model,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) table(op string) (*vectors.Table, error) {
	t := s.store.Current()
	if t == nil {
		return nil, vectors.NewError(vectors.KindNotReady, op, nil)
	}
	return t, nil
}

// Lookup returns the vector at exactly epoch.
func (s *Service) Lookup(epoch string) (vectors.StateVector, error) {
	at, err := vectors.ParseEpoch(epoch)
	if err != nil {
		return vectors.StateVector{}, err
	}
	t, err := s.table("lookup")
	if err != nil {
		return vectors.StateVector{}, err
	}
	sv, ok := t.Lookup(at)
	if !ok {
		return vectors.StateVector{}, vectors.Errorf(vectors.KindNotFound, "lookup", "epoch %q not found", epoch)
	}
	return sv, nil
}

// LookupNearestNow returns the vector closest to the current instant.
func (s *Service) LookupNearestNow() (vectors.StateVector, error) {
	t, err := s.table("lookup nearest")
	if err != nil {
		return vectors.StateVector{}, err
	}
	return vectors.Nearest(t, s.now())
}

// SpeedOf returns the speed at exactly epoch.
func (s *Service) SpeedOf(epoch string) (Speed, error) {
	sv, err := s.Lookup(epoch)
	if err != nil {
		return Speed{}, err
	}
	return Speed{Epoch: sv.RawEpoch, Speed: vectors.Speed(sv.Velocity), Units: SpeedUnits}, nil
}

// PositionOf returns the ground position at exactly epoch.
func (s *Service) PositionOf(ctx context.Context, epoch string) (Location, error) {
	sv, err := s.Lookup(epoch)
	if err != nil {
		return Location{}, err
	}
	return s.locate(ctx, sv)
}

// Now returns the nearest-to-now vector's location and speed.
func (s *Service) Now(ctx context.Context) (NowResult, error) {
	now := s.now()
	t, err := s.table("now")
	if err != nil {
		return NowResult{}, err
	}
	sv, err := vectors.Nearest(t, now)
	if err != nil {
		return NowResult{}, err
	}
	loc, err := s.locate(ctx, sv)
	if err != nil {
		return NowResult{}, err
	}
	return NowResult{
		Location:     loc,
		Speed:        vectors.Speed(sv.Velocity),
		NowTimestamp: now.UTC().Format(TimestampLayout),
	}, nil
}

// Epochs returns up to limit vectors starting at offset, in provider order.
func (s *Service) Epochs(limit, offset int) ([]vectors.StateVector, error) {
	if limit < 0 || offset < 0 {
		return nil, vectors.Errorf(vectors.KindInvalidValue, "epochs", "limit and offset must be non-negative, got limit=%d offset=%d", limit, offset)
	}
	t, err := s.table("epochs")
	if err != nil {
		return nil, err
	}
	return t.Slice(offset, limit), nil
}

// Summary reports the data range, speeds and identity of the installed table.
func (s *Service) Summary() (Summary, error) {
	t, err := s.table("summary")
	if err != nil {
		return Summary{}, err
	}
	closest, err := vectors.Nearest(t, s.now())
	if err != nil {
		return Summary{}, err
	}
	first, last := t.Span()
	return Summary{
		Generation:   t.Generation(),
		Token:        string(t.Token()),
		Source:       t.Source(),
		FetchedAt:    t.FetchedAt(),
		Metadata:     t.Metadata(),
		Vectors:      t.Len(),
		FirstEpoch:   vectors.FormatEpoch(first),
		LastEpoch:    vectors.FormatEpoch(last),
		ClosestEpoch: closest.RawEpoch,
		AverageSpeed: vectors.AverageSpeed(t),
		InstantSpeed: vectors.Speed(closest.Velocity),
		Units:        SpeedUnits,
	}, nil
}

// locate converts sv to geodetic coordinates and names the place below it.
// Geocoding failures degrade to the no-address placeholder.
func (s *Service) locate(ctx context.Context, sv vectors.StateVector) (Location, error) {
	g, err := transform.ToGeodetic(sv.Position, sv.Epoch, s.model)
	if err != nil {
		return Location{}, err
	}

	place := noAddress
	if s.geocoder != nil {
		name, err := s.geocoder.ResolvePlace(ctx, g.Latitude, g.Longitude)
		if err != nil {
			s.logger.Warn("reverse geocoding failed", "component", "tracker", "epoch", sv.RawEpoch, "error", err)
		} else if name != "" {
			place = name
		}
	}

	return Location{
		Latitude:       g.Latitude,
		Longitude:      g.Longitude,
		Altitude:       g.Altitude,
		EpochTimestamp: sv.Epoch.UTC().Format(TimestampLayout),
		Geoposition:    place,
	}, nil
}
