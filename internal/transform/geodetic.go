package transform

import (
	"math"
	"time"

	"github.com/star/isstrack/internal/vectors"
)

// WGS-84 ellipsoid parameters, in km.
const (
	wgs84A  = 6378.137              // semi-major axis (km)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// GeodeticPosition is a point on or above the WGS-84 ellipsoid at an instant.
type GeodeticPosition struct {
	Latitude  float64 // degrees, north positive
	Longitude float64 // degrees in (-180, 180], east positive
	Altitude  float64 // km above the ellipsoid
	Epoch     time.Time
}

// ToGeodetic converts an inertial position (km, J2000) at epoch to geodetic
// latitude/longitude/altitude. NaN, infinite or zero positions are rejected
// with an InvalidValue error.
func ToGeodetic(pos vectors.Vec3, epoch time.Time, m Model) (GeodeticPosition, error) {
	if !pos.IsFinite() {
		return GeodeticPosition{}, vectors.Errorf(vectors.KindInvalidValue, "to geodetic", "position %v is not finite", pos)
	}
	if pos.Norm() == 0 {
		return GeodeticPosition{}, vectors.Errorf(vectors.KindInvalidValue, "to geodetic", "position is at the geocenter")
	}
	g := ECEFToGeodetic(ToFixed(pos, epoch, m))
	g.Epoch = epoch
	return g, nil
}

// FromGeodetic converts a geodetic position back to inertial coordinates
// (km, J2000) at g.Epoch.
func FromGeodetic(g GeodeticPosition, m Model) vectors.Vec3 {
	return ToInertial(GeodeticToECEF(g.Latitude, g.Longitude, g.Altitude), g.Epoch, m)
}

// GeodeticToECEF converts geodetic coordinates (degrees, km) to ECEF km.
func GeodeticToECEF(latDeg, lonDeg, altKm float64) vectors.Vec3 {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return vectors.Vec3{
		X: (N + altKm) * cosLat * math.Cos(lon),
		Y: (N + altKm) * cosLat * math.Sin(lon),
		Z: (N*(1-wgs84E2) + altKm) * sinLat,
	}
}

// ECEFToGeodetic converts ECEF coordinates (km) to geodetic coordinates
// using the iterative Bowring method. Converges in 2-3 iterations for Earth
// orbits; iteration stops once latitude moves less than 1e-14 rad.
func ECEFToGeodetic(p vectors.Vec3) GeodeticPosition {
	lon := math.Atan2(p.Y, p.X)
	rho := math.Hypot(p.X, p.Y)

	lat := math.Atan2(p.Z, rho*(1-wgs84E2))
	for i := 0; i < 10; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		next := math.Atan2(p.Z+wgs84E2*N*sinLat, rho)
		done := math.Abs(next-lat) < 1e-14
		lat = next
		if done {
			break
		}
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = rho/cosLat - N
	} else {
		alt = math.Abs(p.Z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return GeodeticPosition{
		Latitude:  lat * 180.0 / math.Pi,
		Longitude: lon * 180.0 / math.Pi,
		Altitude:  alt,
	}
}
