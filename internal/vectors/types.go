// Package vectors holds the cached state-vector table and the read-side
// algorithms over it.
//
// A Table is one immutable generation of samples from the provider. The Store
// publishes exactly one Table at a time through an atomic pointer, so readers
// never wait on a refresh and never see a partially built generation.
package vectors

import (
	"math"
	"time"
)

// Vec3 is a Cartesian triple.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vec3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// StateVector is one position/velocity sample.
type StateVector struct {
	Epoch    time.Time // UTC
	RawEpoch string    // epoch as published upstream
	Position Vec3      // km, Earth-centered inertial (J2000)
	Velocity Vec3      // km/s
}

// FreshnessToken identifies an upstream revision without downloading it.
// The empty token means "unknown" and never equals another token.
type FreshnessToken string

// Metadata describes the ephemeris segment a table was built from.
type Metadata struct {
	ObjectName   string `json:"object_name,omitempty"`
	ObjectID     string `json:"object_id,omitempty"`
	CenterName   string `json:"center_name,omitempty"`
	RefFrame     string `json:"ref_frame,omitempty"`
	TimeSystem   string `json:"time_system,omitempty"`
	StartTime    string `json:"start_time,omitempty"`
	StopTime     string `json:"stop_time,omitempty"`
	CreationDate string `json:"creation_date,omitempty"`
}

// Payload is what a provider returns for one fetch: the vectors together
// with the token that was current when they were read.
type Payload struct {
	Token     FreshnessToken
	Source    string
	FetchedAt time.Time
	Metadata  Metadata
	Vectors   []StateVector
}
