// Package transform converts state-vector positions between the inertial
// frame the ephemeris is published in and Earth-fixed/geodetic coordinates.
//
// Two Earth-orientation models are available:
//
//   - ModelIAU76: J2000 → mean-of-date (IAU-1976 precession) → true-of-date
//     (IAU-1980 nutation) → Earth-fixed via Greenwich apparent sidereal time.
//   - ModelGMST: a single rotation by IAU-82 GMST, the same simplification
//     SGP4 tooling applies to TEME. Cheaper, and off by the accumulated
//     precession (about 0.35° in 2025) for J2000 input.
//
// Polar motion and UT1-UTC are ignored in both; the resulting error is tens
// of meters, well under what a ground-track display can show.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/nutation"
	"github.com/soniakeys/meeus/v3/sidereal"
	"gonum.org/v1/gonum/mat"

	"github.com/star/isstrack/internal/vectors"
)

// Model selects the Earth-orientation model used for inertial→fixed rotation.
type Model int

const (
	ModelIAU76 Model = iota
	ModelGMST
)

func (m Model) String() string {
	switch m {
	case ModelGMST:
		return "gmst"
	default:
		return "iau76"
	}
}

// ParseModel maps a config value to a Model.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "iau76":
		return ModelIAU76, nil
	case "gmst":
		return ModelGMST, nil
	default:
		return 0, fmt.Errorf("unknown frame model %q (want iau76 or gmst)", s)
	}
}

// ttMinusUTC is TT-UTC in seconds (32.184 s + 37 leap seconds, valid since 2017).
const ttMinusUTC = 69.184

const arcsec = math.Pi / (180 * 3600)

// rotX, rotY and rotZ are frame (passive) rotations, Vallado's ROT1/2/3.
func rotX(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, s,
		0, -s, c,
	})
}

func rotY(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		c, 0, -s,
		0, 1, 0,
		s, 0, c,
	})
}

func rotZ(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

func product(ms ...*mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(ms[0])
	for _, m := range ms[1:] {
		var next mat.Dense
		next.Mul(out, m)
		out = &next
	}
	return out
}

// precession returns the IAU-1976 precession matrix J2000 → mean-of-date for
// T Julian centuries of TT since J2000.
func precession(T float64) *mat.Dense {
	T2, T3 := T*T, T*T*T
	zeta := (2306.2181*T + 0.30188*T2 + 0.017998*T3) * arcsec
	z := (2306.2181*T + 1.09468*T2 + 0.018203*T3) * arcsec
	theta := (2004.3109*T - 0.42665*T2 - 0.041833*T3) * arcsec
	return product(rotZ(-z), rotY(theta), rotZ(-zeta))
}

// nutationMatrix returns the IAU-1980 nutation matrix mean-of-date →
// true-of-date at the given Julian Ephemeris Day.
func nutationMatrix(jde float64) *mat.Dense {
	dPsi, dEps := nutation.Nutation(jde)
	eps0 := nutation.MeanObliquity(jde).Rad()
	eps := eps0 + dEps.Rad()
	return product(rotX(-eps), rotZ(-dPsi.Rad()), rotX(eps0))
}

// inertialToFixed returns the rotation taking J2000 inertial coordinates to
// Earth-fixed coordinates at t.
func inertialToFixed(t time.Time, m Model) *mat.Dense {
	if m == ModelGMST {
		return rotZ(GMST(t))
	}
	jd := JulianDate(t)
	jde := jd + ttMinusUTC/86400.0
	T := (jde - j2000) / 36525.0
	gast := math.Mod(sidereal.Apparent(jd).Angle().Rad(), 2*math.Pi)
	return product(rotZ(gast), nutationMatrix(jde), precession(T))
}

func apply(m mat.Matrix, v vectors.Vec3) vectors.Vec3 {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return vectors.Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// ToFixed rotates an inertial position (km) into the Earth-fixed frame at t.
func ToFixed(pos vectors.Vec3, t time.Time, m Model) vectors.Vec3 {
	return apply(inertialToFixed(t, m), pos)
}

// ToInertial is the inverse of ToFixed.
func ToInertial(pos vectors.Vec3, t time.Time, m Model) vectors.Vec3 {
	return apply(inertialToFixed(t, m).T(), pos)
}
