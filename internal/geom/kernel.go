package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/qsmerr"
)

// Angles are the spherical coordinates of an axis direction.
// Theta is the polar angle from +Z and Phi the azimuth from +X.
type Angles struct {
	Theta float64 `json:"theta"`
	Phi   float64 `json:"phi"`
}

// Direction returns the unit vector for the spherical angles theta and phi:
//
//	w = (cosφ·sinθ, sinφ·sinθ, cosθ)
func Direction(theta, phi float64) r3.Vec {
	sinT, cosT := math.Sincos(theta)
	sinP, cosP := math.Sincos(phi)
	return r3.Vec{X: cosP * sinT, Y: sinP * sinT, Z: cosT}
}

// AnglesOf returns the spherical angles of w with θ ∈ [0, π] and φ ∈ [0, 2π).
// w need not be unit length. The zero vector maps to the zero Angles.
func AnglesOf(w r3.Vec) Angles {
	n := r3.Norm(w)
	if n == 0 {
		return Angles{}
	}
	u := r3.Scale(1/n, w)
	theta := math.Acos(math.Max(-1, math.Min(1, u.Z)))
	phi := math.Atan2(u.Y, u.X)
	if phi < 0 {
		phi += 2 * math.Pi
	}
	return Angles{Theta: theta, Phi: phi}
}

// Direction returns the unit vector for a.
func (a Angles) Direction() r3.Vec { return Direction(a.Theta, a.Phi) }

// ProjectionMatrix returns I − w·wᵗ, the orthogonal projector onto the
// plane perpendicular to the unit vector w.
func ProjectionMatrix(w r3.Vec) *r3.Mat {
	var ww r3.Mat
	ww.Outer(1, w, w)
	p := r3.NewMat(nil)
	p.Sub(r3.Eye(), &ww)
	return p
}

// SkewMatrix returns the cross-product matrix of w, so that
// SkewMatrix(w)·v = w × v.
func SkewMatrix(w r3.Vec) *r3.Mat {
	m := r3.NewMat(nil)
	m.Skew(w)
	return m
}

// SecondMoment returns Σ Y·Yᵗ over ys.
func SecondMoment(ys []r3.Vec) *r3.Mat {
	a := r3.NewMat(nil)
	var yy r3.Mat
	for _, y := range ys {
		yy.Outer(1, y, y)
		a.Add(a, &yy)
	}
	return a
}

// WeightedSecondMoment returns S·A·Sᵗ.
func WeightedSecondMoment(a, s *r3.Mat) *r3.Mat {
	var as r3.Mat
	as.Mul(a, s.T())
	out := r3.NewMat(nil)
	out.Mul(s, &as)
	return out
}

// Trace returns the sum of the diagonal of m.
func Trace(m *r3.Mat) float64 {
	return m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
}

// TraceProduct returns trace(a·b) without forming the product.
func TraceProduct(a, b *r3.Mat) float64 {
	var t float64
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			t += a.At(i, k) * b.At(k, i)
		}
	}
	return t
}

// Centroid returns the arithmetic mean of ps. It returns the zero vector
// for an empty slice.
func Centroid(ps []r3.Vec) r3.Vec {
	if len(ps) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range ps {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(ps)), sum)
}

// Center returns a copy of ps translated so that its centroid is at the
// origin, together with the centroid that was removed.
func Center(ps []r3.Vec) ([]r3.Vec, r3.Vec) {
	mean := Centroid(ps)
	out := make([]r3.Vec, len(ps))
	for i, p := range ps {
		out[i] = r3.Sub(p, mean)
	}
	return out, mean
}

// PointLineDistance returns the perpendicular distance from p to the
// infinite line through linePoint with direction lineDir. lineDir is
// normalised here; a zero-length direction is a configuration error.
func PointLineDistance(p, linePoint, lineDir r3.Vec) (float64, error) {
	n := r3.Norm(lineDir)
	if n == 0 || math.IsNaN(n) {
		return 0, qsmerr.Configf("line direction", lineDir, "must have non-zero length")
	}
	d := r3.Scale(1/n, lineDir)
	u := r3.Sub(p, linePoint)
	return r3.Norm(r3.Sub(u, r3.Scale(r3.Dot(u, d), d))), nil
}

// RotationMatrix returns the matrix rotating by angle radians about the
// unit vector axis (right-hand rule, Rodrigues' formula).
func RotationMatrix(axis r3.Vec, angle float64) *r3.Mat {
	s, c := math.Sincos(angle)
	t := 1 - c
	x, y, z := axis.X, axis.Y, axis.Z
	return r3.NewMat([]float64{
		c + x*x*t, x*y*t - z*s, x*z*t + y*s,
		y*x*t + z*s, c + y*y*t, y*z*t - x*s,
		z*x*t - y*s, z*y*t + x*s, c + z*z*t,
	})
}

// Covariance returns the 3×3 population covariance of ps.
func Covariance(ps []r3.Vec) *mat.SymDense {
	centred, _ := Center(ps)
	a := SecondMoment(centred)
	n := float64(len(ps))
	if n == 0 {
		n = 1
	}
	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			cov.SetSym(i, j, a.At(i, j)/n)
		}
	}
	return cov
}

// Spread returns the eigenvalues of the covariance of ps in ascending
// order. Coincident points give three zeros and collinear points give
// two values near zero.
func Spread(ps []r3.Vec) ([3]float64, error) {
	var eig mat.EigenSym
	if !eig.Factorize(Covariance(ps), false) {
		return [3]float64{}, &qsmerr.DegenerateInputError{Points: len(ps), Reason: "covariance eigendecomposition failed"}
	}
	var out [3]float64
	copy(out[:], eig.Values(nil))
	return out, nil
}
