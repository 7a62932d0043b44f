// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/cloud"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error matching %v, got %v", target, err)
	}
}

// AssertNear fails the test if got and want differ by more than tol.
func AssertNear(t testing.TB, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (±%v)", name, got, want, tol)
	}
}

// AssertSameAxis fails the test unless the unit directions a and b are
// parallel within tol radians. Opposite directions describe the same axis.
func AssertSameAxis(t testing.TB, got, want r3.Vec, tol float64) {
	t.Helper()
	if angle := AxisAngle(got, want); angle > tol {
		t.Errorf("axis %v differs from %v by %.3g rad (tolerance %.3g)", got, want, angle, tol)
	}
}

// AxisAngle returns the angle in [0, π/2] between the lines spanned by a and b.
func AxisAngle(a, b r3.Vec) float64 {
	c := math.Abs(r3.Cos(a, b))
	return math.Acos(math.Min(1, c))
}

// AssertOnAxis fails the test unless p lies within tol of the line through
// point with direction dir.
func AssertOnAxis(t testing.TB, p, point, dir r3.Vec, tol float64) {
	t.Helper()
	u := r3.Sub(p, point)
	d := r3.Unit(dir)
	off := r3.Norm(r3.Sub(u, r3.Scale(r3.Dot(u, d), d)))
	if off > tol {
		t.Errorf("point %v is %.3g from the axis through %v (tolerance %.3g)", p, off, point, tol)
	}
}

// Branch is the canonical synthetic branch used across fitter tests: an
// axis tilted about 17° from +Z, radius 0.5, three units long.
func Branch(points int, noise float64, seed uint64) (cloud.CylinderSpec, []r3.Vec) {
	spec := cloud.CylinderSpec{
		Axis:   r3.Unit(r3.Vec{X: 0.25, Y: 0.15, Z: 1}),
		Center: r3.Vec{X: 1.5, Y: -0.75, Z: 2},
		Radius: 0.5,
		Length: 3,
		Points: points,
		Noise:  noise,
		Seed:   seed,
	}
	return spec, cloud.Cylinder(spec)
}
