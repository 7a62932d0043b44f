package geom

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/qsmerr"
)

const tol = 1e-12

func vecNear(a, b r3.Vec, eps float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= eps
}

func TestDirection(t *testing.T) {
	testCases := []struct {
		name       string
		theta, phi float64
		want       r3.Vec
	}{
		{"pole", 0, 0, r3.Vec{Z: 1}},
		{"pole_ignores_phi", 0, 1.3, r3.Vec{Z: 1}},
		{"x_axis", math.Pi / 2, 0, r3.Vec{X: 1}},
		{"y_axis", math.Pi / 2, math.Pi / 2, r3.Vec{Y: 1}},
		{"south", math.Pi, 0, r3.Vec{Z: -1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Direction(tc.theta, tc.phi)
			if !vecNear(got, tc.want, 1e-15) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
			if n := r3.Norm(got); math.Abs(n-1) > tol {
				t.Errorf("expected unit length, got %v", n)
			}
		})
	}
}

func TestAnglesOfInvertsDirection(t *testing.T) {
	for _, a := range []Angles{
		{Theta: 0.3, Phi: 0.1},
		{Theta: 1.2, Phi: 4.0},
		{Theta: 2.9, Phi: 6.0},
	} {
		got := AnglesOf(r3.Scale(3.5, a.Direction()))
		if math.Abs(got.Theta-a.Theta) > 1e-9 || math.Abs(got.Phi-a.Phi) > 1e-9 {
			t.Errorf("expected %+v, got %+v", a, got)
		}
	}

	if got := AnglesOf(r3.Vec{}); got != (Angles{}) {
		t.Errorf("expected zero angles for zero vector, got %+v", got)
	}
}

func TestProjectionMatrix(t *testing.T) {
	w := Direction(0.7, 2.1)
	p := ProjectionMatrix(w)

	if got := r3.Norm(p.MulVec(w)); got > tol {
		t.Errorf("expected P·w = 0, got norm %v", got)
	}

	// P is idempotent.
	var pp r3.Mat
	pp.Mul(p, p)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if d := math.Abs(pp.At(i, j) - p.At(i, j)); d > tol {
				t.Fatalf("expected P² = P, differs by %v at (%d,%d)", d, i, j)
			}
		}
	}

	if got := Trace(p); math.Abs(got-2) > tol {
		t.Errorf("expected trace 2, got %v", got)
	}
}

func TestSkewMatrixIsCrossProduct(t *testing.T) {
	w := r3.Vec{X: 0.2, Y: -1.1, Z: 0.5}
	v := r3.Vec{X: 3, Y: 0.4, Z: -2}

	got := SkewMatrix(w).MulVec(v)
	want := r3.Cross(w, v)
	if !vecNear(got, want, tol) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSecondMomentAndWeighted(t *testing.T) {
	ys := []r3.Vec{{X: 1}, {Y: 2}, {X: 1, Y: 1, Z: 1}}
	a := SecondMoment(ys)

	want := [3][3]float64{
		{2, 1, 1},
		{1, 5, 1},
		{1, 1, 1},
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if a.At(i, j) != want[i][j] {
				t.Errorf("A[%d][%d]: expected %v, got %v", i, j, want[i][j], a.At(i, j))
			}
		}
	}

	// With S = I the weighted moment is A itself.
	same := WeightedSecondMoment(a, r3.Eye())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if same.At(i, j) != a.At(i, j) {
				t.Fatalf("expected S·A·Sᵗ = A for S = I")
			}
		}
	}

	// With S = skew(z), the result is skew(z)·A·skew(z)ᵗ, whose trace is
	// A[0][0] + A[1][1].
	s := SkewMatrix(r3.Vec{Z: 1})
	if got := Trace(WeightedSecondMoment(a, s)); math.Abs(got-7) > tol {
		t.Errorf("expected trace 7, got %v", got)
	}
}

func TestTraceProductMatchesMul(t *testing.T) {
	a := r3.NewMat([]float64{1, 2, 3, 4, 5, 6, 7, 8, 10})
	b := r3.NewMat([]float64{-1, 0, 2, 3, 1, 0, 0.5, -2, 1})
	var ab r3.Mat
	ab.Mul(a, b)
	if got, want := TraceProduct(a, b), Trace(&ab); math.Abs(got-want) > tol {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCenter(t *testing.T) {
	ps := []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 3, Y: 2, Z: 1}, {X: 2, Y: 5, Z: 2}}
	centred, mean := Center(ps)

	if !vecNear(mean, r3.Vec{X: 2, Y: 3, Z: 2}, tol) {
		t.Errorf("expected mean (2,3,2), got %v", mean)
	}
	if c := Centroid(centred); !vecNear(c, r3.Vec{}, tol) {
		t.Errorf("expected centred centroid at origin, got %v", c)
	}
	if ps[0] != (r3.Vec{X: 1, Y: 2, Z: 3}) {
		t.Errorf("expected input to be left untouched")
	}
}

func TestPointLineDistance(t *testing.T) {
	d, err := PointLineDistance(r3.Vec{X: 3, Y: 4, Z: 9}, r3.Vec{}, r3.Vec{Z: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(d-5) > tol {
		t.Errorf("expected 5, got %v", d)
	}

	_, err = PointLineDistance(r3.Vec{X: 1}, r3.Vec{}, r3.Vec{})
	if !errors.Is(err, qsmerr.ErrConfiguration) {
		t.Errorf("expected configuration error for zero direction, got %v", err)
	}
}

func TestRotationMatrix(t *testing.T) {
	r := RotationMatrix(r3.Vec{Z: 1}, math.Pi/2)
	if got := r.MulVec(r3.Vec{X: 1}); !vecNear(got, r3.Vec{Y: 1}, tol) {
		t.Errorf("expected x to rotate onto y, got %v", got)
	}

	axis := r3.Unit(r3.Vec{X: 1, Y: -2, Z: 0.5})
	r = RotationMatrix(axis, 0.83)
	if got := r.MulVec(axis); !vecNear(got, axis, tol) {
		t.Errorf("expected axis to be fixed, got %v", got)
	}

	// Agrees with gonum's quaternion rotation.
	v := r3.Vec{X: 0.3, Y: 1, Z: -4}
	want := r3.NewRotation(0.83, axis).Rotate(v)
	if got := r.MulVec(v); !vecNear(got, want, 1e-12) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSpread(t *testing.T) {
	testCases := []struct {
		name      string
		points    []r3.Vec
		zeroCount int
	}{
		{"coincident", []r3.Vec{{X: 1}, {X: 1}, {X: 1}}, 3},
		{"collinear", []r3.Vec{{X: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 5, Y: 5}}, 2},
		{"planar", []r3.Vec{{X: 0}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}, 1},
		{"solid", []r3.Vec{{}, {X: 1}, {Y: 1}, {Z: 1}}, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Spread(tc.points)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			zeros := 0
			for _, v := range ev {
				if math.Abs(v) < 1e-12 {
					zeros++
				}
			}
			if zeros != tc.zeroCount {
				t.Errorf("expected %d zero eigenvalues, got %d (%v)", tc.zeroCount, zeros, ev)
			}
			if ev[0] > ev[1] || ev[1] > ev[2] {
				t.Errorf("expected ascending eigenvalues, got %v", ev)
			}
		})
	}
}
