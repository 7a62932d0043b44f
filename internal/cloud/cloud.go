// Package cloud generates synthetic point clouds: noisy cylinders standing
// in for branch segments, and small lattice shapes for downsampling checks.
package cloud

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

// CylinderSpec describes a sampled cylinder surface.
type CylinderSpec struct {
	Axis   r3.Vec  // axis direction; normalised before use
	Center r3.Vec  // midpoint of the sampled segment
	Radius float64 // surface radius
	Length float64 // extent along the axis
	Points int     // number of samples
	Noise  float64 // standard deviation of isotropic Gaussian noise
	Seed   uint64
}

// Cylinder samples spec.Points points uniformly over the lateral surface of
// the cylinder described by spec. The same spec always yields the same
// points.
func Cylinder(spec CylinderSpec) []r3.Vec {
	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed+1))
	w := r3.Unit(spec.Axis)
	u, v := Basis(w)

	out := make([]r3.Vec, spec.Points)
	for i := range out {
		t := (rng.Float64() - 0.5) * spec.Length
		a := rng.Float64() * 2 * math.Pi
		sa, ca := math.Sincos(a)
		p := r3.Add(spec.Center, r3.Scale(t, w))
		p = r3.Add(p, r3.Scale(spec.Radius*ca, u))
		p = r3.Add(p, r3.Scale(spec.Radius*sa, v))
		if spec.Noise > 0 {
			p = r3.Add(p, r3.Vec{
				X: rng.NormFloat64() * spec.Noise,
				Y: rng.NormFloat64() * spec.Noise,
				Z: rng.NormFloat64() * spec.Noise,
			})
		}
		out[i] = p
	}
	return out
}

// Basis returns two unit vectors that, with the unit vector w, form a
// right-handed orthonormal frame.
func Basis(w r3.Vec) (r3.Vec, r3.Vec) {
	ref := r3.Vec{X: 1}
	if math.Abs(w.X) > 0.9 {
		ref = r3.Vec{Y: 1}
	}
	u := r3.Unit(r3.Cross(w, ref))
	v := r3.Cross(w, u)
	return u, v
}

// CubeCorners returns the eight corners of the axis-aligned cube of the
// given edge centred on the origin.
func CubeCorners(edge float64) []r3.Vec {
	h := edge / 2
	out := make([]r3.Vec, 0, 8)
	for _, x := range []float64{-h, h} {
		for _, y := range []float64{-h, h} {
			for _, z := range []float64{-h, h} {
				out = append(out, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

// Uniform returns n points drawn uniformly from the box [min, max].
func Uniform(n int, min, max r3.Vec, seed uint64) []r3.Vec {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	d := r3.Sub(max, min)
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = r3.Vec{
			X: min.X + rng.Float64()*d.X,
			Y: min.Y + rng.Float64()*d.Y,
			Z: min.Z + rng.Float64()*d.Z,
		}
	}
	return out
}

// Transform returns ps rotated by rot and then translated by shift.
func Transform(ps []r3.Vec, rot *r3.Mat, shift r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(ps))
	for i, p := range ps {
		if rot != nil {
			p = rot.MulVec(p)
		}
		out[i] = r3.Add(p, shift)
	}
	return out
}
