package voxel

import (
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
)

// Median returns the per-axis median of ps. For an even count each axis
// takes the mean of its two middle values. The median of an empty set is
// the zero vector.
func Median(ps []r3.Vec) r3.Vec {
	if len(ps) == 0 {
		return r3.Vec{}
	}
	buf := make([]float64, len(ps))
	axis := func(get func(r3.Vec) float64) float64 {
		for i, p := range ps {
			buf[i] = get(p)
		}
		slices.Sort(buf)
		mid := len(buf) / 2
		if len(buf)%2 == 1 {
			return buf[mid]
		}
		return (buf[mid-1] + buf[mid]) / 2
	}
	return r3.Vec{
		X: axis(func(p r3.Vec) float64 { return p.X }),
		Y: axis(func(p r3.Vec) float64 { return p.Y }),
		Z: axis(func(p r3.Vec) float64 { return p.Z }),
	}
}

// medianOf returns the median of the points at the given indices.
func medianOf(points []r3.Vec, idx []int) r3.Vec {
	sub := make([]r3.Vec, len(idx))
	for i, j := range idx {
		sub[i] = points[j]
	}
	return Median(sub)
}
