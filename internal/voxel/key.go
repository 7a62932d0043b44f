package voxel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// maxCell bounds the magnitude of a lattice coordinate so that the
// conversion to int64 is exact.
const maxCell = 1 << 62

// Key identifies a lattice cell. Each coordinate is the point coordinate
// divided by the edge length and truncated toward zero, so the cells either
// side of an axis plane both contain points within one edge of it.
type Key struct {
	I, J, K int64
}

func (k Key) String() string { return fmt.Sprintf("(%d,%d,%d)", k.I, k.J, k.K) }

// KeyOf returns the lattice cell containing p for the given edge length.
// The caller must ensure edge > 0 and that p is finite.
func KeyOf(p r3.Vec, edge float64) Key {
	return Key{I: cell(p.X, edge), J: cell(p.Y, edge), K: cell(p.Z, edge)}
}

func cell(x, edge float64) int64 {
	return int64(math.Trunc(x / edge))
}

// inLattice reports whether KeyOf(p, edge) is representable.
func inLattice(p r3.Vec, edge float64) bool {
	for _, x := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x/edge) >= maxCell {
			return false
		}
	}
	return true
}
