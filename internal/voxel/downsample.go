package voxel

import (
	"fmt"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/config"
	"github.com/banshee-data/treegraph/internal/monitoring"
	"github.com/banshee-data/treegraph/internal/qsmerr"
)

// DefaultNeighbours is the number of nearest voxels searched for a merge
// target.
const DefaultNeighbours = 10

// SparsePolicy decides what happens to a sparse voxel none of whose
// nearest neighbours is dense enough to absorb it.
type SparsePolicy int

const (
	// SparsePolicyFail reports a NoMergeTargetError.
	SparsePolicyFail SparsePolicy = iota
	// SparsePolicyKeep leaves the voxel as it is.
	SparsePolicyKeep
)

func (p SparsePolicy) String() string {
	switch p {
	case SparsePolicyFail:
		return config.SparsePolicyFail
	case SparsePolicyKeep:
		return config.SparsePolicyKeep
	default:
		return fmt.Sprintf("SparsePolicy(%d)", int(p))
	}
}

// ParseSparsePolicy maps a configuration string to a SparsePolicy.
func ParseSparsePolicy(s string) (SparsePolicy, error) {
	switch s {
	case config.SparsePolicyFail, "":
		return SparsePolicyFail, nil
	case config.SparsePolicyKeep:
		return SparsePolicyKeep, nil
	default:
		return 0, qsmerr.Configf("sparse_voxel_policy", s, "unknown policy")
	}
}

// Params controls a downsampling run.
type Params struct {
	EdgeLength         float64
	RemoveSparseVoxels bool
	// MinPointsPerVoxel is the sparse threshold: voxels with at most this
	// many points are merged into a denser neighbour.
	MinPointsPerVoxel int
	// Neighbours is the number of nearest voxels searched for a merge
	// target. Zero means DefaultNeighbours.
	Neighbours   int
	SparsePolicy SparsePolicy
}

// DefaultParams returns the parameters of a plain downsample at edge.
func DefaultParams(edge float64) Params {
	return Params{EdgeLength: edge, MinPointsPerVoxel: 1, Neighbours: DefaultNeighbours}
}

// ParamsFromConfig reads the voxel keys of cfg.
func ParamsFromConfig(cfg *config.TuningConfig) (Params, error) {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Params{}, err
	}
	policy, err := ParseSparsePolicy(cfg.GetSparseVoxelPolicy())
	if err != nil {
		return Params{}, err
	}
	return Params{
		EdgeLength:         cfg.GetVoxelEdgeLength(),
		RemoveSparseVoxels: cfg.GetRemoveSparseVoxels(),
		MinPointsPerVoxel:  cfg.GetMinPointsPerVoxel(),
		Neighbours:         cfg.GetVoxelNeighbours(),
		SparsePolicy:       policy,
	}, nil
}

func (p Params) neighbours() int {
	if p.Neighbours == 0 {
		return DefaultNeighbours
	}
	return p.Neighbours
}

// Validate reports the first invalid field as a ConfigurationError.
func (p Params) Validate() error {
	if !(p.EdgeLength > 0) || math.IsInf(p.EdgeLength, 0) {
		return qsmerr.Configf("edge_length", p.EdgeLength, "must be a positive finite number")
	}
	if p.MinPointsPerVoxel < 0 {
		return qsmerr.Configf("min_points_per_voxel", p.MinPointsPerVoxel, "must be non-negative")
	}
	if p.Neighbours < 0 {
		return qsmerr.Configf("neighbours", p.Neighbours, "must be non-negative")
	}
	if p.SparsePolicy != SparsePolicyFail && p.SparsePolicy != SparsePolicyKeep {
		return qsmerr.Configf("sparse_policy", p.SparsePolicy, "unknown policy")
	}
	return nil
}

// Voxel summarises one occupied lattice cell.
type Voxel struct {
	Key    Key
	Count  int
	Median r3.Vec
}

// Result is an annotated copy of the input. Points, Kept and Keys are
// parallel to the input and in input order.
type Result struct {
	Points []r3.Vec
	Kept   []bool
	Keys   []Key // voxel of each point after sparse reassignment

	// BaseIndex is the kept point nearest the input base point.
	BaseIndex int

	Voxels     int // occupied voxels after reassignment
	Reassigned int // sparse voxels merged into a neighbour
	Stranded   int // sparse voxels left in place under SparsePolicyKeep
}

// KeptIndices returns the input positions of the kept points in ascending
// order.
func (r Result) KeptIndices() []int {
	var out []int
	for i, k := range r.Kept {
		if k {
			out = append(out, i)
		}
	}
	return out
}

// KeptPoints returns the kept points in input order.
func (r Result) KeptPoints() []r3.Vec {
	var out []r3.Vec
	for i, k := range r.Kept {
		if k {
			out = append(out, r.Points[i])
		}
	}
	return out
}

// Downsampler downsamples point sets with a configurable neighbour index.
// The zero value uses KDTree.
type Downsampler struct {
	Index IndexBuilder
}

// Downsample downsamples points with the default Downsampler.
func Downsample(points []r3.Vec, baseIndex int, params Params) (Result, error) {
	return Downsampler{}.Downsample(points, baseIndex, params)
}

// Downsample marks one representative point per voxel as kept and remaps
// baseIndex to the nearest kept point. No points are removed.
//
// The representative of a voxel is the member nearest the per-axis median
// of its members, the lowest input index winning ties. When
// params.RemoveSparseVoxels is set, voxels holding at most
// params.MinPointsPerVoxel points first join the nearest denser voxel among
// their params.Neighbours nearest voxels, measured between voxel medians.
func (d Downsampler) Downsample(points []r3.Vec, baseIndex int, params Params) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	if len(points) == 0 {
		return Result{}, qsmerr.Configf("points", 0, "point set is empty")
	}
	if baseIndex < 0 || baseIndex >= len(points) {
		return Result{}, qsmerr.Configf("base_index", baseIndex, "out of range [0, %d)", len(points))
	}
	for i, p := range points {
		if !inLattice(p, params.EdgeLength) {
			return Result{}, qsmerr.Configf(fmt.Sprintf("points[%d]", i), p,
				"must be finite and within the voxel lattice at edge %g", params.EdgeLength)
		}
	}

	g := bin(points, params.EdgeLength)
	monitoring.Tracef("voxel: %d points in %d voxels at edge %g", len(points), len(g.keys), params.EdgeLength)

	res := Result{
		Points: append([]r3.Vec(nil), points...),
		Kept:   make([]bool, len(points)),
		Keys:   make([]Key, len(points)),
	}

	if params.RemoveSparseVoxels {
		build := d.Index
		if build == nil {
			build = KDTree
		}
		st, err := g.reassignSparse(points, params, build)
		if err != nil {
			return Result{}, err
		}
		res.Reassigned, res.Stranded = st.reassigned, st.stranded
		monitoring.Tracef("voxel: merged %d sparse voxels, %d left in place", st.reassigned, st.stranded)
	}

	for gi, members := range g.members {
		if len(members) == 0 {
			continue
		}
		res.Voxels++
		med := medianOf(points, members)
		best, bestDist := -1, math.Inf(1)
		for _, i := range members {
			res.Keys[i] = g.keys[gi]
			if dist := r3.Norm(r3.Sub(points[i], med)); dist < bestDist {
				best, bestDist = i, dist
			}
		}
		res.Kept[best] = true
	}

	res.BaseIndex = nearestKept(points, res.Kept, baseIndex)
	return res, nil
}

// Voxels returns the occupied voxels of points at edge in first-seen
// order, before any sparse reassignment.
func Voxels(points []r3.Vec, edge float64) ([]Voxel, error) {
	if err := (Params{EdgeLength: edge}).Validate(); err != nil {
		return nil, err
	}
	for i, p := range points {
		if !inLattice(p, edge) {
			return nil, qsmerr.Configf(fmt.Sprintf("points[%d]", i), p, "must be finite and within the voxel lattice")
		}
	}
	g := bin(points, edge)
	out := make([]Voxel, len(g.keys))
	for i, k := range g.keys {
		out[i] = Voxel{Key: k, Count: len(g.members[i]), Median: medianOf(points, g.members[i])}
	}
	return out, nil
}

// grouping holds voxel membership in first-seen order. Members of each
// voxel are kept in ascending input order.
type grouping struct {
	keys    []Key
	members [][]int
}

func bin(points []r3.Vec, edge float64) *grouping {
	g := &grouping{}
	index := make(map[Key]int)
	for i, p := range points {
		k := KeyOf(p, edge)
		gi, ok := index[k]
		if !ok {
			gi = len(g.keys)
			index[k] = gi
			g.keys = append(g.keys, k)
			g.members = append(g.members, nil)
		}
		g.members[gi] = append(g.members[gi], i)
	}
	return g
}

type sparseStats struct {
	reassigned int
	stranded   int
}

// reassignSparse moves the members of every sparse voxel into the nearest
// dense voxel. Dense voxels never move, so merges do not chain.
func (g *grouping) reassignSparse(points []r3.Vec, params Params, build IndexBuilder) (sparseStats, error) {
	n := len(g.keys)
	medians := make([]r3.Vec, n)
	dense := make([]bool, n)
	var sparse []int
	for gi, m := range g.members {
		medians[gi] = medianOf(points, m)
		dense[gi] = len(m) > params.MinPointsPerVoxel
		if !dense[gi] {
			sparse = append(sparse, gi)
		}
	}

	k := min(params.neighbours(), n)
	if len(sparse) == 0 {
		return sparseStats{}, nil
	}
	if len(sparse) == n {
		return sparseStats{}, &qsmerr.NoMergeTargetError{
			Threshold:    params.MinPointsPerVoxel,
			SparseVoxels: n,
			Stranded:     n,
			Neighbours:   k,
		}
	}

	index := build(medians)
	target := make([]int, len(sparse))
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for si, gi := range sparse {
		eg.Go(func() error {
			target[si] = -1
			for _, nb := range index.KNearest(medians[gi], k) {
				if dense[nb] {
					target[si] = nb
					break
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	var st sparseStats
	for _, t := range target {
		if t < 0 {
			st.stranded++
		}
	}
	if st.stranded > 0 && params.SparsePolicy == SparsePolicyFail {
		return sparseStats{}, &qsmerr.NoMergeTargetError{
			Threshold:    params.MinPointsPerVoxel,
			SparseVoxels: len(sparse),
			Stranded:     st.stranded,
			Neighbours:   k,
		}
	}

	for si, gi := range sparse {
		t := target[si]
		if t < 0 {
			continue
		}
		g.members[t] = append(g.members[t], g.members[gi]...)
		g.members[gi] = nil
		st.reassigned++
	}
	for _, m := range g.members {
		slices.Sort(m)
	}
	return st, nil
}

// nearestKept returns base if it is kept, otherwise the kept index nearest
// to points[base], the lowest index winning ties.
func nearestKept(points []r3.Vec, kept []bool, base int) int {
	if kept[base] {
		return base
	}
	best, bestDist := -1, math.Inf(1)
	for i, k := range kept {
		if !k {
			continue
		}
		if dist := r3.Norm2(r3.Sub(points[i], points[base])); dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}
