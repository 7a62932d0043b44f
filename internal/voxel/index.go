package voxel

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// NeighbourIndex answers k-nearest-neighbour queries over a fixed set of
// points. KNearest returns the indices of the min(k, n) nearest points to q
// ordered by ascending distance, equal distances by ascending index.
// Implementations must be safe for concurrent queries.
type NeighbourIndex interface {
	KNearest(q r3.Vec, k int) []int
}

// IndexBuilder builds a NeighbourIndex over points.
type IndexBuilder func(points []r3.Vec) NeighbourIndex

// KDTree builds a KDTreeIndex. It is the default IndexBuilder.
func KDTree(points []r3.Vec) NeighbourIndex { return NewKDTreeIndex(points) }

// BruteForce builds a BruteForceIndex.
func BruteForce(points []r3.Vec) NeighbourIndex { return NewBruteForceIndex(points) }

type neighbour struct {
	idx  int
	dist float64 // squared
}

func byDistThenIndex(a, b neighbour) int {
	if c := cmp.Compare(a.dist, b.dist); c != 0 {
		return c
	}
	return cmp.Compare(a.idx, b.idx)
}

// BruteForceIndex scans every point for each query.
type BruteForceIndex struct {
	points []r3.Vec
}

// NewBruteForceIndex returns a BruteForceIndex over a copy of points.
func NewBruteForceIndex(points []r3.Vec) *BruteForceIndex {
	return &BruteForceIndex{points: append([]r3.Vec(nil), points...)}
}

func (b *BruteForceIndex) KNearest(q r3.Vec, k int) []int {
	k = min(k, len(b.points))
	if k <= 0 {
		return nil
	}
	all := make([]neighbour, len(b.points))
	for i, p := range b.points {
		all[i] = neighbour{idx: i, dist: r3.Norm2(r3.Sub(p, q))}
	}
	slices.SortFunc(all, byDistThenIndex)
	out := make([]int, k)
	for i := range out {
		out[i] = all[i].idx
	}
	return out
}

// KDTreeIndex answers queries from a gonum k-d tree.
type KDTreeIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTreeIndex builds a k-d tree over points. The input slice is not
// modified.
func NewKDTreeIndex(points []r3.Vec) *KDTreeIndex {
	tagged := make(taggedPoints, len(points))
	for i, p := range points {
		tagged[i] = taggedPoint{Vec: p, idx: i}
	}
	return &KDTreeIndex{tree: kdtree.New(tagged, false), n: len(points)}
}

func (t *KDTreeIndex) KNearest(q r3.Vec, k int) []int {
	k = min(k, t.n)
	if k <= 0 {
		return nil
	}
	query := taggedPoint{Vec: q, idx: -1}

	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, query)
	if keep.Len() == 0 {
		return nil
	}
	// NKeeper drops arbitrary members of a tie at the k-th distance, so
	// gather everything within that distance and order it ourselves.
	radius := keep.Heap[keep.Len()-1].Dist
	within := kdtree.NewDistKeeper(radius)
	t.tree.NearestSet(within, query)

	found := make([]neighbour, 0, within.Len())
	for _, c := range within.Heap {
		found = append(found, neighbour{idx: c.Comparable.(taggedPoint).idx, dist: c.Dist})
	}
	slices.SortFunc(found, byDistThenIndex)
	if len(found) > k {
		found = found[:k]
	}
	out := make([]int, len(found))
	for i, nb := range found {
		out[i] = nb.idx
	}
	return out
}

// taggedPoint is a kdtree.Comparable that remembers its input position.
type taggedPoint struct {
	r3.Vec
	idx int
}

func (p taggedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(taggedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		return p.Z - q.Z
	}
}

func (p taggedPoint) Dims() int { return 3 }

func (p taggedPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.Vec, c.(taggedPoint).Vec))
}

type taggedPoints []taggedPoint

func (p taggedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p taggedPoints) Len() int                              { return len(p) }
func (p taggedPoints) Pivot(d kdtree.Dim) int                { return taggedPlane{taggedPoints: p, Dim: d}.Pivot() }
func (p taggedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// taggedPlane pivots taggedPoints on one dimension.
type taggedPlane struct {
	kdtree.Dim
	taggedPoints
}

func (p taggedPlane) Less(i, j int) bool {
	return p.taggedPoints[i].Compare(p.taggedPoints[j], p.Dim) < 0
}
func (p taggedPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p taggedPlane) Slice(start, end int) kdtree.SortSlicer {
	p.taggedPoints = p.taggedPoints[start:end]
	return p
}
func (p taggedPlane) Swap(i, j int) {
	p.taggedPoints[i], p.taggedPoints[j] = p.taggedPoints[j], p.taggedPoints[i]
}
