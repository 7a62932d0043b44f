package cylinder

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/geom"
)

// DefaultChunkSize is the number of points accumulated per partial sum.
// Partials are always combined in chunk order, so a fit gives the same
// result whether chunks run sequentially or concurrently.
const DefaultChunkSize = 2048

// traceFloor is the relative size of trace(Â·A) below which the
// projected points are treated as collinear for the current direction.
const traceFloor = 1e-12

// objective evaluates Eberly's G(w) over a centred point set.
type objective struct {
	xs       []r3.Vec
	chunk    int
	parallel bool
}

func newObjective(centred []r3.Vec, chunk, parallelThreshold int) *objective {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &objective{
		xs:       centred,
		chunk:    chunk,
		parallel: parallelThreshold > 0 && len(centred) >= parallelThreshold,
	}
}

// moments are the first-pass sums over the projected points Y = P·X.
type moments struct {
	a     r3.Mat  // Σ Y·Yᵗ
	sumSq float64 // Σ ‖Y‖²
	wSum  r3.Vec  // Σ ‖Y‖²·Y
}

func (m *moments) add(o *moments) {
	m.a.Add(&m.a, &o.a)
	m.sumSq += o.sumSq
	m.wSum = r3.Add(m.wSum, o.wSum)
}

// chunks returns the number of chunks covering the point set.
func (o *objective) chunks() int {
	return (len(o.xs) + o.chunk - 1) / o.chunk
}

func (o *objective) span(c int) []r3.Vec {
	lo := c * o.chunk
	hi := min(lo+o.chunk, len(o.xs))
	return o.xs[lo:hi]
}

// forEachChunk runs fn once per chunk, concurrently when the point set is
// large enough.
func (o *objective) forEachChunk(fn func(c int)) {
	n := o.chunks()
	if !o.parallel || n < 2 {
		for c := 0; c < n; c++ {
			fn(c)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for c := 0; c < n; c++ {
		g.Go(func() error {
			fn(c)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *objective) moments(p *r3.Mat) moments {
	partials := make([]moments, o.chunks())
	o.forEachChunk(func(c int) {
		m := &partials[c]
		var yy r3.Mat
		for _, x := range o.span(c) {
			y := p.MulVec(x)
			sq := r3.Norm2(y)
			yy.Outer(1, y, y)
			m.a.Add(&m.a, &yy)
			m.sumSq += sq
			m.wSum = r3.Add(m.wSum, r3.Scale(sq, y))
		}
	})
	var total moments
	for i := range partials {
		total.add(&partials[i])
	}
	return total
}

// center returns C(w) = Â·Σ(‖Y‖²·Y) / trace(Â·A) for the centred points,
// the trace it divided by, and whether that trace is large enough for the
// division to be meaningful.
func (o *objective) center(w r3.Vec) (r3.Vec, float64, bool) {
	p := geom.ProjectionMatrix(w)
	m := o.moments(p)
	return centerOf(&m, w)
}

func centerOf(m *moments, w r3.Vec) (r3.Vec, float64, bool) {
	aHat := geom.WeightedSecondMoment(&m.a, geom.SkewMatrix(w))
	tr := geom.TraceProduct(aHat, &m.a)
	scale := geom.Trace(&m.a)
	if math.IsNaN(tr) || tr <= traceFloor*scale*scale {
		return r3.Vec{}, tr, false
	}
	return r3.Scale(1/tr, aHat.MulVec(m.wSum)), tr, true
}

// value returns G(w). Directions for which the projected points are
// collinear evaluate to +Inf.
func (o *objective) value(w r3.Vec) float64 {
	if len(o.xs) == 0 {
		return math.Inf(1)
	}
	p := geom.ProjectionMatrix(w)
	m := o.moments(p)
	v, _, ok := centerOf(&m, w)
	if !ok {
		return math.Inf(1)
	}
	u := m.sumSq / float64(len(o.xs))

	partials := make([]float64, o.chunks())
	o.forEachChunk(func(c int) {
		var s float64
		for _, x := range o.span(c) {
			y := p.MulVec(x)
			d := r3.Norm2(y) - u - 2*r3.Dot(y, v)
			s += d * d
		}
		partials[c] = s
	})
	var g float64
	for _, s := range partials {
		g += s
	}
	return g
}

// angles adapts value to the (θ, φ) parameterisation used by the search.
func (o *objective) angles(x []float64) float64 {
	return o.value(geom.Direction(x[0], x[1]))
}

// radius returns sqrt(mean (c−X)ᵗ·P·(c−X)) over the centred points.
func (o *objective) radius(w, c r3.Vec) float64 {
	p := geom.ProjectionMatrix(w)
	partials := make([]float64, o.chunks())
	o.forEachChunk(func(ci int) {
		var s float64
		for _, x := range o.span(ci) {
			d := r3.Sub(c, x)
			s += r3.Dot(d, p.MulVec(d))
		}
		partials[ci] = s
	})
	var sum float64
	for _, s := range partials {
		sum += s
	}
	return math.Sqrt(math.Max(0, sum/float64(len(o.xs))))
}
