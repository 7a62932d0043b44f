// Package cylinder fits infinite cylinders to 3D point sets using David
// Eberly's least-squares formulation.
//
// The fit centres the points, then searches the two spherical angles of the
// axis direction w for the minimum of
//
//	G(w) = Σ (‖Yᵢ‖² − u − 2·Yᵢ·v)²
//
// where Yᵢ are the centred points projected onto the plane orthogonal to w,
// u is the mean of ‖Yᵢ‖², and v = Â·Σ‖Yᵢ‖²Yᵢ / trace(Â·A) with
// A = ΣYᵢYᵢᵗ and Â = S·A·Sᵗ for the skew matrix S of w. The axis point and
// the radius are recovered in closed form at the optimum.
//
// The search is pluggable through the Optimizer interface; NelderMead is the
// default and CMAES is available for population-based searches.
package cylinder
