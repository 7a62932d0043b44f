// Package geom holds the stateless linear-algebra leaves used by the
// cylinder fitter: spherical directions, projection and skew matrices,
// second-moment matrices, and a few point/line helpers.
//
// Points and directions are gonum r3.Vec values and 3×3 matrices are
// r3.Mat, so results can be handed straight to gonum/mat when a caller
// needs general dense algebra.
//
// Dependency rule: geom depends only on gonum and qsmerr. It must not
// import cylinder or voxel.
package geom
