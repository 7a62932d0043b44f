// Package voxel downsamples point clouds on a cubic lattice.
//
// Every point is binned into the lattice cell given by truncating its
// coordinates divided by the edge length. Optionally, sparse cells are
// merged into their nearest dense neighbour first. One representative per
// cell is then marked as kept; nothing is removed, so indices into the
// input stay valid.
package voxel
