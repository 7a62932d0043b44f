package qsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/treegraph/internal/cloud"
	"github.com/banshee-data/treegraph/internal/monitoring"
	"github.com/banshee-data/treegraph/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, body string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	testutil.AssertNoError(t, err)
	return cfg
}

func TestFitCylinder(t *testing.T) {
	spec, points := testutil.Branch(300, 0, 41)
	cyl, err := FitCylinder(points)
	testutil.AssertNoError(t, err)
	testutil.AssertSameAxis(t, cyl.Direction, spec.Axis, 1e-4)
	testutil.AssertNear(t, "radius", cyl.Radius, spec.Radius, 1e-4)
}

func TestFitCylinder_Errors(t *testing.T) {
	_, err := FitCylinder([]Point{{X: 1}, {X: 2}})
	testutil.AssertErrorIs(t, err, ErrDegenerateInput)
	var de *DegenerateInputError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DegenerateInputError, got %T", err)
	}
	if de.Points != 2 {
		t.Errorf("expected 2 points in the error, got %d", de.Points)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, points := testutil.Branch(100, 0, 42)
	_, err = FitCylinderContext(ctx, points)
	testutil.AssertErrorIs(t, err, context.Canceled)
}

func TestDownsamplePoints_UnitCube(t *testing.T) {
	res, err := DownsamplePoints(cloud.CubeCorners(1), 3, 2)
	testutil.AssertNoError(t, err)
	if diff := cmp.Diff([]int{0}, res.KeptIndices()); diff != "" {
		t.Errorf("kept indices mismatch (-want +got):\n%s", diff)
	}
	if res.BaseIndex != 0 {
		t.Errorf("expected base index 0, got %d", res.BaseIndex)
	}
	if len(res.Points) != 8 {
		t.Errorf("expected 8 points, got %d", len(res.Points))
	}
}

func TestDownsamplePoints_Options(t *testing.T) {
	// Two dense voxels along x and a lone point next to the first one.
	points := []Point{
		{X: 0.1, Y: 0.1, Z: 0.1}, {X: 0.2, Y: 0.2, Z: 0.2}, {X: 0.3, Y: 0.1, Z: 0.2},
		{X: 3.1, Y: 0.1, Z: 0.1}, {X: 3.2, Y: 0.2, Z: 0.2}, {X: 3.3, Y: 0.1, Z: 0.2},
		{X: 1.5, Y: 0.5, Z: 0.5},
	}

	plain, err := DownsamplePoints(points, 6, 1)
	testutil.AssertNoError(t, err)
	if plain.Voxels != 3 {
		t.Errorf("expected 3 voxels, got %d", plain.Voxels)
	}
	if plain.BaseIndex != 6 {
		t.Errorf("expected the lone point to represent its own voxel, got base %d", plain.BaseIndex)
	}

	merged, err := DownsamplePoints(points, 6, 1, WithSparseVoxelRemoval(1), WithNeighbours(3))
	testutil.AssertNoError(t, err)
	if merged.Voxels != 2 || merged.Reassigned != 1 {
		t.Errorf("expected 2 voxels and 1 reassigned, got %d and %d", merged.Voxels, merged.Reassigned)
	}
	if merged.Keys[6] != merged.Keys[0] {
		t.Errorf("expected the lone point to join voxel %v, got %v", merged.Keys[0], merged.Keys[6])
	}

	_, err = DownsamplePoints(points, 0, 1, WithSparseVoxelRemoval(10))
	testutil.AssertErrorIs(t, err, ErrNoMergeTarget)

	_, err = DownsamplePoints(points, 0, 0)
	testutil.AssertErrorIs(t, err, ErrConfiguration)

	_, err = DownsamplePoints(points, 0, 1, WithSparsePolicy(SparsePolicyKeep), WithSparseVoxelRemoval(1))
	testutil.AssertNoError(t, err)
}

func TestConfigWiring(t *testing.T) {
	cfg := writeConfig(t, `{
		"remove_sparse_voxels": true,
		"min_points_per_voxel": 1,
		"voxel_neighbours": 3,
		"fit_optimizer": "nelder-mead",
		"fit_max_iterations": 500
	}`)

	f, err := NewFitter(cfg)
	testutil.AssertNoError(t, err)
	spec, pts := testutil.Branch(200, 0, 43)
	cyl, err := f.Fit(context.Background(), pts)
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, "radius", cyl.Radius, spec.Radius, 1e-3)

	points := []Point{
		{X: 0.1, Y: 0.1, Z: 0.1}, {X: 0.2, Y: 0.2, Z: 0.2},
		{X: 1.5, Y: 0.5, Z: 0.5},
	}
	res, err := DownsamplePoints(points, 0, 1, WithConfig(cfg))
	testutil.AssertNoError(t, err)
	if res.Voxels != 1 {
		t.Errorf("expected the sparse voxel merged into 1 voxel, got %d", res.Voxels)
	}

	_, err = NewFitter(nil)
	testutil.AssertNoError(t, err)
}

func TestWithConfig_UnknownPolicy(t *testing.T) {
	bad := &Config{}
	policy := "sideways"
	bad.SparseVoxelPolicy = &policy

	points := []Point{{X: 0.1}, {X: 0.2}, {X: 1.5}}
	_, err := DownsamplePoints(points, 0, 1, WithConfig(bad))
	testutil.AssertErrorIs(t, err, ErrConfiguration)

	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
	if ce.Field != "sparse_voxel_policy" {
		t.Errorf("expected the error to name sparse_voxel_policy, got %q", ce.Field)
	}

	_, err = NewFitter(bad)
	testutil.AssertErrorIs(t, err, ErrConfiguration)
}

func TestNewFitter_LeavesVerbosityAlone(t *testing.T) {
	SetVerbose(false)
	defer SetVerbose(false)

	cfg := writeConfig(t, `{"verbose": true}`)
	if _, err := NewFitter(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if monitoring.Verbose() {
		t.Error("expected NewFitter not to enable tracing")
	}

	SetVerbose(true)
	if !monitoring.Verbose() {
		t.Error("expected SetVerbose(true) to enable tracing")
	}
}

func ExampleDownsamplePoints() {
	// The eight corners of a unit cube share one voxel of edge 2.
	res, err := DownsamplePoints(cloud.CubeCorners(1), 3, 2)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(res.KeptIndices(), res.BaseIndex)
	// Output: [0] 0
}
