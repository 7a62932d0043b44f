package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/treegraph/internal/config"
	"github.com/banshee-data/treegraph/internal/fsutil"
	"github.com/banshee-data/treegraph/internal/monitoring"
	"github.com/banshee-data/treegraph/internal/sweep"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestRun_TableCSVAndDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sweeps.db")
	csvPath := filepath.Join(dir, "summary.csv")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-points", "400", "-segments", "2", "-radius", "0.2",
		"-edge", "0.05,0.1", "-workers", "2",
		"-db", dbPath, "-output", csvPath,
	}, &out, io.Discard)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "header plus one row per combination:\n%s", out.String())
	assert.Contains(t, lines[0], "radius_mean")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "edge_length", records[0][1])
	assert.Equal(t, "0.05", records[1][1])
	assert.Equal(t, "2", records[1][9], "both segments fitted")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-db", dbPath, "migrate", "status"}, &out, io.Discard))
	assert.Contains(t, out.String(), "Current version: 1")
}

func TestRun_Errors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"unknown_command", []string{"explode"}},
		{"migrate_without_db", []string{"migrate", "up"}},
		{"bad_edge", []string{"-edge", "0.1:x:0.1"}},
		{"empty_edge_range", []string{"-edge", "0.5:0.1:0.1"}},
		{"bad_min_pts", []string{"-min-pts", "one"}},
		{"bad_remove_sparse", []string{"-remove-sparse", "maybe"}},
		{"bad_branch", []string{"-points", "2"}},
		{"bad_flag", []string{"-nope"}},
		{"missing_config", []string{"-config", "missing.json"}},
		{"output_outside_allowed_dirs", []string{"-output", "/proc/qsm/summary.csv"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, run(context.Background(), tc.args, io.Discard, io.Discard))
		})
	}
}

func TestRun_FlagErrorsGoToStderr(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-nope"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "flag provided but not defined: -nope")
	assert.Contains(t, stderr.String(), "-edge")
}

func TestBuildRequest_Defaults(t *testing.T) {
	o, _, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	req, err := buildRequest(o, config.EmptyTuningConfig())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.02}, req.EdgeLengths)
	assert.Equal(t, []int{1}, req.MinPoints)
	assert.Equal(t, []bool{false}, req.RemoveSparse)

	o.edges, o.minPoints, o.removeSparse = "0.01:0.03:0.01", "1,2", "false,true"
	req, err = buildRequest(o, config.EmptyTuningConfig())
	require.NoError(t, err)
	combos, err := req.Combos()
	require.NoError(t, err)
	assert.Len(t, combos, 12)
}

func TestSyntheticBranch(t *testing.T) {
	o := &options{radius: 0.5, length: 2, points: 50, segments: 3, seed: 7}
	points, clusters, radii := syntheticBranch(o)
	assert.Len(t, points, 150)
	require.Len(t, clusters, 3)
	assert.Equal(t, 100, clusters[2][0])
	assert.InDeltaSlice(t, []float64{0.5, 0.4, 0.32}, radii, 1e-12)
}

func TestFormatFailures(t *testing.T) {
	r := sweep.ComboResult{Failures: map[string]int{sweep.FailureNonConvergence: 1, sweep.FailureDegenerate: 2}}
	assert.Equal(t, "degenerate_input=2;non_convergence=1", formatFailures(r))
	assert.Equal(t, "-", formatFailures(sweep.ComboResult{}))
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &out, io.Discard))
	assert.Equal(t, "qsm-sweep dev (commit unknown, built unknown)\n", out.String())
}

func TestWriteCSV(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	results := []sweep.ComboResult{{
		Combo:      sweep.Combo{Index: 0, EdgeLength: 0.025, MinPoints: 2, RemoveSparse: true},
		KeptPoints: 10,
		Fitted:     1,
		RadiusMean: 0.25,
		Failures:   map[string]int{sweep.FailureDegenerate: 1},
	}}
	require.NoError(t, writeCSV(fsys, "summary.csv", results))

	data, err := fsys.ReadFile("summary.csv")
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"0", "0.025", "2", "true", "10"}, records[1][:5])
	assert.Equal(t, "0.250000", records[1][10])
	assert.Equal(t, "degenerate_input=1", records[1][13])
}
