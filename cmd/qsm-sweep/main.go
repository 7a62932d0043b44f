// Command qsm-sweep runs the voxel downsampler and cylinder fitter over a
// grid of parameters on a synthetic branch and reports how each
// combination recovers the known radii.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/cloud"
	"github.com/banshee-data/treegraph/internal/config"
	"github.com/banshee-data/treegraph/internal/cylinder"
	"github.com/banshee-data/treegraph/internal/db"
	"github.com/banshee-data/treegraph/internal/fsutil"
	"github.com/banshee-data/treegraph/internal/monitoring"
	"github.com/banshee-data/treegraph/internal/security"
	"github.com/banshee-data/treegraph/internal/sweep"
	"github.com/banshee-data/treegraph/internal/version"
	"github.com/banshee-data/treegraph/internal/voxel"
)

func main() {
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("qsm-sweep: ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatalf("%v", err)
	}
}

type options struct {
	configPath   string
	dbPath       string
	edges        string
	minPoints    string
	removeSparse string
	radius       float64
	length       float64
	points       int
	segments     int
	noise        float64
	seed         uint64
	workers      int
	verbose      bool
	output       string
	version      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("qsm-sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Tuning config JSON (defaults apply when empty)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database to record the sweep in")
	fs.StringVar(&o.edges, "edge", "", "Voxel edge lengths: comma-separated or min:max:step (default from config)")
	fs.StringVar(&o.minPoints, "min-pts", "", "Sparse voxel thresholds: comma-separated or min:max:step (default from config)")
	fs.StringVar(&o.removeSparse, "remove-sparse", "", "Sparse voxel removal values, e.g. 'false,true' (default from config)")
	fs.Float64Var(&o.radius, "radius", 0.1, "Radius of the first branch segment")
	fs.Float64Var(&o.length, "length", 1.0, "Length of each branch segment")
	fs.IntVar(&o.points, "points", 4000, "Points sampled per segment")
	fs.IntVar(&o.segments, "segments", 3, "Number of branch segments; each tapers by 20%")
	fs.Float64Var(&o.noise, "noise", 0.002, "Standard deviation of point noise")
	fs.Uint64Var(&o.seed, "seed", 1, "Random seed for the synthetic branch")
	fs.IntVar(&o.workers, "workers", 0, "Concurrent combinations (0 = GOMAXPROCS)")
	fs.BoolVar(&o.verbose, "verbose", false, "Log per-step diagnostics")
	fs.StringVar(&o.output, "output", "", "Optional CSV file for the per-combination summary")
	fs.BoolVar(&o.version, "version", false, "Print version information and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintf(stdout, "qsm-sweep %s\n", version.String())
		return nil
	}
	if len(rest) > 0 {
		if rest[0] != "migrate" {
			return fmt.Errorf("unknown command %q", rest[0])
		}
		if o.dbPath == "" {
			return errors.New("migrate requires -db")
		}
		return db.RunMigrateCommand(stdout, rest[1:], o.dbPath)
	}

	cfg := config.EmptyTuningConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadTuningConfig(o.configPath); err != nil {
			return err
		}
	}
	monitoring.SetVerbose(o.verbose || cfg.GetVerbose())

	req, err := buildRequest(o, cfg)
	if err != nil {
		return err
	}
	if o.output != "" {
		if err := security.ValidateOutputPath(o.output); err != nil {
			return fmt.Errorf("invalid -output: %w", err)
		}
	}
	if o.points < cylinder.MinPoints || o.segments < 1 || !(o.radius > 0) || !(o.length > 0) {
		return fmt.Errorf("invalid branch: need -points >= %d, -segments >= 1 and positive -radius and -length", cylinder.MinPoints)
	}

	fitOpts, err := cylinder.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	base, err := voxel.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}

	var store sweep.Store
	if o.dbPath != "" {
		database, err := db.NewDB(o.dbPath)
		if err != nil {
			return err
		}
		defer database.Close()
		store = db.NewSweepStore(database)
	}

	points, clusters, radii := syntheticBranch(o)
	log.Printf("branch: %d segments, %d points, radii %s", o.segments, len(points), formatFloats(radii))

	runner := sweep.NewRunner(cylinder.NewFitter(fitOpts...), base, store)
	state, err := runner.Run(ctx, points, 0, clusters, req)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", state.ID, err)
	}
	for _, w := range state.Warnings {
		log.Printf("WARNING: %s", w)
	}

	if err := writeTable(stdout, state.Results, meanOf(radii)); err != nil {
		return err
	}
	if o.output != "" {
		if err := writeCSV(fsutil.OSFileSystem{}, o.output, state.Results); err != nil {
			return err
		}
		log.Printf("summary: %s", o.output)
	}
	if o.dbPath != "" {
		log.Printf("recorded sweep %s in %s", state.ID, o.dbPath)
	}
	return nil
}

// buildRequest fills the sweep grid from the flags, falling back to the
// single values in cfg.
func buildRequest(o *options, cfg *config.TuningConfig) (sweep.Request, error) {
	req := sweep.Request{Workers: o.workers}

	edges, err := sweep.ParseParamList(o.edges)
	if err != nil {
		return req, fmt.Errorf("invalid -edge: %w", err)
	}
	if o.edges == "" {
		edges = []float64{cfg.GetVoxelEdgeLength()}
	}
	if len(edges) == 0 {
		return req, fmt.Errorf("invalid -edge %q: empty range", o.edges)
	}
	req.EdgeLengths = edges

	minPts, err := sweep.ParseIntParamList(o.minPoints)
	if err != nil {
		return req, fmt.Errorf("invalid -min-pts: %w", err)
	}
	if o.minPoints == "" {
		minPts = []int{cfg.GetMinPointsPerVoxel()}
	}
	req.MinPoints = minPts

	remove, err := sweep.ParseCSVBools(o.removeSparse)
	if err != nil {
		return req, fmt.Errorf("invalid -remove-sparse: %w", err)
	}
	if o.removeSparse == "" {
		remove = []bool{cfg.GetRemoveSparseVoxels()}
	}
	req.RemoveSparse = remove
	return req, nil
}

// syntheticBranch chains o.segments cylinders, each bending a little further
// from vertical and 20% thinner than the last. It returns the points, one
// cluster of point indices per segment, and the true radii.
func syntheticBranch(o *options) ([]r3.Vec, [][]int, []float64) {
	var (
		points   []r3.Vec
		clusters [][]int
		radii    []float64
		start    r3.Vec
	)
	radius := o.radius
	for i := 0; i < o.segments; i++ {
		bend := 0.3 * float64(i)
		axis := r3.Vec{X: math.Sin(bend), Z: math.Cos(bend)}
		center := r3.Add(start, r3.Scale(o.length/2, axis))
		seg := cloud.Cylinder(cloud.CylinderSpec{
			Axis:   axis,
			Center: center,
			Radius: radius,
			Length: o.length,
			Points: o.points,
			Noise:  o.noise,
			Seed:   o.seed + uint64(i),
		})
		idx := make([]int, len(seg))
		for j := range seg {
			idx[j] = len(points) + j
		}
		points = append(points, seg...)
		clusters = append(clusters, idx)
		radii = append(radii, radius)

		start = r3.Add(start, r3.Scale(o.length, axis))
		radius *= 0.8
	}
	return points, clusters, radii
}

func writeTable(w io.Writer, results []sweep.ComboResult, trueMean float64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "combo\tedge\tmin_pts\tsparse\tkept\tratio\tfitted\tradius_mean\tradius_err\tfit_error\tfailures\t")
	for _, r := range results {
		radiusErr := "-"
		if r.Fitted > 0 {
			radiusErr = strconv.FormatFloat(r.RadiusMean-trueMean, 'g', 4, 64)
		}
		fmt.Fprintf(tw, "%d\t%g\t%d\t%v\t%d\t%.3f\t%d\t%.5f\t%s\t%.3g\t%s\t\n",
			r.Index, r.EdgeLength, r.MinPoints, r.RemoveSparse, r.KeptPoints, r.ReductionRatio,
			r.Fitted, r.RadiusMean, radiusErr, r.FitErrorMean, formatFailures(r))
	}
	return tw.Flush()
}

func writeCSV(fsys fsutil.FileSystem, path string, results []sweep.ComboResult) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("could not create output file %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	w.Write([]string{
		"combo", "edge_length", "min_points", "remove_sparse", "kept_points", "voxels", "reassigned",
		"stranded", "reduction_ratio", "fitted", "radius_mean", "radius_stddev", "fit_error_mean",
		"failures", "error", "elapsed_ms",
	})
	for _, r := range results {
		w.Write([]string{
			strconv.Itoa(r.Index),
			strconv.FormatFloat(r.EdgeLength, 'g', -1, 64),
			strconv.Itoa(r.MinPoints),
			strconv.FormatBool(r.RemoveSparse),
			strconv.Itoa(r.KeptPoints),
			strconv.Itoa(r.Voxels),
			strconv.Itoa(r.Reassigned),
			strconv.Itoa(r.Stranded),
			strconv.FormatFloat(r.ReductionRatio, 'f', 6, 64),
			strconv.Itoa(r.Fitted),
			strconv.FormatFloat(r.RadiusMean, 'f', 6, 64),
			strconv.FormatFloat(r.RadiusStddev, 'f', 6, 64),
			strconv.FormatFloat(r.FitErrorMean, 'g', 6, 64),
			formatFailures(r),
			r.Error,
			strconv.FormatFloat(float64(r.Elapsed.Microseconds())/1000, 'f', 3, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func formatFailures(r sweep.ComboResult) string {
	if len(r.Failures) == 0 {
		return "-"
	}
	kinds := make([]string, 0, len(r.Failures))
	for k := range r.Failures {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, r.Failures[k])
	}
	return strings.Join(parts, ";")
}

func formatFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'g', 4, 64)
	}
	return strings.Join(parts, ",")
}

func meanOf(xs []float64) float64 {
	mean, _ := sweep.MeanStddev(xs)
	return mean
}
