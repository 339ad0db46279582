// Command xenarch finds anomalous terrain by fractal dimension.
//
//	xenarch complete -i terrain.tif -o out/     split, compute, index and report
//	xenarch split    -i terrain.tif -o out/     cut the raster into grid tiles
//	xenarch metrics  -i out/                    compute a record per tile
//	xenarch analyze  -i out/                    histogram, samples and summary.json
//	xenarch scan     -i terrain.tif             chunked scan, one JSON line per chunk
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/ironsheep/xenarch/internal/analyzer"
	"github.com/ironsheep/xenarch/internal/anomaly"
	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/pipeline"
	"github.com/ironsheep/xenarch/internal/raster"
	"github.com/ironsheep/xenarch/internal/report"
	"github.com/ironsheep/xenarch/internal/splitter"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const defaultOutputDir = "./data/grids"

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	logging.LevelFromEnv("XENARCH_LOG_LEVEL")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "complete":
		err = runComplete(ctx, args)
	case "split":
		err = runSplit(ctx, args)
	case "metrics":
		err = runMetrics(ctx, args)
	case "analyze":
		err = runAnalyze(args)
	case "scan":
		err = runScan(args)
	case "version", "--version":
		fmt.Printf("xenarch %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Println("xenarch - terrain anomaly detection by fractal dimension")
	fmt.Println()
	fmt.Println("Usage: xenarch <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  complete   Run the complete pipeline (split, metrics, catalog, analyze)")
	fmt.Println("  split      Split terrain into grids")
	fmt.Println("  metrics    Generate metrics for terrain grids")
	fmt.Println("  analyze    Analyze and visualize results")
	fmt.Println("  scan       Chunked sliding-window scan, JSON lines on stdout")
	fmt.Println("  version    Print version information")
	fmt.Println()
	fmt.Println("Run 'xenarch <command> -h' for the flags of a command.")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  XENARCH_LOG_LEVEL=debug    Log level (debug, info, warn, error)")
}

// options carries every flag; each subcommand registers the ones it uses.
type options struct {
	configPath string
	verbose    bool
	input      string
	outputDir  string
	plotOutput string
	catalog    string

	cfg *config.Config
}

func newFlagSet(name string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	o.cfg = config.Default()
	fs.StringVar(&o.configPath, "config", "", "JSON configuration file; flags override its values")
	fs.BoolVar(&o.verbose, "v", false, "Enable verbose output")
	return fs
}

func splitFlags(fs *flag.FlagSet, c *config.SplitConfig) {
	fs.IntVar(&c.GridSize, "grid-size", c.GridSize, "Size of grid cells")
	fs.IntVar(&c.Overlap, "overlap", c.Overlap, "Overlap between grids")
	fs.Float64Var(&c.CPUFraction, "cpu-fraction", c.CPUFraction, "CPU usage fraction")
}

func filterFlags(fs *flag.FlagSet, c *config.FilterConfig) {
	fs.Float64Var(&c.FDMin, "fd-min", c.FDMin, "Min fractal dimension")
	fs.Float64Var(&c.FDMax, "fd-max", c.FDMax, "Max fractal dimension")
	fs.Float64Var(&c.R2Min, "r2-min", c.R2Min, "Min R-squared value")
	fs.IntVar(&c.MaxSamples, "max-samples", c.MaxSamples, "Max samples to display")
}

// parse parses args, then layers the configuration file under the flags
// that were set explicitly.
func (o *options) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.verbose {
		logging.SetLevel(logging.LevelDebug)
	}
	if o.configPath != "" {
		fileCfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		set := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		o.cfg = mergeFlags(fileCfg, o.cfg, set)
	}
	return o.cfg.Validate()
}

// mergeFlags returns base with the fields behind the set flags taken from
// flagged.
func mergeFlags(base, flagged *config.Config, set map[string]bool) *config.Config {
	out := *base
	pick := map[string]func(){
		"grid-size":      func() { out.Split.GridSize = flagged.Split.GridSize },
		"overlap":        func() { out.Split.Overlap = flagged.Split.Overlap },
		"cpu-fraction":   func() { out.Split.CPUFraction = flagged.Split.CPUFraction },
		"fd-min":         func() { out.Filter.FDMin = flagged.Filter.FDMin },
		"fd-max":         func() { out.Filter.FDMax = flagged.Filter.FDMax },
		"r2-min":         func() { out.Filter.R2Min = flagged.Filter.R2Min },
		"max-samples":    func() { out.Filter.MaxSamples = flagged.Filter.MaxSamples },
		"scan-grid":      func() { out.Scan.GridSize = flagged.Scan.GridSize },
		"chunk-rows":     func() { out.Scan.ChunkRows = flagged.Scan.ChunkRows },
		"min-r2":         func() { out.Scan.MinRSquared = flagged.Scan.MinRSquared },
		"workers":        func() { out.Scan.Workers = flagged.Scan.Workers },
		"sigma":          func() { out.Anomaly.Sigma = flagged.Anomaly.Sigma },
		"anomaly-r2-min": func() { out.Anomaly.MinRSquared = flagged.Anomaly.MinRSquared },
	}
	for name := range set {
		if f, ok := pick[name]; ok {
			f()
		}
	}
	return &out
}

func requireInput(o *options) error {
	if o.input == "" {
		return errors.New("-i is required")
	}
	return nil
}

func runComplete(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("complete", &o)
	fs.StringVar(&o.input, "i", "", "Input terrain file (GeoTIFF)")
	fs.StringVar(&o.outputDir, "o", defaultOutputDir, "Output directory")
	fs.StringVar(&o.plotOutput, "plot-output", "", "Output directory for plots (default <output>/plots)")
	fs.StringVar(&o.catalog, "catalog", "", "SQLite catalog that indexes the run")
	splitFlags(fs, &o.cfg.Split)
	filterFlags(fs, &o.cfg.Filter)
	if err := o.parse(fs, args); err != nil {
		return err
	}
	if err := requireInput(&o); err != nil {
		return err
	}

	p := &pipeline.Pipeline{Config: o.cfg, ReportDir: o.plotOutput}
	if o.catalog != "" {
		cat, err := catalog.Open(o.catalog)
		if err != nil {
			return err
		}
		defer cat.Close()
		p.Catalog = cat
	}

	bars := newProgress()
	p.OnStage = bars.stage
	res, err := p.Complete(ctx, o.input, o.outputDir)
	bars.stop()
	if err != nil {
		return err
	}

	logging.Infof("Run %s: %d tiles, %d records, report in %s",
		res.RunID, len(res.Split.Saved), len(res.Metrics.Records), res.ReportDir)
	if res.ReportError != "" {
		logging.Warnf("Report incomplete: %s", res.ReportError)
	}
	return nil
}

func runSplit(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("split", &o)
	fs.StringVar(&o.input, "i", "", "Input terrain file")
	fs.StringVar(&o.outputDir, "o", defaultOutputDir, "Output directory")
	splitFlags(fs, &o.cfg.Split)
	if err := o.parse(fs, args); err != nil {
		return err
	}
	if err := requireInput(&o); err != nil {
		return err
	}

	bars := newProgress()
	sp := &splitter.Splitter{
		GridSize:    o.cfg.Split.GridSize,
		Overlap:     o.cfg.Split.Overlap,
		CPUFraction: o.cfg.Split.CPUFraction,
		Progress:    bars.stage(pipeline.StageSplit, splitTotal(o.input, o.cfg.Split)),
	}
	sum, err := sp.Split(ctx, o.input, o.outputDir)
	bars.stop()
	if err != nil {
		return err
	}
	logging.Infof("Saved %d of %d grids to %s (%d skipped, %d failed)",
		len(sum.Saved), sum.Candidates, o.outputDir, sum.Skipped, sum.Failed)
	return nil
}

func splitTotal(input string, c config.SplitConfig) int {
	meta, err := raster.ReadMetadata(input)
	if err != nil {
		return 0
	}
	layout, err := splitter.PlanLayout(meta.Height, meta.Width, c.GridSize, c.Overlap)
	if err != nil {
		return 0
	}
	return len(layout.Windows)
}

func runMetrics(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("metrics", &o)
	fs.StringVar(&o.input, "i", "", "Input directory with splits")
	fs.Float64Var(&o.cfg.Split.CPUFraction, "cpu-fraction", o.cfg.Split.CPUFraction, "CPU usage fraction")
	if err := o.parse(fs, args); err != nil {
		return err
	}
	if err := requireInput(&o); err != nil {
		return err
	}

	tiles, err := metrics.TileFiles(o.input)
	if err != nil {
		return err
	}
	bars := newProgress()
	gen := metrics.Generator{
		CPUFraction: o.cfg.Split.CPUFraction,
		Progress:    bars.stage(pipeline.StageMetrics, len(tiles)),
	}
	sum, err := gen.Generate(ctx, o.input)
	bars.stop()
	if err != nil {
		return err
	}
	for _, f := range sum.Failed {
		logging.Warnf("No record for %s", f)
	}
	return nil
}

func runAnalyze(args []string) error {
	var o options
	fs := newFlagSet("analyze", &o)
	fs.StringVar(&o.input, "i", "", "Input directory with metrics")
	fs.StringVar(&o.plotOutput, "plot-output", "", "Output directory for plots (default ./data/plots)")
	fs.Float64Var(&o.cfg.Split.CPUFraction, "cpu-fraction", o.cfg.Split.CPUFraction, "CPU usage fraction")
	filterFlags(fs, &o.cfg.Filter)
	if err := o.parse(fs, args); err != nil {
		return err
	}
	if err := requireInput(&o); err != nil {
		return err
	}
	if o.plotOutput == "" {
		o.plotOutput = filepath.Join(".", "data", "plots")
	}

	rep, err := report.Analyze(o.input, o.plotOutput, report.OptionsFromConfig(o.cfg))
	if err != nil {
		return err
	}
	logging.Infof("%d of %d samples meet conditions; %d anomalies; report in %s",
		rep.Filtered, rep.Total, len(rep.Interesting), o.plotOutput)
	return nil
}

// scanLine is the JSON line written per chunk.
type scanLine struct {
	ChunkID     int            `json:"chunk_id"`
	StartRow    int            `json:"start_row"`
	EndRow      int            `json:"end_row"`
	Tiles       int            `json:"tiles"`
	Stats       analyzer.Stats `json:"stats"`
	Interesting []string       `json:"interesting"`
}

func runScan(args []string) error {
	var o options
	fs := newFlagSet("scan", &o)
	fs.StringVar(&o.input, "i", "", "Input terrain file")
	fs.StringVar(&o.outputDir, "o", "", "Directory for kept tiles and records (optional)")
	fs.IntVar(&o.cfg.Scan.GridSize, "scan-grid", o.cfg.Scan.GridSize, "Window size in pixels")
	fs.IntVar(&o.cfg.Scan.ChunkRows, "chunk-rows", o.cfg.Scan.ChunkRows, "Rows per chunk")
	fs.Float64Var(&o.cfg.Scan.MinRSquared, "min-r2", o.cfg.Scan.MinRSquared, "Keep tiles with R-squared above this")
	fs.IntVar(&o.cfg.Scan.Workers, "workers", o.cfg.Scan.Workers, "Tiles estimated concurrently per chunk")
	fs.Float64Var(&o.cfg.Anomaly.Sigma, "sigma", o.cfg.Anomaly.Sigma, "Anomaly threshold in standard deviations")
	fs.Float64Var(&o.cfg.Anomaly.MinRSquared, "anomaly-r2-min", o.cfg.Anomaly.MinRSquared, "Anomalies need R-squared above this")
	if err := o.parse(fs, args); err != nil {
		return err
	}
	if err := requireInput(&o); err != nil {
		return err
	}

	an := analyzer.New(o.cfg.Scan, anomaly.Rule{Sigma: o.cfg.Anomaly.Sigma, MinRSquared: o.cfg.Anomaly.MinRSquared})
	an.OutputDir = o.outputDir
	it, err := an.Analyze(o.input)
	if err != nil {
		return err
	}
	defer it.Close()

	enc := json.NewEncoder(os.Stdout)
	for it.Next() {
		c := it.Result()
		line := scanLine{
			ChunkID:     c.ChunkID,
			StartRow:    c.StartRow,
			EndRow:      c.EndRow,
			Tiles:       len(c.Tiles),
			Stats:       c.Stats,
			Interesting: c.Stats.InterestingIDs,
		}
		if line.Interesting == nil {
			line.Interesting = []string{}
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", c.ChunkID, err)
		}
	}
	return it.Err()
}
