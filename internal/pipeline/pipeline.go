// Package pipeline runs the complete terrain job: split the source raster,
// compute a record per tile, index the records and write the report.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/raster"
	"github.com/ironsheep/xenarch/internal/report"
	"github.com/ironsheep/xenarch/internal/splitter"
)

// ParamsFile is written to the output directory at the start of a run.
const ParamsFile = "params.json"

// Stage names passed to Pipeline.OnStage.
const (
	StageSplit   = "split"
	StageMetrics = "metrics"
)

// Pipeline runs complete jobs with one configuration.
type Pipeline struct {
	Config *config.Config
	// Catalog, when set, receives the run and its records.
	Catalog *catalog.Catalog
	// ReportDir overrides <output>/plots.
	ReportDir string
	// OnStage, when set, is called before a stage with its item count and
	// returns a per-item progress callback, which may be nil.
	OnStage func(stage string, total int) func()
}

// Params is the content of params.json.
type Params struct {
	RunID     string         `json:"run_id"`
	Input     string         `json:"input"`
	OutputDir string         `json:"output_dir"`
	StartedAt time.Time      `json:"started_at"`
	Config    *config.Config `json:"config"`
}

// Result describes a finished run. ReportError is set when the report could
// not be produced; tiles and records are still in place then.
type Result struct {
	RunID       string                  `json:"run_id"`
	OutputDir   string                  `json:"output_dir"`
	ReportDir   string                  `json:"report_dir"`
	Split       splitter.Summary        `json:"split"`
	Metrics     metrics.GenerateSummary `json:"metrics"`
	Indexed     int                     `json:"indexed"`
	Report      *report.Report          `json:"report,omitempty"`
	ReportError string                  `json:"report_error,omitempty"`
}

// Complete runs every stage for input, writing tiles and records to outDir.
func (p *Pipeline) Complete(ctx context.Context, input, outDir string) (*Result, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	res := &Result{RunID: uuid.NewString(), OutputDir: outDir, ReportDir: p.ReportDir}
	if res.ReportDir == "" {
		res.ReportDir = filepath.Join(outDir, "plots")
	}
	params := Params{RunID: res.RunID, Input: input, OutputDir: outDir, StartedAt: time.Now().UTC(), Config: cfg}
	if err := writeParams(filepath.Join(outDir, ParamsFile), params); err != nil {
		return nil, err
	}
	logging.Infof("Starting run %s for %s", res.RunID, input)

	sp := &splitter.Splitter{
		GridSize:    cfg.Split.GridSize,
		Overlap:     cfg.Split.Overlap,
		CPUFraction: cfg.Split.CPUFraction,
		Progress:    p.stage(StageSplit, p.splitTotal(input)),
	}
	split, err := sp.Split(ctx, input, outDir)
	if err != nil {
		return nil, err
	}
	res.Split = split
	logging.Infof("Saved %d tiles (%d skipped, %d failed)", len(split.Saved), split.Skipped, split.Failed)

	gen := metrics.Generator{
		CPUFraction: cfg.Split.CPUFraction,
		Progress:    p.stage(StageMetrics, p.metricsTotal(outDir)),
	}
	sum, err := gen.Generate(ctx, outDir)
	if err != nil {
		return nil, err
	}
	res.Metrics = sum

	if p.Catalog != nil {
		if err := p.Catalog.StartRun(ctx, res.RunID, input, params); err != nil {
			return nil, err
		}
		if err := p.Catalog.Upsert(ctx, res.RunID, sum.Records); err != nil {
			return nil, err
		}
		res.Indexed = len(sum.Records)
	}

	rep, err := report.Build(sum.Records, outDir, res.ReportDir, report.OptionsFromConfig(cfg))
	if err != nil {
		logging.Errorf("Report for run %s failed: %v", res.RunID, err)
		res.ReportError = err.Error()
	}
	res.Report = rep
	return res, nil
}

func (p *Pipeline) stage(name string, total int) func() {
	if p.OnStage == nil {
		return nil
	}
	return p.OnStage(name, total)
}

// splitTotal is the number of candidate windows, or 0 when the layout
// cannot be planned yet; Split reports that error itself.
func (p *Pipeline) splitTotal(input string) int {
	if p.OnStage == nil {
		return 0
	}
	meta, err := raster.ReadMetadata(input)
	if err != nil {
		return 0
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	layout, err := splitter.PlanLayout(meta.Height, meta.Width, cfg.Split.GridSize, cfg.Split.Overlap)
	if err != nil {
		return 0
	}
	return len(layout.Windows)
}

func (p *Pipeline) metricsTotal(dir string) int {
	if p.OnStage == nil {
		return 0
	}
	tiles, err := metrics.TileFiles(dir)
	if err != nil {
		return 0
	}
	return len(tiles)
}

func writeParams(path string, params Params) error {
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write parameters: %w", err)
	}
	return nil
}

// ReadParams loads the params.json of a previous run.
func ReadParams(dir string) (Params, error) {
	var params Params
	data, err := os.ReadFile(filepath.Join(dir, ParamsFile))
	if err != nil {
		return params, fmt.Errorf("failed to read parameters: %w", err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("failed to parse parameters: %w", err)
	}
	return params, nil
}
