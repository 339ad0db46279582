// Package report turns a directory of metrics records into an analysis: the
// records that pass a fractal-dimension / R² filter, the batch-relative
// anomalies, a histogram of the batch and previews of the selected tiles.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/anomaly"
	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/imaging"
	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/raster"
)

// Output file names inside the report directory.
const (
	HistogramFile = "fractal_histogram.png"
	SamplesFile   = "filtered_samples.png"
	SummaryFile   = "summary.json"
	samplesDir    = "samples"
	sampleCell    = 192
)

// Options controls a report.
type Options struct {
	Filter catalog.Filter
	// MaxSamples caps the previewed filtered tiles; 0 previews none.
	MaxSamples int
	Rule       anomaly.Rule
	// Ramp colours the sample previews; the zero value is grayscale.
	Ramp imaging.Ramp
}

// OptionsFromConfig builds Options from the filter and anomaly sections.
// The R² upper bound is 1, matching a closed [r2_min, 1] range.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Filter: catalog.Filter{
			FDMin: cfg.Filter.FDMin,
			FDMax: cfg.Filter.FDMax,
			R2Min: cfg.Filter.R2Min,
			R2Max: 1,
		},
		MaxSamples: cfg.Filter.MaxSamples,
		Rule:       anomaly.Rule{Sigma: cfg.Anomaly.Sigma, MinRSquared: cfg.Anomaly.MinRSquared},
	}
}

// Sample is a filtered tile with its rendered preview.
type Sample struct {
	GridID           string  `json:"grid_id"`
	FractalDimension float64 `json:"fractal_dimension"`
	RSquared         float64 `json:"r_squared"`
	Preview          string  `json:"preview,omitempty"`
}

// Report is what summary.json holds.
type Report struct {
	Total         int              `json:"total"`
	Filtered      int              `json:"filtered"`
	Filter        catalog.Filter   `json:"filter"`
	Rule          anomaly.Rule     `json:"rule"`
	Stats         anomaly.Stats    `json:"stats"`
	Interesting   []string         `json:"interesting"`
	TopAnomalies  []anomaly.Scored `json:"top_anomalies"`
	Samples       []Sample         `json:"samples"`
	Histogram     string           `json:"histogram,omitempty"`
	SamplesSheet  string           `json:"samples_sheet,omitempty"`
	FilteredTiles []string         `json:"filtered_tiles"`
}

// Analyze loads every record in tileDir and writes the report to outDir.
func Analyze(tileDir, outDir string, opts Options) (*Report, error) {
	recs, err := metrics.LoadRecords(tileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	logging.Infof("Loaded %d records from %s", len(recs), tileDir)
	return Build(recs, tileDir, outDir, opts)
}

// Build writes the report for recs. Tile previews are read from
// tileDir/<grid_id>.tif; a missing tile leaves its sample without a preview.
func Build(recs []metrics.Record, tileDir, outDir string, opts Options) (*Report, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	if opts.Rule == (anomaly.Rule{}) {
		opts.Rule = anomaly.DefaultRule()
	}

	filtered := opts.Filter.Apply(recs)
	logging.Infof("Found %d of %d records meeting conditions", len(filtered), len(recs))

	summary := anomaly.Classify(recs, opts.Rule)
	rep := &Report{
		Total:         len(recs),
		Filtered:      len(filtered),
		Filter:        opts.Filter,
		Rule:          opts.Rule,
		Stats:         summary.Stats,
		Interesting:   summary.InterestingIDs(),
		FilteredTiles: make([]string, len(filtered)),
	}
	if rep.Interesting == nil {
		rep.Interesting = []string{}
	}
	for i, r := range filtered {
		rep.FilteredTiles[i] = r.GridID
	}

	rep.TopAnomalies = anomaly.Rank(summary.Interesting, summary.Stats)

	if len(recs) > 0 {
		path := filepath.Join(outDir, HistogramFile)
		err := imaging.SaveHistogram(path, fractalDims(recs), fractalDims(filtered), "Distribution of Fractal Dimensions")
		switch {
		case errors.Is(err, imaging.ErrNoData):
			logging.Warnf("No finite fractal dimensions to plot")
		case err != nil:
			return nil, err
		default:
			rep.Histogram = HistogramFile
		}
	}

	samples := filtered
	if len(samples) > opts.MaxSamples {
		samples = samples[:opts.MaxSamples]
	}
	if err := renderSamples(rep, samples, tileDir, outDir, opts.Ramp); err != nil {
		return nil, err
	}

	if err := writeSummary(filepath.Join(outDir, SummaryFile), rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// renderSamples previews each sample with a shared 2-98 percentile stretch
// so elevations compare across tiles.
func renderSamples(rep *Report, samples []metrics.Record, tileDir, outDir string, ramp imaging.Ramp) error {
	rep.Samples = make([]Sample, len(samples))
	grids := make([]*mat.Dense, len(samples))
	for i, r := range samples {
		rep.Samples[i] = Sample{
			GridID:           r.GridID,
			FractalDimension: r.Metrics.FractalDimension,
			RSquared:         r.Metrics.RSquared,
		}
		g, err := loadTile(filepath.Join(tileDir, r.GridID+".tif"))
		if err != nil {
			logging.Warnf("No preview for %s: %v", r.GridID, err)
			continue
		}
		grids[i] = g
	}

	lo, hi, err := sharedRange(grids)
	if errors.Is(err, imaging.ErrNoData) {
		return nil
	}
	if err != nil {
		return err
	}
	if ramp.Name() == "" {
		ramp = imaging.GrayRamp
	}

	var sheet []imaging.SheetTile
	for i, g := range grids {
		if g == nil {
			continue
		}
		img := imaging.Relief(g, ramp, lo, hi)
		rel := filepath.Join(samplesDir, rep.Samples[i].GridID+".png")
		if err := imaging.SavePNG(filepath.Join(outDir, rel), img); err != nil {
			return err
		}
		rep.Samples[i].Preview = rel
		sheet = append(sheet, imaging.SheetTile{
			Image: img,
			Label: fmt.Sprintf("%.3f", rep.Samples[i].FractalDimension),
		})
	}

	if s := imaging.ContactSheet(sheet, sampleCell); s != nil {
		if err := imaging.SavePNG(filepath.Join(outDir, SamplesFile), s); err != nil {
			return err
		}
		rep.SamplesSheet = SamplesFile
	}
	return nil
}

func loadTile(path string) (*mat.Dense, error) {
	meta, g, err := raster.LoadTile(path)
	if err != nil {
		return nil, err
	}
	raster.MaskNodata(g, meta)
	return g, nil
}

// sharedRange stacks the grids and stretches them together.
func sharedRange(grids []*mat.Dense) (lo, hi float64, err error) {
	var vals []float64
	for _, g := range grids {
		if g == nil {
			continue
		}
		raw := g.RawMatrix()
		for r := 0; r < raw.Rows; r++ {
			vals = append(vals, raw.Data[r*raw.Stride:r*raw.Stride+raw.Cols]...)
		}
	}
	if len(vals) == 0 {
		return 0, 0, imaging.ErrNoData
	}
	return imaging.StretchRange(mat.NewDense(1, len(vals), vals))
}

func fractalDims(recs []metrics.Record) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = r.Metrics.FractalDimension
	}
	return out
}

func writeSummary(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// ReadSummary loads a summary.json written by Build.
func ReadSummary(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return &rep, nil
}
