// Package splitter cuts a large elevation raster into overlapping square
// GeoTIFF tiles.
//
// Windows that are entirely 0 are treated as background and never written.
// Each surviving tile keeps the source data type, CRS and nodata value, with
// its transform moved to the window origin, and is named by its grid ID.
// Tiles are cut in parallel; a tile that cannot be read or written is logged
// and counted as failed without stopping the others.
package splitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/raster"
	"github.com/ironsheep/xenarch/internal/workpool"
)

// Splitter holds the tiling parameters.
type Splitter struct {
	GridSize    int
	Overlap     int
	CPUFraction float64
	// Progress, when set, is called once per finished window.
	Progress func()

	create func(path string, meta raster.Metadata, grid mat.Matrix) error
}

// Summary reports a Split run.
type Summary struct {
	GridSize   int      `json:"grid_size"`
	Overlap    int      `json:"overlap"`
	Step       int      `json:"step"`
	Clamped    bool     `json:"clamped"`
	Candidates int      `json:"candidates"`
	Saved      []string `json:"saved"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
}

type outcome struct {
	id      string
	skipped bool
}

// Split tiles input into outDir. Failing to open input or plan the layout is
// returned as an error; per-tile failures only show up in Summary.Failed.
func (s *Splitter) Split(ctx context.Context, input, outDir string) (Summary, error) {
	meta, err := raster.ReadMetadata(input)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open %s: %w", input, err)
	}
	layout, err := PlanLayout(meta.Height, meta.Width, s.GridSize, s.Overlap)
	if err != nil {
		return Summary{}, err
	}
	if layout.Clamped {
		logging.Warnf("grid size %d exceeds raster height %d: using %d with overlap %d",
			layout.RequestedSize, meta.Height, layout.GridSize, layout.Overlap)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	budget := workpool.Plan(s.CPUFraction)
	logging.Infof("splitting %dx%d raster into %d candidate %dpx grids (step %d) with %d workers",
		meta.Width, meta.Height, len(layout.Windows), layout.GridSize, layout.Step, budget.Workers)

	var opts []workpool.Option
	if s.Progress != nil {
		opts = append(opts, workpool.WithProgress(s.Progress))
	}
	results := workpool.Map(ctx, budget.Workers, layout.Windows, func(_ context.Context, w raster.Window) (outcome, error) {
		return s.cut(input, outDir, w)
	}, opts...)

	sum := Summary{
		GridSize:   layout.GridSize,
		Overlap:    layout.Overlap,
		Step:       layout.Step,
		Clamped:    layout.Clamped,
		Candidates: len(layout.Windows),
	}
	for _, r := range results {
		switch {
		case !r.OK():
			w := layout.Windows[r.Index]
			logging.Errorf("failed to save grid %s: %v", metrics.GridID(w.X, w.Y), r.Err)
			sum.Failed++
		case r.Value.skipped:
			sum.Skipped++
		default:
			sum.Saved = append(sum.Saved, r.Value.id)
		}
	}
	sort.Strings(sum.Saved)
	logging.Infof("split complete: %d grids saved, %d background, %d failed", len(sum.Saved), sum.Skipped, sum.Failed)
	return sum, nil
}

// cut reads one window from its own handle on the source and writes it out
// unless it is background.
func (s *Splitter) cut(input, outDir string, w raster.Window) (outcome, error) {
	id := metrics.GridID(w.X, w.Y)

	ds, err := raster.Open(input)
	if err != nil {
		return outcome{}, err
	}
	defer ds.Close()

	grid, err := ds.ReadWindow(w)
	if err != nil {
		return outcome{}, err
	}
	if isBackground(grid) {
		logging.Debugf("skipping grid %s: empty or background", id)
		return outcome{id: id, skipped: true}, nil
	}

	create := s.create
	if create == nil {
		create = raster.Create
	}
	path := filepath.Join(outDir, id+".tif")
	if err := create(path, ds.Metadata().ForWindow(w), grid); err != nil {
		return outcome{}, err
	}
	logging.Debugf("saved grid %s", id)
	return outcome{id: id}, nil
}

// isBackground reports whether grid has no cells or every cell is exactly 0.
func isBackground(grid *mat.Dense) bool {
	if grid == nil || grid.IsEmpty() {
		return true
	}
	raw := grid.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		for _, v := range raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols] {
			if v != 0 {
				return false
			}
		}
	}
	return true
}
