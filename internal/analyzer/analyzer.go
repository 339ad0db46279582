// Package analyzer scans a raster in row chunks, estimating and classifying
// tiles on a dense stride without first cutting the whole raster to disk.
//
// Each chunk is read with GridSize extra rows below it so tiles that start
// near the bottom of the chunk are not truncated. Tiles are taken every
// GridSize/4 pixels in both directions, NaN and nodata cells are masked, and
// a tile is kept when its estimate succeeds with R² above MinRSquared. Kept
// tiles are classified against the other tiles of their chunk.
//
// Analyze returns a ChunkIterator that yields chunks in increasing row order
// and skips chunks without kept tiles:
//
//	it, err := a.Analyze(path)
//	if err != nil {
//		return err
//	}
//	defer it.Close()
//	for it.Next() {
//		res := it.Result()
//		...
//	}
//	return it.Err()
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/anomaly"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/raster"
	"github.com/ironsheep/xenarch/internal/workpool"
)

// Analyzer holds the scan parameters.
type Analyzer struct {
	GridSize    int
	ChunkRows   int
	MinRSquared float64
	// Workers estimates tiles of a chunk concurrently. Output order does not
	// depend on it.
	Workers int
	// OutputDir, when set, receives a tile GeoTIFF and a record JSON for
	// every kept tile.
	OutputDir string
	Rule      anomaly.Rule
}

// New builds an Analyzer from the scan section of the configuration.
func New(cfg config.ScanConfig, rule anomaly.Rule) *Analyzer {
	return &Analyzer{
		GridSize:    cfg.GridSize,
		ChunkRows:   cfg.ChunkRows,
		MinRSquared: cfg.MinRSquared,
		Workers:     cfg.Workers,
		Rule:        rule,
	}
}

// Stats summarizes the kept tiles of one chunk.
type Stats struct {
	Count          int      `json:"count"`
	MeanFractalDim float64  `json:"mean_fractal_dim"`
	StdFractalDim  float64  `json:"std_fractal_dim"`
	InterestingIDs []string `json:"interesting_ids"`
}

// ChunkResult is the outcome of one chunk. EndRow is exclusive.
type ChunkResult struct {
	ChunkID     int              `json:"chunk_id"`
	StartRow    int              `json:"start_row"`
	EndRow      int              `json:"end_row"`
	Tiles       []metrics.Record `json:"tiles"`
	Interesting []metrics.Record `json:"interesting"`
	Stats       Stats            `json:"stats"`
}

// Stride is the tile spacing in both directions.
func (a *Analyzer) Stride() int {
	return max(a.GridSize/4, 1)
}

// Analyze opens path and returns an iterator over its chunks. Each call
// starts again from the first row.
func (a *Analyzer) Analyze(path string) (*ChunkIterator, error) {
	if a.GridSize <= 0 || a.ChunkRows <= 0 {
		return nil, fmt.Errorf("%w: grid size %d and chunk rows %d must be positive",
			config.ErrInvalid, a.GridSize, a.ChunkRows)
	}
	ds, err := raster.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if a.OutputDir != "" {
		if err := os.MkdirAll(a.OutputDir, 0o755); err != nil {
			ds.Close()
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	cfg := *a
	if cfg.Rule == (anomaly.Rule{}) {
		cfg.Rule = anomaly.DefaultRule()
	}
	return &ChunkIterator{a: cfg, ds: ds}, nil
}

// ChunkIterator walks the chunks of one raster. It is not safe for
// concurrent use.
type ChunkIterator struct {
	a     Analyzer
	ds    *raster.Dataset
	chunk int
	row   int
	cur   ChunkResult
	err   error
}

// Next advances to the next chunk with at least one kept tile. It returns
// false when the raster is exhausted or an error occurred.
func (it *ChunkIterator) Next() bool {
	for it.err == nil && it.ds != nil && it.row < it.ds.Height() {
		res, err := it.a.scanChunk(it.ds, it.chunk, it.row)
		it.chunk++
		it.row += it.a.ChunkRows
		if err != nil {
			it.err = err
			break
		}
		if len(res.Tiles) > 0 {
			it.cur = res
			return true
		}
	}
	it.Close()
	return false
}

// Result returns the chunk produced by the last successful Next.
func (it *ChunkIterator) Result() ChunkResult { return it.cur }

// Err returns the error that stopped the iteration, if any.
func (it *ChunkIterator) Err() error { return it.err }

// Close releases the raster. It is safe to call more than once.
func (it *ChunkIterator) Close() error {
	if it.ds == nil {
		return nil
	}
	err := it.ds.Close()
	it.ds = nil
	return err
}

type candidate struct {
	x, y int // y is relative to the chunk's first row
}

var errSkipTile = errors.New("tile skipped")

func (a *Analyzer) scanChunk(ds *raster.Dataset, chunk, start int) (ChunkResult, error) {
	meta := ds.Metadata()
	end := min(start+a.ChunkRows, meta.Height)
	readEnd := min(end+a.GridSize, meta.Height)
	w := raster.Window{X: 0, Y: start, Width: meta.Width, Height: readEnd - start}

	raw, err := ds.ReadWindow(w)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("failed to read chunk %d: %w", chunk, err)
	}
	masked := mat.DenseCopyOf(raw)
	raster.MaskNodata(masked, meta)

	gs, stride := a.GridSize, a.Stride()
	var cands []candidate
	for y := 0; y < end-start && y+gs <= w.Height; y += stride {
		for x := 0; x+gs <= meta.Width; x += stride {
			cands = append(cands, candidate{x: x, y: y})
		}
	}
	logging.Debugf("chunk %d: rows %d-%d, %d candidate tiles", chunk, start, end, len(cands))

	comp := metrics.Computer{}
	comp.Estimator.Threads = 1
	results := workpool.Map(context.Background(), a.Workers, cands, func(_ context.Context, c candidate) (metrics.Record, error) {
		return a.scanTile(comp, meta, raw, masked, chunk, start, c)
	})

	res := ChunkResult{ChunkID: chunk, StartRow: start, EndRow: end}
	for _, r := range results {
		if r.OK() {
			res.Tiles = append(res.Tiles, r.Value)
		}
	}
	if len(res.Tiles) == 0 {
		return res, nil
	}

	sum := anomaly.Classify(res.Tiles, a.Rule)
	res.Interesting = sum.Interesting
	res.Stats = Stats{
		Count:          sum.Stats.Count,
		MeanFractalDim: sum.Stats.MeanFractalDim,
		StdFractalDim:  sum.Stats.StdFractalDim,
		InterestingIDs: sum.InterestingIDs(),
	}
	logging.Infof("chunk %d: %d tiles kept, %d interesting", chunk, len(res.Tiles), len(res.Interesting))
	return res, nil
}

// scanTile estimates one tile and persists it when kept. Any error drops the tile.
func (a *Analyzer) scanTile(comp metrics.Computer, meta raster.Metadata, raw, masked *mat.Dense, chunk, start int, c candidate) (metrics.Record, error) {
	gs := a.GridSize
	grid := masked.Slice(c.y, c.y+gs, c.x, c.x+gs).(*mat.Dense)
	if allNaN(grid) {
		return metrics.Record{}, errSkipTile
	}

	abs := raster.Window{X: c.x, Y: start + c.y, Width: gs, Height: gs}
	rec, err := comp.ComputeTile(metrics.Tile{
		GridID:   metrics.ChunkGridID(chunk, abs.X, abs.Y),
		Position: metrics.Position{X: abs.X, Y: abs.Y},
		Size:     gs,
		Data:     grid,
		Meta:     meta.ForWindow(abs),
	})
	if err != nil {
		return metrics.Record{}, err
	}
	if math.IsNaN(rec.Metrics.FractalDimension) || rec.Metrics.RSquared <= a.MinRSquared {
		return metrics.Record{}, errSkipTile
	}

	if a.OutputDir != "" {
		path := filepath.Join(a.OutputDir, rec.GridID+".tif")
		tile := raw.Slice(c.y, c.y+gs, c.x, c.x+gs)
		if err := raster.Create(path, meta.ForWindow(abs), tile); err != nil {
			logging.Errorf("failed to save tile %s: %v", rec.GridID, err)
			return metrics.Record{}, err
		}
		if _, err := metrics.WriteRecord(a.OutputDir, rec); err != nil {
			logging.Errorf("failed to save record %s: %v", rec.GridID, err)
			return metrics.Record{}, err
		}
	}
	return rec, nil
}

func allNaN(grid *mat.Dense) bool {
	raw := grid.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		for _, v := range raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols] {
			if !math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}
