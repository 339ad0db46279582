package metrics

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/xenarch/internal/fractal"
	"github.com/ironsheep/xenarch/internal/raster"
)

// Tile is an elevation sub-array cut from a source raster.
type Tile struct {
	GridID   string
	Position Position
	Size     int
	Data     *mat.Dense
	// Meta describes the tile itself: its window transform and shape.
	Meta raster.Metadata
}

// Computer produces Metrics and Records.
type Computer struct {
	Estimator fractal.Estimator
}

// Compute estimates the fractal dimension of grid and its elevation
// statistics. NaN cells are left out of the statistics.
func (c Computer) Compute(grid *mat.Dense) (Metrics, error) {
	est, err := c.Estimator.Estimate(grid)
	if err != nil {
		return Metrics{}, err
	}

	raw := grid.RawMatrix()
	vals := make([]float64, 0, raw.Rows*raw.Cols)
	for r := 0; r < raw.Rows; r++ {
		for _, v := range raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols] {
			if !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
	}
	mean, variance := stat.PopMeanVariance(vals, nil)

	return Metrics{
		FractalDimension: est.Dimension,
		RSquared:         est.RSquared,
		MeanElevation:    mean,
		StdElevation:     math.Sqrt(variance),
		MinElevation:     floats.Min(vals),
		MaxElevation:     floats.Max(vals),
	}, nil
}

// ComputeTile computes the record of an in-memory tile.
func (c Computer) ComputeTile(t Tile) (Record, error) {
	m, err := c.Compute(t.Data)
	if err != nil {
		return Record{}, fmt.Errorf("failed to compute %s: %w", t.GridID, err)
	}
	rows, cols := t.Data.Dims()
	return Record{
		GridID:   t.GridID,
		Metrics:  m,
		Position: t.Position,
		Size:     t.Size,
		Metadata: RecordMetadata{
			CRS:       t.Meta.CRS.String(),
			Transform: t.Meta.Transform,
			Shape:     [2]int{rows, cols},
		},
	}, nil
}

// ComputeFile reads a persisted tile whole and computes its record. The grid
// ID is the file's base name; position comes from the ID when it parses and
// from the origin otherwise. Nodata cells are masked before computing.
func (c Computer) ComputeFile(path string) (Record, error) {
	meta, grid, err := raster.LoadTile(path)
	if err != nil {
		return Record{}, err
	}
	raster.MaskNodata(grid, meta)

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var pos Position
	if ref, err := ParseGridID(id); err == nil {
		pos = Position{X: ref.X, Y: ref.Y}
	}

	return c.ComputeTile(Tile{
		GridID:   id,
		Position: pos,
		Size:     meta.Height,
		Data:     grid,
		Meta:     meta,
	})
}
