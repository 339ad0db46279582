package raster

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	spatial "github.com/jblindsay/go-spatial/geospatialfiles/raster"
	"gonum.org/v1/gonum/mat"
)

// StoredType returns the sample type a tile cut from a dt raster is written
// with. Types the tile writer cannot store are widened to the smallest type
// that holds every value exactly.
func StoredType(dt DataType) DataType {
	switch dt {
	case Uint8, Int8, Int16:
		return Int16
	case Uint16, Int32:
		return Int32
	case Float32:
		return Float32
	case Uint32, Float64:
		return Float64
	}
	return Unknown
}

// tileNodata is the sentinel written into tiles whose source has none.
// Widened unsigned sources can never reach it.
func tileNodata(meta Metadata, stored DataType) float64 {
	if meta.HasNodata {
		return meta.Nodata
	}
	if stored == Int32 {
		return math.MinInt32
	}
	return -32768
}

// Create writes grid as a single-band GeoTIFF tile at path. meta supplies the
// sample type (see StoredType), the north-up transform, the EPSG code and
// nodata; NaN cells are written as nodata. The tile is written under a
// hidden temporary name and renamed into place, so readers never observe a
// partially written file.
func Create(path string, meta Metadata, grid mat.Matrix) error {
	rows, cols := grid.Dims()
	if rows != meta.Height || cols != meta.Width {
		return fmt.Errorf("grid is %dx%d but metadata says %dx%d", cols, rows, meta.Width, meta.Height)
	}
	if rows == 0 || cols == 0 {
		return fmt.Errorf("%w: cannot write an empty raster", ErrWindow)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".tif" && ext != ".tiff" {
		return fmt.Errorf("%w: tile %s must have a .tif extension", ErrUnsupported, path)
	}
	g := meta.Transform
	if !g.NorthUp() {
		return fmt.Errorf("%w: rotated transform %v", ErrUnsupported, g)
	}
	stored := StoredType(meta.DataType)

	cfg := spatial.NewDefaultRasterConfig()
	switch stored {
	case Int16:
		cfg.DataType = spatial.DT_INT16
	case Int32:
		cfg.DataType = spatial.DT_INT32
	case Float32:
		cfg.DataType = spatial.DT_FLOAT32
	case Float64:
		cfg.DataType = spatial.DT_FLOAT64
	default:
		return fmt.Errorf("%w: data type %s", ErrUnsupported, meta.DataType)
	}
	nodata := tileNodata(meta, stored)
	cfg.NoDataValue = nodata
	cfg.InitialValue = nodata
	cfg.EPSGCode = meta.CRS.EPSG

	west, north := g[0], g[3]
	east := west + float64(cols)*g[1]
	south := north + float64(rows)*g[5]

	tmp := filepath.Join(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".partial"+ext)
	out, err := spatial.CreateNewRaster(tmp, rows, cols, north, south, east, west, cfg)
	if err != nil {
		return fmt.Errorf("failed to create raster: %w", err)
	}
	round := !stored.isFloat()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := grid.At(y, x)
			switch {
			case math.IsNaN(v):
				v = nodata
			case round:
				v = math.Round(v)
			}
			out.SetValue(y, x, v)
		}
	}
	out.AddMetadataEntry("Created by xenarch")
	if err := out.Save(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write raster: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write raster: %w", err)
	}
	return nil
}

// LoadTile reads a whole tile written by Create, or any GeoTIFF small enough
// to hold in memory, returning its metadata and band. Nodata cells keep
// their sentinel value.
func LoadTile(path string) (Metadata, *mat.Dense, error) {
	in, err := spatial.CreateRasterFromFile(path)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("failed to read raster %s: %w", path, err)
	}
	rows, cols := in.Rows, in.Columns
	if rows <= 0 || cols <= 0 {
		return Metadata{}, nil, fmt.Errorf("%w: %s is %dx%d", ErrFormat, path, cols, rows)
	}

	cfg := in.GetRasterConfig()
	meta := Metadata{
		Width:  cols,
		Height: rows,
		Transform: GeoTransform{
			in.West, (in.East - in.West) / float64(cols), 0,
			in.North, 0, -(in.North - in.South) / float64(rows),
		},
		HasNodata: true,
		Nodata:    in.NoDataValue,
	}
	switch cfg.DataType {
	case spatial.DT_INT16:
		meta.DataType = Int16
	case spatial.DT_INT32:
		meta.DataType = Int32
	case spatial.DT_FLOAT32:
		meta.DataType = Float32
	default:
		meta.DataType = Float64
	}
	if cfg.EPSGCode > 0 {
		meta.CRS = EPSGCRS(cfg.EPSGCode)
	}

	data := make([]float64, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			data[y*cols+x] = in.Value(y, x)
		}
	}
	return meta, mat.NewDense(rows, cols, data), nil
}
