package rastertest

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/raster"
)

func TestWriteSourceReadsBack(t *testing.T) {
	meta := raster.Metadata{
		Width: 5, Height: 7, DataType: raster.Float32,
		Transform: raster.GeoTransform{1000, 5, 0, 9000, 0, -5},
		CRS:       raster.EPSGCRS(32633),
		HasNodata: true, Nodata: -9999,
	}
	grid := mat.NewDense(7, 5, nil)
	for r := 0; r < 7; r++ {
		for c := 0; c < 5; c++ {
			grid.Set(r, c, float64(r*5+c)+0.25)
		}
	}
	grid.Set(2, 3, -9999)
	path := filepath.Join(t.TempDir(), "src.tif")
	WriteSource(t, path, meta, grid, 2)

	ds, err := raster.Open(path)
	require.NoError(t, err)
	defer ds.Close()
	got := ds.Metadata()
	assert.Equal(t, meta.Transform, got.Transform)
	assert.Equal(t, 32633, got.CRS.EPSG)
	assert.Equal(t, "-9999", got.NodataString())

	data, err := ds.ReadAll()
	require.NoError(t, err)
	assert.True(t, mat.Equal(grid, data))
}

func TestWriteSourceFloat64Identity(t *testing.T) {
	meta := raster.Metadata{Width: 3, Height: 2, DataType: raster.Float64, Transform: raster.IdentityTransform}
	grid := mat.NewDense(2, 3, []float64{math.Pi, 1, 2, 3, 4, 5})
	path := filepath.Join(t.TempDir(), "id.tif")
	WriteSource(t, path, meta, grid, 0)

	got, err := raster.ReadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, raster.Float64, got.DataType)
	assert.Equal(t, raster.IdentityTransform, got.Transform)
	assert.False(t, got.HasNodata)
}
