package report

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/anomaly"
	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/raster"
)

func record(x int, fd, r2 float64) metrics.Record {
	return metrics.Record{
		GridID:   metrics.GridID(x, 0),
		Metrics:  metrics.Metrics{FractalDimension: fd, RSquared: r2},
		Position: metrics.Position{X: x},
		Size:     16,
	}
}

func writeTile(t *testing.T, dir, id string, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, 16*16)
	for i := range data {
		data[i] = 100 + rng.Float64()*50
	}
	meta := raster.Metadata{Width: 16, Height: 16, DataType: raster.Float32, Transform: raster.GeoTransform{0, 1, 0, 0, 0, -1}}
	require.NoError(t, raster.Create(filepath.Join(dir, id+".tif"), meta, mat.NewDense(16, 16, data)))
}

// batch holds ten ordinary tiles and one rough outlier at x=160.
func batch(t *testing.T, dir string) []metrics.Record {
	t.Helper()
	var recs []metrics.Record
	for i := 0; i < 10; i++ {
		recs = append(recs, record(i*16, 1.5, 0.95))
	}
	recs = append(recs, record(160, 2.5, 0.95))
	for _, r := range recs {
		_, err := metrics.WriteRecord(dir, r)
		require.NoError(t, err)
	}
	writeTile(t, dir, metrics.GridID(160, 0), 1)
	writeTile(t, dir, metrics.GridID(0, 0), 2)
	return recs
}

func TestAnalyze(t *testing.T) {
	tileDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "plots")
	batch(t, tileDir)

	opts := Options{
		Filter:     catalog.Filter{FDMin: 2, FDMax: 3, R2Min: 0.9, R2Max: 1},
		MaxSamples: 4,
	}
	rep, err := Analyze(tileDir, outDir, opts)
	require.NoError(t, err)

	outlier := metrics.GridID(160, 0)
	assert.Equal(t, 11, rep.Total)
	assert.Equal(t, 1, rep.Filtered)
	assert.Equal(t, []string{outlier}, rep.FilteredTiles)
	assert.Equal(t, anomaly.DefaultRule(), rep.Rule)
	assert.Equal(t, 11, rep.Stats.Count)
	assert.InDelta(t, 17.5/11, rep.Stats.MeanFractalDim, 1e-9)
	assert.Equal(t, []string{outlier}, rep.Interesting)
	require.Len(t, rep.TopAnomalies, 1)
	assert.Greater(t, rep.TopAnomalies[0].ZScore, 3.0)

	require.Len(t, rep.Samples, 1)
	assert.Equal(t, outlier, rep.Samples[0].GridID)
	assert.Equal(t, filepath.Join("samples", outlier+".png"), rep.Samples[0].Preview)

	for _, f := range []string{HistogramFile, SamplesFile, SummaryFile, rep.Samples[0].Preview} {
		st, err := os.Stat(filepath.Join(outDir, f))
		require.NoError(t, err, f)
		assert.Positive(t, st.Size(), f)
	}

	saved, err := ReadSummary(filepath.Join(outDir, SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, rep.Interesting, saved.Interesting)
	assert.Equal(t, rep.Samples, saved.Samples)
	assert.Equal(t, rep.Filter, saved.Filter)
}

func TestBuildMissingTileHasNoPreview(t *testing.T) {
	tileDir := t.TempDir()
	outDir := t.TempDir()
	recs := []metrics.Record{record(0, 1.2, 0.99), record(16, 1.3, 0.99)}

	rep, err := Build(recs, tileDir, outDir, Options{Filter: catalog.Filter{FDMin: 1, FDMax: 2}, MaxSamples: 1})
	require.NoError(t, err)
	require.Len(t, rep.Samples, 1)
	assert.Empty(t, rep.Samples[0].Preview)
	assert.Empty(t, rep.SamplesSheet)
	assert.Equal(t, HistogramFile, rep.Histogram)
	assert.NoFileExists(t, filepath.Join(outDir, SamplesFile))
}

func TestBuildEmpty(t *testing.T) {
	outDir := t.TempDir()
	rep, err := Build(nil, t.TempDir(), outDir, Options{MaxSamples: 16})
	require.NoError(t, err)
	assert.Zero(t, rep.Total)
	assert.Empty(t, rep.Histogram)
	assert.Empty(t, rep.Interesting)
	assert.FileExists(t, filepath.Join(outDir, SummaryFile))
	assert.NoFileExists(t, filepath.Join(outDir, HistogramFile))
}

func TestBuildZeroMaxSamples(t *testing.T) {
	tileDir := t.TempDir()
	recs := batch(t, tileDir)
	rep, err := Build(recs, tileDir, t.TempDir(), Options{Filter: catalog.Filter{FDMin: 1, FDMax: 3}})
	require.NoError(t, err)
	assert.Equal(t, 11, rep.Filtered)
	assert.Empty(t, rep.Samples)
	assert.Empty(t, rep.SamplesSheet)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, catalog.Filter{FDMin: 0, FDMax: 0.8, R2Min: 0.8, R2Max: 1}, opts.Filter)
	assert.Equal(t, 16, opts.MaxSamples)
	assert.Equal(t, anomaly.DefaultRule(), opts.Rule)
}

func TestAnalyzeMissingDir(t *testing.T) {
	_, err := Analyze(filepath.Join(t.TempDir(), "nope"), t.TempDir(), Options{})
	assert.Error(t, err)
}
