package pipeline

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/raster"
	"github.com/ironsheep/xenarch/internal/raster/rastertest"
	"github.com/ironsheep/xenarch/internal/report"
)

// writeSource writes a 256x256 raster that is zero except for a noisy
// top-left 128x128 quadrant.
func writeSource(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	g := mat.NewDense(256, 256, nil)
	for r := 0; r < 128; r++ {
		for c := 0; c < 128; c++ {
			g.Set(r, c, 1+rng.Float64()*100)
		}
	}
	meta := raster.Metadata{
		Width: 256, Height: 256, DataType: raster.Float32,
		Transform: raster.GeoTransform{400000, 10, 0, 5000000, 0, -10},
		CRS:       raster.EPSGCRS(32611),
	}
	path := filepath.Join(t.TempDir(), "dem.tif")
	rastertest.WriteSource(t, path, meta, g, 32)
	return path
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Split = config.SplitConfig{GridSize: 128, Overlap: 0, CPUFraction: 0.5}
	cfg.Filter = config.FilterConfig{FDMin: 1.5, FDMax: 2.5, R2Min: 0.8, MaxSamples: 4}
	return cfg
}

func TestComplete(t *testing.T) {
	input := writeSource(t)
	outDir := filepath.Join(t.TempDir(), "grids")

	cat, err := catalog.Open(":memory:")
	require.NoError(t, err)
	defer cat.Close()

	var mu sync.Mutex
	totals := map[string]int{}
	ticks := map[string]int{}
	p := &Pipeline{
		Config:  testConfig(),
		Catalog: cat,
		OnStage: func(stage string, total int) func() {
			mu.Lock()
			totals[stage] = total
			mu.Unlock()
			return func() {
				mu.Lock()
				ticks[stage]++
				mu.Unlock()
			}
		},
	}

	res, err := p.Complete(context.Background(), input, outDir)
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "plots"), res.ReportDir)

	id := metrics.GridID(0, 0)
	assert.Equal(t, []string{id}, res.Split.Saved)
	assert.Equal(t, 3, res.Split.Skipped)
	require.Len(t, res.Metrics.Records, 1)
	assert.InDelta(t, 2.0, res.Metrics.Records[0].Metrics.FractalDimension, 0.05)
	assert.Equal(t, 1, res.Indexed)

	assert.Equal(t, map[string]int{StageSplit: 4, StageMetrics: 1}, totals)
	assert.Equal(t, map[string]int{StageSplit: 4, StageMetrics: 1}, ticks)

	require.NotNil(t, res.Report)
	assert.Empty(t, res.ReportError)
	assert.Equal(t, 1, res.Report.Filtered)
	require.Len(t, res.Report.Samples, 1)
	assert.FileExists(t, filepath.Join(res.ReportDir, report.SummaryFile))
	assert.FileExists(t, filepath.Join(res.ReportDir, report.HistogramFile))
	assert.FileExists(t, metrics.RecordPath(outDir, id))

	params, err := ReadParams(outDir)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, params.RunID)
	assert.Equal(t, input, params.Input)
	assert.Equal(t, 128, params.Config.Split.GridSize)

	ctx := context.Background()
	n, err := cat.Count(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	runs, err := cat.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, input, runs[0].Source)
}

func TestCompleteWithoutCatalogOrHooks(t *testing.T) {
	input := writeSource(t)
	outDir := t.TempDir()
	reportDir := filepath.Join(t.TempDir(), "report")

	res, err := (&Pipeline{Config: testConfig(), ReportDir: reportDir}).Complete(context.Background(), input, outDir)
	require.NoError(t, err)
	assert.Zero(t, res.Indexed)
	assert.Equal(t, reportDir, res.ReportDir)
	assert.FileExists(t, filepath.Join(reportDir, report.SummaryFile))
}

func TestCompleteRunIDsDiffer(t *testing.T) {
	input := writeSource(t)
	p := &Pipeline{Config: testConfig()}
	a, err := p.Complete(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	b, err := p.Complete(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Split.Saved, b.Split.Saved)
}

func TestCompleteErrors(t *testing.T) {
	bad := testConfig()
	bad.Split.Overlap = 128
	_, err := (&Pipeline{Config: bad}).Complete(context.Background(), "unused.tif", t.TempDir())
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = (&Pipeline{Config: testConfig()}).Complete(context.Background(), filepath.Join(t.TempDir(), "missing.tif"), t.TempDir())
	assert.Error(t, err)
}

func TestReadParamsMissing(t *testing.T) {
	_, err := ReadParams(t.TempDir())
	assert.Error(t, err)
}
