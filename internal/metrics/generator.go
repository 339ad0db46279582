package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/workpool"
)

// Generator computes and persists a record for every tile in a directory.
type Generator struct {
	// CPUFraction sizes the worker pool, see workpool.Plan.
	CPUFraction float64
	// Progress, when set, is called once per finished tile.
	Progress func()
}

// GenerateSummary reports a Generate run. Records are in file name order;
// Failed lists the tile file names whose record could not be produced.
type GenerateSummary struct {
	Total   int      `json:"total"`
	Records []Record `json:"-"`
	Failed  []string `json:"failed"`
}

// TileFiles lists the *.tif and *.tiff files in dir, sorted by name.
func TileFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiles: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".tif", ".tiff":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// Generate processes every tile in dir. It fails only when dir cannot be
// listed; tiles that cannot be read or estimated are logged and reported in
// the summary.
func (g Generator) Generate(ctx context.Context, dir string) (GenerateSummary, error) {
	paths, err := TileFiles(dir)
	if err != nil {
		return GenerateSummary{}, err
	}

	budget := workpool.Plan(g.CPUFraction)
	comp := Computer{}
	comp.Estimator.Threads = budget.ThreadsPerWorker
	logging.Infof("computing metrics for %d tiles with %d workers", len(paths), budget.Workers)

	var opts []workpool.Option
	if g.Progress != nil {
		opts = append(opts, workpool.WithProgress(g.Progress))
	}
	results := workpool.Map(ctx, budget.Workers, paths, func(_ context.Context, path string) (Record, error) {
		rec, err := comp.ComputeFile(path)
		if err != nil {
			return Record{}, err
		}
		if _, err := WriteRecord(filepath.Dir(path), rec); err != nil {
			return Record{}, err
		}
		logging.Debugf("processed %s", filepath.Base(path))
		return rec, nil
	}, opts...)

	sum := GenerateSummary{Total: len(paths)}
	for _, r := range results {
		if !r.OK() {
			name := filepath.Base(paths[r.Index])
			logging.Errorf("failed to process %s: %v", name, r.Err)
			sum.Failed = append(sum.Failed, name)
			continue
		}
		sum.Records = append(sum.Records, r.Value)
	}
	logging.Infof("metrics complete: %d/%d tiles processed", len(sum.Records), sum.Total)
	return sum, nil
}
