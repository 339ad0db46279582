package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/raster"
)

// Metrics are the per-grid measurements.
type Metrics struct {
	FractalDimension float64 `json:"fractal_dimension"`
	RSquared         float64 `json:"r_squared"`
	MeanElevation    float64 `json:"mean_elevation"`
	StdElevation     float64 `json:"std_elevation"`
	MinElevation     float64 `json:"min_elevation"`
	MaxElevation     float64 `json:"max_elevation"`
}

// Position is a tile's top-left pixel in the source raster.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// RecordMetadata is the georeferencing of the tile a record describes.
type RecordMetadata struct {
	CRS       string              `json:"crs"`
	Transform raster.GeoTransform `json:"transform"`
	Shape     [2]int              `json:"shape"`
}

// Record is the Metrics Record of one grid tile. Records are written once and
// never updated; recomputing a tile replaces its file.
type Record struct {
	GridID   string         `json:"grid_id"`
	Metrics  Metrics        `json:"metrics"`
	Position Position       `json:"position"`
	Size     int            `json:"size"`
	Metadata RecordMetadata `json:"metadata"`
}

// RecordPath returns where the record for gridID lives in dir.
func RecordPath(dir, gridID string) string {
	return filepath.Join(dir, gridID+".json")
}

// WriteRecord writes rec to dir/<grid_id>.json through a temporary file, so
// a reader sees either the previous file or the complete new one.
func WriteRecord(dir string, rec Record) (string, error) {
	if rec.GridID == "" {
		return "", fmt.Errorf("failed to write record: empty grid id")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode record %s: %w", rec.GridID, err)
	}
	path := RecordPath(dir, rec.GridID)
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// ReadRecord loads one record file.
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse record %s: %w", filepath.Base(path), err)
	}
	if rec.GridID == "" {
		return Record{}, fmt.Errorf("failed to parse record %s: missing grid_id", filepath.Base(path))
	}
	return rec, nil
}

// LoadRecords reads every record in dir, sorted by grid ID. JSON files that
// are not records are skipped with a warning.
func LoadRecords(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		rec, err := ReadRecord(filepath.Join(dir, e.Name()))
		if err != nil {
			logging.Warnf("skipping %s: %v", e.Name(), err)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GridID < out[j].GridID })
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(name, 0o644)
	}
	if werr != nil {
		os.Remove(name)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), werr)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
