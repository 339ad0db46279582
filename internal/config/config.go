// Package config holds the run configuration for the terrain pipeline.
//
// A Config starts from Default and may be overlaid with a JSON file; fields
// omitted from the file keep their default values, so partial files are safe.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// SplitConfig controls the Terrain Splitter and the Metrics Generator pool.
type SplitConfig struct {
	GridSize    int     `json:"grid_size"`
	Overlap     int     `json:"overlap"`
	CPUFraction float64 `json:"cpu_fraction"`
}

// ScanConfig controls the chunked Terrain Analyzer.
type ScanConfig struct {
	GridSize    int     `json:"grid_size"`
	ChunkRows   int     `json:"chunk_rows"`
	MinRSquared float64 `json:"min_r_squared"`
	Workers     int     `json:"workers"`
}

// AnomalyConfig is the batch-relative outlier rule.
type AnomalyConfig struct {
	Sigma       float64 `json:"sigma"`
	MinRSquared float64 `json:"min_r_squared"`
}

// FilterConfig selects records for the analyze report.
type FilterConfig struct {
	FDMin      float64 `json:"fd_min"`
	FDMax      float64 `json:"fd_max"`
	R2Min      float64 `json:"r2_min"`
	MaxSamples int     `json:"max_samples"`
}

// Config is the root configuration.
type Config struct {
	Split   SplitConfig   `json:"split"`
	Scan    ScanConfig    `json:"scan"`
	Anomaly AnomalyConfig `json:"anomaly"`
	Filter  FilterConfig  `json:"filter"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Split: SplitConfig{
			GridSize:    512,
			Overlap:     64,
			CPUFraction: 0.8,
		},
		Scan: ScanConfig{
			GridSize:    256,
			ChunkRows:   1000,
			MinRSquared: 0.5,
			Workers:     1,
		},
		Anomaly: AnomalyConfig{
			Sigma:       2.0,
			MinRSquared: 0.9,
		},
		Filter: FilterConfig{
			FDMin:      0.0,
			FDMax:      0.8,
			R2Min:      0.8,
			MaxSamples: 16,
		},
	}
}

// Load reads a JSON configuration file over the defaults and validates it.
// The file must have a .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.Split.Validate(); err != nil {
		return err
	}
	if c.Scan.GridSize <= 0 {
		return fmt.Errorf("%w: scan.grid_size must be positive, got %d", ErrInvalid, c.Scan.GridSize)
	}
	if c.Scan.ChunkRows <= 0 {
		return fmt.Errorf("%w: scan.chunk_rows must be positive, got %d", ErrInvalid, c.Scan.ChunkRows)
	}
	if c.Scan.MinRSquared < 0 || c.Scan.MinRSquared > 1 {
		return fmt.Errorf("%w: scan.min_r_squared must be in [0,1], got %g", ErrInvalid, c.Scan.MinRSquared)
	}
	if c.Scan.Workers < 0 {
		return fmt.Errorf("%w: scan.workers must not be negative, got %d", ErrInvalid, c.Scan.Workers)
	}
	if c.Anomaly.Sigma <= 0 {
		return fmt.Errorf("%w: anomaly.sigma must be positive, got %g", ErrInvalid, c.Anomaly.Sigma)
	}
	if c.Anomaly.MinRSquared < 0 || c.Anomaly.MinRSquared > 1 {
		return fmt.Errorf("%w: anomaly.min_r_squared must be in [0,1], got %g", ErrInvalid, c.Anomaly.MinRSquared)
	}
	if c.Filter.FDMin > c.Filter.FDMax {
		return fmt.Errorf("%w: filter.fd_min %g exceeds fd_max %g", ErrInvalid, c.Filter.FDMin, c.Filter.FDMax)
	}
	if c.Filter.MaxSamples < 0 {
		return fmt.Errorf("%w: filter.max_samples must not be negative, got %d", ErrInvalid, c.Filter.MaxSamples)
	}
	return nil
}

// Validate checks the grid_size / overlap / cpu_fraction triple.
func (s SplitConfig) Validate() error {
	if s.GridSize <= 0 {
		return fmt.Errorf("%w: split.grid_size must be positive, got %d", ErrInvalid, s.GridSize)
	}
	if s.Overlap < 0 || s.Overlap >= s.GridSize {
		return fmt.Errorf("%w: split.overlap must be in [0, grid_size), got %d", ErrInvalid, s.Overlap)
	}
	if s.CPUFraction <= 0 || s.CPUFraction > 1 {
		return fmt.Errorf("%w: split.cpu_fraction must be in (0,1], got %g", ErrInvalid, s.CPUFraction)
	}
	return nil
}
