// Package catalog indexes Metrics Records in SQLite so batches can be
// filtered by fractal dimension and fit quality without rereading every
// record file.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/metrics"
)

// schema.sql creates the runs and grid_metrics tables.
//
//go:embed schema.sql
var schemaSQL string

// Catalog is an open metrics index.
type Catalog struct {
	*sql.DB
}

// Open opens or creates the catalog at path. Use ":memory:" for a throwaway index.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	logging.Debugf("opened catalog %s", path)
	return &Catalog{db}, nil
}

// Run describes one pipeline run.
type Run struct {
	ID        string          `json:"run_id"`
	Source    string          `json:"source"`
	CreatedAt string          `json:"created_at"`
	Params    json.RawMessage `json:"params"`
}

// StartRun registers a run. Registering the same ID again replaces its source
// and parameters.
func (c *Catalog) StartRun(ctx context.Context, runID, source string, params any) error {
	p, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode run parameters: %w", err)
	}
	_, err = c.ExecContext(ctx, `
		INSERT INTO runs (run_id, source, params) VALUES (?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET source = excluded.source, params = excluded.params
	`, runID, source, string(p))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}
	return nil
}

// Runs lists registered runs, newest first.
func (c *Catalog) Runs(ctx context.Context) ([]Run, error) {
	rows, err := c.QueryContext(ctx, `SELECT run_id, source, created_at, params FROM runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var params string
		if err := rows.Scan(&r.ID, &r.Source, &r.CreatedAt, &params); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Params = json.RawMessage(params)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert stores records under runID in one transaction. A record whose grid
// ID is already present in the run replaces the stored row.
func (c *Catalog) Upsert(ctx context.Context, runID string, recs []metrics.Record) error {
	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO grid_metrics (
			run_id, grid_id, fractal_dimension, r_squared,
			mean_elevation, std_elevation, min_elevation, max_elevation,
			pos_x, pos_y, size, crs, transform, shape_rows, shape_cols
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, grid_id) DO UPDATE SET
			fractal_dimension = excluded.fractal_dimension,
			r_squared = excluded.r_squared,
			mean_elevation = excluded.mean_elevation,
			std_elevation = excluded.std_elevation,
			min_elevation = excluded.min_elevation,
			max_elevation = excluded.max_elevation,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y,
			size = excluded.size,
			crs = excluded.crs,
			transform = excluded.transform,
			shape_rows = excluded.shape_rows,
			shape_cols = excluded.shape_cols
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		tr, err := json.Marshal(r.Metadata.Transform)
		if err != nil {
			return fmt.Errorf("failed to encode transform of %s: %w", r.GridID, err)
		}
		m := r.Metrics
		_, err = stmt.ExecContext(ctx,
			runID, r.GridID, m.FractalDimension, m.RSquared,
			m.MeanElevation, m.StdElevation, m.MinElevation, m.MaxElevation,
			r.Position.X, r.Position.Y, r.Size, r.Metadata.CRS, string(tr),
			r.Metadata.Shape[0], r.Metadata.Shape[1],
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", r.GridID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog update: %w", err)
	}
	return nil
}

// Filter selects records by closed ranges of fractal dimension and R².
// A zero FDMax or R2Max leaves that bound open; Limit 0 means no limit.
type Filter struct {
	FDMin float64 `json:"fd_min"`
	FDMax float64 `json:"fd_max"`
	R2Min float64 `json:"r2_min"`
	R2Max float64 `json:"r2_max"`
	Limit int     `json:"limit"`
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec metrics.Record) bool {
	fd, r2 := rec.Metrics.FractalDimension, rec.Metrics.RSquared
	if fd < f.FDMin || (f.FDMax != 0 && fd > f.FDMax) {
		return false
	}
	if r2 < f.R2Min || (f.R2Max != 0 && r2 > f.R2Max) {
		return false
	}
	return true
}

// Apply filters recs in memory, keeping their order and honouring Limit.
func (f Filter) Apply(recs []metrics.Record) []metrics.Record {
	var out []metrics.Record
	for _, r := range recs {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Query returns the records of runID that pass f, ordered by grid ID.
func (c *Catalog) Query(ctx context.Context, runID string, f Filter) ([]metrics.Record, error) {
	var (
		where = []string{"run_id = ?", "fractal_dimension >= ?", "r_squared >= ?"}
		args  = []any{runID, f.FDMin, f.R2Min}
	)
	if f.FDMax != 0 {
		where = append(where, "fractal_dimension <= ?")
		args = append(args, f.FDMax)
	}
	if f.R2Max != 0 {
		where = append(where, "r_squared <= ?")
		args = append(args, f.R2Max)
	}
	query := `
		SELECT grid_id, fractal_dimension, r_squared,
			mean_elevation, std_elevation, min_elevation, max_elevation,
			pos_x, pos_y, size, crs, transform, shape_rows, shape_cols
		FROM grid_metrics
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY grid_id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var out []metrics.Record
	for rows.Next() {
		var (
			r  metrics.Record
			m  = &r.Metrics
			tr string
		)
		err := rows.Scan(&r.GridID, &m.FractalDimension, &m.RSquared,
			&m.MeanElevation, &m.StdElevation, &m.MinElevation, &m.MaxElevation,
			&r.Position.X, &r.Position.Y, &r.Size, &r.Metadata.CRS, &tr,
			&r.Metadata.Shape[0], &r.Metadata.Shape[1])
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		if err := json.Unmarshal([]byte(tr), &r.Metadata.Transform); err != nil {
			return nil, fmt.Errorf("failed to decode transform of %s: %w", r.GridID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns how many records runID holds.
func (c *Catalog) Count(ctx context.Context, runID string) (int, error) {
	var n int
	if err := c.QueryRowContext(ctx, `SELECT COUNT(*) FROM grid_metrics WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
