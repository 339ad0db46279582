package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ironsheep/xenarch/internal/analyzer"
	"github.com/ironsheep/xenarch/internal/anomaly"
	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/imaging"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/pipeline"
	"github.com/ironsheep/xenarch/internal/raster"
	"github.com/ironsheep/xenarch/internal/splitter"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "terrain_info", "terrain_scan").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(context.Background(), params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	case "terrain_info":
		return s.handleTerrainInfo(args)
	case "terrain_preview":
		return s.handleTerrainPreview(args)
	case "terrain_split":
		return s.handleTerrainSplit(ctx, args)
	case "terrain_metrics":
		return s.handleTerrainMetrics(ctx, args)
	case "terrain_filter":
		return s.handleTerrainFilter(ctx, args)
	case "terrain_pipeline":
		return s.handleTerrainPipeline(ctx, args)
	case "terrain_estimate":
		return s.handleTerrainEstimate(args)
	case "terrain_scan":
		return s.handleTerrainScan(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func requirePath(name, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// === Raster Inspection Handlers ===

type pathArgs struct {
	Path string `json:"path"`
}

// RasterInfo is the terrain_info result.
type RasterInfo struct {
	Path          string              `json:"path"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
	DataType      raster.DataType     `json:"data_type"`
	CRS           string              `json:"crs"`
	EPSG          int                 `json:"epsg,omitempty"`
	Transform     raster.GeoTransform `json:"transform"`
	NorthUp       bool                `json:"north_up"`
	Bounds        [4]float64          `json:"bounds"`
	Nodata        string              `json:"nodata,omitempty"`
	FileSizeBytes int64               `json:"file_size_bytes"`
}

func (s *Server) handleTerrainInfo(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := requirePath("path", a.Path); err != nil {
		return nil, err
	}
	meta, err := raster.ReadMetadata(a.Path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &RasterInfo{
		Path:          a.Path,
		Width:         meta.Width,
		Height:        meta.Height,
		DataType:      meta.DataType,
		CRS:           meta.CRS.String(),
		EPSG:          meta.CRS.EPSG,
		Transform:     meta.Transform,
		NorthUp:       meta.Transform.NorthUp(),
		Bounds:        bounds(meta),
		Nodata:        meta.NodataString(),
		FileSizeBytes: st.Size(),
	}, nil
}

// bounds returns minx, miny, maxx, maxy over the four raster corners.
func bounds(meta raster.Metadata) [4]float64 {
	b := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range [][2]int{{0, 0}, {meta.Width, 0}, {0, meta.Height}, {meta.Width, meta.Height}} {
		x, y := meta.Transform.Apply(float64(c[0]), float64(c[1]))
		b[0], b[1] = math.Min(b[0], x), math.Min(b[1], y)
		b[2], b[3] = math.Max(b[2], x), math.Max(b[3], y)
	}
	return b
}

type previewArgs struct {
	Path       string   `json:"path"`
	MaxSize    int      `json:"max_size"`
	Ramp       string   `json:"ramp"`
	Hillshade  *bool    `json:"hillshade"`
	Azimuth    *float64 `json:"azimuth"`
	Altitude   *float64 `json:"altitude"`
	RecordsDir string   `json:"records_dir"`
	Labels     bool     `json:"labels"`
}

// PreviewResult is the terrain_preview result.
type PreviewResult struct {
	*imaging.Encoded
	Factor      int `json:"factor"`
	Boxes       int `json:"boxes"`
	Highlighted int `json:"highlighted"`
}

func (s *Server) handleTerrainPreview(args json.RawMessage) (interface{}, error) {
	var a previewArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := requirePath("path", a.Path); err != nil {
		return nil, err
	}

	opts := imaging.DefaultPreviewOptions()
	if a.MaxSize > 0 {
		opts.MaxSize = a.MaxSize
	}
	ramp, err := imaging.RampByName(a.Ramp)
	if err != nil {
		return nil, err
	}
	opts.Ramp = ramp
	if a.Hillshade != nil {
		opts.Hillshade = *a.Hillshade
	}
	if a.Azimuth != nil {
		opts.Light.Azimuth = *a.Azimuth
	}
	if a.Altitude != nil {
		opts.Light.Altitude = *a.Altitude
	}

	r, err := s.cache.Load(a.Path, opts.MaxSize)
	if err != nil {
		return nil, err
	}
	opts.CellSize = cellSize(r)

	img, err := imaging.Render(r.Grid, opts)
	if err != nil {
		return nil, err
	}

	res := &PreviewResult{Factor: r.Factor}
	if a.RecordsDir != "" {
		recs, err := metrics.LoadRecords(a.RecordsDir)
		if err != nil {
			return nil, err
		}
		summary := anomaly.Classify(recs, s.rule())
		hot := make(map[string]bool, len(summary.Interesting))
		for _, id := range summary.InterestingIDs() {
			hot[id] = true
		}
		boxes := make([]imaging.Box, len(recs))
		for i, rec := range recs {
			boxes[i] = imaging.Box{
				X:         rec.Position.X,
				Y:         rec.Position.Y,
				Size:      rec.Size,
				Label:     fmt.Sprintf("%.2f", rec.Metrics.FractalDimension),
				Highlight: hot[rec.GridID],
			}
		}
		scale := float64(img.Bounds().Dx()) / float64(r.Meta.Width)
		img = imaging.Overlay(img, boxes, scale, imaging.OverlayStyle{Labels: a.Labels})
		res.Boxes = len(boxes)
		res.Highlighted = len(hot)
	}

	enc, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	res.Encoded = enc
	return res, nil
}

// cellSize is the ground distance of one overview cell for projected
// rasters and the cell count otherwise, since degrees and elevation units
// do not mix.
func cellSize(r *imaging.Raster) float64 {
	px := math.Abs(r.Meta.Transform[1])
	epsg := r.Meta.CRS.EPSG
	if px == 0 || (epsg >= 4000 && epsg < 5000) || r.Meta.CRS.IsZero() {
		return float64(r.Factor)
	}
	return px * float64(r.Factor)
}

// === Batch Pipeline Handlers ===

type splitArgs struct {
	Input       string  `json:"input"`
	OutputDir   string  `json:"output_dir"`
	GridSize    int     `json:"grid_size"`
	Overlap     *int    `json:"overlap"`
	CPUFraction float64 `json:"cpu_fraction"`
}

func (s *Server) handleTerrainSplit(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a splitArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := requirePath("input", a.Input); err != nil {
		return nil, err
	}
	if err := requirePath("output_dir", a.OutputDir); err != nil {
		return nil, err
	}
	cfg := s.cfg.Split
	if a.GridSize > 0 {
		cfg.GridSize = a.GridSize
	}
	if a.Overlap != nil {
		cfg.Overlap = *a.Overlap
	}
	if a.CPUFraction > 0 {
		cfg.CPUFraction = a.CPUFraction
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sp := &splitter.Splitter{GridSize: cfg.GridSize, Overlap: cfg.Overlap, CPUFraction: cfg.CPUFraction}
	return sp.Split(ctx, a.Input, a.OutputDir)
}

type metricsArgs struct {
	InputDir    string  `json:"input_dir"`
	CPUFraction float64 `json:"cpu_fraction"`
}

// MetricsResult is the terrain_metrics result.
type MetricsResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    []string `json:"failed"`
}

func (s *Server) handleTerrainMetrics(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a metricsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := requirePath("input_dir", a.InputDir); err != nil {
		return nil, err
	}
	frac := s.cfg.Split.CPUFraction
	if a.CPUFraction > 0 {
		frac = a.CPUFraction
	}
	sum, err := metrics.Generator{CPUFraction: frac}.Generate(ctx, a.InputDir)
	if err != nil {
		return nil, err
	}
	failed := sum.Failed
	if failed == nil {
		failed = []string{}
	}
	return &MetricsResult{Total: sum.Total, Succeeded: len(sum.Records), Failed: failed}, nil
}

type filterArgs struct {
	RecordsDir       string  `json:"records_dir"`
	RunID            string  `json:"run_id"`
	FDMin            float64 `json:"fd_min"`
	FDMax            float64 `json:"fd_max"`
	R2Min            float64 `json:"r2_min"`
	R2Max            float64 `json:"r2_max"`
	Limit            int     `json:"limit"`
	IncludeHistogram bool    `json:"include_histogram"`
}

// FilterResult is the terrain_filter result. Stats and Anomalies describe
// the whole batch, not only the matched records.
type FilterResult struct {
	Total     int              `json:"total"`
	Matched   int              `json:"matched"`
	Records   []metrics.Record `json:"records"`
	Stats     anomaly.Stats    `json:"stats"`
	Anomalies []anomaly.Scored `json:"anomalies"`
	Histogram *imaging.Encoded `json:"histogram,omitempty"`
}

func (s *Server) handleTerrainFilter(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a filterArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	f := catalog.Filter{FDMin: a.FDMin, FDMax: a.FDMax, R2Min: a.R2Min, R2Max: a.R2Max, Limit: a.Limit}

	var all, matched []metrics.Record
	switch {
	case a.RunID != "":
		if s.catalog == nil {
			return nil, errors.New("run_id given but no catalog is configured")
		}
		var err error
		if all, err = s.catalog.Query(ctx, a.RunID, catalog.Filter{}); err != nil {
			return nil, err
		}
		if matched, err = s.catalog.Query(ctx, a.RunID, f); err != nil {
			return nil, err
		}
	case a.RecordsDir != "":
		var err error
		if all, err = metrics.LoadRecords(a.RecordsDir); err != nil {
			return nil, err
		}
		matched = f.Apply(all)
	default:
		return nil, errors.New("records_dir or run_id is required")
	}

	summary := anomaly.Classify(all, s.rule())
	res := &FilterResult{
		Total:     len(all),
		Matched:   len(matched),
		Records:   matched,
		Stats:     summary.Stats,
		Anomalies: anomaly.Rank(summary.Interesting, summary.Stats),
	}
	if res.Records == nil {
		res.Records = []metrics.Record{}
	}
	if a.IncludeHistogram && len(all) > 0 {
		enc, err := imaging.HistogramPNG(fractalDims(all), fractalDims(matched), "Distribution of Fractal Dimensions")
		if err != nil && !errors.Is(err, imaging.ErrNoData) {
			return nil, err
		}
		res.Histogram = enc
	}
	return res, nil
}

func fractalDims(recs []metrics.Record) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = r.Metrics.FractalDimension
	}
	return out
}

type pipelineArgs struct {
	Input       string   `json:"input"`
	OutputDir   string   `json:"output_dir"`
	GridSize    int      `json:"grid_size"`
	Overlap     *int     `json:"overlap"`
	CPUFraction float64  `json:"cpu_fraction"`
	FDMin       *float64 `json:"fd_min"`
	FDMax       *float64 `json:"fd_max"`
	R2Min       *float64 `json:"r2_min"`
	MaxSamples  *int     `json:"max_samples"`
}

func (s *Server) handleTerrainPipeline(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a pipelineArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := requirePath("input", a.Input); err != nil {
		return nil, err
	}
	if err := requirePath("output_dir", a.OutputDir); err != nil {
		return nil, err
	}

	cfg := *s.cfg
	if a.GridSize > 0 {
		cfg.Split.GridSize = a.GridSize
	}
	if a.Overlap != nil {
		cfg.Split.Overlap = *a.Overlap
	}
	if a.CPUFraction > 0 {
		cfg.Split.CPUFraction = a.CPUFraction
	}
	if a.FDMin != nil {
		cfg.Filter.FDMin = *a.FDMin
	}
	if a.FDMax != nil {
		cfg.Filter.FDMax = *a.FDMax
	}
	if a.R2Min != nil {
		cfg.Filter.R2Min = *a.R2Min
	}
	if a.MaxSamples != nil {
		cfg.Filter.MaxSamples = *a.MaxSamples
	}

	p := &pipeline.Pipeline{Config: &cfg, Catalog: s.catalog}
	return p.Complete(ctx, a.Input, a.OutputDir)
}

// === Direct Analysis Handlers ===

type estimateArgs struct {
	Path string `json:"path"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Size int    `json:"size"`
}

func (s *Server) handleTerrainEstimate(args json.RawMessage) (interface{}, error) {
	var a estimateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := requirePath("path", a.Path); err != nil {
		return nil, err
	}
	var comp metrics.Computer
	if a.Size <= 0 {
		return comp.ComputeFile(a.Path)
	}

	ds, err := raster.Open(a.Path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	w := raster.Window{X: a.X, Y: a.Y, Width: a.Size, Height: a.Size}
	grid, err := ds.ReadWindow(w)
	if err != nil {
		return nil, err
	}
	meta := ds.Metadata().ForWindow(w)
	raster.MaskNodata(grid, meta)
	return comp.ComputeTile(metrics.Tile{
		GridID:   metrics.GridID(a.X, a.Y),
		Position: metrics.Position{X: a.X, Y: a.Y},
		Size:     a.Size,
		Data:     grid,
		Meta:     meta,
	})
}

type scanArgs struct {
	Path        string   `json:"path"`
	GridSize    int      `json:"grid_size"`
	ChunkRows   int      `json:"chunk_rows"`
	MinRSquared *float64 `json:"min_r_squared"`
	Workers     int      `json:"workers"`
	OutputDir   string   `json:"output_dir"`
	MaxChunks   int      `json:"max_chunks"`
}

// ChunkSummary is one chunk of a terrain_scan result.
type ChunkSummary struct {
	ChunkID     int              `json:"chunk_id"`
	StartRow    int              `json:"start_row"`
	EndRow      int              `json:"end_row"`
	Tiles       int              `json:"tiles"`
	Stats       analyzer.Stats   `json:"stats"`
	Interesting []metrics.Record `json:"interesting"`
}

// ScanResult is the terrain_scan result.
type ScanResult struct {
	GridSize  int            `json:"grid_size"`
	Stride    int            `json:"stride"`
	Chunks    []ChunkSummary `json:"chunks"`
	Truncated bool           `json:"truncated"`
}

func (s *Server) handleTerrainScan(args json.RawMessage) (interface{}, error) {
	var a scanArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := requirePath("path", a.Path); err != nil {
		return nil, err
	}
	cfg := s.cfg.Scan
	if a.GridSize > 0 {
		cfg.GridSize = a.GridSize
	}
	if a.ChunkRows > 0 {
		cfg.ChunkRows = a.ChunkRows
	}
	if a.MinRSquared != nil {
		cfg.MinRSquared = *a.MinRSquared
	}
	if a.Workers > 0 {
		cfg.Workers = a.Workers
	}

	an := analyzer.New(cfg, s.rule())
	an.OutputDir = a.OutputDir
	it, err := an.Analyze(a.Path)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	res := &ScanResult{GridSize: an.GridSize, Stride: an.Stride(), Chunks: []ChunkSummary{}}
	for it.Next() {
		if a.MaxChunks > 0 && len(res.Chunks) == a.MaxChunks {
			res.Truncated = true
			break
		}
		c := it.Result()
		interesting := c.Interesting
		if interesting == nil {
			interesting = []metrics.Record{}
		}
		res.Chunks = append(res.Chunks, ChunkSummary{
			ChunkID:     c.ChunkID,
			StartRow:    c.StartRow,
			EndRow:      c.EndRow,
			Tiles:       len(c.Tiles),
			Stats:       c.Stats,
			Interesting: interesting,
		})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Server) rule() anomaly.Rule {
	return anomaly.Rule{Sigma: s.cfg.Anomaly.Sigma, MinRSquared: s.cfg.Anomaly.MinRSquared}
}
