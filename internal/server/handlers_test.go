package server

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/metrics"
	"github.com/ironsheep/xenarch/internal/raster"
	"github.com/ironsheep/xenarch/internal/raster/rastertest"
)

// createTestRaster writes a 128x128 Float32 GeoTIFF whose top-left 64x64
// quadrant is noise and the rest zero.
func createTestRaster(t *testing.T) string {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	g := mat.NewDense(128, 128, nil)
	for r := 0; r < 64; r++ {
		for c := 0; c < 64; c++ {
			g.Set(r, c, 10+rng.Float64()*90)
		}
	}
	meta := raster.Metadata{
		Width:     128,
		Height:    128,
		DataType:  raster.Float32,
		Transform: raster.GeoTransform{500000, 30, 0, 4200000, 0, -30},
		CRS:       raster.EPSGCRS(32633),
		HasNodata: true,
		Nodata:    -9999,
	}
	path := filepath.Join(t.TempDir(), "dem.tif")
	rastertest.WriteSource(t, path, meta, g, 16)
	return path
}

// callTool runs a tools/call request and decodes the text content into out.
// It returns the JSON-RPC error, if any.
func callTool(t *testing.T, s *Server, name string, args interface{}, out interface{}) *MCPError {
	t.Helper()

	params, _ := json.Marshal(map[string]interface{}{"name": name, "arguments": args})
	resp := s.handleRequest(&MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil {
		return resp.Error
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("unexpected content: %v", result["content"])
	}
	if out != nil {
		if err := json.Unmarshal([]byte(content[0]["text"].(string)), out); err != nil {
			t.Fatalf("failed to decode %s result: %v", name, err)
		}
	}
	return nil
}

func mustCall(t *testing.T, s *Server, name string, args interface{}, out interface{}) {
	t.Helper()
	if e := callTool(t, s, name, args, out); e != nil {
		t.Fatalf("%s failed: %s: %v", name, e.Message, e.Data)
	}
}

func TestHandleToolsCall_TerrainInfo(t *testing.T) {
	s := New()
	path := createTestRaster(t)

	var info RasterInfo
	mustCall(t, s, "terrain_info", map[string]interface{}{"path": path}, &info)

	if info.Width != 128 || info.Height != 128 {
		t.Errorf("dimensions: got %dx%d, want 128x128", info.Width, info.Height)
	}
	if info.CRS != "EPSG:32633" || info.EPSG != 32633 {
		t.Errorf("CRS: got %q (%d)", info.CRS, info.EPSG)
	}
	if info.Nodata != "-9999" {
		t.Errorf("Nodata: got %q, want -9999", info.Nodata)
	}
	if !info.NorthUp {
		t.Error("expected north-up transform")
	}
	want := [4]float64{500000, 4200000 - 128*30, 500000 + 128*30, 4200000}
	if info.Bounds != want {
		t.Errorf("Bounds: got %v, want %v", info.Bounds, want)
	}
	if info.FileSizeBytes <= 0 {
		t.Errorf("FileSizeBytes: got %d", info.FileSizeBytes)
	}
}

func TestHandleToolsCall_Errors(t *testing.T) {
	s := New()
	tests := []struct {
		name string
		tool string
		args interface{}
	}{
		{"missing path", "terrain_info", map[string]interface{}{}},
		{"nonexistent file", "terrain_info", map[string]interface{}{"path": "/nonexistent/dem.tif"}},
		{"unknown tool", "terrain_nope", map[string]interface{}{}},
		{"wrong type", "terrain_scan", map[string]interface{}{"path": 12}},
		{"filter without source", "terrain_filter", map[string]interface{}{}},
		{"filter run without catalog", "terrain_filter", map[string]interface{}{"run_id": "abc"}},
		{"bad ramp", "terrain_preview", map[string]interface{}{"path": "/x.tif", "ramp": "rainbow"}},
		{"overlap too large", "terrain_split", map[string]interface{}{"input": "/x.tif", "output_dir": "/tmp", "grid_size": 32, "overlap": 32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := callTool(t, s, tt.tool, tt.args, nil)
			if e == nil {
				t.Fatal("expected error")
			}
			if e.Code != -32000 {
				t.Errorf("Error code: got %d, want -32000", e.Code)
			}
		})
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := New()
	resp := s.handleRequest(&MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: json.RawMessage(`"oops"`)})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
}

func TestHandleToolsCall_SplitMetricsFilter(t *testing.T) {
	s := New()
	path := createTestRaster(t)
	dir := t.TempDir()

	var split struct {
		Saved   []string `json:"saved"`
		Skipped int      `json:"skipped"`
		Step    int      `json:"step"`
	}
	mustCall(t, s, "terrain_split", map[string]interface{}{
		"input": path, "output_dir": dir, "grid_size": 64, "overlap": 0, "cpu_fraction": 0.5,
	}, &split)
	if len(split.Saved) != 1 || split.Saved[0] != "grid_00000_00000" {
		t.Errorf("Saved: got %v", split.Saved)
	}
	if split.Skipped != 3 || split.Step != 64 {
		t.Errorf("Skipped/Step: got %d/%d, want 3/64", split.Skipped, split.Step)
	}

	var m MetricsResult
	mustCall(t, s, "terrain_metrics", map[string]interface{}{"input_dir": dir}, &m)
	if m.Total != 1 || m.Succeeded != 1 || len(m.Failed) != 0 {
		t.Errorf("metrics: got %+v", m)
	}

	var f FilterResult
	mustCall(t, s, "terrain_filter", map[string]interface{}{
		"records_dir": dir, "fd_min": 1.5, "r2_min": 0.9, "include_histogram": true,
	}, &f)
	if f.Total != 1 || f.Matched != 1 || len(f.Records) != 1 {
		t.Fatalf("filter: got total %d matched %d", f.Total, f.Matched)
	}
	if fd := f.Records[0].Metrics.FractalDimension; math.Abs(fd-2) > 0.05 {
		t.Errorf("fractal dimension: got %v, want about 2", fd)
	}
	if f.Histogram == nil || f.Histogram.MimeType != "image/png" {
		t.Error("expected histogram attachment")
	}

	mustCall(t, s, "terrain_filter", map[string]interface{}{"records_dir": dir, "fd_max": 1.5}, &f)
	if f.Matched != 0 || f.Records == nil {
		t.Errorf("fd_max 1.5: got matched %d, records %v", f.Matched, f.Records)
	}
}

func TestHandleToolsCall_Estimate(t *testing.T) {
	s := New()
	path := createTestRaster(t)

	var rec metrics.Record
	mustCall(t, s, "terrain_estimate", map[string]interface{}{"path": path, "x": 0, "y": 0, "size": 64}, &rec)
	if rec.GridID != "grid_00000_00000" || rec.Size != 64 {
		t.Errorf("record: got %s size %d", rec.GridID, rec.Size)
	}
	if math.Abs(rec.Metrics.FractalDimension-2) > 0.05 || rec.Metrics.RSquared < 0.99 {
		t.Errorf("metrics: got %+v", rec.Metrics)
	}

	// a flat window cannot be estimated
	if e := callTool(t, s, "terrain_estimate", map[string]interface{}{"path": path, "x": 64, "y": 64, "size": 64}, nil); e == nil {
		t.Error("expected error for flat window")
	}
	if e := callTool(t, s, "terrain_estimate", map[string]interface{}{"path": path, "x": 100, "y": 0, "size": 64}, nil); e == nil {
		t.Error("expected error for window outside raster")
	}

	// whole file
	mustCall(t, s, "terrain_estimate", map[string]interface{}{"path": path}, &rec)
	if rec.GridID != "dem" || rec.Size != 128 {
		t.Errorf("whole file record: got %s size %d", rec.GridID, rec.Size)
	}
}

func TestHandleToolsCall_Scan(t *testing.T) {
	s := New()
	path := createTestRaster(t)
	out := t.TempDir()

	var res ScanResult
	mustCall(t, s, "terrain_scan", map[string]interface{}{
		"path": path, "grid_size": 32, "chunk_rows": 64, "min_r_squared": 0.5, "output_dir": out,
	}, &res)

	if res.GridSize != 32 || res.Stride != 8 {
		t.Errorf("grid/stride: got %d/%d", res.GridSize, res.Stride)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("chunks: got %d, want 1", len(res.Chunks))
	}
	c := res.Chunks[0]
	if c.ChunkID != 0 || c.StartRow != 0 || c.EndRow != 64 {
		t.Errorf("chunk bounds: got %+v", c)
	}
	if c.Tiles < 25 || c.Stats.Count != c.Tiles {
		t.Errorf("tiles: got %d (stats count %d)", c.Tiles, c.Stats.Count)
	}

	tifs, _ := filepath.Glob(filepath.Join(out, "chunk_0000_*.tif"))
	if len(tifs) != c.Tiles {
		t.Errorf("persisted tiles: got %d, want %d", len(tifs), c.Tiles)
	}

	mustCall(t, s, "terrain_scan", map[string]interface{}{
		"path": path, "grid_size": 32, "chunk_rows": 16, "max_chunks": 1,
	}, &res)
	if len(res.Chunks) != 1 || !res.Truncated {
		t.Errorf("max_chunks: got %d chunks, truncated %v", len(res.Chunks), res.Truncated)
	}
}

func TestHandleToolsCall_Preview(t *testing.T) {
	s := New()
	path := createTestRaster(t)

	var p PreviewResult
	mustCall(t, s, "terrain_preview", map[string]interface{}{"path": path, "max_size": 64}, &p)
	if p.Encoded == nil || p.Width != 64 || p.Height != 64 || p.Factor != 2 {
		t.Fatalf("preview: got %+v", p)
	}
	if p.Boxes != 0 {
		t.Errorf("Boxes: got %d, want 0", p.Boxes)
	}

	dir := t.TempDir()
	rec := metrics.Record{
		GridID:   "grid_00000_00000",
		Metrics:  metrics.Metrics{FractalDimension: 2, RSquared: 1},
		Position: metrics.Position{X: 0, Y: 0},
		Size:     64,
	}
	if _, err := metrics.WriteRecord(dir, rec); err != nil {
		t.Fatal(err)
	}
	mustCall(t, s, "terrain_preview", map[string]interface{}{
		"path": path, "max_size": 64, "ramp": "gray", "hillshade": false, "records_dir": dir, "labels": true,
	}, &p)
	if p.Boxes != 1 || p.Highlighted != 0 {
		t.Errorf("boxes: got %d highlighted %d", p.Boxes, p.Highlighted)
	}
	if s.cache.Len() != 1 {
		t.Errorf("cache entries: got %d, want 1", s.cache.Len())
	}
}

func TestHandleToolsCall_PipelineWithCatalog(t *testing.T) {
	cat, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()

	cfg := config.Default()
	cfg.Split.CPUFraction = 0.5
	s := New(WithConfig(cfg), WithCatalog(cat))
	path := createTestRaster(t)
	out := t.TempDir()

	var res struct {
		RunID     string `json:"run_id"`
		ReportDir string `json:"report_dir"`
		Indexed   int    `json:"indexed"`
	}
	mustCall(t, s, "terrain_pipeline", map[string]interface{}{
		"input": path, "output_dir": out, "grid_size": 64, "overlap": 0,
		"fd_min": 1.5, "fd_max": 2.5, "max_samples": 2,
	}, &res)
	if res.RunID == "" || res.Indexed != 1 {
		t.Fatalf("pipeline: got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(res.ReportDir, "summary.json")); err != nil {
		t.Errorf("summary not written: %v", err)
	}
	if !strings.HasPrefix(res.ReportDir, out) {
		t.Errorf("report dir %s outside %s", res.ReportDir, out)
	}

	var f FilterResult
	mustCall(t, s, "terrain_filter", map[string]interface{}{"run_id": res.RunID, "fd_min": 1.5}, &f)
	if f.Total != 1 || f.Matched != 1 {
		t.Errorf("filter by run: got total %d matched %d", f.Total, f.Matched)
	}

	// server defaults are untouched by per-call overrides
	if s.cfg.Split.GridSize != 512 {
		t.Errorf("config mutated: grid size %d", s.cfg.Split.GridSize)
	}
}

// oversizedStripTIFF returns a 4x4 TIFF whose only strip claims ~4 GiB.
func oversizedStripTIFF() []byte {
	le := binary.LittleEndian
	buf := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}
	entries := [][3]uint32{
		{256, 4, 4},          // ImageWidth
		{257, 4, 4},          // ImageLength
		{258, 3, 8},          // BitsPerSample
		{273, 4, 8},          // StripOffsets
		{279, 4, 0xFFFFFF00}, // StripByteCounts
	}
	buf = le.AppendUint16(buf, uint16(len(entries)))
	for _, e := range entries {
		buf = le.AppendUint16(buf, uint16(e[0]))
		buf = le.AppendUint16(buf, uint16(e[1]))
		buf = le.AppendUint32(buf, 1)
		buf = le.AppendUint32(buf, e[2])
	}
	return le.AppendUint32(buf, 0)
}

func TestHandleToolsCall_CorruptRaster(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "corrupt.tif")
	if err := os.WriteFile(path, oversizedStripTIFF(), 0644); err != nil {
		t.Fatal(err)
	}

	calls := []struct {
		tool string
		args map[string]interface{}
	}{
		{"terrain_info", map[string]interface{}{"path": path}},
		{"terrain_preview", map[string]interface{}{"path": path}},
		{"terrain_scan", map[string]interface{}{"path": path}},
		{"terrain_estimate", map[string]interface{}{"path": path, "x": 0, "y": 0, "size": 4}},
	}
	for _, c := range calls {
		t.Run(c.tool, func(t *testing.T) {
			e := callTool(t, s, c.tool, c.args, nil)
			if e == nil {
				t.Fatal("expected error for corrupt raster")
			}
			if e.Code != -32000 {
				t.Errorf("Error code: got %d, want -32000", e.Code)
			}
		})
	}
}
