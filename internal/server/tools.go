package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func numberProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

func boolProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Raster inspection
		{
			Name:        "terrain_info",
			Description: "Read the header of a single-band GeoTIFF: dimensions, sample data type, CRS, geotransform and nodata value.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": stringProp("Absolute path to the GeoTIFF"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "terrain_preview",
			Description: "Render a raster as a colour relief (optionally hillshaded) PNG. When records_dir is given, grid squares from its metrics records are outlined and batch anomalies highlighted.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":        stringProp("Absolute path to the GeoTIFF"),
					"max_size":    intProp("Longest side of the returned image in pixels. Default 512"),
					"ramp":        map[string]interface{}{"type": "string", "enum": []string{"terrain", "gray"}, "description": "Colour ramp. Default terrain"},
					"hillshade":   boolProp("Multiply the relief by a hillshade. Default true"),
					"azimuth":     numberProp("Light azimuth in degrees clockwise from north. Default 315"),
					"altitude":    numberProp("Light altitude in degrees. Default 45"),
					"records_dir": stringProp("Directory of metrics records whose grid squares are drawn"),
					"labels":      boolProp("Label outlined squares with their fractal dimension. Default false"),
				},
				"required": []string{"path"},
			},
		},

		// Batch pipeline
		{
			Name:        "terrain_split",
			Description: "Split a raster into overlapping square GeoTIFF tiles named grid_XXXXX_YYYYY.tif. All-zero windows are skipped. Grid size is clamped to the raster height with the overlap scaled to match.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"input":        stringProp("Absolute path to the source GeoTIFF"),
					"output_dir":   stringProp("Directory that receives the tiles"),
					"grid_size":    intProp("Tile side in pixels. Default from configuration (512)"),
					"overlap":      intProp("Overlap between neighbouring tiles in pixels. Default from configuration (64)"),
					"cpu_fraction": numberProp("Fraction of CPUs to use, in (0,1]. Default from configuration (0.8)"),
				},
				"required": []string{"input", "output_dir"},
			},
		},
		{
			Name:        "terrain_metrics",
			Description: "Compute fractal dimension, R² and elevation statistics for every tile in a directory and write <grid_id>.json beside each tile.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"input_dir":    stringProp("Directory of tiles"),
					"cpu_fraction": numberProp("Fraction of CPUs to use, in (0,1]"),
				},
				"required": []string{"input_dir"},
			},
		},
		{
			Name:        "terrain_filter",
			Description: "Select metrics records by fractal-dimension and R² ranges, either from a records directory or from an indexed run. Also returns batch statistics and the ranked 2-sigma anomalies.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"records_dir":       stringProp("Directory of metrics records"),
					"run_id":            stringProp("Indexed run to query instead of a directory"),
					"fd_min":            numberProp("Minimum fractal dimension (inclusive). Default 0"),
					"fd_max":            numberProp("Maximum fractal dimension (inclusive). 0 leaves it open"),
					"r2_min":            numberProp("Minimum R² (inclusive). Default 0"),
					"r2_max":            numberProp("Maximum R² (inclusive). 0 leaves it open"),
					"limit":             intProp("Maximum records returned. 0 for all"),
					"include_histogram": boolProp("Attach a fractal-dimension histogram PNG. Default false"),
				},
			},
		},
		{
			Name:        "terrain_pipeline",
			Description: "Run the complete job: split, compute metrics, index the run and write the report (histogram, sample previews, summary.json).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"input":        stringProp("Absolute path to the source GeoTIFF"),
					"output_dir":   stringProp("Directory that receives tiles, records and params.json"),
					"grid_size":    intProp("Tile side in pixels"),
					"overlap":      intProp("Overlap in pixels"),
					"cpu_fraction": numberProp("Fraction of CPUs to use, in (0,1]"),
					"fd_min":       numberProp("Report filter minimum fractal dimension"),
					"fd_max":       numberProp("Report filter maximum fractal dimension"),
					"r2_min":       numberProp("Report filter minimum R²"),
					"max_samples":  intProp("Maximum previewed samples"),
				},
				"required": []string{"input", "output_dir"},
			},
		},

		// Direct analysis
		{
			Name:        "terrain_estimate",
			Description: "Estimate the box-counting fractal dimension of a tile file, or of a square window of a larger raster when x, y and size are given.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": stringProp("Absolute path to the GeoTIFF"),
					"x":    intProp("Window left column"),
					"y":    intProp("Window top row"),
					"size": intProp("Window side in pixels. 0 uses the whole file"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "terrain_scan",
			Description: "Scan a raster in row chunks with a sliding window (stride grid_size/4), keeping tiles whose R² exceeds min_r_squared and flagging 2-sigma anomalies per chunk. Returns per-chunk summaries.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":          stringProp("Absolute path to the GeoTIFF"),
					"grid_size":     intProp("Window side in pixels. Default 256"),
					"chunk_rows":    intProp("Rows per chunk. Default 1000"),
					"min_r_squared": numberProp("Keep tiles with R² above this. Default 0.5"),
					"workers":       intProp("Tiles estimated concurrently per chunk. Default 1"),
					"output_dir":    stringProp("When set, kept tiles and records are written here"),
					"max_chunks":    intProp("Stop after this many non-empty chunks. 0 for all"),
				},
				"required": []string{"path"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
