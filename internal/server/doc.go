// Package server implements an MCP (Model Context Protocol) server exposing
// the terrain analysis tools.
//
// The server speaks JSON-RPC 2.0 over stdio, one request per line on stdin
// and one response per line on stdout. Logs go to stderr.
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Raster inspection:
//   - terrain_info: Dimensions, data type, CRS, transform and nodata of a GeoTIFF
//   - terrain_preview: Shaded relief of a raster, optionally with grid squares
//
// Batch pipeline:
//   - terrain_split: Cut a raster into overlapping grid tiles
//   - terrain_metrics: Compute a metrics record for every tile in a directory
//   - terrain_filter: Select records by fractal dimension and R², with anomalies
//   - terrain_pipeline: Split, compute, index and report in one call
//
// Direct analysis:
//   - terrain_estimate: Fractal dimension of one tile or raster window
//   - terrain_scan: Chunked sliding-window scan with per-chunk anomalies
//
// # Caching
//
// Raster overviews used for previews are cached by path and size for the
// life of the process.
//
// # Error Handling
//
// Tool failures are returned as JSON-RPC errors with code -32000 and the Go
// error string as data. Malformed tools/call params use -32602.
package server
