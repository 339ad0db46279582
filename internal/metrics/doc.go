// Package metrics turns elevation tiles into Metrics Records and persists
// them as JSON next to the tile files they describe.
//
// A Computer wraps a fractal.Estimator and adds NaN-aware elevation
// statistics. A Generator applies a Computer to every GeoTIFF in a directory
// on a bounded worker pool, writing <grid_id>.json beside each <grid_id>.tif.
// Per-tile failures are logged and left out of the results; a record file
// exists only when its computation succeeded.
//
// Grid IDs join tiles to records. Tiles cut by the splitter are named
// grid_XXXXX_YYYYY and tiles kept by the chunked analyzer are named
// chunk_CCCC_grid_XXXXX_YYYYY, where X and Y are the tile's top-left pixel in
// the source raster.
package metrics
