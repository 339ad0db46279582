// Package raster reads and writes single-band elevation GeoTIFFs.
//
// Source rasters are read through Dataset, which decodes only the strips or
// tiles a window touches, so multi-gigabyte DEMs are processed in bounded
// memory. Tiles are small and are written and read whole through the
// go-spatial raster library (Create, LoadTile).
//
// The Dataset reader understands classic TIFF and BigTIFF, in either byte order, with
// strip or tile layouts. Supported compressions are none, LZW, Deflate and
// PackBits, with the horizontal (2) and floating point (3) predictors. Sample
// formats are the signed and unsigned integers up to 32 bits and IEEE floats
// of 32 and 64 bits. Files with more than one sample per pixel are rejected.
//
// # Georeferencing
//
// The affine transform is kept in GDAL order:
//
//	[originX, pixelWidth, rowRotation, originY, columnRotation, pixelHeight]
//
// It is derived from ModelTransformationTag when present, otherwise from
// ModelTiepointTag and ModelPixelScaleTag. Files without georeferencing get
// the identity transform. Tiles carry the source's EPSG code and a transform
// moved to the tile origin; rotated transforms cannot be written.
//
// # Windows
//
// Dataset.ReadWindow returns a window of the band as a *mat.Dense of float64
// values. No masking is applied: nodata pixels keep their sentinel value and
// callers decide how to treat them (see MaskNodata).
//
// Header sizes are checked against the file size before anything is
// allocated, so corrupt files fail with ErrFormat.
//
// # Thread Safety
//
// A Dataset is not safe for concurrent use. Open one Dataset per goroutine;
// opening is cheap because only the header and the first IFD are parsed.
package raster
