// Package imaging renders elevation grids as images.
//
// Grids are *mat.Dense values where row 0 is the northern edge, so pixel
// (x, y) of every rendered image corresponds to grid cell (y, x). NaN cells
// are rendered fully transparent.
//
// # Rendering
//
// Relief maps elevation through a colour Ramp after a percentile stretch,
// Hillshade computes Horn's slope/aspect shading, and Shade multiplies the
// two. Render combines all three and fits the result into a preview box.
//
// # Overlays and Charts
//
// Overlay outlines grid squares on a rendered image and labels them with a
// small bitmap font. Histogram draws the fractal-dimension distribution of
// a batch with gonum/plot.
//
// # Thread Safety
//
// RasterCache is safe for concurrent use. All other functions are stateless.
package imaging
