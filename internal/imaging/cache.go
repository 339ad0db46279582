package imaging

import (
	"fmt"
	"sync"

	"github.com/ironsheep/xenarch/internal/raster"
	"gonum.org/v1/gonum/mat"
)

// Raster is a decimated, nodata-masked view of a GeoTIFF band ready for
// rendering. Factor is the number of source pixels per grid cell along each
// axis.
type Raster struct {
	Meta   raster.Metadata
	Grid   *mat.Dense
	Factor int
}

type cacheKey struct {
	path    string
	maxSide int
}

// RasterCache keeps decoded overviews in memory so repeated previews of the
// same raster skip the decode. Entries stay until Evict or Clear.
//
// RasterCache is safe for concurrent use.
type RasterCache struct {
	mu      sync.RWMutex
	rasters map[cacheKey]*Raster
}

// NewRasterCache returns an empty cache.
func NewRasterCache() *RasterCache {
	return &RasterCache{rasters: make(map[cacheKey]*Raster)}
}

// Load returns the overview of path whose longer side is at most maxSide
// cells, reading it on first use. maxSide <= 0 loads full resolution.
// The returned Raster is shared and must not be modified.
func (c *RasterCache) Load(path string, maxSide int) (*Raster, error) {
	key := cacheKey{path: path, maxSide: maxSide}
	c.mu.RLock()
	if r, ok := c.rasters[key]; ok {
		c.mu.RUnlock()
		return r, nil
	}
	c.mu.RUnlock()

	ds, err := raster.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer ds.Close()

	grid, factor, err := ds.ReadOverview(maxSide)
	if err != nil {
		return nil, fmt.Errorf("failed to read raster: %w", err)
	}
	meta := ds.Metadata()
	raster.MaskNodata(grid, meta)

	r := &Raster{Meta: meta, Grid: grid, Factor: factor}
	c.mu.Lock()
	c.rasters[key] = r
	c.mu.Unlock()
	return r, nil
}

// Len returns the number of cached overviews.
func (c *RasterCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rasters)
}

// Evict drops every cached overview of path.
func (c *RasterCache) Evict(path string) {
	c.mu.Lock()
	for k := range c.rasters {
		if k.path == path {
			delete(c.rasters, k)
		}
	}
	c.mu.Unlock()
}

// Clear drops all cached overviews.
func (c *RasterCache) Clear() {
	c.mu.Lock()
	c.rasters = make(map[cacheKey]*Raster)
	c.mu.Unlock()
}
