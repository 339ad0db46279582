package splitter

import (
	"errors"
	"fmt"

	"github.com/ironsheep/xenarch/internal/raster"
)

// ErrLayout is returned for tiling parameters that cannot produce a layout.
var ErrLayout = errors.New("invalid tiling parameters")

// Layout is the set of square windows a raster is cut into.
type Layout struct {
	// RequestedSize is the grid size asked for; GridSize is the size used
	// after clamping to the raster height.
	RequestedSize int
	GridSize      int
	Overlap       int
	Step          int
	Clamped       bool
	Windows       []raster.Window
}

// PlanLayout tiles a height x width raster with gridSize squares overlapping
// by overlap pixels.
//
// A gridSize taller than the raster is clamped to the height, and the overlap
// keeps its proportion of the requested size: floor(size * overlap / gridSize).
// Windows start at every multiple of the step that leaves the whole window
// inside the raster; trailing partial rows and columns are not covered.
func PlanLayout(height, width, gridSize, overlap int) (Layout, error) {
	if gridSize <= 0 {
		return Layout{}, fmt.Errorf("%w: grid size %d must be positive", ErrLayout, gridSize)
	}
	if overlap < 0 || overlap >= gridSize {
		return Layout{}, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrLayout, overlap, gridSize)
	}
	if height <= 0 || width <= 0 {
		return Layout{}, fmt.Errorf("%w: raster is %dx%d", ErrLayout, width, height)
	}

	size := min(gridSize, height)
	ov := size * overlap / gridSize
	l := Layout{
		RequestedSize: gridSize,
		GridSize:      size,
		Overlap:       ov,
		Step:          size - ov,
		Clamped:       size != gridSize,
	}
	for y := 0; y <= height-size; y += l.Step {
		for x := 0; x <= width-size; x += l.Step {
			l.Windows = append(l.Windows, raster.Window{X: x, Y: y, Width: size, Height: size})
		}
	}
	return l, nil
}
