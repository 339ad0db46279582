package fractal

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEstimate is matched by every estimation failure.
	ErrEstimate = errors.New("fractal estimate failed")

	ErrEmptyGrid          = fmt.Errorf("%w: empty grid", ErrEstimate)
	ErrAllNaN             = fmt.Errorf("%w: grid is entirely NaN", ErrEstimate)
	ErrInsufficientScales = fmt.Errorf("%w: fewer than two box sizes with a non-zero count", ErrEstimate)
	ErrBoxSize            = fmt.Errorf("%w: box size must be at least 1 and smaller than both grid sides", ErrEstimate)
)

// minBoxExponent is the exponent of the smallest box side, 2^2 = 4.
const minBoxExponent = 2

// BoxSizes returns the box sides used for a rows x cols grid:
// 2^2 ... 2^(k-1) with k = floor(log2(min(rows, cols))). Every size is
// strictly smaller than the shorter side. Grids shorter than 8 get none.
func BoxSizes(rows, cols int) []int {
	short := min(rows, cols)
	if short < 1 {
		return nil
	}
	k := bits.Len(uint(short)) - 1
	var sizes []int
	for e := minBoxExponent; e < k; e++ {
		sizes = append(sizes, 1<<e)
	}
	return sizes
}

// Normalize rescales grid to [0,1] using its own NaN-aware min and max.
// NaN cells, and every cell of a constant grid, become 0.
func Normalize(grid *mat.Dense) (*mat.Dense, error) {
	if isEmpty(grid) {
		return nil, ErrEmptyGrid
	}
	raw := grid.RawMatrix()
	lo, hi := math.Inf(1), math.Inf(-1)
	for r := 0; r < raw.Rows; r++ {
		for _, v := range raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols] {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if lo > hi {
		return nil, ErrAllNaN
	}

	out := make([]float64, raw.Rows*raw.Cols)
	span := hi - lo
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for c, v := range row {
			n := (v - lo) / span
			if math.IsNaN(n) {
				n = 0
			}
			out[r*raw.Cols+c] = n
		}
	}
	return mat.NewDense(raw.Rows, raw.Cols, out), nil
}

// BoxCount partitions grid into a lattice of size x size boxes, dropping the
// rows and columns that do not fill a whole box, and returns how many boxes
// have a value range (max - min) above threshold. NaN cells are ignored.
func BoxCount(grid *mat.Dense, size int, threshold float64) (int, error) {
	if isEmpty(grid) {
		return 0, ErrEmptyGrid
	}
	raw := grid.RawMatrix()
	if size < 1 || size >= min(raw.Rows, raw.Cols) {
		return 0, fmt.Errorf("%w: size %d for %dx%d grid", ErrBoxSize, size, raw.Rows, raw.Cols)
	}

	boxesDown, boxesAcross := raw.Rows/size, raw.Cols/size
	count := 0
	for by := 0; by < boxesDown; by++ {
		for bx := 0; bx < boxesAcross; bx++ {
			lo, hi := math.Inf(1), math.Inf(-1)
			for r := by * size; r < (by+1)*size; r++ {
				base := r*raw.Stride + bx*size
				for _, v := range raw.Data[base : base+size] {
					if v < lo {
						lo = v
					}
					if v > hi {
						hi = v
					}
				}
			}
			if hi-lo > threshold {
				count++
			}
		}
	}
	return count, nil
}

func isEmpty(grid *mat.Dense) bool {
	return grid == nil || grid.IsEmpty()
}
