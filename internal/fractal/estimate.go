package fractal

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// noiseFraction scales the normalized grid's standard deviation into the
// per-box range a box must exceed to count.
const noiseFraction = 0.1

// Scale is the box count observed at one box size.
type Scale struct {
	Size  int `json:"size"`
	Count int `json:"count"`
}

// Result is a fractal dimension estimate and the quality of its fit.
type Result struct {
	Dimension float64 `json:"fractal_dimension"`
	RSquared  float64 `json:"r_squared"`
	Threshold float64 `json:"threshold"`
	Scales    []Scale `json:"scales"`
}

// Estimator computes box-counting fractal dimensions.
// The zero value counts one box size at a time.
type Estimator struct {
	// Threads is the number of box sizes counted concurrently.
	// Values below 1 mean 1.
	Threads int
}

// Estimate returns the fractal dimension of grid and the R² of the
// log-log fit. It fails with an error matching ErrEstimate when the grid is
// empty, entirely NaN, or has fewer than two box sizes with a non-zero count.
func (e Estimator) Estimate(grid *mat.Dense) (Result, error) {
	norm, err := Normalize(grid)
	if err != nil {
		return Result{}, err
	}
	rows, cols := norm.Dims()

	_, variance := stat.PopMeanVariance(norm.RawMatrix().Data, nil)
	threshold := noiseFraction * math.Sqrt(variance)

	sizes := BoxSizes(rows, cols)
	counts := make([]int, len(sizes))
	var g errgroup.Group
	g.SetLimit(max(e.Threads, 1))
	for i, size := range sizes {
		g.Go(func() error {
			n, err := BoxCount(norm, size, threshold)
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Threshold: threshold, Scales: make([]Scale, len(sizes))}
	var xs, ys []float64
	for i, size := range sizes {
		res.Scales[i] = Scale{Size: size, Count: counts[i]}
		if counts[i] > 0 {
			xs = append(xs, math.Log(float64(size)))
			ys = append(ys, math.Log(float64(counts[i])))
		}
	}
	if len(xs) < 2 {
		return Result{}, fmt.Errorf("%w: %d of %d sizes usable on %dx%d grid",
			ErrInsufficientScales, len(xs), len(sizes), rows, cols)
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		// Constant counts: the fit explains nothing.
		r2 = 0
	}
	res.Dimension = -beta
	res.RSquared = r2
	return res, nil
}
