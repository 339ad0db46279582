package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrNoData is returned when a grid has no finite values to render.
var ErrNoData = errors.New("grid has no finite values")

type stop struct {
	pos float64
	c   colorful.Color
}

// Ramp maps a normalized value in [0, 1] to a colour by blending between
// stops in CIE L*a*b* space.
type Ramp struct {
	name  string
	stops []stop
}

func mustRamp(name string, hexes ...string) Ramp {
	r := Ramp{name: name}
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(fmt.Sprintf("ramp %s: %v", name, err))
		}
		r.stops = append(r.stops, stop{pos: float64(i) / float64(len(hexes)-1), c: c})
	}
	return r
}

var (
	// TerrainRamp runs from lowland green through tan and brown to snow.
	TerrainRamp = mustRamp("terrain", "#0c6b3a", "#5f9e4a", "#d9c98c", "#9c6b3e", "#6e5a50", "#ffffff")
	// GrayRamp runs from black to white.
	GrayRamp = mustRamp("gray", "#000000", "#ffffff")
)

// RampByName returns the named ramp. The empty name selects TerrainRamp.
func RampByName(name string) (Ramp, error) {
	switch strings.ToLower(name) {
	case "", "terrain":
		return TerrainRamp, nil
	case "gray", "grey":
		return GrayRamp, nil
	}
	return Ramp{}, fmt.Errorf("unknown colour ramp %q", name)
}

// Name returns the ramp's name.
func (r Ramp) Name() string { return r.name }

// At returns the colour at t, clamped to [0, 1].
func (r Ramp) At(t float64) color.NRGBA {
	if math.IsNaN(t) || t <= 0 {
		return nrgba(r.stops[0].c)
	}
	if t >= 1 {
		return nrgba(r.stops[len(r.stops)-1].c)
	}
	i := sort.Search(len(r.stops), func(i int) bool { return r.stops[i].pos >= t })
	lo, hi := r.stops[i-1], r.stops[i]
	return nrgba(lo.c.BlendLab(hi.c, (t-lo.pos)/(hi.pos-lo.pos)))
}

func nrgba(c colorful.Color) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// StretchRange returns the 2nd and 98th percentile of the finite values in
// grid. Degenerate ranges are widened so callers can always divide by
// hi-lo.
func StretchRange(grid *mat.Dense) (lo, hi float64, err error) {
	rows, cols := grid.Dims()
	vals := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if v := grid.At(r, c); !math.IsNaN(v) && !math.IsInf(v, 0) {
				vals = append(vals, v)
			}
		}
	}
	if len(vals) == 0 {
		return 0, 0, ErrNoData
	}
	sort.Float64s(vals)
	lo = stat.Quantile(0.02, stat.Empirical, vals, nil)
	hi = stat.Quantile(0.98, stat.Empirical, vals, nil)
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi, nil
}

// Relief colours grid with ramp, mapping lo to the first stop and hi to the
// last. NaN cells are transparent.
func Relief(grid *mat.Dense, ramp Ramp, lo, hi float64) *image.NRGBA {
	rows, cols := grid.Dims()
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := grid.At(y, x)
			if math.IsNaN(v) {
				continue
			}
			img.SetNRGBA(x, y, ramp.At((v-lo)/span))
		}
	}
	return img
}
