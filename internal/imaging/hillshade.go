package imaging

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/blend"
	"gonum.org/v1/gonum/mat"
)

// Light is the illumination used by Hillshade, in degrees. Azimuth is
// measured clockwise from north.
type Light struct {
	Azimuth  float64 `json:"azimuth"`
	Altitude float64 `json:"altitude"`
}

// DefaultLight is the cartographic convention of a north-west sun 45 degrees
// above the horizon.
var DefaultLight = Light{Azimuth: 315, Altitude: 45}

// Hillshade shades grid with Horn's 3x3 gradient. cellSize is the ground
// distance of one cell in elevation units; zFactor exaggerates relief.
// Edge cells reuse their nearest neighbours and NaN neighbours are replaced
// by the centre value. NaN cells shade to zero.
func Hillshade(grid *mat.Dense, cellSize, zFactor float64, light Light) *image.Gray {
	rows, cols := grid.Dims()
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	if cellSize <= 0 {
		cellSize = 1
	}
	if zFactor <= 0 {
		zFactor = 1
	}

	zenith := (90 - light.Altitude) * math.Pi / 180
	azimuth := math.Mod(360-light.Azimuth+90, 360) * math.Pi / 180
	cosZ, sinZ := math.Cos(zenith), math.Sin(zenith)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			centre := grid.At(y, x)
			if math.IsNaN(centre) {
				continue
			}
			at := func(dy, dx int) float64 {
				r := min(max(y+dy, 0), rows-1)
				c := min(max(x+dx, 0), cols-1)
				v := grid.At(r, c)
				if math.IsNaN(v) {
					return centre
				}
				return v
			}
			a, b, c := at(-1, -1), at(-1, 0), at(-1, 1)
			d, f := at(0, -1), at(0, 1)
			g, h, i := at(1, -1), at(1, 0), at(1, 1)

			dzdx := ((c + 2*f + i) - (a + 2*d + g)) / (8 * cellSize)
			dzdy := ((g + 2*h + i) - (a + 2*b + c)) / (8 * cellSize)

			slope := math.Atan(zFactor * math.Hypot(dzdx, dzdy))
			aspect := math.Atan2(dzdy, -dzdx)

			shade := cosZ*math.Cos(slope) + sinZ*math.Sin(slope)*math.Cos(azimuth-aspect)
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(255 * max(shade, 0)))})
		}
	}
	return img
}

// Shade multiplies relief by a hillshade of the same size. Pixels that are
// transparent in relief stay transparent.
func Shade(relief image.Image, shade *image.Gray) *image.RGBA {
	out := blend.Multiply(relief, shade)
	b := out.Bounds()
	rb := relief.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := relief.At(rb.Min.X+x, rb.Min.Y+y).RGBA(); a == 0 {
				out.SetRGBA(x, y, color.RGBA{})
			}
		}
	}
	return out
}
