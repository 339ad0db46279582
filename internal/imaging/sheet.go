package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// SheetTile is one cell of a contact sheet.
type SheetTile struct {
	Image image.Image
	Label string
}

const sheetGap = 4

var sheetBackground = color.RGBA{32, 32, 32, 255}

// ContactSheet lays tiles out on a near-square grid of cell x cell pixel
// cells, scaling each image to fit its cell and labelling it at the top
// left. It returns nil when there are no tiles.
func ContactSheet(tiles []SheetTile, cell int) *image.RGBA {
	if len(tiles) == 0 {
		return nil
	}
	if cell <= 0 {
		cell = 128
	}
	cols := int(math.Ceil(math.Sqrt(float64(len(tiles)))))
	rows := (len(tiles) + cols - 1) / cols
	pitch := cell + sheetGap

	sheet := image.NewRGBA(image.Rect(0, 0, cols*pitch+sheetGap, rows*pitch+sheetGap))
	draw.Draw(sheet, sheet.Bounds(), &image.Uniform{C: sheetBackground}, image.Point{}, draw.Src)

	for i, t := range tiles {
		x0 := sheetGap + (i%cols)*pitch
		y0 := sheetGap + (i/cols)*pitch
		if t.Image != nil {
			scaled := fitCell(t.Image, cell)
			draw.Draw(sheet, scaled.Bounds().Add(image.Pt(x0, y0)), scaled, image.Point{}, draw.Over)
		}
		if t.Label != "" {
			drawLabel(sheet, x0+1, y0+1, t.Label, color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 180})
		}
	}
	return sheet
}

// fitCell scales img up or down so its longer side equals cell.
func fitCell(img image.Image, cell int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		return imaging.Resize(img, cell, max(1, h*cell/w), imaging.Lanczos)
	}
	return imaging.Resize(img, max(1, w*cell/h), cell, imaging.Lanczos)
}
