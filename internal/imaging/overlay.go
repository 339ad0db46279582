package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
)

// Box is a grid square in source raster pixels.
type Box struct {
	X, Y, Size int
	Label      string
	Highlight  bool
}

// OverlayStyle sets the outline colours as "#RRGGBB" or "#RRGGBBAA".
// Invalid colours fall back to the defaults.
type OverlayStyle struct {
	Color          string
	HighlightColor string
	Labels         bool
}

var (
	defaultBoxColor       = color.RGBA{255, 255, 255, 160}
	defaultHighlightColor = color.RGBA{255, 0, 0, 255}
)

// Overlay outlines boxes on img. scale converts source pixels to image
// pixels, so an overview read with decimation factor f uses scale 1/f.
// Highlighted boxes are drawn last so they stay visible where squares
// overlap.
func Overlay(img image.Image, boxes []Box, scale float64, style OverlayStyle) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)

	plain, err := parseHexColor(style.Color)
	if err != nil {
		plain = defaultBoxColor
	}
	hot, err := parseHexColor(style.HighlightColor)
	if err != nil {
		hot = defaultHighlightColor
	}

	for pass := 0; pass < 2; pass++ {
		for _, b := range boxes {
			if b.Highlight != (pass == 1) {
				continue
			}
			c := plain
			if b.Highlight {
				c = hot
			}
			x0 := int(float64(b.X) * scale)
			y0 := int(float64(b.Y) * scale)
			side := max(int(float64(b.Size)*scale), 2)
			outline(out, image.Rect(x0, y0, x0+side, y0+side), c)
			if style.Labels && b.Label != "" {
				drawLabel(out, x0+2, y0+2, b.Label, color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 180})
			}
		}
	}
	return out
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}

// parseHexColor parses a hex color string like "#FF0000" or "#FF000080"
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	val, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, err
	}
	switch len(hex) {
	case 6:
		return color.RGBA{R: uint8(val >> 16), G: uint8(val >> 8), B: uint8(val), A: 255}, nil
	case 8:
		return color.RGBA{R: uint8(val >> 24), G: uint8(val >> 16), B: uint8(val >> 8), A: uint8(val)}, nil
	}
	return color.RGBA{}, fmt.Errorf("invalid hex color length")
}

// 3x5 bitmap glyphs for numeric labels.
var glyphs = map[rune][]string{
	'0': {"111", "101", "101", "101", "111"},
	'1': {"010", "110", "010", "010", "111"},
	'2': {"111", "001", "111", "100", "111"},
	'3': {"111", "001", "111", "001", "111"},
	'4': {"101", "101", "111", "001", "001"},
	'5': {"111", "100", "111", "001", "111"},
	'6': {"111", "100", "111", "101", "111"},
	'7': {"111", "001", "001", "001", "001"},
	'8': {"111", "101", "111", "101", "111"},
	'9': {"111", "101", "111", "001", "111"},
	',': {"000", "000", "000", "010", "010"},
	'.': {"000", "000", "000", "000", "010"},
	'-': {"000", "000", "111", "000", "000"},
}

const (
	charWidth   = 4
	labelHeight = 7
)

// drawLabel draws text on a background box whose top-left is (x, y).
// Runes without a glyph leave a blank cell.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	bounds := img.Bounds()
	inside := func(px, py int) bool { return image.Pt(px, py).In(bounds) }
	labelWidth := len(text) * charWidth

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			if inside(x+dx, y+dy) {
				img.SetRGBA(x+dx, y+dy, bg)
			}
		}
	}

	cx := x
	for _, ch := range text {
		for row, line := range glyphs[ch] {
			for col, pixel := range line {
				if pixel == '1' && inside(cx+col, y+row) {
					img.SetRGBA(cx+col, y+row, fg)
				}
			}
		}
		cx += charWidth
	}
}
