package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

// Encoded is a PNG image ready to hand to an MCP client.
type Encoded struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodePNG encodes img as base64 PNG.
func EncodePNG(img image.Image) (*Encoded, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	b := img.Bounds()
	return &Encoded{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// SavePNG writes img to path, creating the parent directory.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// PreviewOptions controls Render.
type PreviewOptions struct {
	// MaxSize bounds both output dimensions; 0 keeps the grid size.
	// Images are only ever shrunk.
	MaxSize int
	Ramp    Ramp
	// Hillshade multiplies the relief by a shaded relief using Light.
	Hillshade bool
	Light     Light
	// CellSize is the ground size of one grid cell in elevation units.
	CellSize float64
	ZFactor  float64
}

// DefaultPreviewOptions renders a shaded terrain relief up to 512 pixels.
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{
		MaxSize:   512,
		Ramp:      TerrainRamp,
		Hillshade: true,
		Light:     DefaultLight,
		CellSize:  1,
		ZFactor:   1,
	}
}

// Render turns an elevation grid into a colour relief image.
func Render(grid *mat.Dense, opts PreviewOptions) (image.Image, error) {
	lo, hi, err := StretchRange(grid)
	if err != nil {
		return nil, err
	}
	if opts.Ramp.stops == nil {
		opts.Ramp = TerrainRamp
	}

	var img image.Image = Relief(grid, opts.Ramp, lo, hi)
	if opts.Hillshade {
		img = Shade(img, Hillshade(grid, opts.CellSize, opts.ZFactor, opts.Light))
	}

	b := img.Bounds()
	if opts.MaxSize > 0 && (b.Dx() > opts.MaxSize || b.Dy() > opts.MaxSize) {
		img = imaging.Fit(img, opts.MaxSize, opts.MaxSize, imaging.Lanczos)
	}
	return img, nil
}
