package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"image/png"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HistogramBins is the bin count used for fractal-dimension histograms.
const HistogramBins = 50

const (
	histWidth  = 8 * vg.Inch
	histHeight = 5 * vg.Inch
)

// Histogram plots the distribution of all fractal dimensions and, when
// selected is non-empty, the subset that passed filtering on top of it.
// Non-finite values are ignored.
func Histogram(all, selected []float64, title string) (*plot.Plot, error) {
	allVals := finite(all)
	if len(allVals) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Fractal dimension"
	p.Y.Label.Text = "Tiles"

	h, err := plotter.NewHist(allVals, HistogramBins)
	if err != nil {
		return nil, fmt.Errorf("failed to bin values: %w", err)
	}
	h.FillColor = color.RGBA{R: 120, G: 144, B: 156, A: 255}
	p.Add(h)
	p.Legend.Add(fmt.Sprintf("all (%d)", len(allVals)), h)

	if sel := finite(selected); len(sel) > 0 {
		hs, err := plotter.NewHist(sel, HistogramBins)
		if err != nil {
			return nil, fmt.Errorf("failed to bin values: %w", err)
		}
		hs.FillColor = color.RGBA{R: 214, G: 69, B: 65, A: 200}
		p.Add(hs)
		p.Legend.Add(fmt.Sprintf("selected (%d)", len(sel)), hs)
	}

	p.Legend.Top = true
	return p, nil
}

// SaveHistogram writes the histogram to path; the extension picks the
// format.
func SaveHistogram(path string, all, selected []float64, title string) error {
	p, err := Histogram(all, selected, title)
	if err != nil {
		return err
	}
	if err := p.Save(histWidth, histHeight, path); err != nil {
		return fmt.Errorf("failed to save histogram: %w", err)
	}
	return nil
}

// HistogramPNG renders the histogram as base64 PNG.
func HistogramPNG(all, selected []float64, title string) (*Encoded, error) {
	p, err := Histogram(all, selected, title)
	if err != nil {
		return nil, err
	}
	wt, err := p.WriterTo(histWidth, histHeight, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render histogram: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render histogram: %w", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to render histogram: %w", err)
	}
	return &Encoded{
		Width:       cfg.Width,
		Height:      cfg.Height,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

func finite(vs []float64) plotter.Values {
	out := make(plotter.Values, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
