package raster

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrFormat reports a malformed or truncated file.
	ErrFormat = errors.New("raster: malformed tiff")
	// ErrUnsupported reports a valid TIFF feature this package does not read.
	ErrUnsupported = errors.New("raster: unsupported tiff")
	// ErrWindow reports a window outside the raster bounds.
	ErrWindow = errors.New("raster: window out of bounds")
)

// DataType is the numeric type of the band samples.
type DataType int

const (
	Unknown DataType = iota
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

// Size returns the sample size in bytes.
func (d DataType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "unknown"
}

// MarshalText encodes the type by name so records and reports stay readable.
func (d DataType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d DataType) isFloat() bool { return d == Float32 || d == Float64 }

func (d DataType) isSigned() bool { return d == Int8 || d == Int16 || d == Int32 }

// sampleFormat and bits map a TIFF SampleFormat/BitsPerSample pair to a DataType.
func dataTypeFor(sampleFormat, bits uint64) (DataType, error) {
	switch sampleFormat {
	case sampleFormatUint:
		switch bits {
		case 8:
			return Uint8, nil
		case 16:
			return Uint16, nil
		case 32:
			return Uint32, nil
		}
	case sampleFormatInt:
		switch bits {
		case 8:
			return Int8, nil
		case 16:
			return Int16, nil
		case 32:
			return Int32, nil
		}
	case sampleFormatFloat:
		switch bits {
		case 32:
			return Float32, nil
		case 64:
			return Float64, nil
		}
	}
	return Unknown, fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, sampleFormat, bits)
}

// GeoTransform maps pixel coordinates to model coordinates, in GDAL order.
type GeoTransform [6]float64

// IdentityTransform is used for rasters without georeferencing.
var IdentityTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// Apply maps the pixel corner (px, py) to model coordinates.
func (g GeoTransform) Apply(px, py float64) (x, y float64) {
	return g[0] + px*g[1] + py*g[2], g[3] + px*g[4] + py*g[5]
}

// Window returns the transform of a sub-window whose top-left pixel is (col, row).
func (g GeoTransform) Window(col, row int) GeoTransform {
	x, y := g.Apply(float64(col), float64(row))
	return GeoTransform{x, g[1], g[2], y, g[4], g[5]}
}

// NorthUp reports whether the transform has no rotation terms.
func (g GeoTransform) NorthUp() bool { return g[2] == 0 && g[4] == 0 }

// Window is a rectangle of pixels: top-left (X, Y) with Width columns and Height rows.
type Window struct {
	X, Y          int
	Width, Height int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

func (w Window) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", w.Width, w.Height, w.X, w.Y)
}

// Metadata describes a raster band and its georeferencing.
type Metadata struct {
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	DataType  DataType     `json:"data_type"`
	Transform GeoTransform `json:"transform"`
	CRS       CRS          `json:"crs"`
	HasNodata bool         `json:"has_nodata"`
	Nodata    float64      `json:"-"`
}

// NodataString formats the nodata sentinel the way GDAL stores it, or "" when
// the raster has none.
func (m Metadata) NodataString() string {
	if !m.HasNodata {
		return ""
	}
	return formatNodata(m.Nodata)
}

// Contains reports whether w lies entirely inside the raster.
func (m Metadata) Contains(w Window) bool {
	return w.X >= 0 && w.Y >= 0 && !w.Empty() && w.X+w.Width <= m.Width && w.Y+w.Height <= m.Height
}

// ForWindow returns the metadata of a tile cut from w: same type, CRS and
// nodata, with the transform moved to the window origin.
func (m Metadata) ForWindow(w Window) Metadata {
	out := m
	out.Width = w.Width
	out.Height = w.Height
	out.Transform = m.Transform.Window(w.X, w.Y)
	return out
}

// IsNodata reports whether v equals the nodata sentinel. NaN sentinels match NaN.
func (m Metadata) IsNodata(v float64) bool {
	if !m.HasNodata {
		return false
	}
	if math.IsNaN(m.Nodata) {
		return math.IsNaN(v)
	}
	return v == m.Nodata
}
