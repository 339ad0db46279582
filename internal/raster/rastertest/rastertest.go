// Package rastertest writes source DEM fixtures laid out the way GDAL writes
// them: little-endian float strips with pixel scale, tiepoint, GeoKey
// directory and GDAL_NODATA tags.
package rastertest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"strconv"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/xenarch/internal/raster"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagStripOffsets    = 273
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNodata      = 42113

	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12

	sampleFormatFloat = 3
	headerSize        = 8
)

type entry struct {
	tag, typ uint16
	size     int
	data     []byte
}

func le(vals ...any) []byte {
	var buf bytes.Buffer
	for _, v := range vals {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

// WriteSource writes grid to path as a Float32 or Float64 GeoTIFF described
// by meta, in strips of rowsPerStrip rows (0 means one strip).
func WriteSource(tb testing.TB, path string, meta raster.Metadata, grid mat.Matrix, rowsPerStrip int) {
	tb.Helper()
	rows, cols := grid.Dims()
	if rows != meta.Height || cols != meta.Width {
		tb.Fatalf("grid is %dx%d but metadata says %dx%d", cols, rows, meta.Width, meta.Height)
	}
	var bits int
	switch meta.DataType {
	case raster.Float32:
		bits = 32
	case raster.Float64:
		bits = 64
	default:
		tb.Fatalf("unsupported fixture type %s", meta.DataType)
	}
	if rowsPerStrip <= 0 || rowsPerStrip > rows {
		rowsPerStrip = rows
	}

	var pix bytes.Buffer
	var offsets, counts []uint32
	for y0 := 0; y0 < rows; y0 += rowsPerStrip {
		start := pix.Len()
		offsets = append(offsets, uint32(headerSize+start))
		for y := y0; y < min(y0+rowsPerStrip, rows); y++ {
			for x := 0; x < cols; x++ {
				if bits == 32 {
					binary.Write(&pix, binary.LittleEndian, float32(grid.At(y, x)))
				} else {
					binary.Write(&pix, binary.LittleEndian, grid.At(y, x))
				}
			}
		}
		counts = append(counts, uint32(pix.Len()-start))
	}

	entries := []entry{
		{tagImageWidth, typeLong, 4, le(uint32(cols))},
		{tagImageLength, typeLong, 4, le(uint32(rows))},
		{tagBitsPerSample, typeShort, 2, le(uint16(bits))},
		{tagSampleFormat, typeShort, 2, le(uint16(sampleFormatFloat))},
		{tagRowsPerStrip, typeLong, 4, le(uint32(rowsPerStrip))},
		{tagStripOffsets, typeLong, 4, le(offsets)},
		{tagStripByteCounts, typeLong, 4, le(counts)},
	}
	g := meta.Transform
	if g != raster.IdentityTransform || !meta.CRS.IsZero() {
		if g.NorthUp() {
			entries = append(entries,
				entry{tagModelPixelScale, typeDouble, 8, le([]float64{g[1], -g[5], 0})},
				entry{tagModelTiepoint, typeDouble, 8, le([]float64{0, 0, 0, g[0], g[3], 0})},
			)
		} else {
			entries = append(entries, entry{tagModelTransform, typeDouble, 8, le([]float64{
				g[1], g[2], 0, g[0],
				g[4], g[5], 0, g[3],
				0, 0, 0, 0,
				0, 0, 0, 1,
			})})
		}
	}
	if meta.CRS.EPSG != 0 {
		entries = append(entries, entry{tagGeoKeyDirectory, typeShort, 2, le(raster.EPSGCRS(meta.CRS.EPSG).Keys)})
	}
	if meta.HasNodata {
		s := "nan"
		if !math.IsNaN(meta.Nodata) {
			s = strconv.FormatFloat(meta.Nodata, 'g', -1, 64)
		}
		entries = append(entries, entry{tagGDALNodata, typeASCII, 1, append([]byte(s), 0)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	extraOff := headerSize + pix.Len() + pix.Len()%2
	var extra bytes.Buffer
	values := make([][]byte, len(entries))
	for i, e := range entries {
		if len(e.data) <= 4 {
			values[i] = append(e.data, make([]byte, 4-len(e.data))...)
			continue
		}
		values[i] = le(uint32(extraOff + extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}

	var out bytes.Buffer
	out.WriteString("II")
	out.Write(le(uint16(42), uint32(extraOff+extra.Len())))
	out.Write(pix.Bytes())
	if pix.Len()%2 == 1 {
		out.WriteByte(0)
	}
	out.Write(extra.Bytes())
	out.Write(le(uint16(len(entries))))
	for i, e := range entries {
		out.Write(le(e.tag, e.typ, uint32(len(e.data)/e.size)))
		out.Write(values[i])
	}
	out.Write(le(uint32(0)))

	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		tb.Fatalf("failed to write fixture: %v", err)
	}
}
