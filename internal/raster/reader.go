package raster

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// maxCachedBlocks bounds the decoded-block cache of a Dataset.
const maxCachedBlocks = 64

// maxBlockBytes bounds the decoded size of one strip or tile.
const maxBlockBytes = 2 << 30

// Dataset is an open single-band GeoTIFF.
type Dataset struct {
	path string
	file *os.File
	hdr  header
	meta Metadata

	compression uint16
	predictor   uint16

	tiled        bool
	blockW       int
	blockH       int
	blocksAcross int
	offsets      []uint64
	byteCounts   []uint64
	cache        map[int][]byte
	cacheOrder   []int
}

// Open parses the header and first IFD of path. The file stays open until Close.
func Open(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	d, err := newDataset(path, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read raster %s: %w", path, err)
	}
	return d, nil
}

// ReadMetadata opens path just long enough to return its Metadata.
func ReadMetadata(path string) (Metadata, error) {
	d, err := Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer d.Close()
	return d.Metadata(), nil
}

func newDataset(path string, f *os.File) (*Dataset, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := st.Size()

	hdr, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	fields, err := readIFD(f, hdr, fileSize)
	if err != nil {
		return nil, err
	}

	d := &Dataset{path: path, file: f, hdr: hdr, cache: make(map[int][]byte)}

	req := func(tag uint16) (uint64, error) {
		fl, ok := fields[tag]
		if !ok {
			return 0, fmt.Errorf("%w: missing tag %d", ErrFormat, tag)
		}
		return fl.uint()
	}
	opt := func(tag uint16, def uint64) (uint64, error) {
		fl, ok := fields[tag]
		if !ok {
			return def, nil
		}
		return fl.uint()
	}

	width, err := req(tagImageWidth)
	if err != nil {
		return nil, err
	}
	height, err := req(tagImageLength)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 || width > math.MaxInt32 || height > math.MaxInt32 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrFormat, width, height)
	}
	spp, err := opt(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if spp != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel, only single-band rasters are read", ErrUnsupported, spp)
	}
	bits, err := opt(tagBitsPerSample, 1)
	if err != nil {
		return nil, err
	}
	format, err := opt(tagSampleFormat, sampleFormatUint)
	if err != nil {
		return nil, err
	}
	dt, err := dataTypeFor(format, bits)
	if err != nil {
		return nil, err
	}
	compression, err := opt(tagCompression, compressionNone)
	if err != nil {
		return nil, err
	}
	predictor, err := opt(tagPredictor, predictorNone)
	if err != nil {
		return nil, err
	}
	d.compression = uint16(compression)
	d.predictor = uint16(predictor)

	if _, ok := fields[tagTileWidth]; ok {
		tw, err := req(tagTileWidth)
		if err != nil {
			return nil, err
		}
		th, err := req(tagTileLength)
		if err != nil {
			return nil, err
		}
		if tw == 0 || th == 0 || tw > math.MaxInt32 || th > math.MaxInt32 {
			return nil, fmt.Errorf("%w: tile size %dx%d", ErrFormat, tw, th)
		}
		d.tiled = true
		d.blockW, d.blockH = int(tw), int(th)
		d.blocksAcross = int((width + tw - 1) / tw)
		d.offsets, err = uintsOf(fields, tagTileOffsets)
		if err != nil {
			return nil, err
		}
		d.byteCounts, err = uintsOf(fields, tagTileByteCounts)
		if err != nil {
			return nil, err
		}
	} else {
		rps, err := opt(tagRowsPerStrip, height)
		if err != nil {
			return nil, err
		}
		if rps == 0 || rps > height {
			rps = height
		}
		d.blockW, d.blockH = int(width), int(rps)
		d.blocksAcross = 1
		d.offsets, err = uintsOf(fields, tagStripOffsets)
		if err != nil {
			return nil, err
		}
		d.byteCounts, err = uintsOf(fields, tagStripByteCounts)
		if err != nil {
			return nil, err
		}
	}
	if uint64(d.blockW)*uint64(d.blockH)*uint64(dt.Size()) > maxBlockBytes {
		return nil, fmt.Errorf("%w: %dx%d blocks are too large", ErrFormat, d.blockW, d.blockH)
	}
	blocksDown := (int(height) + d.blockH - 1) / d.blockH
	if len(d.offsets) < blocksDown*d.blocksAcross || len(d.byteCounts) < len(d.offsets) {
		return nil, fmt.Errorf("%w: %d block offsets for %d blocks", ErrFormat, len(d.offsets), blocksDown*d.blocksAcross)
	}
	for i, off := range d.offsets {
		if d.byteCounts[i] != 0 && !within(off, d.byteCounts[i], fileSize) {
			return nil, fmt.Errorf("%w: block %d (%d bytes at %d) runs past end of %d byte file",
				ErrFormat, i, d.byteCounts[i], off, fileSize)
		}
	}

	transform, err := parseTransform(fields)
	if err != nil {
		return nil, err
	}
	crs, err := parseCRS(fields)
	if err != nil {
		return nil, err
	}
	nodata, hasNodata := parseNodata(fields)

	d.meta = Metadata{
		Width:     int(width),
		Height:    int(height),
		DataType:  dt,
		Transform: transform,
		CRS:       crs,
		HasNodata: hasNodata,
		Nodata:    nodata,
	}
	return d, nil
}

func uintsOf(fields map[uint16]field, tag uint16) ([]uint64, error) {
	f, ok := fields[tag]
	if !ok {
		return nil, fmt.Errorf("%w: missing tag %d", ErrFormat, tag)
	}
	return f.uints()
}

// Path returns the file the dataset was opened from.
func (d *Dataset) Path() string { return d.path }

// Metadata returns the band description and georeferencing.
func (d *Dataset) Metadata() Metadata { return d.meta }

// Width returns the number of columns.
func (d *Dataset) Width() int { return d.meta.Width }

// Height returns the number of rows.
func (d *Dataset) Height() int { return d.meta.Height }

// Close releases the file handle.
func (d *Dataset) Close() error {
	d.cache = nil
	return d.file.Close()
}

// ReadAll reads the whole band.
func (d *Dataset) ReadAll() (*mat.Dense, error) {
	return d.ReadWindow(Window{Width: d.meta.Width, Height: d.meta.Height})
}

// ReadWindow reads w from the band. The window must lie inside the raster.
func (d *Dataset) ReadWindow(w Window) (*mat.Dense, error) {
	if !d.meta.Contains(w) {
		return nil, fmt.Errorf("%w: %s in %dx%d raster", ErrWindow, w, d.meta.Width, d.meta.Height)
	}

	out := make([]float64, w.Width*w.Height)
	dt, order := d.meta.DataType, d.hdr.order

	firstBY, lastBY := w.Y/d.blockH, (w.Y+w.Height-1)/d.blockH
	firstBX, lastBX := w.X/d.blockW, (w.X+w.Width-1)/d.blockW
	for by := firstBY; by <= lastBY; by++ {
		for bx := firstBX; bx <= lastBX; bx++ {
			block, err := d.block(by*d.blocksAcross + bx)
			if err != nil {
				return nil, err
			}
			// Intersection of the window with this block, in raster pixels.
			x0 := max(w.X, bx*d.blockW)
			x1 := min(w.X+w.Width, (bx+1)*d.blockW, d.meta.Width)
			y0 := max(w.Y, by*d.blockH)
			y1 := min(w.Y+w.Height, (by+1)*d.blockH, d.meta.Height)
			for y := y0; y < y1; y++ {
				rowBase := (y - by*d.blockH) * d.blockW
				outBase := (y - w.Y) * w.Width
				for x := x0; x < x1; x++ {
					out[outBase+x-w.X] = sample(block, rowBase+x-bx*d.blockW, dt, order)
				}
			}
		}
	}
	return mat.NewDense(w.Height, w.Width, out), nil
}

// block returns the decoded bytes of strip or tile i.
func (d *Dataset) block(i int) ([]byte, error) {
	if b, ok := d.cache[i]; ok {
		return b, nil
	}

	rows := d.blockH
	if !d.tiled {
		// The last strip may be short.
		rows = min(d.blockH, d.meta.Height-i*d.blockH)
	}
	want := d.blockW * rows * d.meta.DataType.Size()

	if d.byteCounts[i] == 0 {
		// Sparse block: never written, reads as zeros.
		return d.remember(i, make([]byte, want)), nil
	}

	raw := make([]byte, d.byteCounts[i])
	if err := readAt(d.file, raw, int64(d.offsets[i])); err != nil {
		return nil, fmt.Errorf("%w: reading block %d: %v", ErrFormat, i, err)
	}
	buf, err := decompress(d.compression, raw, want)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", i, err)
	}
	if err := undoPredictor(d.predictor, buf, d.meta.DataType, d.hdr.order, d.blockW, rows); err != nil {
		return nil, err
	}

	return d.remember(i, buf), nil
}

func (d *Dataset) remember(i int, buf []byte) []byte {
	if len(d.cacheOrder) >= maxCachedBlocks {
		delete(d.cache, d.cacheOrder[0])
		d.cacheOrder = d.cacheOrder[1:]
	}
	d.cache[i] = buf
	d.cacheOrder = append(d.cacheOrder, i)
	return buf
}

// MaskNodata replaces nodata pixels of grid with NaN, in place.
func MaskNodata(grid *mat.Dense, meta Metadata) {
	if !meta.HasNodata || math.IsNaN(meta.Nodata) {
		return
	}
	raw := grid.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for c, v := range row {
			if v == meta.Nodata {
				row[c] = math.NaN()
			}
		}
	}
}

// ReadOverview reads the band decimated so that neither side exceeds maxSide,
// taking every factor-th pixel in both directions. It returns the grid and
// the factor used; maxSide <= 0 reads at full resolution.
func (d *Dataset) ReadOverview(maxSide int) (*mat.Dense, int, error) {
	factor := 1
	if maxSide > 0 {
		longest := max(d.meta.Width, d.meta.Height)
		factor = (longest + maxSide - 1) / maxSide
	}
	if factor <= 1 {
		g, err := d.ReadAll()
		return g, 1, err
	}

	rows := (d.meta.Height + factor - 1) / factor
	cols := (d.meta.Width + factor - 1) / factor
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		line, err := d.ReadWindow(Window{Y: r * factor, Width: d.meta.Width, Height: 1})
		if err != nil {
			return nil, 0, err
		}
		for c := 0; c < cols; c++ {
			out.Set(r, c, line.At(0, c*factor))
		}
	}
	return out, factor, nil
}
