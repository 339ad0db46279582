package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// TIFF tags read by this package.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
	tagGDALNodata      = 42113
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionAdobe    = 32946

	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

func fieldSize(typ uint16) int {
	switch typ {
	case dtByte, dtASCII, dtSByte, dtUndefined:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	}
	return 0
}

// field is one decoded IFD entry with its raw value bytes.
type field struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
	order binary.ByteOrder
}

func (f field) uints() ([]uint64, error) {
	n := int(f.count)
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		switch f.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(f.data[i])
		case dtShort:
			out[i] = uint64(f.order.Uint16(f.data[2*i:]))
		case dtLong:
			out[i] = uint64(f.order.Uint32(f.data[4*i:]))
		case dtLong8, dtIFD8:
			out[i] = f.order.Uint64(f.data[8*i:])
		default:
			return nil, fmt.Errorf("%w: tag %d has non-integer type %d", ErrFormat, f.tag, f.typ)
		}
	}
	return out, nil
}

func (f field) uint() (uint64, error) {
	v, err := f.uints()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("%w: tag %d is empty", ErrFormat, f.tag)
	}
	return v[0], nil
}

func (f field) floats() ([]float64, error) {
	n := int(f.count)
	out := make([]float64, n)
	switch f.typ {
	case dtDouble:
		for i := range out {
			out[i] = math.Float64frombits(f.order.Uint64(f.data[8*i:]))
		}
	case dtFloat:
		for i := range out {
			out[i] = float64(math.Float32frombits(f.order.Uint32(f.data[4*i:])))
		}
	default:
		u, err := f.uints()
		if err != nil {
			return nil, err
		}
		for i, v := range u {
			out[i] = float64(v)
		}
	}
	return out, nil
}

func (f field) ascii() string {
	return strings.TrimRight(string(f.data), "\x00")
}

// header describes the file-level layout: byte order and classic vs BigTIFF.
type header struct {
	order   binary.ByteOrder
	big     bool
	ifdOffs uint64
}

func readHeader(r io.ReaderAt) (header, error) {
	var b [16]byte
	if err := readAt(r, b[:8], 0); err != nil {
		return header{}, fmt.Errorf("%w: short header: %v", ErrFormat, err)
	}
	var h header
	switch string(b[:2]) {
	case "II":
		h.order = binary.LittleEndian
	case "MM":
		h.order = binary.BigEndian
	default:
		return header{}, fmt.Errorf("%w: bad byte order mark %q", ErrFormat, b[:2])
	}
	switch h.order.Uint16(b[2:4]) {
	case 42:
		h.ifdOffs = uint64(h.order.Uint32(b[4:8]))
	case 43:
		if err := readAt(r, b[:16], 0); err != nil {
			return header{}, fmt.Errorf("%w: short bigtiff header: %v", ErrFormat, err)
		}
		if h.order.Uint16(b[4:6]) != 8 {
			return header{}, fmt.Errorf("%w: bigtiff offset size %d", ErrUnsupported, h.order.Uint16(b[4:6]))
		}
		h.big = true
		h.ifdOffs = h.order.Uint64(b[8:16])
	default:
		return header{}, fmt.Errorf("%w: bad magic number", ErrFormat)
	}
	return h, nil
}

// maxTagBytes bounds the value of a single IFD entry.
const maxTagBytes = 1 << 30

// readIFD decodes the image file directory at h.ifdOffs of a fileSize byte
// file. Entries whose values would run past the end of the file are rejected
// before they are allocated.
func readIFD(r io.ReaderAt, h header, fileSize int64) (map[uint16]field, error) {
	countSize, entrySize, inline := 2, 12, 4
	if h.big {
		countSize, entrySize, inline = 8, 20, 8
	}

	cb := make([]byte, countSize)
	if err := readAt(r, cb, int64(h.ifdOffs)); err != nil {
		return nil, fmt.Errorf("%w: reading ifd count: %v", ErrFormat, err)
	}
	var n uint64
	if h.big {
		n = h.order.Uint64(cb)
	} else {
		n = uint64(h.order.Uint16(cb))
	}
	if n == 0 || n > 4096 {
		return nil, fmt.Errorf("%w: implausible ifd entry count %d", ErrFormat, n)
	}
	if !within(h.ifdOffs+uint64(countSize), n*uint64(entrySize), fileSize) {
		return nil, fmt.Errorf("%w: ifd runs past end of file", ErrFormat)
	}

	entries := make([]byte, int(n)*entrySize)
	if err := readAt(r, entries, int64(h.ifdOffs)+int64(countSize)); err != nil {
		return nil, fmt.Errorf("%w: reading ifd entries: %v", ErrFormat, err)
	}

	fields := make(map[uint16]field, n)
	for i := 0; i < int(n); i++ {
		e := entries[i*entrySize : (i+1)*entrySize]
		f := field{
			tag:   h.order.Uint16(e[0:2]),
			typ:   h.order.Uint16(e[2:4]),
			order: h.order,
		}
		var valueOff []byte
		if h.big {
			f.count = h.order.Uint64(e[4:12])
			valueOff = e[12:20]
		} else {
			f.count = uint64(h.order.Uint32(e[4:8]))
			valueOff = e[8:12]
		}

		size := fieldSize(f.typ)
		if size == 0 {
			// Unknown field types are skipped, as TIFF 6.0 requires.
			continue
		}
		if f.count > maxTagBytes/uint64(size) {
			return nil, fmt.Errorf("%w: tag %d count %d too large", ErrFormat, f.tag, f.count)
		}
		total := uint64(size) * f.count
		if total <= uint64(inline) {
			f.data = append([]byte(nil), valueOff[:total]...)
		} else {
			var off uint64
			if h.big {
				off = h.order.Uint64(valueOff)
			} else {
				off = uint64(h.order.Uint32(valueOff))
			}
			if !within(off, total, fileSize) {
				return nil, fmt.Errorf("%w: tag %d runs past end of file", ErrFormat, f.tag)
			}
			f.data = make([]byte, total)
			if err := readAt(r, f.data, int64(off)); err != nil {
				return nil, fmt.Errorf("%w: reading tag %d: %v", ErrFormat, f.tag, err)
			}
		}
		fields[f.tag] = f
	}
	return fields, nil
}

// within reports whether n bytes at off fit in a size byte file.
func within(off, n uint64, size int64) bool {
	if size < 0 {
		return false
	}
	return n <= uint64(size) && off <= uint64(size)-n
}

// readAt fills buf from off, accepting io.EOF when the read is complete.
func readAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
