package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"
)

// decompress expands one strip or tile to exactly want bytes.
func decompress(compression uint16, src []byte, want int) ([]byte, error) {
	var out []byte
	switch compression {
	case compressionNone:
		out = src
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
		defer rc.Close()
		b, err := readUpTo(rc, want)
		if err != nil {
			return nil, fmt.Errorf("failed to decode lzw block: %w", err)
		}
		out = b
	case compressionDeflate, compressionAdobe:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to open deflate block: %w", err)
		}
		defer zr.Close()
		b, err := readUpTo(zr, want)
		if err != nil {
			return nil, fmt.Errorf("failed to decode deflate block: %w", err)
		}
		out = b
	case compressionPackBits:
		b, err := unpackBits(src, want)
		if err != nil {
			return nil, err
		}
		out = b
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, compression)
	}
	if len(out) < want {
		return nil, fmt.Errorf("%w: block has %d bytes, want %d", ErrFormat, len(out), want)
	}
	return out[:want], nil
}

// readUpTo reads until want bytes or EOF. Some encoders pad blocks, so extra
// trailing data is ignored rather than treated as an error.
func readUpTo(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, want)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:n], nil
	}
	return buf[:n], err
}

func unpackBits(src []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for i := 0; i < len(src) && len(out) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(src) {
				return nil, fmt.Errorf("%w: packbits literal run overflows block", ErrFormat)
			}
			out = append(out, src[i:end]...)
			i = end
		case n != -128:
			if i >= len(src) {
				return nil, fmt.Errorf("%w: packbits repeat run overflows block", ErrFormat)
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, src[i])
			}
			i++
		}
	}
	return out, nil
}

// undoPredictor reverses the TIFF predictor in place for a block of
// width samples per row and rows rows.
func undoPredictor(predictor uint16, buf []byte, dt DataType, order binary.ByteOrder, width, rows int) error {
	switch predictor {
	case 0, predictorNone:
		return nil
	case predictorHorizontal:
		if dt.isFloat() {
			return fmt.Errorf("%w: horizontal predictor on float samples", ErrUnsupported)
		}
		undoHorizontal(buf, dt.Size(), order, width, rows)
		return nil
	case predictorFloat:
		if !dt.isFloat() {
			return fmt.Errorf("%w: float predictor on integer samples", ErrUnsupported)
		}
		undoFloatPredictor(buf, dt.Size(), order, width, rows)
		return nil
	}
	return fmt.Errorf("%w: predictor %d", ErrUnsupported, predictor)
}

func undoHorizontal(buf []byte, size int, order binary.ByteOrder, width, rows int) {
	stride := width * size
	for r := 0; r < rows; r++ {
		row := buf[r*stride : (r+1)*stride]
		switch size {
		case 1:
			for i := 1; i < width; i++ {
				row[i] += row[i-1]
			}
		case 2:
			for i := 1; i < width; i++ {
				v := order.Uint16(row[2*i:]) + order.Uint16(row[2*(i-1):])
				order.PutUint16(row[2*i:], v)
			}
		case 4:
			for i := 1; i < width; i++ {
				v := order.Uint32(row[4*i:]) + order.Uint32(row[4*(i-1):])
				order.PutUint32(row[4*i:], v)
			}
		}
	}
}

// undoFloatPredictor reverses predictor 3: byte-wise differencing across the
// row followed by a shuffle that stores the most significant byte plane first.
func undoFloatPredictor(buf []byte, size int, order binary.ByteOrder, width, rows int) {
	stride := width * size
	tmp := make([]byte, stride)
	for r := 0; r < rows; r++ {
		row := buf[r*stride : (r+1)*stride]
		for i := 1; i < stride; i++ {
			row[i] += row[i-1]
		}
		copy(tmp, row)
		for i := 0; i < width; i++ {
			for b := 0; b < size; b++ {
				plane := tmp[b*width+i]
				if order == binary.ByteOrder(binary.LittleEndian) {
					row[i*size+size-1-b] = plane
				} else {
					row[i*size+b] = plane
				}
			}
		}
	}
}

// sample decodes the i-th sample of buf as float64.
func sample(buf []byte, i int, dt DataType, order binary.ByteOrder) float64 {
	switch dt {
	case Uint8:
		return float64(buf[i])
	case Int8:
		return float64(int8(buf[i]))
	case Uint16:
		return float64(order.Uint16(buf[2*i:]))
	case Int16:
		return float64(int16(order.Uint16(buf[2*i:])))
	case Uint32:
		return float64(order.Uint32(buf[4*i:]))
	case Int32:
		return float64(int32(order.Uint32(buf[4*i:])))
	case Float32:
		return float64(math.Float32frombits(order.Uint32(buf[4*i:])))
	case Float64:
		return math.Float64frombits(order.Uint64(buf[8*i:]))
	}
	return math.NaN()
}
