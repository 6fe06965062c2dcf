// Package codec decodes and encodes the batch embedding wire format.
//
// A payload is a 9 byte little-endian header followed by N*D row-major elements:
//
//	offset 0  uint32  N      row count
//	offset 4  uint32  D      dimension
//	offset 8  uint8   dtype  1 = float32, 2 = float16
//	offset 9  N*D elements of the dtype
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/hyperjump/pawsort/internal/models"
)

// HeaderSize is the byte length of the payload header.
const HeaderSize = 9

// DType is the element type of a payload.
type DType uint8

const (
	F32 DType = 1
	F16 DType = 2
)

// ParseDType maps a format name ("f32" or "f16") to its DType.
func ParseDType(name string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "f32", "float32":
		return F32, nil
	case "f16", "float16":
		return F16, nil
	default:
		return 0, fmt.Errorf("unknown embedding format %q (expected f32 or f16)", name)
	}
}

// String returns the format name used in requests.
func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// BytesPerElement returns the element width, or 0 for an unknown dtype.
func (d DType) BytesPerElement() int {
	switch d {
	case F32:
		return 4
	case F16:
		return 2
	default:
		return 0
	}
}

// Batch is a decoded payload. Vectors holds N*D float32 values, row-major.
type Batch struct {
	N       int
	D       int
	DType   DType
	Vectors []float32
}

// RowOffset returns the start index of row i in Vectors.
func (b *Batch) RowOffset(i int) int {
	return i * b.D
}

// Row returns row i as a slice sharing storage with Vectors.
func (b *Batch) Row(i int) []float32 {
	off := b.RowOffset(i)
	return b.Vectors[off : off+b.D : off+b.D]
}

// Rows copies each row into its own slice.
func (b *Batch) Rows() [][]float32 {
	out := make([][]float32, b.N)
	for i := range out {
		out[i] = append([]float32(nil), b.Row(i)...)
	}
	return out
}

// Decode parses a payload. Any malformed input yields a *models.FormatError.
func Decode(data []byte) (*Batch, error) {
	if len(data) < HeaderSize {
		return nil, models.Formatf("payload is %d bytes, shorter than the %d byte header", len(data), HeaderSize)
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	d := binary.LittleEndian.Uint32(data[4:8])
	dtype := DType(data[8])

	if n == 0 || d == 0 {
		return nil, models.Formatf("empty shape %dx%d", n, d)
	}
	bpe := dtype.BytesPerElement()
	if bpe == 0 {
		return nil, models.Formatf("unsupported dtype %d", uint8(dtype))
	}
	elems := uint64(n) * uint64(d)
	if elems > (math.MaxUint64-HeaderSize)/uint64(bpe) {
		return nil, models.Formatf("shape %dx%d overflows", n, d)
	}
	want := uint64(HeaderSize) + elems*uint64(bpe)
	if uint64(len(data)) != want {
		return nil, models.Formatf("payload is %d bytes, header %dx%d %s needs %d", len(data), n, d, dtype, want)
	}

	count := int(n) * int(d)
	out := make([]float32, count)
	body := data[HeaderSize:]
	switch dtype {
	case F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
		}
	case F16:
		for i := range out {
			out[i] = HalfToFloat32(binary.LittleEndian.Uint16(body[i*2:]))
		}
	}
	return &Batch{N: int(n), D: int(d), DType: dtype, Vectors: out}, nil
}

// Encode serializes rows with the given dtype. All rows must share one non-zero length.
func Encode(rows [][]float32, dtype DType) ([]byte, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, models.Formatf("cannot encode an empty batch")
	}
	bpe := dtype.BytesPerElement()
	if bpe == 0 {
		return nil, models.Formatf("unsupported dtype %d", uint8(dtype))
	}
	d := len(rows[0])
	buf := make([]byte, HeaderSize+len(rows)*d*bpe)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(rows)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d))
	buf[8] = byte(dtype)

	pos := HeaderSize
	for i, row := range rows {
		if len(row) != d {
			return nil, models.Formatf("row %d has dimension %d, want %d", i, len(row), d)
		}
		for _, v := range row {
			if dtype == F32 {
				binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(v))
			} else {
				binary.LittleEndian.PutUint16(buf[pos:], Float32ToHalf(v))
			}
			pos += bpe
		}
	}
	return buf, nil
}
