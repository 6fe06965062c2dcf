package codec

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/pawsort/internal/models"
)

func header(n, d uint32, dtype byte) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:], n)
	binary.LittleEndian.PutUint32(b[4:], d)
	b[8] = dtype
	return b
}

func TestDecodeF32(t *testing.T) {
	data := header(2, 3, 1)
	for _, v := range []float32{1, 2, 3, -4, 0.5, 0} {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	b, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 2, b.N)
	assert.Equal(t, 3, b.D)
	assert.Equal(t, F32, b.DType)
	assert.Equal(t, []float32{1, 2, 3}, b.Row(0))
	assert.Equal(t, []float32{-4, 0.5, 0}, b.Row(1))
	assert.Equal(t, 3, b.RowOffset(1))
}

func TestDecodeF16(t *testing.T) {
	data := header(1, 4, 2)
	for _, h := range []uint16{0x3C00, 0xC000, 0x7C00, 0x0001} {
		data = binary.LittleEndian.AppendUint16(data, h)
	}
	b, err := Decode(data)
	require.NoError(t, err)
	row := b.Row(0)
	assert.Equal(t, float32(1), row[0])
	assert.Equal(t, float32(-2), row[1])
	assert.True(t, math.IsInf(float64(row[2]), 1))
	assert.Equal(t, float32(math.Ldexp(1, -24)), row[3])
}

func TestDecodeFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{1, 0, 0, 0, 1, 0, 0, 0}},
		{"zero rows", header(0, 4, 1)},
		{"zero dims", header(2, 0, 1)},
		{"bad dtype", append(header(1, 1, 3), 0, 0, 0, 0)},
		{"one byte short", append(header(1, 2, 1), make([]byte, 7)...)},
		{"one byte long", append(header(1, 2, 2), make([]byte, 5)...)},
		{"huge header", header(math.MaxUint32, math.MaxUint32, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			var fe *models.FormatError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rows := [][]float32{{1, -2, 0.25}, {0, 65504, -0.125}}
	for _, dtype := range []DType{F32, F16} {
		t.Run(dtype.String(), func(t *testing.T) {
			data, err := Encode(rows, dtype)
			require.NoError(t, err)
			assert.Len(t, data, HeaderSize+6*dtype.BytesPerElement())
			b, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, rows, b.Rows())
		})
	}
}

func TestEncodeRejectsRaggedRows(t *testing.T) {
	_, err := Encode([][]float32{{1, 2}, {3}}, F32)
	var fe *models.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestParseDType(t *testing.T) {
	d, err := ParseDType("f16")
	require.NoError(t, err)
	assert.Equal(t, F16, d)
	d, err = ParseDType("F32")
	require.NoError(t, err)
	assert.Equal(t, F32, d)
	_, err = ParseDType("bf16")
	assert.Error(t, err)
}

func halfReference(h uint16) float64 {
	sign := 1.0
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int(h>>10) & 0x1f
	mant := float64(h & 0x3ff)
	switch exp {
	case 0:
		return sign * math.Ldexp(mant, -24)
	case 0x1f:
		if mant == 0 {
			return math.Inf(int(sign))
		}
		return math.NaN()
	default:
		return sign * math.Ldexp(1+mant/1024, exp-15)
	}
}

func TestHalfToFloat32Exhaustive(t *testing.T) {
	for i := 0; i <= 0xffff; i++ {
		h := uint16(i)
		got := HalfToFloat32(h)
		want := halfReference(h)
		if math.IsNaN(want) {
			if !math.IsNaN(float64(got)) {
				t.Fatalf("0x%04x: want NaN, got %v", h, got)
			}
			continue
		}
		if float64(got) != want {
			t.Fatalf("0x%04x: got %v, want %v", h, got, want)
		}
		if want == 0 && math.Signbit(float64(got)) != (h&0x8000 != 0) {
			t.Fatalf("0x%04x: sign of zero lost", h)
		}
		// narrowing back must be exact for every finite or infinite half
		if back := Float32ToHalf(got); back != h {
			t.Fatalf("0x%04x: round trip gave 0x%04x", h, back)
		}
	}
}

func TestFloat32ToHalfRounding(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want uint16
	}{
		{"one", 1, 0x3C00},
		{"max half", 65504, 0x7BFF},
		{"overflow", 65520, 0x7C00},
		{"below overflow rounds down", 65519, 0x7BFF},
		{"negative overflow", -1e6, 0xFC00},
		{"tie to even down", 1 + 1.0/2048, 0x3C00},
		{"tie to even up", 1 + 3.0/2048, 0x3C02},
		{"smallest subnormal", float32(math.Ldexp(1, -24)), 0x0001},
		{"half of smallest subnormal", float32(math.Ldexp(1, -25)), 0x0000},
		{"underflow", 1e-10, 0x0000},
		{"negative zero", float32(math.Copysign(0, -1)), 0x8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Float32ToHalf(tt.in))
		})
	}
	assert.True(t, math.IsNaN(float64(HalfToFloat32(Float32ToHalf(float32(math.NaN()))))))
}
