package dtype

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/heap"
	"github.com/skalare/goh5/internal/message"
)

func newCodecTestFile(t *testing.T) (*binary.Writer, *binary.Reader, *heap.GlobalHeapWriter) {
	t.Helper()
	buf := binary.NewBuffer(0)
	cfg := binary.DefaultConfig()
	w := binary.NewWriter(buf, cfg)
	r := binary.NewReader(buf, cfg)
	alloc := fspace.New()
	return w, r, heap.NewGlobalHeapWriter(alloc, w, nil)
}

func TestEncodeFixedPointBytes(t *testing.T) {
	dt := message.NewFixedPointDatatype(8, true, message.OrderLE)
	b, err := Encode(dt, int64(42))
	require.NoError(t, err)
	require.Equal(t, []byte{0x2A, 0, 0, 0, 0, 0, 0, 0}, b)

	b, err = Encode(message.NewFixedPointDatatype(4, true, message.OrderLE), int32(-1))
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, b)

	b, err = Encode(message.NewFixedPointDatatype(2, false, message.OrderBE), uint16(0x1234))
	require.NoError(t, err)
	require.Equal(t, []byte{0x12, 0x34}, b)

	_, err = Encode(message.NewFixedPointDatatype(1, false, message.OrderLE), 300)
	require.ErrorContains(t, err, "does not fit")

	_, err = Encode(message.NewFixedPointDatatype(1, true, message.OrderLE), -129)
	require.ErrorContains(t, err, "does not fit")

	_, err = Encode(message.NewFixedPointDatatype(4, true, message.OrderLE), 3.14)
	require.ErrorContains(t, err, "cannot encode")
}

func TestEncodeElementSequence(t *testing.T) {
	dt := message.NewFixedPointDatatype(4, true, message.OrderLE)
	b, err := Encode(dt, []int32{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x01, 0, 0, 0,
		0x02, 0, 0, 0,
		0x03, 0, 0, 0,
	}, b)

	got, err := DecodeSlice(dt, b, 3, nil)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3}, got)
}

func TestDecodeFixedPointWidths(t *testing.T) {
	v, err := Decode(message.NewFixedPointDatatype(1, true, message.OrderLE), []byte{0xFF}, nil)
	require.NoError(t, err)
	require.Equal(t, int8(-1), v)

	v, err = Decode(message.NewFixedPointDatatype(2, false, message.OrderLE), []byte{0x34, 0x12}, nil)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), v)

	// Odd widths sign-extend into the next container up.
	v, err = Decode(message.NewFixedPointDatatype(3, true, message.OrderLE), []byte{0xFE, 0xFF, 0xFF}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(-2), v)

	v, err = Decode(message.NewFixedPointDatatype(8, false, message.OrderBE),
		[]byte{0, 0, 0, 0, 0, 0, 0x12, 0x34}, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), v)

	_, err = Decode(message.NewFixedPointDatatype(4, true, message.OrderLE), []byte{1, 2}, nil)
	require.ErrorContains(t, err, "truncated")
}

func TestWideIntegerRoundTrip(t *testing.T) {
	dt := message.NewFixedPointDatatype(16, true, message.OrderLE)

	pos := new(big.Int).Lsh(big.NewInt(1), 100)
	pos.Add(pos, big.NewInt(7))
	b, err := Encode(dt, pos)
	require.NoError(t, err)
	require.Len(t, b, 16)

	v, err := Decode(dt, b, nil)
	require.NoError(t, err)
	require.Zero(t, pos.Cmp(v.(*big.Int)))

	neg := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 99))
	neg.Sub(neg, big.NewInt(13))
	b, err = Encode(dt, neg)
	require.NoError(t, err)
	v, err = Decode(dt, b, nil)
	require.NoError(t, err)
	require.Zero(t, neg.Cmp(v.(*big.Int)))

	// An unsigned width past eight bytes round trips through the
	// same path.
	udt := message.NewFixedPointDatatype(12, false, message.OrderBE)
	u := new(big.Int).Lsh(big.NewInt(1), 90)
	b, err = Encode(udt, u)
	require.NoError(t, err)
	require.Len(t, b, 12)
	v, err = Decode(udt, b, nil)
	require.NoError(t, err)
	require.Zero(t, u.Cmp(v.(*big.Int)))

	_, err = Encode(udt, new(big.Int).Neg(big.NewInt(1)))
	require.ErrorContains(t, err, "does not fit")
}

func TestScaledRoundTripAndRounding(t *testing.T) {
	dt := message.NewScaledDatatype(4, true, 8, message.OrderLE)
	require.True(t, dt.IsScaled())

	// 5/2 * 2^8 = 640, exactly representable.
	b, err := Encode(dt, big.NewRat(5, 2))
	require.NoError(t, err)
	require.Equal(t, []byte{0x80, 0x02, 0, 0}, b)

	v, err := Decode(dt, b, nil)
	require.NoError(t, err)
	require.Zero(t, big.NewRat(5, 2).Cmp(v.(*big.Rat)))

	// Ties round toward positive infinity.
	small := message.NewScaledDatatype(2, true, 3, message.OrderLE)
	b, err = Encode(small, big.NewRat(5, 16)) // 2.5 raw
	require.NoError(t, err)
	require.Equal(t, []byte{0x03, 0}, b)

	b, err = Encode(small, big.NewRat(-5, 16)) // -2.5 raw
	require.NoError(t, err)
	require.Equal(t, []byte{0xFE, 0xFF}, b)
	v, err = Decode(small, b, nil)
	require.NoError(t, err)
	require.Zero(t, big.NewRat(-1, 4).Cmp(v.(*big.Rat)))

	// Dyadic floats and plain integers encode exactly.
	b, err = Encode(small, 0.375)
	require.NoError(t, err)
	require.Equal(t, []byte{0x03, 0}, b)
	b, err = Encode(small, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{0x28, 0}, b)

	tiny := message.NewScaledDatatype(1, true, 3, message.OrderLE)
	_, err = Encode(tiny, 16) // raw 128 overflows int8
	require.ErrorContains(t, err, "does not fit")
}

func TestFloatRoundTrip(t *testing.T) {
	f32 := message.NewFloatDatatype(4, message.OrderLE)
	b, err := Encode(f32, float32(1.5))
	require.NoError(t, err)
	v, err := Decode(f32, b, nil)
	require.NoError(t, err)
	require.Equal(t, float32(1.5), v)

	f64 := message.NewFloatDatatype(8, message.OrderBE)
	b, err = Encode(f64, -2.25)
	require.NoError(t, err)
	v, err = Decode(f64, b, nil)
	require.NoError(t, err)
	require.Equal(t, -2.25, v)

	got, err := DecodeSlice(f64, append(b, b...), 2, nil)
	require.NoError(t, err)
	require.Equal(t, []float64{-2.25, -2.25}, got)
}

func TestFloatRejectsNonIEEELayout(t *testing.T) {
	dt := message.NewFloatDatatype(8, message.OrderLE)
	dt.ExpBias = 999

	_, err := Decode(dt, make([]byte, 8), nil)
	require.ErrorIs(t, err, ErrUnsupportedLayout)
	_, err = Encode(dt, 1.0)
	require.ErrorIs(t, err, ErrUnsupportedLayout)
}

func TestFixedStringPadding(t *testing.T) {
	nullTerm := message.NewStringDatatype(8, message.PadNullTerm, message.CharsetASCII)
	b, err := Encode(nullTerm, "abc")
	require.NoError(t, err)
	require.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0, 0, 0}, b)
	v, err := Decode(nullTerm, b, nil)
	require.NoError(t, err)
	require.Equal(t, "abc", v)

	spacePad := message.NewStringDatatype(8, message.PadSpacePad, message.CharsetASCII)
	b, err = Encode(spacePad, "hi")
	require.NoError(t, err)
	require.Equal(t, []byte{'h', 'i', ' ', ' ', ' ', ' ', ' ', ' '}, b)
	v, err = Decode(spacePad, b, nil)
	require.NoError(t, err)
	require.Equal(t, "hi", v)

	got, err := DecodeSlice(nullTerm, append(b, b...), 2, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"hi      ", "hi      "}, got)
}

func TestVarLenStringThroughHeap(t *testing.T) {
	w, r, gh := newCodecTestFile(t)
	dt := message.NewVarLenStringDatatype(message.CharsetUTF8, w.OffsetSize())

	values := []string{"alpha", "", "gamma-longer"}
	b, err := EncodeWithHeap(dt, values, gh, w.OffsetSize())
	require.NoError(t, err)
	require.Len(t, b, 3*int(dt.Size))

	// The empty string is an all-zero reference.
	require.Equal(t, make([]byte, dt.Size), b[16:32])

	require.NoError(t, gh.Flush())

	got, err := DecodeSlice(dt, b, 3, r)
	require.NoError(t, err)
	require.Equal(t, values, got)

	one, err := Decode(dt, b[32:], r)
	require.NoError(t, err)
	require.Equal(t, "gamma-longer", one)
}

func TestVarLenStringNeedsSink(t *testing.T) {
	dt := message.NewVarLenStringDatatype(message.CharsetUTF8, 8)
	_, err := Encode(dt, "needs a heap")
	require.ErrorContains(t, err, "global heap")

	// Empty strings never touch the heap.
	b, err := Encode(dt, "")
	require.NoError(t, err)
	require.Equal(t, make([]byte, 16), b)
}

func TestVarLenSequenceRoundTrip(t *testing.T) {
	w, r, gh := newCodecTestFile(t)
	elem := message.NewFixedPointDatatype(4, true, message.OrderLE)
	dt := message.NewVarLenDatatype(elem, w.OffsetSize())

	values := [][]int32{{1, 2, 3}, {}, {9}}
	b, err := EncodeWithHeap(dt, values, gh, w.OffsetSize())
	require.NoError(t, err)
	require.Len(t, b, 3*int(dt.Size))
	require.NoError(t, gh.Flush())

	got, err := DecodeSlice(dt, b, 3, r)
	require.NoError(t, err)
	require.Equal(t, []any{[]int32{1, 2, 3}, nil, []int32{9}}, got)
}

func TestCompoundRoundTrip(t *testing.T) {
	dt := message.NewCompoundDatatype(32, []message.CompoundMember{
		{Name: "id", ByteOffset: 0, Type: message.NewFixedPointDatatype(8, false, message.OrderLE)},
		{Name: "temp", ByteOffset: 8, Type: message.NewFloatDatatype(8, message.OrderLE)},
		{Name: "label", ByteOffset: 16, Type: message.NewStringDatatype(8, message.PadNullTerm, message.CharsetASCII)},
	})

	value := map[string]any{
		"id":    uint64(7),
		"temp":  21.5,
		"label": "probe-a",
	}
	b, err := Encode(dt, value)
	require.NoError(t, err)
	require.Len(t, b, 32)
	// The unused tail of the element stays zero.
	require.Equal(t, make([]byte, 8), b[24:])

	v, err := Decode(dt, b, nil)
	require.NoError(t, err)
	require.Equal(t, value, v)

	records := []map[string]any{value, {"id": uint64(8), "temp": -3.25, "label": "probe-b"}}
	b, err = Encode(dt, records)
	require.NoError(t, err)
	require.Len(t, b, 64)
	got, err := DecodeSlice(dt, b, 2, nil)
	require.NoError(t, err)
	require.Equal(t, records, got)

	_, err = Encode(dt, map[string]any{"id": uint64(1), "temp": 0.0})
	require.ErrorContains(t, err, `missing member "label"`)
}

func TestArrayRoundTrip(t *testing.T) {
	dt := message.NewArrayDatatype([]uint32{2, 3}, message.NewFixedPointDatatype(2, true, message.OrderLE))
	require.Equal(t, uint32(12), dt.Size)

	b, err := Encode(dt, []int16{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.Len(t, b, 12)

	v, err := Decode(dt, b, nil)
	require.NoError(t, err)
	require.Equal(t, []int16{1, 2, 3, 4, 5, 6}, v)

	_, err = Encode(dt, []int16{1, 2})
	require.ErrorContains(t, err, "type wants 6")
}

func TestOpaqueRoundTrip(t *testing.T) {
	dt := &message.Datatype{Version: 1, Class: message.ClassOpaque, Size: 4}

	b, err := Encode(dt, []byte{0xDE, 0xAD})
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0, 0}, b)

	v, err := Decode(dt, b, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0, 0}, v)

	_, err = Encode(dt, []byte{1, 2, 3, 4, 5})
	require.ErrorContains(t, err, "exceeds type size")
}

func TestGoTypeToDatatypeMapping(t *testing.T) {
	dt, err := GoTypeToDatatype(reflect.TypeOf([]float64{}), 8)
	require.NoError(t, err)
	require.Equal(t, message.ClassFloatPoint, dt.Class)
	require.Equal(t, uint32(8), dt.Size)

	dt, err = GoTypeToDatatype(reflect.TypeOf(""), 8)
	require.NoError(t, err)
	require.Equal(t, message.ClassVarLen, dt.Class)
	require.True(t, dt.IsVarLenString)
	require.Equal(t, uint32(16), dt.Size)

	dt, err = GoTypeToDatatype(reflect.TypeOf([]string{}), 4)
	require.NoError(t, err)
	require.Equal(t, uint32(12), dt.Size)

	_, err = GoTypeToDatatype(reflect.TypeOf(struct{}{}), 8)
	require.ErrorContains(t, err, "unsupported Go type")
}
