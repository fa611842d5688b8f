package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	binpkg "github.com/skalare/goh5/internal/binary"
)

func newTestWriter() (*binpkg.Buffer, *binpkg.Writer) {
	buf := binpkg.NewBuffer(256)
	return buf, binpkg.NewWriter(buf, binpkg.DefaultConfig())
}

func newTestReader(buf *binpkg.Buffer) *binpkg.Reader {
	return binpkg.NewReader(bytes.NewReader(buf.Bytes()), binpkg.DefaultConfig())
}

func TestDataspaceSerialize(t *testing.T) {
	tests := []struct {
		name       string
		dataspace  *Dataspace
		expectSize int
	}{
		{
			name:       "scalar",
			dataspace:  NewScalarDataspace(),
			expectSize: 8, // version + rank + flags + 5 reserved
		},
		{
			name:       "1D simple",
			dataspace:  NewDataspace([]uint64{100}, nil),
			expectSize: 8 + 8,
		},
		{
			name:       "2D simple",
			dataspace:  NewDataspace([]uint64{10, 20}, nil),
			expectSize: 8 + 16,
		},
		{
			name:       "with max dims",
			dataspace:  NewDataspace([]uint64{10}, []uint64{100}),
			expectSize: 8 + 8 + 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, w := newTestWriter()

			require.NoError(t, tt.dataspace.Serialize(w))
			require.Equal(t, tt.expectSize, int(w.Pos()))

			r := newTestReader(buf)
			parsed, err := parseDataspace(buf.Bytes()[:w.Pos()], r)
			require.NoError(t, err)

			require.Equal(t, uint8(1), parsed.Version)
			require.Equal(t, tt.dataspace.Rank, parsed.Rank)
			require.Equal(t, tt.dataspace.SpaceType, parsed.SpaceType)
			require.Equal(t, tt.dataspace.Dimensions, parsed.Dimensions)
			require.Equal(t, tt.dataspace.MaxDims, parsed.MaxDims)
		})
	}
}

func TestDatatypeSerialize(t *testing.T) {
	tests := []struct {
		name     string
		datatype *Datatype
	}{
		{
			name:     "int32",
			datatype: NewFixedPointDatatype(4, true, OrderLE),
		},
		{
			name:     "uint64",
			datatype: NewFixedPointDatatype(8, false, OrderLE),
		},
		{
			name:     "float32",
			datatype: NewFloatDatatype(4, OrderLE),
		},
		{
			name:     "float64",
			datatype: NewFloatDatatype(8, OrderLE),
		},
		{
			name:     "fixed string",
			datatype: NewStringDatatype(16, PadNullTerm, CharsetUTF8),
		},
		{
			name:     "scaled int",
			datatype: NewScaledDatatype(8, true, 16, OrderLE),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, w := newTestWriter()

			require.NoError(t, tt.datatype.Serialize(w))

			r := newTestReader(buf)
			parsed, err := parseDatatype(buf.Bytes()[:w.Pos()], r)
			require.NoError(t, err)

			require.Equal(t, uint8(1), parsed.Version)
			require.Equal(t, tt.datatype.Class, parsed.Class)
			require.Equal(t, tt.datatype.Size, parsed.Size)
			require.Equal(t, tt.datatype.Signed, parsed.Signed)
			require.Equal(t, tt.datatype.BitOffset, parsed.BitOffset)
			require.Equal(t, tt.datatype.BitPrecision, parsed.BitPrecision)
		})
	}
}

func TestDatatypeDescriptorBytes(t *testing.T) {
	// A signed 8-byte little-endian integer must produce exactly this
	// descriptor prefix: version 1 + class 0, signed flag in the bit
	// field, size 8.
	buf, w := newTestWriter()
	dt := NewFixedPointDatatype(8, true, OrderLE)
	require.NoError(t, dt.Serialize(w))

	want := []byte{
		0x10,                   // version 1, class 0
		0x08, 0x00, 0x00,       // bit field: signed, little-endian
		0x08, 0x00, 0x00, 0x00, // size 8
		0x00, 0x00, // bit offset 0
		0x40, 0x00, // bit precision 64
	}
	require.Equal(t, want, buf.Bytes()[:w.Pos()])
}

func TestFloatDescriptorProperties(t *testing.T) {
	buf, w := newTestWriter()
	require.NoError(t, NewFloatDatatype(8, OrderLE).Serialize(w))

	r := newTestReader(buf)
	parsed, err := parseDatatype(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.Equal(t, uint8(52), parsed.ExpLocation)
	require.Equal(t, uint8(11), parsed.ExpSize)
	require.Equal(t, uint8(0), parsed.MantLocation)
	require.Equal(t, uint8(52), parsed.MantSize)
	require.Equal(t, uint32(1023), parsed.ExpBias)
	require.Equal(t, uint8(63), parsed.SignLocation)
}

func TestVarLenStringDescriptor(t *testing.T) {
	buf, w := newTestWriter()
	dt := NewVarLenStringDatatype(CharsetUTF8, 8)
	require.Equal(t, uint32(16), dt.Size)
	require.NoError(t, dt.Serialize(w))

	r := newTestReader(buf)
	parsed, err := parseDatatype(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.True(t, parsed.IsVarLen())
	require.True(t, parsed.IsVarLenString)
	require.True(t, parsed.IsString())
	require.Equal(t, CharsetUTF8, parsed.CharSet)
	require.Equal(t, uint32(16), parsed.Size)
	require.NotNil(t, parsed.VarLenType)
	require.Equal(t, ClassString, parsed.VarLenType.Class)
	require.Equal(t, uint32(1), parsed.VarLenType.Size)
}

func TestCompoundSerialize(t *testing.T) {
	members := []CompoundMember{
		{Name: "x", ByteOffset: 0, Type: NewFixedPointDatatype(4, true, OrderLE)},
		{Name: "weight", ByteOffset: 8, Type: NewFloatDatatype(8, OrderLE)},
	}
	dt := NewCompoundDatatype(16, members)

	buf, w := newTestWriter()
	require.NoError(t, dt.Serialize(w))
	require.Equal(t, dt.SerializedSize(w), int(w.Pos()))

	r := newTestReader(buf)
	parsed, err := parseDatatype(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.True(t, parsed.IsCompound())
	require.Equal(t, uint32(16), parsed.Size)
	require.Len(t, parsed.Members, 2)

	require.Equal(t, "x", parsed.Members[0].Name)
	require.Equal(t, uint32(0), parsed.Members[0].ByteOffset)
	require.Equal(t, ClassFixedPoint, parsed.Members[0].Type.Class)

	require.Equal(t, "weight", parsed.Members[1].Name)
	require.Equal(t, uint32(8), parsed.Members[1].ByteOffset)
	require.Equal(t, ClassFloatPoint, parsed.Members[1].Type.Class)
}

func TestNestedCompoundSerialize(t *testing.T) {
	inner := NewCompoundDatatype(8, []CompoundMember{
		{Name: "re", ByteOffset: 0, Type: NewFloatDatatype(4, OrderLE)},
		{Name: "im", ByteOffset: 4, Type: NewFloatDatatype(4, OrderLE)},
	})
	outer := NewCompoundDatatype(16, []CompoundMember{
		{Name: "id", ByteOffset: 0, Type: NewFixedPointDatatype(8, false, OrderLE)},
		{Name: "z", ByteOffset: 8, Type: inner},
	})

	buf, w := newTestWriter()
	require.NoError(t, outer.Serialize(w))

	r := newTestReader(buf)
	parsed, err := parseDatatype(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.Len(t, parsed.Members, 2)
	z := parsed.Members[1]
	require.Equal(t, "z", z.Name)
	require.True(t, z.Type.IsCompound())
	require.Len(t, z.Type.Members, 2)
	require.Equal(t, "im", z.Type.Members[1].Name)
	require.Equal(t, uint32(4), z.Type.Members[1].ByteOffset)
}

func TestCompoundNestingLimit(t *testing.T) {
	dt := NewFixedPointDatatype(4, true, OrderLE)
	for i := 0; i <= maxTypeDepth; i++ {
		dt = NewCompoundDatatype(dt.Size, []CompoundMember{
			{Name: "v", ByteOffset: 0, Type: dt},
		})
	}

	buf, w := newTestWriter()
	require.NoError(t, dt.Serialize(w))

	r := newTestReader(buf)
	_, err := parseDatatype(buf.Bytes()[:w.Pos()], r)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nesting")
}

func TestAttributeSerialize(t *testing.T) {
	value := []byte{0x07, 0x00, 0x00, 0x00}
	attr := NewScalarAttribute("units", NewFixedPointDatatype(4, true, OrderLE), value)

	buf, w := newTestWriter()
	require.NoError(t, attr.Serialize(w))
	require.Equal(t, attr.SerializedSize(w), int(w.Pos()))

	// Header 8 + name 6 padded to 8 + datatype 12 padded to 16 +
	// dataspace 8 + value 4
	require.Equal(t, 44, int(w.Pos()))

	r := newTestReader(buf)
	parsed, err := parseAttribute(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.Equal(t, uint8(1), parsed.Version)
	require.Equal(t, "units", parsed.Name)
	require.Equal(t, value, parsed.Data)
	require.NotNil(t, parsed.Datatype)
	require.Equal(t, ClassFixedPoint, parsed.Datatype.Class)
	require.NotNil(t, parsed.Dataspace)
	require.True(t, parsed.Dataspace.IsScalar())
}

func TestFillValueSerialize(t *testing.T) {
	t.Run("defined", func(t *testing.T) {
		value := []byte{0xFF, 0xFF, 0xFF, 0xFF}
		fv := NewFillValue(value)

		buf, w := newTestWriter()
		require.NoError(t, fv.Serialize(w))
		require.Equal(t, fv.SerializedSize(w), int(w.Pos()))

		r := newTestReader(buf)
		parsed, err := parseFillValue(buf.Bytes()[:w.Pos()], r)
		require.NoError(t, err)

		require.True(t, parsed.IsDefined)
		require.Equal(t, value, parsed.Value)
	})

	t.Run("undefined", func(t *testing.T) {
		fv := NewFillValue(nil)

		buf, w := newTestWriter()
		require.NoError(t, fv.Serialize(w))
		require.Equal(t, 4, int(w.Pos()))

		r := newTestReader(buf)
		parsed, err := parseFillValue(buf.Bytes()[:w.Pos()], r)
		require.NoError(t, err)
		require.False(t, parsed.IsDefined)
	})
}

func TestSymbolTableSerialize(t *testing.T) {
	st := NewSymbolTable(0xE0, 0x180)

	buf, w := newTestWriter()
	require.NoError(t, st.Serialize(w))
	require.Equal(t, 16, int(w.Pos()))

	r := newTestReader(buf)
	parsed, err := parseSymbolTable(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.Equal(t, uint64(0xE0), parsed.BTreeAddress)
	require.Equal(t, uint64(0x180), parsed.LocalHeapAddress)
}

func TestContinuationSerialize(t *testing.T) {
	cont := NewContinuation(0x1000, 256)

	buf, w := newTestWriter()
	require.NoError(t, cont.Serialize(w))
	require.Equal(t, 16, int(w.Pos()))

	r := newTestReader(buf)
	parsed, err := ParseContinuation(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.Equal(t, uint64(0x1000), parsed.Offset)
	require.Equal(t, uint64(256), parsed.Length)
}

func TestLayoutSerializeContiguous(t *testing.T) {
	buf, w := newTestWriter()

	layout := NewContiguousLayout(0x1000, 1024)
	require.NoError(t, layout.Serialize(w))
	require.Equal(t, 2+8+8, int(w.Pos()))

	r := newTestReader(buf)
	parsed, err := parseDataLayout(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.Equal(t, LayoutContiguous, parsed.Class)
	require.Equal(t, layout.Address, parsed.Address)
	require.Equal(t, layout.Size, parsed.Size)
}

func TestLayoutSerializeCompact(t *testing.T) {
	buf, w := newTestWriter()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	layout := NewCompactLayout(data)
	require.NoError(t, layout.Serialize(w))

	r := newTestReader(buf)
	parsed, err := parseDataLayout(buf.Bytes()[:w.Pos()], r)
	require.NoError(t, err)

	require.Equal(t, LayoutCompact, parsed.Class)
	require.Equal(t, data, parsed.CompactData)
}

func TestLayoutSerializeChunkedRejected(t *testing.T) {
	_, w := newTestWriter()
	layout := &DataLayout{Class: LayoutChunked}
	require.Error(t, layout.Serialize(w))
}

func TestSerializedSizeMatchesSerialize(t *testing.T) {
	cfg := binpkg.DefaultConfig()
	sizer := binpkg.NewWriter(binpkg.NewBuffer(16), cfg)

	tests := []struct {
		name string
		msg  Serializable
	}{
		{"scalar dataspace", NewScalarDataspace()},
		{"1D dataspace", NewDataspace([]uint64{100}, nil)},
		{"int32 dtype", NewFixedPointDatatype(4, true, OrderLE)},
		{"float64 dtype", NewFloatDatatype(8, OrderLE)},
		{"vlen string dtype", NewVarLenStringDatatype(CharsetASCII, 8)},
		{"contiguous layout", NewContiguousLayout(0x1000, 1024)},
		{"compact layout", NewCompactLayout([]byte{1, 2, 3})},
		{"fill value", NewFillValue([]byte{0, 0, 0, 0})},
		{"symbol table", NewSymbolTable(0xE0, 0x180)},
		{"continuation", NewContinuation(0x1000, 256)},
		{"scalar attribute", NewScalarAttribute("a", NewFixedPointDatatype(4, true, OrderLE), []byte{1, 0, 0, 0})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predicted := tt.msg.SerializedSize(sizer)

			buf := binpkg.NewBuffer(256)
			w := binpkg.NewWriter(buf, cfg)
			require.NoError(t, tt.msg.Serialize(w))
			require.Equal(t, predicted, int(w.Pos()))
		})
	}
}
