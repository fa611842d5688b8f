package binary

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestReaderFixedWidths(t *testing.T) {
	data := []byte{
		0xAB,
		0x34, 0x12,
		0x78, 0x56, 0x34, 0x12,
		0xF0, 0xDE, 0xBC, 0x9A, 0x78, 0x56, 0x34, 0x12,
	}
	r := NewReader(bytes.NewReader(data), DefaultConfig())

	v8, err := r.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), v8)

	v16, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), v16)

	v32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0x12345678), v32)

	v64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x123456789ABCDEF0), v64)

	require.Equal(t, int64(len(data)), r.Pos())
}

func TestReaderBigEndian(t *testing.T) {
	cfg := Config{ByteOrder: binary.BigEndian, OffsetSize: 8, LengthSize: 8}
	r := NewReader(bytes.NewReader([]byte{0x12, 0x34, 0x00, 0x00, 0xBE, 0xEF}), cfg)

	v16, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), v16)

	v32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0x0000BEEF), v32)
}

func TestReaderVariableWidths(t *testing.T) {
	data := []byte{
		0x10, 0x20, 0x30, 0x40, // 4-byte offset
		0x0A, 0x0B, // 2-byte length
		0x01, 0x02, 0x03, // 3-byte odd width
	}
	r := NewReader(bytes.NewReader(data), DefaultConfig()).WithSizes(4, 2)

	off, err := r.ReadOffset()
	require.NoError(t, err)
	require.Equal(t, uint64(0x40302010), off)

	length, err := r.ReadLength()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0B0A), length)

	odd, err := r.ReadUintN(3)
	require.NoError(t, err)
	require.Equal(t, uint64(0x030201), odd)

	require.Equal(t, 4, r.OffsetSize())
	require.Equal(t, 2, r.LengthSize())
}

func TestReaderAtIsIndependent(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	r := NewReader(bytes.NewReader(data), DefaultConfig())
	r.Skip(2)

	r2 := r.At(6)
	b, err := r2.ReadBytes(2)
	require.NoError(t, err)
	require.Equal(t, []byte{6, 7}, b)

	// The original reader's position is untouched.
	require.Equal(t, int64(2), r.Pos())
	b, err = r.ReadBytes(1)
	require.NoError(t, err)
	require.Equal(t, []byte{2}, b)
}

func TestReaderSkipAndAlign(t *testing.T) {
	r := NewReader(bytes.NewReader(make([]byte, 64)), DefaultConfig())

	r.Skip(3)
	r.Align(8)
	require.Equal(t, int64(8), r.Pos())

	// Already aligned positions stay put.
	r.Align(8)
	require.Equal(t, int64(8), r.Pos())

	r.Align(1)
	require.Equal(t, int64(8), r.Pos())
}

func TestReaderZeroAndTruncatedReads(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2}), DefaultConfig())

	b, err := r.ReadBytes(0)
	require.NoError(t, err)
	require.Nil(t, b)

	_, err = r.ReadBytes(4)
	require.Error(t, err)
	require.True(t, errors.Is(err, io.EOF))

	// A failed read does not advance the position.
	require.Equal(t, int64(0), r.Pos())
}

func TestUndefinedSentinels(t *testing.T) {
	require.Equal(t, uint64(0xFFFF), Undefined(2))
	require.Equal(t, uint64(0xFFFFFFFF), Undefined(4))
	require.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), Undefined(8))

	r := NewReader(bytes.NewReader(nil), DefaultConfig()).WithSizes(4, 8)
	require.True(t, r.IsUndefinedOffset(0xFFFFFFFF))
	require.False(t, r.IsUndefinedOffset(0xFFFFFFFFFFFFFFFF))
	require.False(t, r.IsUndefinedOffset(0))
}
