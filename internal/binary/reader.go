// Package binary reads and writes the primitive encodings every HDF5
// structure is built from: fixed-width integers in the file's byte
// order, plus the variable-width offset and length fields whose
// widths the superblock declares once for the whole file.
package binary

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Config carries the field widths and byte order a Reader or Writer
// applies. The values come from the superblock; until it is parsed,
// DefaultConfig covers the prefix every version shares.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int // 2, 4, or 8
	LengthSize int // 2, 4, or 8
}

// DefaultConfig is little-endian with 8-byte offsets and lengths.
func DefaultConfig() Config {
	return Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: 8,
		LengthSize: 8,
	}
}

// Undefined returns the all-ones sentinel that marks an unset offset
// or length of the given width.
func Undefined(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*size) - 1
}

// getUint decodes len(buf) bytes as an unsigned integer. Widths with
// no fixed-width decoder fall back to little-endian, the only order
// the format uses them in.
func getUint(bo binary.ByteOrder, buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(bo.Uint16(buf))
	case 4:
		return uint64(bo.Uint32(buf))
	case 8:
		return bo.Uint64(buf)
	}
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

// Reader decodes fields from an io.ReaderAt while tracking its own
// position. At hands out independently positioned views over the same
// source, so nested structures parse without shared seek state.
type Reader struct {
	src io.ReaderAt
	cfg Config
	pos int64
}

// NewReader returns a reader over src starting at position 0.
func NewReader(src io.ReaderAt, cfg Config) *Reader {
	return &Reader{src: src, cfg: cfg}
}

// At returns a new reader positioned at offset, sharing the source
// and configuration.
func (r *Reader) At(offset int64) *Reader {
	nr := *r
	nr.pos = offset
	return &nr
}

// WithSizes returns a new reader with the given offset and length
// widths, keeping the source, byte order and position.
func (r *Reader) WithSizes(offsetSize, lengthSize int) *Reader {
	nr := *r
	nr.cfg.OffsetSize = offsetSize
	nr.cfg.LengthSize = lengthSize
	return &nr
}

// Pos returns the current position.
func (r *Reader) Pos() int64 { return r.pos }

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int64) { r.pos += n }

// Align rounds the position up to the next multiple of boundary,
// which must be a power of two.
func (r *Reader) Align(boundary int64) {
	if boundary > 1 {
		r.pos = AlignUp(r.pos, boundary)
	}
}

// ReadBytes reads exactly n bytes and advances past them.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, r.pos); err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes at %d", n, r.pos)
	}
	r.pos += int64(n)
	return buf, nil
}

// ReadUintN reads an unsigned integer of n bytes.
func (r *Reader) ReadUintN(n int) (uint64, error) {
	buf, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	return getUint(r.cfg.ByteOrder, buf), nil
}

// ReadUint8 reads an unsigned 8-bit integer.
func (r *Reader) ReadUint8() (uint8, error) {
	v, err := r.ReadUintN(1)
	return uint8(v), err
}

// ReadUint16 reads an unsigned 16-bit integer.
func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.ReadUintN(2)
	return uint16(v), err
}

// ReadUint32 reads an unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadUintN(4)
	return uint32(v), err
}

// ReadUint64 reads an unsigned 64-bit integer.
func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadUintN(8)
}

// ReadOffset reads a file offset at the configured offset width.
func (r *Reader) ReadOffset() (uint64, error) {
	return r.ReadUintN(r.cfg.OffsetSize)
}

// ReadLength reads a length at the configured length width.
func (r *Reader) ReadLength() (uint64, error) {
	return r.ReadUintN(r.cfg.LengthSize)
}

// IsUndefinedOffset reports whether v is the undefined-address
// sentinel at the configured offset width.
func (r *Reader) IsUndefinedOffset(v uint64) bool {
	return v == Undefined(r.cfg.OffsetSize)
}

// OffsetSize returns the configured offset width in bytes.
func (r *Reader) OffsetSize() int { return r.cfg.OffsetSize }

// LengthSize returns the configured length width in bytes.
func (r *Reader) LengthSize() int { return r.cfg.LengthSize }

// ByteOrder returns the configured byte order.
func (r *Reader) ByteOrder() binary.ByteOrder { return r.cfg.ByteOrder }
