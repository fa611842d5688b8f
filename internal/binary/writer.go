package binary

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// putUint encodes v into len(buf) bytes, mirroring getUint.
func putUint(bo binary.ByteOrder, buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		bo.PutUint16(buf, uint16(v))
	case 4:
		bo.PutUint32(buf, uint32(v))
	case 8:
		bo.PutUint64(buf, v)
	default:
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
	}
}

// Writer encodes fields into an io.WriterAt while tracking its own
// position, the mirror of Reader. Serializers typically aim one at a
// Buffer, then commit the assembled block to the file in one write.
type Writer struct {
	dst io.WriterAt
	cfg Config
	pos int64
}

// NewWriter returns a writer over dst starting at position 0.
func NewWriter(dst io.WriterAt, cfg Config) *Writer {
	return &Writer{dst: dst, cfg: cfg}
}

// At returns a new writer positioned at offset, sharing the
// destination and configuration.
func (w *Writer) At(offset int64) *Writer {
	nw := *w
	nw.pos = offset
	return &nw
}

// WithSizes returns a new writer with the given offset and length
// widths, keeping the destination, byte order and position.
func (w *Writer) WithSizes(offsetSize, lengthSize int) *Writer {
	nw := *w
	nw.cfg.OffsetSize = offsetSize
	nw.cfg.LengthSize = lengthSize
	return &nw
}

// Pos returns the current position.
func (w *Writer) Pos() int64 { return w.pos }

// Skip advances the position by n bytes without writing.
func (w *Writer) Skip(n int64) { w.pos += n }

// Align rounds the position up to the next multiple of boundary,
// which must be a power of two. The skipped bytes are not written.
func (w *Writer) Align(boundary int64) {
	if boundary > 1 {
		w.pos = AlignUp(w.pos, boundary)
	}
}

// WriteBytes writes data at the current position and advances past
// it. The position does not move on error.
func (w *Writer) WriteBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := w.dst.WriteAt(data, w.pos); err != nil {
		return errors.Wrapf(err, "writing %d bytes at %d", len(data), w.pos)
	}
	w.pos += int64(len(data))
	return nil
}

// WriteUintN writes an unsigned integer of n bytes.
func (w *Writer) WriteUintN(v uint64, n int) error {
	buf := make([]byte, n)
	putUint(w.cfg.ByteOrder, buf, v)
	return w.WriteBytes(buf)
}

// WriteUint8 writes an unsigned 8-bit integer.
func (w *Writer) WriteUint8(v uint8) error {
	return w.WriteUintN(uint64(v), 1)
}

// WriteUint16 writes an unsigned 16-bit integer.
func (w *Writer) WriteUint16(v uint16) error {
	return w.WriteUintN(uint64(v), 2)
}

// WriteUint32 writes an unsigned 32-bit integer.
func (w *Writer) WriteUint32(v uint32) error {
	return w.WriteUintN(uint64(v), 4)
}

// WriteUint64 writes an unsigned 64-bit integer.
func (w *Writer) WriteUint64(v uint64) error {
	return w.WriteUintN(v, 8)
}

// WriteOffset writes a file offset at the configured offset width.
func (w *Writer) WriteOffset(v uint64) error {
	return w.WriteUintN(v, w.cfg.OffsetSize)
}

// WriteLength writes a length at the configured length width.
func (w *Writer) WriteLength(v uint64) error {
	return w.WriteUintN(v, w.cfg.LengthSize)
}

// UndefinedOffset returns the undefined-address sentinel at the
// configured offset width.
func (w *Writer) UndefinedOffset() uint64 {
	return Undefined(w.cfg.OffsetSize)
}

// WriteUndefinedOffset writes the undefined-address sentinel.
func (w *Writer) WriteUndefinedOffset() error {
	return w.WriteOffset(w.UndefinedOffset())
}

// WriteZeros writes n zero bytes.
func (w *Writer) WriteZeros(n int) error {
	if n <= 0 {
		return nil
	}
	return w.WriteBytes(make([]byte, n))
}

// OffsetSize returns the configured offset width in bytes.
func (w *Writer) OffsetSize() int { return w.cfg.OffsetSize }

// LengthSize returns the configured length width in bytes.
func (w *Writer) LengthSize() int { return w.cfg.LengthSize }

// ByteOrder returns the configured byte order.
func (w *Writer) ByteOrder() binary.ByteOrder { return w.cfg.ByteOrder }
