package binary

import "io"

// Buffer is a growable in-memory byte region implementing io.ReaderAt
// and io.WriterAt. Serializers use it to assemble a block before
// committing it to the file in one write.
type Buffer struct {
	buf []byte
}

// NewBuffer returns a buffer pre-sized to size bytes.
func NewBuffer(size int) *Buffer {
	return &Buffer{buf: make([]byte, size)}
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if need := int(off) + len(p); need > len(b.buf) {
		grown := make([]byte, need)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[off:], p)
	return len(p), nil
}

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the underlying slice. It stays valid until the next
// WriteAt that grows the buffer.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the current buffer length.
func (b *Buffer) Len() int { return len(b.buf) }
