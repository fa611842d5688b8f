package heap

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
)

// LocalHeapWriter builds a local heap incrementally. The data segment
// is kept in memory and written out by Flush; the segment is
// append-only, so offsets returned by Put stay valid across growth.
//
// Offset 0 always holds the empty string: the first 8 bytes of every
// segment are reserved as a null entry, which doubles as the lower
// bound key of group B-trees.
type LocalHeapWriter struct {
	alloc   *fspace.Allocator
	w       *binary.Writer
	name    string
	header  fspace.Handle
	segment fspace.Handle
	data    []byte
	size    uint64
}

// LocalHeapHeaderSize returns the serialized size of a local heap
// header for the given field sizes.
func LocalHeapHeaderSize(offsetSize, lengthSize int) uint64 {
	// signature + version + 3 reserved + data size + free offset + data address
	return uint64(4 + 1 + 3 + 2*lengthSize + offsetSize)
}

// NewLocalHeapWriter creates an empty heap with a dataSize-byte
// segment. Both the header and the segment are placed by the
// allocator; name distinguishes this heap's records from other heaps
// in the same file.
func NewLocalHeapWriter(alloc *fspace.Allocator, w *binary.Writer, name string, dataSize uint64) (*LocalHeapWriter, error) {
	h, err := newLocalHeapWriter(alloc, w, name, dataSize)
	if err != nil {
		return nil, err
	}
	headerSize := LocalHeapHeaderSize(w.OffsetSize(), w.LengthSize())
	h.header = alloc.Allocate(fspace.KindLocalHeap, h.headerRecordName(), headerSize)
	h.segment = alloc.Allocate(fspace.KindLocalHeap, h.segmentRecordName(), h.size)
	return h, nil
}

// NewLocalHeapWriterAt is NewLocalHeapWriter with the header pinned to
// a fixed offset, for heaps living in the reserved region below the
// metadata frontier. The data segment is still placed by the
// allocator.
func NewLocalHeapWriterAt(alloc *fspace.Allocator, w *binary.Writer, name string, headerOffset, dataSize uint64) (*LocalHeapWriter, error) {
	h, err := newLocalHeapWriter(alloc, w, name, dataSize)
	if err != nil {
		return nil, err
	}
	headerSize := LocalHeapHeaderSize(w.OffsetSize(), w.LengthSize())
	h.header = alloc.ReserveAt(fspace.KindLocalHeap, h.headerRecordName(), headerOffset, headerSize)
	h.segment = alloc.Allocate(fspace.KindLocalHeap, h.segmentRecordName(), h.size)
	return h, nil
}

// ResumeLocalHeapWriter wraps a heap read from an existing file so
// that further strings can be appended. The header and segment ranges
// are registered with the allocator at their on-disk offsets.
func ResumeLocalHeapWriter(alloc *fspace.Allocator, w *binary.Writer, name string, headerOffset uint64, lh *LocalHeap) (*LocalHeapWriter, error) {
	if lh.FreeOffset > lh.DataSize {
		return nil, errors.Errorf("local heap at %d: free offset %d past segment size %d",
			headerOffset, lh.FreeOffset, lh.DataSize)
	}
	h := &LocalHeapWriter{
		alloc: alloc,
		w:     w,
		name:  name,
		data:  append([]byte(nil), lh.data[:lh.FreeOffset]...),
		size:  lh.DataSize,
	}
	headerSize := LocalHeapHeaderSize(w.OffsetSize(), w.LengthSize())
	h.header = alloc.ReserveAt(fspace.KindLocalHeap, h.headerRecordName(), headerOffset, headerSize)
	h.segment = alloc.ReserveAt(fspace.KindLocalHeap, h.segmentRecordName(), lh.DataAddress, lh.DataSize)
	return h, nil
}

func newLocalHeapWriter(alloc *fspace.Allocator, w *binary.Writer, name string, dataSize uint64) (*LocalHeapWriter, error) {
	if dataSize < 8 {
		return nil, errors.Errorf("local heap segment size %d below minimum 8", dataSize)
	}
	return &LocalHeapWriter{
		alloc: alloc,
		w:     w,
		name:  name,
		data:  make([]byte, 8), // null entry at offset 0
		size:  binary.AlignUp(dataSize, 8),
	}, nil
}

func (h *LocalHeapWriter) headerRecordName() string {
	return fmt.Sprintf("%s local heap", h.name)
}

func (h *LocalHeapWriter) segmentRecordName() string {
	return fmt.Sprintf("%s local heap data", h.name)
}

// HeaderAddress returns the file offset of the heap header. Symbol
// table messages point here.
func (h *LocalHeapWriter) HeaderAddress() uint64 {
	return h.alloc.Record(h.header).Offset
}

// DataAddress returns the current file offset of the data segment. It
// changes when the segment is superseded, so callers must not cache it
// across Put.
func (h *LocalHeapWriter) DataAddress() uint64 {
	return h.alloc.Record(h.segment).Offset
}

// Put appends a null-terminated string to the segment, padded to an
// 8-byte boundary, and returns its segment-relative offset. When the
// segment is out of space it doubles, abandoning the old range through
// the allocator; previously returned offsets stay valid.
func (h *LocalHeapWriter) Put(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	need := binary.AlignUp(uint64(len(s))+1, 8)
	free := uint64(len(h.data))
	if free+need > h.size {
		newSize := h.size
		for free+need > newSize {
			newSize *= 2
		}
		h.segment = h.alloc.Supersede(h.segment, newSize)
		h.size = newSize
	}
	h.data = append(h.data, s...)
	h.data = append(h.data, make([]byte, need-uint64(len(s)))...)
	return free, nil
}

// StringAt returns the string beginning at a segment-relative offset,
// as Put stored it.
func (h *LocalHeapWriter) StringAt(offset uint64) (string, error) {
	if offset >= uint64(len(h.data)) {
		return "", errors.Errorf("local heap offset %d past free offset %d", offset, len(h.data))
	}
	end := offset
	for end < uint64(len(h.data)) && h.data[end] != 0 {
		end++
	}
	return string(h.data[offset:end]), nil
}

// Flush writes the header and the full data segment at their current
// offsets. Flush may be called repeatedly; each call rewrites both
// structures.
func (h *LocalHeapWriter) Flush() error {
	seg := h.alloc.Record(h.segment)
	free := uint64(len(h.data))

	hw := h.w.At(int64(h.alloc.Record(h.header).Offset))
	if err := hw.WriteBytes(localHeapSignature); err != nil {
		return errors.Wrap(err, "writing local heap signature")
	}
	if err := hw.WriteUint8(0); err != nil { // version
		return err
	}
	if err := hw.WriteZeros(3); err != nil {
		return err
	}
	if err := hw.WriteLength(h.size); err != nil {
		return err
	}
	if err := hw.WriteLength(free); err != nil {
		return err
	}
	if err := hw.WriteOffset(seg.Offset); err != nil {
		return err
	}

	sw := h.w.At(int64(seg.Offset))
	if err := sw.WriteBytes(h.data); err != nil {
		return errors.Wrapf(err, "writing local heap data at %d", seg.Offset)
	}
	return sw.WriteZeros(int(h.size - free))
}
