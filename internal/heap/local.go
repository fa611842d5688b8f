package heap

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
)

var localHeapSignature = []byte{'H', 'E', 'A', 'P'}

// LocalHeap is a decoded local heap: the header fields plus the full
// data segment. Group B-trees and symbol table nodes store names as
// offsets into the segment.
type LocalHeap struct {
	DataSize    uint64
	FreeOffset  uint64
	DataAddress uint64
	data        []byte
}

// ReadLocalHeap reads the heap header at address and the data segment
// it points to.
func ReadLocalHeap(r *binary.Reader, address uint64) (*LocalHeap, error) {
	hr := r.At(int64(address))

	sig, err := hr.ReadBytes(4)
	if err != nil {
		return nil, errors.Wrapf(err, "reading local heap at %d", address)
	}
	if !bytes.Equal(sig, localHeapSignature) {
		return nil, errors.Errorf("bad local heap signature %q at %d", sig, address)
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "reading local heap at %d", address)
	}
	if version != 0 {
		return nil, errors.Errorf("unsupported local heap version %d", version)
	}
	hr.Skip(3)

	lh := &LocalHeap{}
	if lh.DataSize, err = hr.ReadLength(); err != nil {
		return nil, errors.Wrap(err, "reading local heap header")
	}
	if lh.FreeOffset, err = hr.ReadLength(); err != nil {
		return nil, errors.Wrap(err, "reading local heap header")
	}
	if lh.DataAddress, err = hr.ReadOffset(); err != nil {
		return nil, errors.Wrap(err, "reading local heap header")
	}

	lh.data, err = r.At(int64(lh.DataAddress)).ReadBytes(int(lh.DataSize))
	if err != nil {
		return nil, errors.Wrapf(err, "reading local heap data at %d", lh.DataAddress)
	}
	return lh, nil
}

// GetString returns the null-terminated string starting at a
// segment-relative offset, or "" when the offset is out of range.
func (h *LocalHeap) GetString(offset uint64) string {
	if offset >= uint64(len(h.data)) {
		return ""
	}
	s := h.data[offset:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}
