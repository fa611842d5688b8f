package heap

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
)

var globalHeapSignature = []byte{'G', 'C', 'O', 'L'}

// GlobalHeap is a decoded "GCOL" collection. Variable-length element
// data lives here, addressed by collection offset and object index.
type GlobalHeap struct {
	CollectionSize uint64
	objects        map[uint16][]byte
}

// GlobalHeapID locates one object: the file offset of its collection
// and its 1-based index within it. Serialized element bytes carry IDs
// in this shape.
type GlobalHeapID struct {
	CollectionAddress uint64
	ObjectIndex       uint32
}

// ReadGlobalHeap reads the collection at the given address and indexes
// its objects. Index 0, when present, is the free-space sentinel and
// terminates the walk.
func ReadGlobalHeap(r *binary.Reader, address uint64) (*GlobalHeap, error) {
	if address == 0 || r.IsUndefinedOffset(address) {
		return nil, errors.Errorf("invalid global heap address %d", address)
	}
	hr := r.At(int64(address))

	sig, err := hr.ReadBytes(4)
	if err != nil {
		return nil, errors.Wrapf(err, "reading global heap at %d", address)
	}
	if !bytes.Equal(sig, globalHeapSignature) {
		return nil, errors.Errorf("bad global heap signature %q at %d", sig, address)
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "reading global heap at %d", address)
	}
	if version != 1 {
		return nil, errors.Errorf("unsupported global heap version %d", version)
	}
	hr.Skip(3)
	size, err := hr.ReadLength()
	if err != nil {
		return nil, errors.Wrapf(err, "reading global heap at %d", address)
	}

	// The declared size covers the header itself.
	headerSize := uint64(4 + 1 + 3 + r.LengthSize())
	if size < headerSize {
		return nil, errors.Errorf("global heap at %d: collection size %d smaller than its header", address, size)
	}
	entrySize := uint64(2 + 2 + 4 + r.LengthSize())

	gh := &GlobalHeap{
		CollectionSize: size,
		objects:        make(map[uint16][]byte),
	}
	for left := size - headerSize; left >= entrySize; {
		index, err := hr.ReadUint16()
		if err != nil {
			return nil, errors.Wrapf(err, "reading global heap at %d", address)
		}
		if index == 0 {
			break
		}
		if _, err := hr.ReadUint16(); err != nil { // reference count
			return nil, errors.Wrapf(err, "reading heap object %d", index)
		}
		hr.Skip(4)
		objSize, err := hr.ReadLength()
		if err != nil {
			return nil, errors.Wrapf(err, "reading heap object %d", index)
		}

		// Objects are padded to 8 bytes; the padded extent must fit in
		// what the collection has left.
		need := entrySize + binary.AlignUp(objSize, 8)
		if need < entrySize || need > left {
			return nil, errors.Errorf("global heap at %d: object %d overruns the collection", address, index)
		}
		data, err := hr.ReadBytes(int(objSize))
		if err != nil {
			return nil, errors.Wrapf(err, "reading heap object %d", index)
		}
		gh.objects[index] = data
		hr.Skip(int64(binary.PadTo(objSize, 8)))
		left -= need
	}
	return gh, nil
}

// Get returns the payload of the object with the given 1-based index.
// The caller owns the returned slice.
func (h *GlobalHeap) Get(index uint32) ([]byte, error) {
	if h != nil && index > 0 && index <= 0xFFFF {
		if data, ok := h.objects[uint16(index)]; ok {
			return append([]byte(nil), data...), nil
		}
	}
	return nil, errors.Errorf("no object %d in global heap", index)
}

// ParseGlobalHeapID decodes a heap ID from element bytes: a
// little-endian collection address of offsetSize bytes followed by a
// 4-byte object index.
func ParseGlobalHeapID(data []byte, offsetSize int) (GlobalHeapID, error) {
	switch offsetSize {
	case 2, 4, 8:
	default:
		return GlobalHeapID{}, errors.Errorf("unsupported offset size %d", offsetSize)
	}
	if len(data) < offsetSize+4 {
		return GlobalHeapID{}, errors.Errorf("global heap reference too short: %d bytes, want %d", len(data), offsetSize+4)
	}
	return GlobalHeapID{
		CollectionAddress: uintLE(data[:offsetSize]),
		ObjectIndex:       uint32(uintLE(data[offsetSize : offsetSize+4])),
	}, nil
}

// uintLE decodes up to 8 little-endian bytes.
func uintLE(buf []byte) uint64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}
