package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
)

var snodSignature = []byte{'S', 'N', 'O', 'D'}

// Symbol table entry cache types.
const (
	cacheTypeNone     uint32 = 0
	cacheTypeHardLink uint32 = 1 // b-tree and heap addresses cached
	cacheTypeSoftLink uint32 = 2 // link target heap offset cached
)

// SymbolTableEntry is the 40-byte directory record linking a
// heap-stored name to an object header. The scratch pad caches
// per-cache-type data: B-tree and heap addresses for groups (cache
// type 1), the link target's heap offset for soft links (cache type
// 2).
type SymbolTableEntry struct {
	LinkNameOffset uint64
	HeaderAddress  uint64
	CacheType      uint32
	Scratch        [16]byte
}

// SymbolTableEntrySize returns the serialized entry size for the
// given offset size.
func SymbolTableEntrySize(offsetSize int) uint64 {
	// two addresses + cache type + reserved + scratch
	return uint64(2*offsetSize + 4 + 4 + 16)
}

// NewObjectEntry returns an entry for a dataset or other plain
// object: nothing cached.
func NewObjectEntry(headerAddr uint64) SymbolTableEntry {
	return SymbolTableEntry{HeaderAddress: headerAddr, CacheType: cacheTypeNone}
}

// NewGroupEntry returns an entry for a child group with its B-tree
// and heap addresses cached in the scratch pad.
func NewGroupEntry(headerAddr, btreeAddr, heapAddr uint64, offsetSize int) SymbolTableEntry {
	e := SymbolTableEntry{HeaderAddress: headerAddr, CacheType: cacheTypeHardLink}
	putUintN(e.Scratch[:offsetSize], btreeAddr)
	putUintN(e.Scratch[offsetSize:2*offsetSize], heapAddr)
	return e
}

// NewSoftLinkEntry returns an entry whose scratch pad points at the
// link target string in the local heap. The header address is not
// meaningful for soft links.
func NewSoftLinkEntry(targetOffset uint64) SymbolTableEntry {
	e := SymbolTableEntry{CacheType: cacheTypeSoftLink}
	binary.LittleEndian.PutUint32(e.Scratch[:4], uint32(targetOffset))
	return e
}

func putUintN(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v >> (8 * i))
	}
}

func (e *SymbolTableEntry) serialize(w *binpkg.Writer) error {
	if err := w.WriteOffset(e.LinkNameOffset); err != nil {
		return err
	}
	if err := w.WriteOffset(e.HeaderAddress); err != nil {
		return err
	}
	if err := w.WriteUint32(e.CacheType); err != nil {
		return err
	}
	if err := w.WriteZeros(4); err != nil {
		return err
	}
	return w.WriteBytes(e.Scratch[:])
}

func readEntry(r *binpkg.Reader) (SymbolTableEntry, error) {
	var e SymbolTableEntry
	var err error
	if e.LinkNameOffset, err = r.ReadOffset(); err != nil {
		return e, err
	}
	if e.HeaderAddress, err = r.ReadOffset(); err != nil {
		return e, err
	}
	if e.CacheType, err = r.ReadUint32(); err != nil {
		return e, err
	}
	r.Skip(4)
	scratch, err := r.ReadBytes(16)
	if err != nil {
		return e, err
	}
	copy(e.Scratch[:], scratch)
	return e, nil
}

// symbolNode is the in-memory form of an on-disk SNOD block. Entries
// stay sorted by heap-resolved name; capacity is fixed at allocation,
// 2K slots for leaf order K.
type symbolNode struct {
	handle  fspace.Handle
	offset  uint64
	entries []SymbolTableEntry
}

const symbolNodeHeaderSize = 8 // signature + version + reserved + count

func symbolNodeSize(leafK, offsetSize int) uint64 {
	return symbolNodeHeaderSize + uint64(2*leafK)*SymbolTableEntrySize(offsetSize)
}

func (s *symbolNode) write(w *binpkg.Writer, leafK int) error {
	nw := w.At(int64(s.offset))
	if err := nw.WriteBytes(snodSignature); err != nil {
		return errors.Wrapf(err, "writing symbol node at %d", s.offset)
	}
	if err := nw.WriteUint8(1); err != nil { // version
		return err
	}
	if err := nw.WriteUint8(0); err != nil { // reserved
		return err
	}
	if err := nw.WriteUint16(uint16(len(s.entries))); err != nil {
		return err
	}
	for i := range s.entries {
		if err := s.entries[i].serialize(nw); err != nil {
			return err
		}
	}
	unused := 2*leafK - len(s.entries)
	return nw.WriteZeros(int(SymbolTableEntrySize(nw.OffsetSize())) * unused)
}

func readSymbolNode(r *binpkg.Reader, offset uint64) (*symbolNode, error) {
	nr := r.At(int64(offset))
	sig, err := nr.ReadBytes(4)
	if err != nil {
		return nil, errors.Wrapf(err, "reading symbol node at %d", offset)
	}
	if string(sig) != "SNOD" {
		return nil, errors.Errorf("invalid symbol node signature %q at %d", sig, offset)
	}
	version, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, errors.Errorf("unsupported symbol node version %d at %d", version, offset)
	}
	nr.Skip(1)
	count, err := nr.ReadUint16()
	if err != nil {
		return nil, err
	}
	s := &symbolNode{offset: offset, entries: make([]SymbolTableEntry, 0, count)}
	for i := uint16(0); i < count; i++ {
		e, err := readEntry(nr)
		if err != nil {
			return nil, errors.Wrapf(err, "reading symbol node entry %d at %d", i, offset)
		}
		s.entries = append(s.entries, e)
	}
	return s, nil
}
