package superblock

import (
	"encoding/binary"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// NewSuperblock creates a version 0 superblock with 8-byte offsets
// and lengths and the standard group B-tree ranks.
func NewSuperblock() *Superblock {
	return &Superblock{
		Version:            0,
		OffsetSize:         8,
		LengthSize:         8,
		GroupLeafNodeK:     4,
		GroupInternalNodeK: 16,
		ByteOrder:          binary.LittleEndian,
	}
}

// Size returns the on-disk size of a version 0 superblock: the 24
// fixed bytes, four addresses, and the root group symbol table entry.
func (sb *Superblock) Size() int {
	offsetSize := int(sb.OffsetSize)
	if offsetSize == 0 {
		offsetSize = 8
	}
	return 24 + 4*offsetSize + symbolTableEntrySize(offsetSize)
}

// symbolTableEntrySize is link name offset, header address, cache
// type, reserved, and the 16-byte scratch pad.
func symbolTableEntrySize(offsetSize int) int {
	return 2*offsetSize + 4 + 4 + 16
}

// Write serializes the superblock at the current writer position and
// returns the bytes written. Only version 0 is produced; the root
// group symbol table entry is written with cache type 1 so readers
// find the root B-tree and local heap without touching the root
// object header.
func (sb *Superblock) Write(w *binpkg.Writer) (int64, error) {
	if sb.Version != 0 {
		return 0, ErrUnsupportedVersion
	}
	startPos := w.Pos()

	buf := binpkg.NewBuffer(sb.Size())
	bw := binpkg.NewWriter(buf, binpkg.Config{
		ByteOrder:  w.ByteOrder(),
		OffsetSize: int(sb.OffsetSize),
		LengthSize: int(sb.LengthSize),
	})

	if err := bw.WriteBytes(Signature); err != nil {
		return 0, err
	}

	// Version, free-space version, root symbol table entry version,
	// reserved, shared header version, offset size, length size,
	// reserved.
	fixed := []uint8{0, 0, 0, 0, 0, sb.OffsetSize, sb.LengthSize, 0}
	if err := bw.WriteBytes(fixed); err != nil {
		return 0, err
	}

	if err := bw.WriteUint16(sb.GroupLeafNodeK); err != nil {
		return 0, err
	}
	if err := bw.WriteUint16(sb.GroupInternalNodeK); err != nil {
		return 0, err
	}
	if err := bw.WriteUint32(uint32(sb.FileConsistencyFlags)); err != nil {
		return 0, err
	}

	if err := bw.WriteOffset(sb.BaseAddress); err != nil {
		return 0, err
	}
	if err := bw.WriteUndefinedOffset(); err != nil { // free-space info
		return 0, err
	}
	if err := bw.WriteOffset(sb.EOFAddress); err != nil {
		return 0, err
	}
	if err := bw.WriteUndefinedOffset(); err != nil { // driver info block
		return 0, err
	}

	// Root group symbol table entry.
	if err := bw.WriteOffset(0); err != nil { // link name offset
		return 0, err
	}
	if err := bw.WriteOffset(sb.RootGroupAddress); err != nil {
		return 0, err
	}
	if err := bw.WriteUint32(1); err != nil { // cache type: cached group
		return 0, err
	}
	if err := bw.WriteUint32(0); err != nil { // reserved
		return 0, err
	}
	if err := bw.WriteOffset(sb.RootGroupBTreeAddress); err != nil {
		return 0, err
	}
	if err := bw.WriteOffset(sb.RootGroupLocalHeapAddress); err != nil {
		return 0, err
	}
	if pad := 16 - 2*int(sb.OffsetSize); pad > 0 {
		if err := bw.WriteZeros(pad); err != nil {
			return 0, err
		}
	}

	if err := w.WriteBytes(buf.Bytes()[:bw.Pos()]); err != nil {
		return 0, err
	}
	return w.Pos() - startPos, nil
}
