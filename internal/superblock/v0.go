package superblock

import (
	"io"

	"github.com/pkg/errors"
)

/*
Version 0 Superblock Layout:
Offset  Size  Description
0       8     Signature
8       1     Version (0)
9       1     Free-space storage version
10      1     Root group symbol table entry version
11      1     Reserved
12      1     Shared header message format version
13      1     Size of offsets
14      1     Size of lengths
15      1     Reserved
16      2     Group leaf node K
18      2     Group internal node K
20      4     File consistency flags
24      O     Base address
24+O    O     Free-space info address
24+2O   O     EOF address
24+3O   O     Driver info block address
24+4O   var   Root group symbol table entry

Where O = size of offsets

Root Group Symbol Table Entry:
0       O     Link name offset (into local heap, always 0)
O       O     Object header address
2O      4     Cache type (1 = cached group)
2O+4    4     Reserved
2O+8    16    Scratch pad: B-tree address, local heap address

Version 1 inserts a 2-byte indexed-storage K plus 2 reserved bytes
before the address block; everything else matches version 0.
*/

// readV0 parses a version 0 superblock.
func readV0(r io.ReaderAt, offset int64) (*Superblock, error) {
	return readLegacy(r, offset, 0)
}

// readV1 parses a version 1 superblock.
func readV1(r io.ReaderAt, offset int64) (*Superblock, error) {
	return readLegacy(r, offset, 1)
}

func readLegacy(r io.ReaderAt, offset int64, version uint8) (*Superblock, error) {
	header := make([]byte, 16)
	if _, err := r.ReadAt(header, offset+8); err != nil {
		return nil, errors.Wrapf(ErrInvalidSuperblock, "truncated header: %v", err)
	}

	sb := &Superblock{
		Version:                 header[0],
		FreeSpaceManagerVersion: header[1],
		// header[2] = root group symbol table entry version (0)
		// header[3] = reserved
		// header[4] = shared header message format version
		OffsetSize: header[5],
		LengthSize: header[6],
		// header[7] = reserved
		GroupLeafNodeK:       uint16(header[8]) | uint16(header[9])<<8,
		GroupInternalNodeK:   uint16(header[10]) | uint16(header[11])<<8,
		FileConsistencyFlags: header[12],
	}
	if sb.GroupLeafNodeK == 0 || sb.GroupInternalNodeK == 0 {
		return nil, errors.Wrap(ErrInvalidSuperblock, "zero group b-tree rank")
	}

	pos := offset + 24
	if version == 1 {
		kBuf := make([]byte, 2)
		if _, err := r.ReadAt(kBuf, pos); err != nil {
			return nil, errors.Wrapf(ErrInvalidSuperblock, "truncated at %d: %v", pos, err)
		}
		sb.IndexedStorageK = uint16(kBuf[0]) | uint16(kBuf[1])<<8
		pos += 4 // K plus two reserved bytes
	}

	osize := int(sb.OffsetSize)
	addrBuf := make([]byte, osize)
	readAddr := func() (uint64, error) {
		if _, err := r.ReadAt(addrBuf, pos); err != nil {
			return 0, errors.Wrapf(ErrInvalidSuperblock, "truncated at %d: %v", pos, err)
		}
		pos += int64(osize)
		return decodeAddr(addrBuf), nil
	}

	var err error
	if sb.BaseAddress, err = readAddr(); err != nil {
		return nil, err
	}
	if _, err = readAddr(); err != nil { // free-space info address
		return nil, err
	}
	if sb.EOFAddress, err = readAddr(); err != nil {
		return nil, err
	}
	if _, err = readAddr(); err != nil { // driver info block address
		return nil, err
	}

	// Root group symbol table entry.
	if _, err = readAddr(); err != nil { // link name offset
		return nil, err
	}
	if sb.RootGroupAddress, err = readAddr(); err != nil {
		return nil, err
	}
	sb.RootGroupSymbolTableAddress = sb.RootGroupAddress

	cacheBuf := make([]byte, 4)
	if _, err := r.ReadAt(cacheBuf, pos); err != nil {
		return nil, errors.Wrapf(ErrInvalidSuperblock, "truncated at %d: %v", pos, err)
	}
	cacheType := uint32(cacheBuf[0]) | uint32(cacheBuf[1])<<8 |
		uint32(cacheBuf[2])<<16 | uint32(cacheBuf[3])<<24
	pos += 8 // cache type plus reserved

	// A cached root group carries its B-tree and local heap addresses
	// in the scratch pad.
	if cacheType == 1 {
		if sb.RootGroupBTreeAddress, err = readAddr(); err != nil {
			return nil, err
		}
		if sb.RootGroupLocalHeapAddress, err = readAddr(); err != nil {
			return nil, err
		}
	}

	return sb, nil
}

// decodeAddr decodes a little-endian address of 2, 4 or 8 bytes.
func decodeAddr(buf []byte) uint64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}
