// Package superblock reads and writes the HDF5 superblock, the anchor
// record every file starts from. The superblock names the format
// version, the offset and length widths used for every address and
// size field in the file, and the address of the root group's object
// header; versions 0 and 1 also carry the root group's symbol-table
// scratch pad so the group tree is reachable without a header parse.
//
// Version 0 is the write format. Version 1, which differs only by the
// indexed-storage K field, is accepted on read. Versions 2 and 3
// restructured the record around checksums and are reported as
// unsupported.
package superblock

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// Signature is the eight-byte magic every HDF5 file starts with.
var Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// Files written by this package put the superblock at offset 0, but
// readers also probe the locations the format reserves for user
// blocks.
var probeOffsets = []int64{0, 512, 1024, 2048}

var (
	ErrNotHDF5            = errors.New("not an HDF5 file: signature not found")
	ErrUnsupportedVersion = errors.New("unsupported superblock version")
	ErrInvalidSuperblock  = errors.New("invalid superblock structure")
)

// Superblock holds the file-wide parameters the rest of the library
// is configured from.
type Superblock struct {
	Version uint8

	// OffsetSize and LengthSize are the widths, in bytes, of every
	// offset and length field in the file. Legal values are 2, 4
	// and 8.
	OffsetSize uint8
	LengthSize uint8

	FileConsistencyFlags uint8

	// BaseAddress is the file address of byte 0. Non-zero when the
	// superblock sits behind a user block.
	BaseAddress uint64

	// EOFAddress is the logical end of file, one past the last
	// allocated byte.
	EOFAddress uint64

	// RootGroupAddress is the object header address of "/".
	RootGroupAddress uint64

	// Group B-tree fan-out: leaf nodes hold between K and 2K symbol
	// table entries, internal nodes between K and 2K children.
	GroupLeafNodeK     uint16
	GroupInternalNodeK uint16

	// IndexedStorageK is present in version 1 only.
	IndexedStorageK uint16

	FreeSpaceManagerVersion uint8

	// Root group symbol table entry contents: the header address and,
	// when the entry is cached, the scratch-pad B-tree and local heap
	// addresses.
	RootGroupSymbolTableAddress uint64
	RootGroupBTreeAddress       uint64
	RootGroupLocalHeapAddress   uint64

	// ByteOrder is little-endian for every field the superblock
	// governs.
	ByteOrder binary.ByteOrder

	// FileOffset is where the signature was found.
	FileOffset int64
}

// Read locates the signature and parses the superblock behind it.
func Read(r io.ReaderAt) (*Superblock, error) {
	sig := make([]byte, len(Signature))
	for _, off := range probeOffsets {
		if _, err := r.ReadAt(sig, off); err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return nil, errors.Wrapf(err, "probing for signature at %d", off)
		}
		if !bytes.Equal(sig, Signature) {
			continue
		}
		return readAt(r, off)
	}
	return nil, ErrNotHDF5
}

// readAt parses the superblock whose signature sits at offset.
func readAt(r io.ReaderAt, offset int64) (*Superblock, error) {
	var ver [1]byte
	if _, err := r.ReadAt(ver[:], offset+8); err != nil {
		return nil, errors.Wrapf(ErrInvalidSuperblock, "truncated after signature: %v", err)
	}

	var (
		sb  *Superblock
		err error
	)
	switch ver[0] {
	case 0:
		sb, err = readV0(r, offset)
	case 1:
		sb, err = readV1(r, offset)
	default:
		return nil, errors.Wrapf(ErrUnsupportedVersion, "superblock version %d", ver[0])
	}
	if err != nil {
		return nil, err
	}

	sb.FileOffset = offset
	sb.ByteOrder = binary.LittleEndian
	return sb, nil
}

// ReaderConfig returns the binary.Config matching this superblock's
// field widths.
func (sb *Superblock) ReaderConfig() binpkg.Config {
	return binpkg.Config{
		ByteOrder:  sb.ByteOrder,
		OffsetSize: int(sb.OffsetSize),
		LengthSize: int(sb.LengthSize),
	}
}
