package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/heap"
)

// maxTreeDepth bounds the node walk so a cyclic child pointer cannot
// recurse forever.
const maxTreeDepth = 32

// GroupEntry is one link read from a group's on-disk index: the
// heap-resolved name plus either the object header address or, for
// soft links, the target path.
type GroupEntry struct {
	Name          string
	HeaderAddress uint64
	LinkTarget    string
	Soft          bool
}

// ReadGroupEntries walks the tree rooted at btreeAddr and returns
// every link in name order, resolved through the group's local heap.
// It reads nodes directly and needs no allocator, so it serves
// read-only opens; writable files go through [GroupIndex] instead.
func ReadGroupEntries(r *binpkg.Reader, btreeAddr uint64, localHeap *heap.LocalHeap) ([]GroupEntry, error) {
	return readIndexNode(r, btreeAddr, localHeap, 0)
}

func readIndexNode(r *binpkg.Reader, address uint64, localHeap *heap.LocalHeap, depth int) ([]GroupEntry, error) {
	if depth >= maxTreeDepth {
		return nil, errors.Errorf("b-tree deeper than %d nodes at %d", maxTreeDepth, address)
	}
	nr := r.At(int64(address))

	sig, err := nr.ReadBytes(4)
	if err != nil {
		return nil, errors.Wrapf(err, "reading b-tree node at %d", address)
	}
	if string(sig) != "TREE" {
		return nil, errors.Errorf("invalid b-tree signature %q at %d", sig, address)
	}
	nodeType, err := nr.ReadUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "reading b-tree node at %d", address)
	}
	if nodeType != 0 {
		return nil, errors.Errorf("b-tree node at %d has type %d, expected group", address, nodeType)
	}
	level, err := nr.ReadUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "reading b-tree node at %d", address)
	}
	used, err := nr.ReadUint16()
	if err != nil {
		return nil, errors.Wrapf(err, "reading b-tree node at %d", address)
	}
	nr.Skip(int64(2 * nr.OffsetSize())) // siblings

	var entries []GroupEntry
	for i := uint16(0); i < used; i++ {
		// The key before each child is its lower-bound name offset;
		// a full walk has no use for it.
		if _, err := nr.ReadLength(); err != nil {
			return nil, errors.Wrapf(err, "reading b-tree node at %d", address)
		}
		child, err := nr.ReadOffset()
		if err != nil {
			return nil, errors.Wrapf(err, "reading b-tree node at %d", address)
		}

		var sub []GroupEntry
		if level == 0 {
			sub, err = readLeafEntries(r, child, localHeap)
		} else {
			sub, err = readIndexNode(r, child, localHeap, depth+1)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}
	return entries, nil
}

// readLeafEntries decodes the symbol node at address into links.
func readLeafEntries(r *binpkg.Reader, address uint64, localHeap *heap.LocalHeap) ([]GroupEntry, error) {
	s, err := readSymbolNode(r, address)
	if err != nil {
		return nil, err
	}
	entries := make([]GroupEntry, 0, len(s.entries))
	for _, e := range s.entries {
		ge := GroupEntry{
			Name:          localHeap.GetString(e.LinkNameOffset),
			HeaderAddress: e.HeaderAddress,
		}
		// Heap offset 0 is the null entry; no real link is nameless.
		if ge.Name == "" {
			continue
		}
		if e.CacheType == cacheTypeSoftLink {
			ge.Soft = true
			ge.HeaderAddress = 0
			ge.LinkTarget = localHeap.GetString(uint64(binary.LittleEndian.Uint32(e.Scratch[:4])))
		}
		entries = append(entries, ge)
	}
	return entries, nil
}
