package heap

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
)

// FirstGlobalHeapSize is the fixed size of the first collection. The
// second collection starts at the same size and doubles in place as
// needed.
const FirstGlobalHeapSize = 4096

// RelocateFunc is called for every symbol table node the allocator
// moved to make room for a growing collection. The handler must copy
// the node and patch the pointers that referenced its old offset.
type RelocateFunc func(fspace.Relocation) error

// GlobalHeapWriter accumulates variable-length payloads and writes
// them out as "GCOL" collections. Put assigns each payload a block
// offset and a 1-based index immediately; both stay valid for the
// life of the file, so references serialized into dataset bytes never
// dangle. Blobs fill a first fixed-size collection, then a second one
// that doubles in place; the allocator rejects a third.
type GlobalHeapWriter struct {
	alloc    *fspace.Allocator
	w        *binary.Writer
	relocate RelocateFunc
	first    *globalHeapBlock
	second   *globalHeapBlock
}

type globalHeapBlock struct {
	handle  fspace.Handle
	used    uint64 // collection header plus objects written so far
	objects [][]byte
}

// NewGlobalHeapWriter creates a writer that places collections through
// alloc. relocate handles symbol table nodes displaced by collection
// growth; it may be nil for files without group indexes.
func NewGlobalHeapWriter(alloc *fspace.Allocator, w *binary.Writer, relocate RelocateFunc) *GlobalHeapWriter {
	return &GlobalHeapWriter{alloc: alloc, w: w, relocate: relocate}
}

func (g *GlobalHeapWriter) collectionHeaderSize() uint64 {
	// signature + version + 3 reserved + collection size
	return uint64(4 + 1 + 3 + g.w.LengthSize())
}

func (g *GlobalHeapWriter) objectHeaderSize() uint64 {
	// index + refcount + 4 reserved + object size
	return uint64(2 + 2 + 4 + g.w.LengthSize())
}

// Put stores data as the next object of the active collection and
// returns the collection's file offset and the object's 1-based
// index. Index 0 never appears: it is the end-of-collection sentinel.
func (g *GlobalHeapWriter) Put(data []byte) (uint64, uint32, error) {
	need := g.objectHeaderSize() + binary.AlignUp(uint64(len(data)), 8)

	if g.first == nil {
		h := g.alloc.Allocate(fspace.KindGlobalHeapFirst, "global heap block 1", FirstGlobalHeapSize)
		g.first = &globalHeapBlock{handle: h, used: g.collectionHeaderSize()}
	}
	if block := g.first; block.used+need <= FirstGlobalHeapSize {
		return g.append(block, data, need)
	}

	if g.second == nil {
		size := uint64(FirstGlobalHeapSize)
		for g.collectionHeaderSize()+need > size {
			size *= 2
		}
		h := g.alloc.Allocate(fspace.KindGlobalHeapSecond, "global heap block 2", size)
		g.second = &globalHeapBlock{handle: h, used: g.collectionHeaderSize()}
	}
	block := g.second
	if size := g.alloc.Record(block.handle).Size; block.used+need > size {
		newSize := size
		for block.used+need > newSize {
			newSize *= 2
		}
		// Growing keeps the offset, so references into the collection
		// survive. Displaced symbol table nodes are the caller's to fix.
		for _, rel := range g.alloc.Grow(block.handle, newSize) {
			if g.relocate == nil {
				return 0, 0, errors.Errorf("symbol table node %q displaced at %d with no relocation handler",
					rel.Name, rel.OldOffset)
			}
			if err := g.relocate(rel); err != nil {
				return 0, 0, errors.Wrapf(err, "relocating symbol table node %q", rel.Name)
			}
		}
	}
	return g.append(block, data, need)
}

func (g *GlobalHeapWriter) append(block *globalHeapBlock, data []byte, need uint64) (uint64, uint32, error) {
	block.objects = append(block.objects, append([]byte(nil), data...))
	block.used += need
	return g.alloc.Record(block.handle).Offset, uint32(len(block.objects)), nil
}

// Flush writes every collection at its allocated offset. The free
// tail of each collection is the index-0 sentinel object.
func (g *GlobalHeapWriter) Flush() error {
	for _, block := range []*globalHeapBlock{g.first, g.second} {
		if block == nil {
			continue
		}
		if err := g.writeBlock(block); err != nil {
			return err
		}
	}
	return nil
}

func (g *GlobalHeapWriter) writeBlock(block *globalHeapBlock) error {
	rec := g.alloc.Record(block.handle)
	w := g.w.At(int64(rec.Offset))

	if err := w.WriteBytes(globalHeapSignature); err != nil {
		return errors.Wrapf(err, "writing global heap at %d", rec.Offset)
	}
	if err := w.WriteUint8(1); err != nil { // version
		return err
	}
	if err := w.WriteZeros(3); err != nil {
		return err
	}
	if err := w.WriteLength(rec.Size); err != nil {
		return err
	}

	for i, obj := range block.objects {
		if err := w.WriteUint16(uint16(i + 1)); err != nil {
			return err
		}
		if err := w.WriteUint16(1); err != nil { // reference count
			return err
		}
		if err := w.WriteZeros(4); err != nil {
			return err
		}
		if err := w.WriteLength(uint64(len(obj))); err != nil {
			return err
		}
		if err := w.WriteBytes(obj); err != nil {
			return err
		}
		if err := w.WriteZeros(int(binary.PadTo(uint64(len(obj)), 8))); err != nil {
			return err
		}
	}

	// Sentinel: index 0 owns the free tail. With fewer than 16 free
	// bytes the zero fill alone terminates the object walk.
	tail := rec.Size - block.used
	if tail >= g.objectHeaderSize() {
		if err := w.WriteZeros(8); err != nil { // index 0, refcount, reserved
			return err
		}
		if err := w.WriteLength(tail); err != nil {
			return err
		}
		tail -= g.objectHeaderSize()
	}
	return w.WriteZeros(int(tail))
}
