package hdf5

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/btree"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/heap"
	"github.com/skalare/goh5/internal/logger"
	"github.com/skalare/goh5/internal/object"
	"github.com/skalare/goh5/internal/superblock"
)

// groupState is the writable view of one group: its entry index and
// the name heap the index stores link names in.
type groupState struct {
	path  string
	index *btree.GroupIndex
	heap  *heap.LocalHeapWriter
}

// Create creates a new HDF5 file at the given path, truncating any
// existing file. The file carries a version 0 superblock and version 1
// object headers throughout.
func Create(path string, opts ...FileOption) (*File, error) {
	o := applyFileOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}

	osf, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}

	f, err := newWritableFile(path, osf, o)
	if err != nil {
		osf.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.writePreamble(o); err != nil {
		osf.Close()
		os.Remove(path)
		return nil, err
	}

	f.log.WithFields(logrus.Fields{
		"path":       path,
		"offsetSize": o.offsetSize,
		"leafK":      o.leafK,
		"internalK":  o.internalK,
	}).Debug("created file")
	return f, nil
}

// OpenReadWrite opens an existing file for modification: appending
// groups, datasets and attributes. Only files with a version 0
// superblock can be edited; later versions open read-only via Open.
func OpenReadWrite(path string, opts ...FileOption) (*File, error) {
	o := applyFileOptions(opts)

	osf, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	sb, err := readSuperblock(osf, path)
	if err != nil {
		osf.Close()
		return nil, err
	}
	if sb.Version != 0 {
		osf.Close()
		return nil, errors.Wrapf(ErrUnsupportedVersion,
			"cannot modify version %d file %s, open it read-only", sb.Version, path)
	}

	f, err := newWritableFile(path, osf, o)
	if err != nil {
		osf.Close()
		return nil, err
	}
	f.sb = sb
	f.reader = f.reader.WithSizes(int(sb.OffsetSize), int(sb.LengthSize))
	f.writer = f.writer.WithSizes(int(sb.OffsetSize), int(sb.LengthSize))
	f.size = sb.EOFAddress

	// Resume allocation past the recorded end of file; everything
	// below it stays untouched unless a resumed structure grows.
	f.alloc = fspace.Resume(sb.EOFAddress, fspace.WithLogger(fileLogger(o)))
	f.alloc.ReserveAt(fspace.KindSuperblock, "superblock", 0, uint64(sb.Size()))

	if _, err := f.groupStateAt(sb.RootGroupAddress, sb.RootGroupBTreeAddress,
		sb.RootGroupLocalHeapAddress, "/"); err != nil {
		osf.Close()
		return nil, err
	}

	f.log.WithFields(logrus.Fields{
		"path": path,
		"eof":  sb.EOFAddress,
	}).Debug("opened file for writing")
	return f, nil
}

// newWritableFile assembles the write-side state shared by Create and
// OpenReadWrite. The superblock and allocator are filled in by the
// caller.
func newWritableFile(path string, osf *os.File, o *fileOptions) (*File, error) {
	sb := superblock.NewSuperblock()
	sb.OffsetSize = uint8(o.offsetSize)
	sb.LengthSize = uint8(o.lengthSize)
	sb.GroupLeafNodeK = uint16(o.leafK)
	sb.GroupInternalNodeK = uint16(o.internalK)

	cfg := sb.ReaderConfig()
	f := &File{
		path:     path,
		file:     osf,
		sb:       sb,
		log:      logger.Named(fileLogger(o), "hdf5"),
		reader:   binary.NewReader(osf, cfg),
		writer:   binary.NewWriter(osf, cfg),
		writable: true,
		heapSize: o.localHeapSize,
		groups:   make(map[uint64]*groupState),
		editors:  make(map[uint64]*object.Editor),
		names:    make(map[string]int),
		bases:    make(map[uint64]string),
	}
	if err := f.initCache(o); err != nil {
		return nil, err
	}
	return f, nil
}

// writePreamble lays out the fixed region of a fresh file: superblock
// at offset zero, then the root group's header, name heap header and
// entry index root packed behind it.
func (f *File) writePreamble(o *fileOptions) error {
	f.alloc = fspace.New(fspace.WithLogger(fileLogger(o)))

	sbSize := uint64(f.sb.Size())
	f.alloc.ReserveAt(fspace.KindSuperblock, "superblock", 0, sbSize)

	// Message sizes do not depend on the addresses they carry, so the
	// header size is known before the index and heap are placed.
	probe := object.NewGroupMessages(0, 0)
	headerAt := align8(sbSize)
	headerSize := uint64(object.HeaderSize(f.writer, probe, object.DefaultReserve))
	heapAt := align8(headerAt + headerSize)
	btreeAt := align8(heapAt + heap.LocalHeapHeaderSize(int(f.sb.OffsetSize), int(f.sb.LengthSize)))

	f.alloc.ReserveAt(fspace.KindObjectHeader, "/", headerAt, headerSize)

	hp, err := heap.NewLocalHeapWriterAt(f.alloc, f.writer, "/", heapAt, f.heapSize)
	if err != nil {
		return errors.Wrap(err, "creating root name heap")
	}
	idx, err := btree.NewGroupIndex(f.alloc, f.writer, hp, btree.IndexConfig{
		Name:      "/",
		LeafK:     int(f.sb.GroupLeafNodeK),
		InternalK: int(f.sb.GroupInternalNodeK),
		RootAt:    btreeAt,
		Log:       fileLogger(o),
	})
	if err != nil {
		return errors.Wrap(err, "creating root group index")
	}

	msgs := object.NewGroupMessages(idx.RootAddress(), hp.HeaderAddress())
	if _, err := object.WriteHeader(f.writer, headerAt, msgs, object.DefaultReserve); err != nil {
		return errors.Wrap(err, "writing root group header")
	}

	f.sb.RootGroupAddress = headerAt
	f.sb.RootGroupBTreeAddress = idx.RootAddress()
	f.sb.RootGroupLocalHeapAddress = hp.HeaderAddress()

	f.groups[headerAt] = &groupState{path: "/", index: idx, heap: hp}
	return f.writeSuperblock()
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// writeSuperblock refreshes the superblock with the current end of
// file.
func (f *File) writeSuperblock() error {
	f.sb.EOFAddress = f.alloc.EndOfFile()
	if _, err := f.sb.Write(f.writer.At(0)); err != nil {
		return errors.Wrap(err, "writing superblock")
	}
	return nil
}

// Flush writes all buffered state: group name heaps, the global heap,
// and the superblock. The file remains usable.
func (f *File) Flush() error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) flush() error {
	for _, gs := range f.groups {
		if err := gs.heap.Flush(); err != nil {
			return errors.Wrapf(err, "flushing name heap of %s", gs.path)
		}
	}
	if f.gheap != nil {
		if err := f.gheap.Flush(); err != nil {
			return errors.Wrap(err, "flushing global heap")
		}
	}
	if err := f.writeSuperblock(); err != nil {
		return err
	}
	if f.file != nil {
		if err := f.file.Sync(); err != nil {
			return errors.Wrap(err, "syncing file")
		}
	}
	return nil
}

// groupStateAt returns the writable state for the group whose header
// sits at addr, resuming its index and heap from disk on first use.
func (f *File) groupStateAt(addr, btreeAddr, heapAddr uint64, path string) (*groupState, error) {
	if gs, ok := f.groups[addr]; ok {
		return gs, nil
	}

	lh, err := heap.ReadLocalHeap(f.reader, heapAddr)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "name heap of %s: %v", path, err)
	}
	hp, err := heap.ResumeLocalHeapWriter(f.alloc, f.writer, path, heapAddr, lh)
	if err != nil {
		return nil, errors.Wrapf(err, "resuming name heap of %s", path)
	}
	idx, err := btree.OpenGroupIndex(f.alloc, f.writer, f.reader, hp, btreeAddr, btree.IndexConfig{
		Name:      path,
		LeafK:     int(f.sb.GroupLeafNodeK),
		InternalK: int(f.sb.GroupInternalNodeK),
		Log:       f.log.Logger,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "entry index of %s: %v", path, err)
	}

	gs := &groupState{path: path, index: idx, heap: hp}
	f.groups[addr] = gs
	return gs, nil
}

// uniqueName returns path the first time it names allocator records
// and a suffixed variant after a removal makes the path reusable. The
// allocator requires distinct record names per kind.
func (f *File) uniqueName(path string) string {
	n := f.names[path]
	f.names[path] = n + 1
	if n == 0 {
		return path
	}
	return fmt.Sprintf("%s (%d)", path, n+1)
}

// editorFor returns the message editor for the header at addr. One
// editor is kept per header; a second would double-register the
// header's continuation blocks with the allocator.
func (f *File) editorFor(addr uint64, name string) (*object.Editor, error) {
	if e, ok := f.editors[addr]; ok {
		return e, nil
	}
	if base, ok := f.bases[addr]; ok {
		name = base
	}
	e, err := object.NewEditor(f.alloc, f.writer, f.reader, name, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "editing header of %s", name)
	}
	f.editors[addr] = e
	return e, nil
}

// globalHeap returns the file's variable-length data heap, creating
// it on first use.
func (f *File) globalHeap() *heap.GlobalHeapWriter {
	if f.gheap == nil {
		f.gheap = heap.NewGlobalHeapWriter(f.alloc, f.writer, f.applyRelocation)
	}
	return f.gheap
}

// applyRelocation forwards an allocator relocation to the structure
// that owns the moved record. Only symbol nodes sit in relocatable
// space, and every symbol node in harm's way belongs to an open group
// index.
func (f *File) applyRelocation(rel fspace.Relocation) error {
	for _, gs := range f.groups {
		ok, err := gs.index.ApplyRelocation(rel)
		if err != nil {
			return err
		}
		if ok {
			f.log.WithFields(logrus.Fields{
				"record": rel.Name,
				"old":    rel.OldOffset,
				"new":    rel.NewOffset,
			}).Debug("relocated record")
			return nil
		}
	}
	return errors.Errorf("relocated record %q at %d has no owner", rel.Name, rel.OldOffset)
}

// CreateGroup creates the group named by an absolute path, creating
// missing intermediate groups along the way. Returns the deepest
// group. Creating a path that already names a group returns that
// group; a path crossing a dataset fails with ErrTypeMismatch.
func (f *File) CreateGroup(path string) (*Group, error) {
	if err := f.checkWritable(); err != nil {
		return nil, err
	}

	g, err := f.RootGroup()
	if err != nil {
		return nil, err
	}
	for _, part := range SplitPath(CleanPath(path)) {
		child, err := g.Group(part)
		switch {
		case err == nil:
			g = child
		case errors.Is(err, ErrNotFound):
			child, err = g.CreateGroup(part)
			if err != nil {
				return nil, err
			}
			g = child
		default:
			return nil, err
		}
	}
	return g, nil
}
