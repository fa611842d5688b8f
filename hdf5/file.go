package hdf5

import (
	"bytes"
	"io"
	"os"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/heap"
	"github.com/skalare/goh5/internal/logger"
	"github.com/skalare/goh5/internal/message"
	"github.com/skalare/goh5/internal/object"
	"github.com/skalare/goh5/internal/superblock"
)

// File is an open HDF5 file. Files opened with Open or OpenMapped are
// read-only; Create and OpenReadWrite return writable files.
//
// A File is not safe for concurrent use. A read-only File may be
// shared by concurrent readers once opened.
type File struct {
	path   string
	file   *os.File
	mm     mmap.MMap
	reader *binary.Reader
	sb     *superblock.Superblock
	size   uint64
	log    *logrus.Entry
	cache  *ristretto.Cache[uint64, *object.Header]
	closed bool

	// Write-side state, nil on read-only files.
	writable bool
	writer   *binary.Writer
	alloc    *fspace.Allocator
	heapSize uint64
	groups   map[uint64]*groupState
	editors  map[uint64]*object.Editor
	names    map[string]int    // allocator record bases handed out
	bases    map[uint64]string // header address to its record base
	gheap    *heap.GlobalHeapWriter
}

// Open opens an HDF5 file for reading.
func Open(path string, opts ...FileOption) (*File, error) {
	o := applyFileOptions(opts)

	osf, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	st, err := osf.Stat()
	if err != nil {
		osf.Close()
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	f, err := newReadOnlyFile(path, osf, uint64(st.Size()), o)
	if err != nil {
		osf.Close()
		return nil, err
	}
	f.file = osf
	return f, nil
}

// OpenMapped opens an HDF5 file for reading through a memory mapping.
// Reads go straight to the mapped pages instead of file I/O, which
// helps traversal-heavy workloads on large files.
func OpenMapped(path string, opts ...FileOption) (*File, error) {
	o := applyFileOptions(opts)

	osf, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	mm, err := mmap.Map(osf, mmap.RDONLY, 0)
	if err != nil {
		osf.Close()
		return nil, errors.Wrapf(err, "mapping %s", path)
	}

	f, err := newReadOnlyFile(path, bytes.NewReader(mm), uint64(len(mm)), o)
	if err != nil {
		mm.Unmap()
		osf.Close()
		return nil, err
	}
	f.file = osf
	f.mm = mm
	return f, nil
}

// newReadOnlyFile parses the superblock and assembles the read-side
// state shared by Open and OpenMapped.
func newReadOnlyFile(path string, src io.ReaderAt, size uint64, o *fileOptions) (*File, error) {
	sb, err := readSuperblock(src, path)
	if err != nil {
		return nil, err
	}

	f := &File{
		path:   path,
		sb:     sb,
		size:   size,
		log:    logger.Named(fileLogger(o), "hdf5"),
		reader: binary.NewReader(src, sb.ReaderConfig()),
	}
	if err := f.initCache(o); err != nil {
		return nil, err
	}

	f.log.WithFields(logrus.Fields{
		"path":    path,
		"version": sb.Version,
		"eof":     sb.EOFAddress,
	}).Debug("opened file")
	return f, nil
}

// readSuperblock locates the superblock and maps its failures onto
// the package sentinels.
func readSuperblock(src io.ReaderAt, path string) (*superblock.Superblock, error) {
	sb, err := superblock.Read(src)
	switch {
	case err == nil:
		return sb, nil
	case errors.Is(err, superblock.ErrNotHDF5):
		return nil, errors.Wrap(ErrFormat, path)
	case errors.Is(err, superblock.ErrUnsupportedVersion):
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%s: %v", path, err)
	case errors.Is(err, superblock.ErrInvalidSuperblock):
		return nil, errors.Wrapf(ErrFormat, "%s: %v", path, err)
	default:
		return nil, errors.Wrapf(err, "reading superblock of %s", path)
	}
}

func fileLogger(o *fileOptions) *logrus.Logger {
	if o.log != nil {
		return o.log
	}
	return logger.Discard
}

func (f *File) initCache(o *fileOptions) error {
	if o.cacheSize <= 0 {
		return nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *object.Header]{
		NumCounters: o.cacheSize * 10,
		MaxCost:     o.cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return errors.Wrap(err, "creating header cache")
	}
	f.cache = cache
	return nil
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Version returns the superblock version of the file.
func (f *File) Version() uint8 {
	return f.sb.Version
}

// Close releases the file. On writable files it flushes pending heap
// segments and the superblock first. Closing an already closed file
// is a no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.writable {
		err = f.flush()
	}
	if f.cache != nil {
		f.cache.Close()
	}
	if f.mm != nil {
		if uerr := f.mm.Unmap(); uerr != nil && err == nil {
			err = errors.Wrap(uerr, "unmapping file")
		}
	}
	if f.file != nil {
		if cerr := f.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	f.log.WithField("path", f.path).Debug("closed file")
	return err
}

func (f *File) checkOpen() error {
	if f.closed {
		return errors.Wrap(ErrClosed, f.path)
	}
	return nil
}

func (f *File) checkWritable() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !f.writable {
		return errors.Wrap(ErrReadOnly, f.path)
	}
	return nil
}

// end returns the current logical end of file: the allocator frontier
// on writable files, the physical size otherwise.
func (f *File) end() uint64 {
	if f.alloc != nil {
		return f.alloc.EndOfFile()
	}
	return f.size
}

// headerAt reads the object header at address, consulting the cache
// when one is configured.
func (f *File) headerAt(address uint64) (*object.Header, error) {
	if f.cache != nil {
		if h, ok := f.cache.Get(address); ok {
			return h, nil
		}
	}

	h, err := object.Read(f.reader, address)
	if err != nil {
		if errors.Is(err, object.ErrInvalidHeader) {
			return nil, errors.Wrapf(ErrFormat, "object header at %d: %v", address, err)
		}
		if errors.Is(err, object.ErrUnsupportedVersion) {
			return nil, errors.Wrapf(ErrUnsupportedVersion, "object header at %d: %v", address, err)
		}
		return nil, errors.Wrapf(err, "reading object header at %d", address)
	}

	if f.cache != nil {
		f.cache.Set(address, h, 1)
	}
	return h, nil
}

// dropHeader invalidates the cached header at address after an edit.
func (f *File) dropHeader(address uint64) {
	if f.cache != nil {
		f.cache.Del(address)
	}
}

// RootGroup returns the root group of the file.
func (f *File) RootGroup() (*Group, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	addr := f.sb.RootGroupAddress
	btreeAddr := f.sb.RootGroupBTreeAddress
	heapAddr := f.sb.RootGroupLocalHeapAddress
	if btreeAddr == 0 && heapAddr == 0 {
		// Superblock scratch pad was not cached; take the addresses
		// from the root header's symbol table message.
		var err error
		btreeAddr, heapAddr, err = f.groupAddrs(addr)
		if err != nil {
			return nil, err
		}
	}

	return &Group{
		file:      f,
		path:      "/",
		addr:      addr,
		btreeAddr: btreeAddr,
		heapAddr:  heapAddr,
	}, nil
}

// groupAddrs reads a group header and returns its entry index and
// name heap addresses from the symbol table message.
func (f *File) groupAddrs(address uint64) (btreeAddr, heapAddr uint64, err error) {
	h, err := f.headerAt(address)
	if err != nil {
		return 0, 0, err
	}
	msg := h.GetMessage(message.TypeSymbolTable)
	if msg == nil {
		return 0, 0, errors.Wrapf(ErrTypeMismatch, "object at %d is not a group", address)
	}
	st := msg.(*message.SymbolTable)
	return st.BTreeAddress, st.LocalHeapAddress, nil
}

// FindByPath resolves an absolute path to an object handle. Soft
// links along the path are followed, up to MaxLinkDepth per lookup.
func (f *File) FindByPath(path string) (*Object, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	clean := CleanPath(path)
	addr, err := f.resolvePath(clean, make(map[string]bool), 0)
	if err != nil {
		return nil, err
	}
	h, err := f.headerAt(addr)
	if err != nil {
		return nil, err
	}
	return &Object{file: f, path: clean, addr: addr, header: h}, nil
}

// resolvePath walks an absolute path segment by segment and returns
// the header address it lands on. visited guards against link cycles.
func (f *File) resolvePath(path string, visited map[string]bool, depth int) (uint64, error) {
	if depth > MaxLinkDepth {
		return 0, errors.Wrap(ErrLinkDepth, path)
	}
	if visited[path] {
		return 0, errors.Wrapf(ErrLinkDepth, "link cycle through %s", path)
	}
	visited[path] = true

	root, err := f.RootGroup()
	if err != nil {
		return 0, err
	}
	if path == "/" {
		return root.addr, nil
	}

	g := root
	parts := SplitPath(path)
	for i, part := range parts {
		last := i == len(parts)-1
		entry, err := g.find(part)
		if err != nil {
			return 0, errors.Wrapf(err, "resolving %s", path)
		}

		if entry.soft {
			target := entry.softTarget
			if target == "" || target[0] != '/' {
				// Relative targets resolve against the containing group.
				target = JoinPath(g.path, target)
			}
			for _, rest := range parts[i+1:] {
				target = JoinPath(target, rest)
			}
			return f.resolvePath(CleanPath(target), visited, depth+1)
		}

		if last {
			return entry.addr, nil
		}
		g, err = g.childGroup(part, entry.addr)
		if err != nil {
			return 0, errors.Wrapf(err, "resolving %s", path)
		}
	}
	return 0, errors.Wrap(ErrNotFound, path)
}

// Attribute resolves a path of the form "/group/object@name" to the
// named attribute.
func (f *File) Attribute(path string) (*Attribute, error) {
	objPath, attrName, err := ParseAttrPath(path)
	if err != nil {
		return nil, err
	}
	obj, err := f.FindByPath(objPath)
	if err != nil {
		return nil, err
	}
	return obj.Attribute(attrName)
}

// maxDatatypeSize bounds the read window for ReadDatatypeAt: version 1
// message payloads cannot exceed 64 KiB, so no serialized datatype
// description is larger.
const maxDatatypeSize = 1 << 16

// ReadDatatypeAt parses the serialized datatype description stored at
// the given file offset. The offset usually comes from another tool or
// index that recorded where a dataset's type lives; the returned type
// can drive decoding without touching the rest of the header.
func (f *File) ReadDatatypeAt(offset uint64) (*message.Datatype, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	end := f.end()
	if offset >= end {
		return nil, errors.Wrapf(ErrFormat, "datatype offset %d beyond end of file %d", offset, end)
	}
	n := end - offset
	if n > maxDatatypeSize {
		n = maxDatatypeSize
	}
	data, err := f.reader.At(int64(offset)).ReadBytes(int(n))
	if err != nil {
		return nil, errors.Wrapf(err, "reading datatype at %d", offset)
	}

	msg, err := message.Parse(message.TypeDatatype, data, 0, f.reader)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "datatype at %d: %v", offset, err)
	}
	return msg.(*message.Datatype), nil
}
