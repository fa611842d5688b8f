package hdf5

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/btree"
	"github.com/skalare/goh5/internal/heap"
)

// Group is a directory of named objects: child groups, datasets and
// soft links. Lookups on a writable file go through the in-memory
// entry index; on read-only files they walk the on-disk structures.
type Group struct {
	file      *File
	path      string
	addr      uint64
	btreeAddr uint64
	heapAddr  uint64
}

// resolved is the outcome of a single-name lookup in a group.
type resolved struct {
	addr       uint64
	soft       bool
	softTarget string
}

// Path returns the absolute path of the group.
func (g *Group) Path() string {
	return g.path
}

// Name returns the last path segment of the group, or "/" for the
// root group.
func (g *Group) Name() string {
	parts := SplitPath(g.path)
	if len(parts) == 0 {
		return "/"
	}
	return parts[len(parts)-1]
}

// Address returns the file address of the group's object header.
func (g *Group) Address() uint64 {
	return g.addr
}

// state returns the writable index state for this group.
func (g *Group) state() (*groupState, error) {
	return g.file.groupStateAt(g.addr, g.btreeAddr, g.heapAddr, g.path)
}

// Members returns the names linked in the group in lexicographic
// order, soft links included.
func (g *Group) Members() ([]string, error) {
	if err := g.file.checkOpen(); err != nil {
		return nil, err
	}

	if g.file.writable {
		gs, err := g.state()
		if err != nil {
			return nil, err
		}
		entries, err := gs.index.Entries()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name, err := gs.heap.StringAt(e.LinkNameOffset)
			if err != nil {
				return nil, errors.Wrapf(err, "resolving entry name in %s", g.path)
			}
			names = append(names, name)
		}
		return names, nil
	}

	entries, err := g.readEntries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// readEntries loads the group's entries from disk, in tree order.
func (g *Group) readEntries() ([]btree.GroupEntry, error) {
	lh, err := heap.ReadLocalHeap(g.file.reader, g.heapAddr)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "name heap of %s: %v", g.path, err)
	}
	entries, err := btree.ReadGroupEntries(g.file.reader, g.btreeAddr, lh)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "entry index of %s: %v", g.path, err)
	}
	return entries, nil
}

// find looks up one name in the group without following soft links.
func (g *Group) find(name string) (resolved, error) {
	if g.file.writable {
		gs, err := g.state()
		if err != nil {
			return resolved{}, err
		}
		e, err := gs.index.Find(name)
		if err != nil {
			return resolved{}, err
		}
		if e.CacheType == 2 {
			off := uint64(binary.LittleEndian.Uint32(e.Scratch[:4]))
			target, err := gs.heap.StringAt(off)
			if err != nil {
				return resolved{}, errors.Wrapf(err, "resolving link target of %s", name)
			}
			return resolved{soft: true, softTarget: target}, nil
		}
		return resolved{addr: e.HeaderAddress}, nil
	}

	entries, err := g.readEntries()
	if err != nil {
		return resolved{}, err
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		if e.Soft {
			return resolved{soft: true, softTarget: e.LinkTarget}, nil
		}
		return resolved{addr: e.HeaderAddress}, nil
	}
	return resolved{}, errors.Wrap(ErrNotFound, name)
}

// resolveChild resolves one name to a header address, following soft
// links.
func (g *Group) resolveChild(name string) (uint64, error) {
	e, err := g.find(name)
	if err != nil {
		return 0, err
	}
	if !e.soft {
		return e.addr, nil
	}

	target := e.softTarget
	if target == "" || target[0] != '/' {
		target = JoinPath(g.path, target)
	}
	return g.file.resolvePath(CleanPath(target), make(map[string]bool), 1)
}

// childGroup builds the Group handle for a child whose header address
// is already known.
func (g *Group) childGroup(name string, addr uint64) (*Group, error) {
	btreeAddr, heapAddr, err := g.file.groupAddrs(addr)
	if err != nil {
		return nil, err
	}
	return &Group{
		file:      g.file,
		path:      JoinPath(g.path, name),
		addr:      addr,
		btreeAddr: btreeAddr,
		heapAddr:  heapAddr,
	}, nil
}

// Group returns the named child group. Soft links are followed; a
// child that is not a group fails with ErrTypeMismatch.
func (g *Group) Group(name string) (*Group, error) {
	if err := g.file.checkOpen(); err != nil {
		return nil, err
	}
	addr, err := g.resolveChild(name)
	if err != nil {
		return nil, err
	}
	return g.childGroup(name, addr)
}

// Dataset returns the named dataset. Soft links are followed; a child
// that is not a dataset fails with ErrTypeMismatch.
func (g *Group) Dataset(name string) (*Dataset, error) {
	if err := g.file.checkOpen(); err != nil {
		return nil, err
	}
	addr, err := g.resolveChild(name)
	if err != nil {
		return nil, err
	}
	h, err := g.file.headerAt(addr)
	if err != nil {
		return nil, err
	}
	return newDataset(g.file, JoinPath(g.path, name), addr, h)
}

// object returns the attribute handle for the group itself.
func (g *Group) object() (*Object, error) {
	h, err := g.file.headerAt(g.addr)
	if err != nil {
		return nil, err
	}
	return &Object{file: g.file, path: g.path, addr: g.addr, header: h}, nil
}

// Attributes returns all attributes of the group.
func (g *Group) Attributes() ([]Attribute, error) {
	obj, err := g.object()
	if err != nil {
		return nil, err
	}
	return obj.Attributes()
}

// Attribute returns the named attribute of the group.
func (g *Group) Attribute(name string) (*Attribute, error) {
	obj, err := g.object()
	if err != nil {
		return nil, err
	}
	return obj.Attribute(name)
}

// CreateAttribute attaches an attribute to the group.
func (g *Group) CreateAttribute(name string, value interface{}) error {
	obj, err := g.object()
	if err != nil {
		return err
	}
	return obj.CreateAttribute(name, value)
}
