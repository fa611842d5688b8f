package hdf5

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/btree"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/heap"
	"github.com/skalare/goh5/internal/object"
)

func checkLinkName(name string) error {
	if name == "" {
		return errors.New("link name cannot be empty")
	}
	if strings.Contains(name, "/") {
		return errors.Errorf("link name %q cannot contain '/'", name)
	}
	return nil
}

// checkAbsent fails with ErrExists when the group already has an
// entry with the given name.
func (g *Group) checkAbsent(gs *groupState, name string) error {
	if _, err := gs.index.Find(name); err == nil {
		return errors.Wrap(ErrExists, JoinPath(g.path, name))
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// CreateGroup creates a child group with the given name. The name
// must be a single path segment; use File.CreateGroup to create whole
// paths.
func (g *Group) CreateGroup(name string) (*Group, error) {
	if err := g.file.checkWritable(); err != nil {
		return nil, err
	}
	if err := checkLinkName(name); err != nil {
		return nil, err
	}

	f := g.file
	gs, err := g.state()
	if err != nil {
		return nil, err
	}
	if err := g.checkAbsent(gs, name); err != nil {
		return nil, err
	}

	childPath := JoinPath(g.path, name)
	base := f.uniqueName(childPath)

	// The child's name heap and entry index must exist before its
	// header, which records their addresses.
	hp, err := heap.NewLocalHeapWriter(f.alloc, f.writer, base, f.heapSize)
	if err != nil {
		return nil, errors.Wrapf(err, "creating name heap of %s", childPath)
	}
	idx, err := btree.NewGroupIndex(f.alloc, f.writer, hp, btree.IndexConfig{
		Name:      base,
		LeafK:     int(f.sb.GroupLeafNodeK),
		InternalK: int(f.sb.GroupInternalNodeK),
		Log:       f.log.Logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating entry index of %s", childPath)
	}

	msgs := object.NewGroupMessages(idx.RootAddress(), hp.HeaderAddress())
	size := uint64(object.HeaderSize(f.writer, msgs, object.DefaultReserve))
	h := f.alloc.Allocate(fspace.KindObjectHeader, base, size)
	addr := f.alloc.Record(h).Offset
	if _, err := object.WriteHeader(f.writer, addr, msgs, object.DefaultReserve); err != nil {
		return nil, errors.Wrapf(err, "writing header of %s", childPath)
	}

	entry := btree.NewGroupEntry(addr, idx.RootAddress(), hp.HeaderAddress(), f.writer.OffsetSize())
	if err := gs.index.Insert(entry, name); err != nil {
		return nil, err
	}

	f.groups[addr] = &groupState{path: childPath, index: idx, heap: hp}
	f.bases[addr] = base
	f.log.WithField("path", childPath).Debug("created group")

	return &Group{
		file:      f,
		path:      childPath,
		addr:      addr,
		btreeAddr: idx.RootAddress(),
		heapAddr:  hp.HeaderAddress(),
	}, nil
}

// CreateSoftLink links name to a target path without requiring the
// target to exist. The target is stored as given; it resolves when
// the link is followed, so dangling links are legal.
func (g *Group) CreateSoftLink(target, name string) error {
	if err := g.file.checkWritable(); err != nil {
		return err
	}
	if err := checkLinkName(name); err != nil {
		return err
	}
	if target == "" {
		return errors.New("link target cannot be empty")
	}

	gs, err := g.state()
	if err != nil {
		return err
	}
	if err := g.checkAbsent(gs, name); err != nil {
		return err
	}
	off, err := gs.heap.Put(target)
	if err != nil {
		return errors.Wrapf(err, "storing link target of %s", name)
	}
	if err := gs.index.Insert(btree.NewSoftLinkEntry(off), name); err != nil {
		return err
	}
	g.file.log.WithField("path", JoinPath(g.path, name)).Debug("created soft link")
	return nil
}

// Remove unlinks the named entry from the group. The object's header
// and data stay in the file; only the directory entry goes away, and
// the space is not reclaimed. Removing a group does not touch its
// members, so objects reachable through another link stay reachable.
func (g *Group) Remove(name string) error {
	if err := g.file.checkWritable(); err != nil {
		return err
	}

	gs, err := g.state()
	if err != nil {
		return err
	}
	if err := gs.index.Remove(name); err != nil {
		return err
	}
	g.file.log.WithField("path", JoinPath(g.path, name)).Debug("removed link")
	return nil
}
