package btree

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	binpkg "github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/heap"
	"github.com/skalare/goh5/internal/logger"
)

var (
	// ErrExists rejects inserting a name already linked in the group.
	ErrExists = errors.New("name already linked")
	// ErrNotFound reports a name with no entry in the group.
	ErrNotFound = errors.New("name not linked")
)

// noSibling marks a missing sibling. Serialized as the undefined
// address for the configured offset size.
const noSibling = ^uint64(0)

var btreeSignature = []byte{'T', 'R', 'E', 'E'}

// indexNode is the in-memory form of a "TREE" node. children[i] holds
// names in (keys[i], keys[i+1]], resolved through the local heap;
// keys[0] is a lower bound, normally heap offset 0 (the empty
// string), and the trailing key is the subtree maximum.
type indexNode struct {
	handle      fspace.Handle
	offset      uint64
	level       uint8
	keys        []uint64
	children    []uint64
	left, right uint64
}

// IndexConfig carries the shape of a group index.
type IndexConfig struct {
	// Name prefixes the allocation records of nodes, for diagnostics.
	Name string
	// LeafK bounds symbol node occupancy: splits happen at 2K-1
	// entries. InternalK bounds tree node fan-out the same way.
	LeafK     int
	InternalK int
	// RootAt pins the root node to a fixed offset when nonzero; the
	// root never moves afterwards, so the owning group's symbol table
	// message stays valid across splits.
	RootAt uint64
	Log    *logrus.Logger
}

// GroupIndex is a v1 group B-tree open for modification. Lookups
// binary-search keys resolved through the group's local heap; inserts
// split full blocks top-down on the way to the target symbol node.
// Not safe for concurrent use.
type GroupIndex struct {
	alloc     *fspace.Allocator
	w         *binpkg.Writer
	hp        *heap.LocalHeapWriter
	name      string
	leafK     int
	internalK int
	root      *indexNode
	nodes     map[uint64]*indexNode
	snods     map[uint64]*symbolNode
	log       *logrus.Entry
	seq       int
}

func treeNodeSize(internalK, offsetSize, lengthSize int) uint64 {
	// signature + type + level + entries used + two siblings, then
	// 2K+1 key slots interleaved with 2K child slots
	return uint64(4+1+1+2+2*offsetSize) +
		uint64(2*internalK+1)*uint64(lengthSize) +
		uint64(2*internalK)*uint64(offsetSize)
}

// NewGroupIndex creates an empty index: a single level-0 root with no
// symbol nodes. The root is written immediately.
func NewGroupIndex(alloc *fspace.Allocator, w *binpkg.Writer, hp *heap.LocalHeapWriter, cfg IndexConfig) (*GroupIndex, error) {
	t, err := newGroupIndex(alloc, w, hp, cfg)
	if err != nil {
		return nil, err
	}
	size := treeNodeSize(t.internalK, w.OffsetSize(), w.LengthSize())
	var h fspace.Handle
	if cfg.RootAt != 0 {
		h = alloc.ReserveAt(fspace.KindBTreeNode, t.recordName("b-tree node"), cfg.RootAt, size)
	} else {
		h = alloc.Allocate(fspace.KindBTreeNode, t.recordName("b-tree node"), size)
	}
	t.root = &indexNode{
		handle: h,
		offset: alloc.Record(h).Offset,
		keys:   []uint64{0},
		left:   noSibling,
		right:  noSibling,
	}
	t.nodes[t.root.offset] = t.root
	return t, t.writeNode(t.root)
}

// OpenGroupIndex loads an existing tree rooted at rootAddr, registers
// every node and symbol node with the allocator at its on-disk range,
// and returns the index ready for modification.
func OpenGroupIndex(alloc *fspace.Allocator, w *binpkg.Writer, r *binpkg.Reader, hp *heap.LocalHeapWriter, rootAddr uint64, cfg IndexConfig) (*GroupIndex, error) {
	t, err := newGroupIndex(alloc, w, hp, cfg)
	if err != nil {
		return nil, err
	}
	t.root, err = t.loadNode(r, rootAddr)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newGroupIndex(alloc *fspace.Allocator, w *binpkg.Writer, hp *heap.LocalHeapWriter, cfg IndexConfig) (*GroupIndex, error) {
	if cfg.LeafK < 2 || cfg.InternalK < 2 {
		return nil, errors.Errorf("group index order (%d, %d) below minimum 2", cfg.LeafK, cfg.InternalK)
	}
	return &GroupIndex{
		alloc:     alloc,
		w:         w,
		hp:        hp,
		name:      cfg.Name,
		leafK:     cfg.LeafK,
		internalK: cfg.InternalK,
		nodes:     make(map[uint64]*indexNode),
		snods:     make(map[uint64]*symbolNode),
		log:       logger.Named(cfg.Log, "btree"),
	}, nil
}

func (t *GroupIndex) recordName(kind string) string {
	name := fmt.Sprintf("%s %s %d", t.name, kind, t.seq)
	t.seq++
	return name
}

// RootAddress returns the root node's file offset, the value a symbol
// table message points at. It never changes: splits grow the tree by
// moving the old root's content into a fresh node below it.
func (t *GroupIndex) RootAddress() uint64 {
	return t.root.offset
}

func (t *GroupIndex) nameAt(offset uint64) (string, error) {
	return t.hp.StringAt(offset)
}

// findChild returns the index of the child whose range covers name,
// or -1 when name is past the subtree maximum.
func (t *GroupIndex) findChild(n *indexNode, name string) (int, error) {
	var resolveErr error
	j := sort.Search(len(n.children), func(i int) bool {
		if resolveErr != nil {
			return true
		}
		upper, err := t.nameAt(n.keys[i+1])
		if err != nil {
			resolveErr = err
			return true
		}
		return name <= upper
	})
	if resolveErr != nil {
		return 0, resolveErr
	}
	if j == len(n.children) {
		return -1, nil
	}
	return j, nil
}

// findEntry returns the position of name in the symbol node and
// whether it is present; absent names report their insertion point.
func (t *GroupIndex) findEntry(s *symbolNode, name string) (int, bool, error) {
	var resolveErr error
	j := sort.Search(len(s.entries), func(i int) bool {
		if resolveErr != nil {
			return true
		}
		entryName, err := t.nameAt(s.entries[i].LinkNameOffset)
		if err != nil {
			resolveErr = err
			return true
		}
		return entryName >= name
	})
	if resolveErr != nil {
		return 0, false, resolveErr
	}
	if j < len(s.entries) {
		entryName, err := t.nameAt(s.entries[j].LinkNameOffset)
		if err != nil {
			return 0, false, err
		}
		if entryName == name {
			return j, true, nil
		}
	}
	return j, false, nil
}

// Find returns a copy of the entry linked under name.
func (t *GroupIndex) Find(name string) (*SymbolTableEntry, error) {
	n := t.root
	for {
		j, err := t.findChild(n, name)
		if err != nil {
			return nil, err
		}
		if j < 0 {
			return nil, errors.Wrap(ErrNotFound, name)
		}
		if n.level == 0 {
			s := t.snods[n.children[j]]
			if s == nil {
				return nil, errors.Errorf("symbol node at %d not loaded", n.children[j])
			}
			i, found, err := t.findEntry(s, name)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, errors.Wrap(ErrNotFound, name)
			}
			e := s.entries[i]
			return &e, nil
		}
		next := t.nodes[n.children[j]]
		if next == nil {
			return nil, errors.Errorf("b-tree node at %d not loaded", n.children[j])
		}
		n = next
	}
}

// Insert links e under name. The name is placed in the local heap and
// e's link name offset is set to it. Full blocks along the descent are
// split before they are entered, so the walk never backtracks.
func (t *GroupIndex) Insert(e SymbolTableEntry, name string) error {
	if name == "" {
		return errors.New("empty link name")
	}
	if _, err := t.Find(name); err == nil {
		return errors.Wrap(ErrExists, name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	nameOff, err := t.hp.Put(name)
	if err != nil {
		return err
	}
	e.LinkNameOffset = nameOff

	if t.full(t.root) {
		if err := t.splitRoot(); err != nil {
			return err
		}
	}
	if err := t.insertInto(t.root, name, nameOff, e); err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{
		"name": name, "header": e.HeaderAddress, "cache": e.CacheType,
	}).Debugf("insert into %s", t.name)
	return nil
}

func (t *GroupIndex) full(n *indexNode) bool {
	return len(n.children) == 2*t.internalK-1
}

func (t *GroupIndex) insertInto(n *indexNode, name string, nameOff uint64, e SymbolTableEntry) error {
	if n.level == 0 && len(n.children) == 0 {
		s, err := t.newSymbolNode()
		if err != nil {
			return err
		}
		s.entries = append(s.entries, e)
		n.children = []uint64{s.offset}
		n.keys = append(n.keys, nameOff)
		if err := s.write(t.w, t.leafK); err != nil {
			return err
		}
		return t.writeNode(n)
	}

	j, err := t.findChild(n, name)
	if err != nil {
		return err
	}
	if j < 0 {
		// Past the maximum: the rightmost child takes it and the
		// trailing key becomes the new maximum.
		j = len(n.children) - 1
		n.keys[len(n.keys)-1] = nameOff
		if err := t.writeNode(n); err != nil {
			return err
		}
	}

	if n.level > 0 {
		child := t.nodes[n.children[j]]
		if child == nil {
			return errors.Errorf("b-tree node at %d not loaded", n.children[j])
		}
		if t.full(child) {
			if err := t.splitNode(n, j); err != nil {
				return err
			}
			if j, err = t.repick(n, j, name); err != nil {
				return err
			}
		}
		return t.insertInto(t.nodes[n.children[j]], name, nameOff, e)
	}

	s := t.snods[n.children[j]]
	if s == nil {
		return errors.Errorf("symbol node at %d not loaded", n.children[j])
	}
	if len(s.entries) == 2*t.leafK-1 {
		if err := t.splitSymbolNode(n, j); err != nil {
			return err
		}
		if j, err = t.repick(n, j, name); err != nil {
			return err
		}
		s = t.snods[n.children[j]]
	}
	i, found, err := t.findEntry(s, name)
	if err != nil {
		return err
	}
	if found {
		return errors.Wrap(ErrExists, name)
	}
	s.entries = slices.Insert(s.entries, i, e)
	return s.write(t.w, t.leafK)
}

// repick re-evaluates the child choice after child j was split: the
// separator now at keys[j+1] decides between the two halves.
func (t *GroupIndex) repick(n *indexNode, j int, name string) (int, error) {
	sep, err := t.nameAt(n.keys[j+1])
	if err != nil {
		return 0, err
	}
	if name > sep {
		return j + 1, nil
	}
	return j, nil
}

// splitRoot grows the tree by one level without moving the root: the
// root's content shifts into a fresh child, the root rises a level
// above it, and the overfull child is then split in place.
func (t *GroupIndex) splitRoot() error {
	moved, err := t.newNode(t.root.level)
	if err != nil {
		return err
	}
	moved.keys = t.root.keys
	moved.children = t.root.children

	t.root.level++
	t.root.keys = []uint64{moved.keys[0], moved.keys[len(moved.keys)-1]}
	t.root.children = []uint64{moved.offset}
	if err := t.writeNode(moved); err != nil {
		return err
	}
	return t.splitNode(t.root, 0)
}

// splitNode replaces the full child at position j with two halves and
// promotes the separating key. The left half keeps K children.
func (t *GroupIndex) splitNode(parent *indexNode, j int) error {
	child := t.nodes[parent.children[j]]
	if child == nil {
		return errors.Errorf("b-tree node at %d not loaded", parent.children[j])
	}
	k := t.internalK
	right, err := t.newNode(child.level)
	if err != nil {
		return err
	}
	right.children = append([]uint64(nil), child.children[k:]...)
	right.keys = append([]uint64(nil), child.keys[k:]...)
	sep := child.keys[k]
	child.children = append([]uint64(nil), child.children[:k]...)
	child.keys = append([]uint64(nil), child.keys[:k+1]...)

	right.left, right.right = child.offset, child.right
	if child.right != noSibling {
		if after := t.nodes[child.right]; after != nil {
			after.left = right.offset
			if err := t.writeNode(after); err != nil {
				return err
			}
		}
	}
	child.right = right.offset

	parent.keys = slices.Insert(parent.keys, j+1, sep)
	parent.children = slices.Insert(parent.children, j+1, right.offset)

	t.log.WithFields(logrus.Fields{
		"left": child.offset, "right": right.offset, "level": child.level,
	}).Debugf("split node in %s", t.name)
	if err := t.writeNode(child); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	return t.writeNode(parent)
}

// splitSymbolNode replaces the full symbol node at position j with
// two halves around the median entry, which stays in the left half
// and lends its name as the promoted separator.
func (t *GroupIndex) splitSymbolNode(parent *indexNode, j int) error {
	s := t.snods[parent.children[j]]
	if s == nil {
		return errors.Errorf("symbol node at %d not loaded", parent.children[j])
	}
	mid := len(s.entries) / 2
	right, err := t.newSymbolNode()
	if err != nil {
		return err
	}
	right.entries = append([]SymbolTableEntry(nil), s.entries[mid+1:]...)
	sep := s.entries[mid].LinkNameOffset
	s.entries = append([]SymbolTableEntry(nil), s.entries[:mid+1]...)

	parent.keys = slices.Insert(parent.keys, j+1, sep)
	parent.children = slices.Insert(parent.children, j+1, right.offset)

	t.log.WithFields(logrus.Fields{
		"left": s.offset, "right": right.offset,
	}).Debugf("split symbol node in %s", t.name)
	if err := s.write(t.w, t.leafK); err != nil {
		return err
	}
	if err := right.write(t.w, t.leafK); err != nil {
		return err
	}
	return t.writeNode(parent)
}

// Remove unlinks name from its symbol node. Underfull nodes are left
// as they are: removal never rebalances, so the minimum-occupancy
// bound holds only for trees built by insertion.
func (t *GroupIndex) Remove(name string) error {
	n := t.root
	for {
		j, err := t.findChild(n, name)
		if err != nil {
			return err
		}
		if j < 0 {
			return errors.Wrap(ErrNotFound, name)
		}
		if n.level > 0 {
			next := t.nodes[n.children[j]]
			if next == nil {
				return errors.Errorf("b-tree node at %d not loaded", n.children[j])
			}
			n = next
			continue
		}
		s := t.snods[n.children[j]]
		if s == nil {
			return errors.Errorf("symbol node at %d not loaded", n.children[j])
		}
		i, found, err := t.findEntry(s, name)
		if err != nil {
			return err
		}
		if !found {
			return errors.Wrap(ErrNotFound, name)
		}
		s.entries = slices.Delete(s.entries, i, i+1)
		t.log.WithField("name", name).Debugf("remove from %s", t.name)
		return s.write(t.w, t.leafK)
	}
}

// Entries returns every entry in name order.
func (t *GroupIndex) Entries() ([]SymbolTableEntry, error) {
	var out []SymbolTableEntry
	var walk func(n *indexNode) error
	walk = func(n *indexNode) error {
		for _, child := range n.children {
			if n.level > 0 {
				next := t.nodes[child]
				if next == nil {
					return errors.Errorf("b-tree node at %d not loaded", child)
				}
				if err := walk(next); err != nil {
					return err
				}
				continue
			}
			s := t.snods[child]
			if s == nil {
				return errors.Errorf("symbol node at %d not loaded", child)
			}
			out = append(out, s.entries...)
		}
		return nil
	}
	if err := walk(t.root); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyRelocation moves a symbol node the allocator displaced: the
// node is rewritten at its new offset and the parent pointer patched.
// The first return reports whether the node belonged to this index.
func (t *GroupIndex) ApplyRelocation(rel fspace.Relocation) (bool, error) {
	s := t.snods[rel.OldOffset]
	if s == nil {
		return false, nil
	}
	delete(t.snods, rel.OldOffset)
	s.offset = rel.NewOffset
	t.snods[rel.NewOffset] = s

	for _, n := range t.nodes {
		if n.level != 0 {
			continue
		}
		if i := slices.Index(n.children, rel.OldOffset); i >= 0 {
			n.children[i] = rel.NewOffset
			if err := t.writeNode(n); err != nil {
				return true, err
			}
			t.log.WithFields(logrus.Fields{
				"from": rel.OldOffset, "to": rel.NewOffset,
			}).Debugf("relocate symbol node in %s", t.name)
			return true, s.write(t.w, t.leafK)
		}
	}
	return true, errors.Errorf("no parent references symbol node at %d", rel.OldOffset)
}

func (t *GroupIndex) newNode(level uint8) (*indexNode, error) {
	size := treeNodeSize(t.internalK, t.w.OffsetSize(), t.w.LengthSize())
	h := t.alloc.Allocate(fspace.KindBTreeNode, t.recordName("b-tree node"), size)
	n := &indexNode{
		handle: h,
		offset: t.alloc.Record(h).Offset,
		level:  level,
		left:   noSibling,
		right:  noSibling,
	}
	t.nodes[n.offset] = n
	return n, nil
}

func (t *GroupIndex) newSymbolNode() (*symbolNode, error) {
	size := symbolNodeSize(t.leafK, t.w.OffsetSize())
	h := t.alloc.Allocate(fspace.KindSNOD, t.recordName("symbol node"), size)
	s := &symbolNode{handle: h, offset: t.alloc.Record(h).Offset}
	t.snods[s.offset] = s
	return s, nil
}

func (t *GroupIndex) writeNode(n *indexNode) error {
	nw := t.w.At(int64(n.offset))
	if err := nw.WriteBytes(btreeSignature); err != nil {
		return errors.Wrapf(err, "writing b-tree node at %d", n.offset)
	}
	if err := nw.WriteUint8(0); err != nil { // node type: group
		return err
	}
	if err := nw.WriteUint8(n.level); err != nil {
		return err
	}
	if err := nw.WriteUint16(uint16(len(n.children))); err != nil {
		return err
	}
	for _, sibling := range []uint64{n.left, n.right} {
		if sibling == noSibling {
			if err := nw.WriteUndefinedOffset(); err != nil {
				return err
			}
		} else if err := nw.WriteOffset(sibling); err != nil {
			return err
		}
	}
	for i, child := range n.children {
		if err := nw.WriteLength(n.keys[i]); err != nil {
			return err
		}
		if err := nw.WriteOffset(child); err != nil {
			return err
		}
	}
	if err := nw.WriteLength(n.keys[len(n.keys)-1]); err != nil {
		return err
	}
	size := treeNodeSize(t.internalK, nw.OffsetSize(), nw.LengthSize())
	written := uint64(8+2*nw.OffsetSize()) +
		uint64(len(n.children))*uint64(nw.OffsetSize()+nw.LengthSize()) +
		uint64(nw.LengthSize())
	return nw.WriteZeros(int(size - written))
}

func (t *GroupIndex) loadNode(r *binpkg.Reader, address uint64) (*indexNode, error) {
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
		return nil, err
	}
	if nodeType != 0 {
		return nil, errors.Errorf("b-tree node at %d has type %d, expected group", address, nodeType)
	}
	level, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	used, err := nr.ReadUint16()
	if err != nil {
		return nil, err
	}

	n := &indexNode{level: level, left: noSibling, right: noSibling}
	for _, sibling := range []*uint64{&n.left, &n.right} {
		v, err := nr.ReadOffset()
		if err != nil {
			return nil, err
		}
		if !nr.IsUndefinedOffset(v) {
			*sibling = v
		}
	}
	for i := uint16(0); i < used; i++ {
		key, err := nr.ReadLength()
		if err != nil {
			return nil, err
		}
		child, err := nr.ReadOffset()
		if err != nil {
			return nil, err
		}
		n.keys = append(n.keys, key)
		n.children = append(n.children, child)
	}
	trailing, err := nr.ReadLength()
	if err != nil {
		return nil, err
	}
	n.keys = append(n.keys, trailing)

	n.offset = address
	size := treeNodeSize(t.internalK, t.w.OffsetSize(), t.w.LengthSize())
	n.handle = t.alloc.ReserveAt(fspace.KindBTreeNode, t.recordName("b-tree node"), address, size)
	t.nodes[address] = n

	for _, child := range n.children {
		if level == 0 {
			if err := t.loadSymbolNode(r, child); err != nil {
				return nil, err
			}
		} else if _, err := t.loadNode(r, child); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (t *GroupIndex) loadSymbolNode(r *binpkg.Reader, address uint64) error {
	s, err := readSymbolNode(r, address)
	if err != nil {
		return err
	}
	s.handle = t.alloc.ReserveAt(fspace.KindSNOD, t.recordName("symbol node"),
		address, symbolNodeSize(t.leafK, t.w.OffsetSize()))
	t.snods[address] = s
	return nil
}
