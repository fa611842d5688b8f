package btree

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/heap"
)

func newIndexTestFile(t *testing.T) (*fspace.Allocator, *binary.Writer, *binary.Reader, *heap.LocalHeapWriter) {
	t.Helper()
	buf := binary.NewBuffer(0)
	cfg := binary.DefaultConfig()
	w := binary.NewWriter(buf, cfg)
	r := binary.NewReader(buf, cfg)
	alloc := fspace.New()
	hp, err := heap.NewLocalHeapWriter(alloc, w, "/", 256)
	require.NoError(t, err)
	return alloc, w, r, hp
}

func TestGroupIndexEmptyTree(t *testing.T) {
	alloc, w, _, hp := newIndexTestFile(t)
	idx, err := NewGroupIndex(alloc, w, hp, IndexConfig{Name: "/", LeafK: 4, InternalK: 16})
	require.NoError(t, err)

	_, err = idx.Find("anything")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, idx.Remove("anything"), ErrNotFound)

	entries, err := idx.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestGroupIndexInsertAndFind(t *testing.T) {
	alloc, w, _, hp := newIndexTestFile(t)
	idx, err := NewGroupIndex(alloc, w, hp, IndexConfig{Name: "/", LeafK: 4, InternalK: 16})
	require.NoError(t, err)

	require.NoError(t, idx.Insert(NewObjectEntry(1000), "temperature"))
	require.NoError(t, idx.Insert(NewObjectEntry(2000), "pressure"))
	require.NoError(t, idx.Insert(NewGroupEntry(3000, 4000, 5000, w.OffsetSize()), "readings"))

	e, err := idx.Find("pressure")
	require.NoError(t, err)
	require.Equal(t, uint64(2000), e.HeaderAddress)
	require.Equal(t, uint32(0), e.CacheType)

	e, err = idx.Find("readings")
	require.NoError(t, err)
	require.Equal(t, uint64(3000), e.HeaderAddress)
	require.Equal(t, uint32(1), e.CacheType)

	// Find hands out a copy, not the stored entry.
	e.HeaderAddress = 999
	again, err := idx.Find("readings")
	require.NoError(t, err)
	require.Equal(t, uint64(3000), again.HeaderAddress)

	err = idx.Insert(NewObjectEntry(6000), "pressure")
	require.ErrorIs(t, err, ErrExists)

	require.Error(t, idx.Insert(NewObjectEntry(7000), ""))
}

// Four inserts at order 2 overflow the first symbol node: the median
// name is promoted into the parent and the node splits around it.
func TestGroupIndexSplitPromotesMedian(t *testing.T) {
	alloc, w, _, hp := newIndexTestFile(t)
	idx, err := NewGroupIndex(alloc, w, hp, IndexConfig{Name: "/", LeafK: 2, InternalK: 4})
	require.NoError(t, err)

	for i, name := range []string{"alice", "bob", "charlie", "david"} {
		require.NoError(t, idx.Insert(NewObjectEntry(uint64(1000+i)), name))
	}

	require.Equal(t, uint8(0), idx.root.level)
	require.Len(t, idx.root.children, 2)

	left := idx.snods[idx.root.children[0]]
	right := idx.snods[idx.root.children[1]]
	require.Equal(t, []string{"alice", "bob"}, symbolNames(t, idx, left))
	require.Equal(t, []string{"charlie", "david"}, symbolNames(t, idx, right))

	// keys[0] is the empty lower bound; the others are the per-child
	// maxima: "bob" separates the halves, "david" closes the node.
	require.Equal(t, uint64(0), idx.root.keys[0])
	sep, err := hp.StringAt(idx.root.keys[1])
	require.NoError(t, err)
	require.Equal(t, "bob", sep)
	max, err := hp.StringAt(idx.root.keys[2])
	require.NoError(t, err)
	require.Equal(t, "david", max)

	for i, name := range []string{"alice", "bob", "charlie", "david"} {
		e, err := idx.Find(name)
		require.NoError(t, err)
		require.Equal(t, uint64(1000+i), e.HeaderAddress)
	}
}

func symbolNames(t *testing.T, idx *GroupIndex, s *symbolNode) []string {
	t.Helper()
	require.NotNil(t, s)
	var names []string
	for _, e := range s.entries {
		name, err := idx.hp.StringAt(e.LinkNameOffset)
		require.NoError(t, err)
		names = append(names, name)
	}
	return names
}

func TestGroupIndexDeepTreeOrder(t *testing.T) {
	alloc, w, _, hp := newIndexTestFile(t)
	idx, err := NewGroupIndex(alloc, w, hp, IndexConfig{Name: "/", LeafK: 2, InternalK: 2})
	require.NoError(t, err)
	rootAddr := idx.RootAddress()

	names := make([]string, 64)
	for i := range names {
		names[i] = fmt.Sprintf("link-%02d", i)
	}
	rng := rand.New(rand.NewSource(42))
	shuffled := append([]string(nil), names...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for i, name := range shuffled {
		require.NoError(t, idx.Insert(NewObjectEntry(uint64(10000+i)), name))
	}

	// The root never moves, no matter how many splits happen under it.
	require.Equal(t, rootAddr, idx.RootAddress())
	require.Greater(t, idx.root.level, uint8(0))

	entries, err := idx.Entries()
	require.NoError(t, err)
	require.Len(t, entries, len(names))
	var got []string
	for _, e := range entries {
		name, err := hp.StringAt(e.LinkNameOffset)
		require.NoError(t, err)
		got = append(got, name)
	}
	require.True(t, sort.StringsAreSorted(got), "entries out of order: %v", got)
	require.Equal(t, names, got)

	for _, name := range names {
		_, err := idx.Find(name)
		require.NoError(t, err, "lost %q", name)
	}

	// Occupancy stays within split bounds: symbol nodes and non-root
	// tree nodes never exceed 2K-1 slots and keep at least K-1 after
	// a split hands the smaller half to the right sibling.
	for _, s := range idx.snods {
		require.GreaterOrEqual(t, len(s.entries), 1)
		require.LessOrEqual(t, len(s.entries), 3)
	}
	for _, n := range idx.nodes {
		require.LessOrEqual(t, len(n.children), 3)
		require.Len(t, n.keys, len(n.children)+1)
		if n.offset != idx.RootAddress() {
			require.GreaterOrEqual(t, len(n.children), 1)
		}
	}

	// The sibling chain at each level visits the same nodes as an
	// in-order walk of the parents.
	byLevel := make(map[uint8][]uint64)
	var collect func(n *indexNode)
	collect = func(n *indexNode) {
		byLevel[n.level] = append(byLevel[n.level], n.offset)
		if n.level == 0 {
			return
		}
		for _, child := range n.children {
			collect(idx.nodes[child])
		}
	}
	collect(idx.root)
	for level, want := range byLevel {
		if level == idx.root.level {
			continue
		}
		var chain []uint64
		for off := want[0]; off != noSibling; off = idx.nodes[off].right {
			chain = append(chain, off)
		}
		require.Equal(t, want, chain, "sibling chain broken at level %d", level)
	}
}

func TestGroupIndexRemove(t *testing.T) {
	alloc, w, _, hp := newIndexTestFile(t)
	idx, err := NewGroupIndex(alloc, w, hp, IndexConfig{Name: "/", LeafK: 2, InternalK: 4})
	require.NoError(t, err)

	names := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for i, name := range names {
		require.NoError(t, idx.Insert(NewObjectEntry(uint64(100+i)), name))
	}

	require.NoError(t, idx.Remove("beta"))
	_, err = idx.Find("beta")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, idx.Remove("beta"), ErrNotFound)

	require.NoError(t, idx.Remove("epsilon"))

	entries, err := idx.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// A removed name can be linked again.
	require.NoError(t, idx.Insert(NewObjectEntry(900), "beta"))
	e, err := idx.Find("beta")
	require.NoError(t, err)
	require.Equal(t, uint64(900), e.HeaderAddress)
}

func TestGroupIndexOpenRoundTrip(t *testing.T) {
	alloc, w, r, hp := newIndexTestFile(t)
	cfg := IndexConfig{Name: "/", LeafK: 2, InternalK: 2}
	idx, err := NewGroupIndex(alloc, w, hp, cfg)
	require.NoError(t, err)

	var names []string
	for i := 0; i < 24; i++ {
		name := fmt.Sprintf("series-%02d", i)
		names = append(names, name)
		require.NoError(t, idx.Insert(NewObjectEntry(uint64(500+i)), name))
	}
	require.NoError(t, hp.Flush())

	// Reopen against the same bytes with a fresh allocator, the way a
	// writable open resumes a file.
	alloc2 := fspace.Resume(alloc.EndOfFile())
	lh, err := heap.ReadLocalHeap(r, hp.HeaderAddress())
	require.NoError(t, err)
	hp2, err := heap.ResumeLocalHeapWriter(alloc2, w, "/", hp.HeaderAddress(), lh)
	require.NoError(t, err)
	idx2, err := OpenGroupIndex(alloc2, w, r, hp2, idx.RootAddress(), cfg)
	require.NoError(t, err)

	for i, name := range names {
		e, err := idx2.Find(name)
		require.NoError(t, err, "lost %q after reopen", name)
		require.Equal(t, uint64(500+i), e.HeaderAddress)
	}

	require.NoError(t, idx2.Insert(NewObjectEntry(9999), "series-99"))
	e, err := idx2.Find("series-99")
	require.NoError(t, err)
	require.Equal(t, uint64(9999), e.HeaderAddress)

	entries, err := idx2.Entries()
	require.NoError(t, err)
	require.Len(t, entries, len(names)+1)
}

// A tree produced by the writer must read back through the plain
// entry walker, names resolved against the flushed local heap.
func TestGroupIndexReaderCompat(t *testing.T) {
	alloc, w, r, hp := newIndexTestFile(t)
	idx, err := NewGroupIndex(alloc, w, hp, IndexConfig{Name: "/", LeafK: 4, InternalK: 2})
	require.NoError(t, err)

	var names []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("run-%02d", i)
		names = append(names, name)
		require.NoError(t, idx.Insert(NewObjectEntry(uint64(3000+i)), name))
	}

	target, err := hp.Put("/runs/current")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(NewSoftLinkEntry(target), "latest"))
	require.NoError(t, hp.Flush())

	lh, err := heap.ReadLocalHeap(r, hp.HeaderAddress())
	require.NoError(t, err)
	entries, err := ReadGroupEntries(r, idx.RootAddress(), lh)
	require.NoError(t, err)
	require.Len(t, entries, len(names)+1)

	byName := make(map[string]GroupEntry, len(entries))
	var order []string
	for _, e := range entries {
		byName[e.Name] = e
		order = append(order, e.Name)
	}
	require.True(t, sort.StringsAreSorted(order), "walker out of order: %v", order)

	for i, name := range names {
		e, ok := byName[name]
		require.True(t, ok, "walker missed %q", name)
		require.Equal(t, uint64(3000+i), e.HeaderAddress)
		require.False(t, e.Soft)
	}

	link, ok := byName["latest"]
	require.True(t, ok)
	require.True(t, link.Soft)
	require.Equal(t, "/runs/current", link.LinkTarget)
	require.Equal(t, uint64(0), link.HeaderAddress)
}

func TestGroupIndexApplyRelocation(t *testing.T) {
	alloc, w, r, hp := newIndexTestFile(t)
	idx, err := NewGroupIndex(alloc, w, hp, IndexConfig{Name: "/", LeafK: 4, InternalK: 16})
	require.NoError(t, err)

	for i, name := range []string{"one", "two", "three"} {
		require.NoError(t, idx.Insert(NewObjectEntry(uint64(100+i)), name))
	}

	var snodOffset uint64
	for off := range idx.snods {
		snodOffset = off
	}
	size := symbolNodeSize(4, w.OffsetSize())
	rel := fspace.Relocation{
		Kind:      fspace.KindSNOD,
		OldOffset: snodOffset,
		NewOffset: snodOffset + 8192,
		Size:      size,
	}

	// A relocation for a node this index does not own is ignored.
	owned, err := idx.ApplyRelocation(fspace.Relocation{OldOffset: 1, NewOffset: 2})
	require.NoError(t, err)
	require.False(t, owned)

	owned, err = idx.ApplyRelocation(rel)
	require.NoError(t, err)
	require.True(t, owned)
	require.Equal(t, rel.NewOffset, idx.root.children[0])

	e, err := idx.Find("two")
	require.NoError(t, err)
	require.Equal(t, uint64(101), e.HeaderAddress)

	// The rewritten tree reads back from the new location.
	require.NoError(t, hp.Flush())
	lh, err := heap.ReadLocalHeap(r, hp.HeaderAddress())
	require.NoError(t, err)
	entries, err := ReadGroupEntries(r, idx.RootAddress(), lh)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
