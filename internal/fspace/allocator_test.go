package fspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func requireDisjoint(t *testing.T, a *Allocator) {
	t.Helper()
	recs := a.Records()
	for i := 0; i < len(recs); i++ {
		for j := i + 1; j < len(recs); j++ {
			ri, rj := recs[i], recs[j]
			require.False(t, ri.intersects(rj.Offset, rj.Size),
				"%s %q [%d,%d) overlaps %s %q [%d,%d)",
				ri.Kind, ri.Name, ri.Offset, ri.End(), rj.Kind, rj.Name, rj.Offset, rj.End())
		}
	}
}

func requireInvariantPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		err, ok := recover().(error)
		require.True(t, ok, "expected a panic carrying an error")
		var invErr *InvariantError
		require.ErrorAs(t, err, &invErr)
	}()
	fn()
}

func TestAllocateRegions(t *testing.T) {
	a := New()

	header := a.Allocate(KindObjectHeader, "/temps header", 272)
	require.Equal(t, uint64(800), a.Record(header).Offset)

	data := a.Allocate(KindDatasetData, "/temps data", 1000)
	require.Equal(t, uint64(2048), a.Record(data).Offset)

	md, d := a.Frontiers()
	require.Equal(t, uint64(1072), md)
	require.Equal(t, uint64(3048), d)
	require.Equal(t, uint64(3048), a.EndOfFile())
	requireDisjoint(t, a)
}

func TestDataFrontierAdvancesBySize(t *testing.T) {
	a := New()
	first := a.Allocate(KindDatasetData, "first", 1000)
	second := a.Allocate(KindDatasetData, "second", 100)
	require.Equal(t, uint64(2048), a.Record(first).Offset)
	require.Equal(t, uint64(3048), a.Record(second).Offset)
}

func TestReserveAtPinsPreamble(t *testing.T) {
	a := New()
	sb := a.ReserveAt(KindSuperblock, "superblock", 0, 96)
	root := a.ReserveAt(KindObjectHeader, "/ header", 96, 128)
	require.Equal(t, uint64(0), a.Record(sb).Offset)
	require.Equal(t, uint64(96), a.Record(root).Offset)

	// The frontier is unaffected by preamble reservations.
	h := a.Allocate(KindObjectHeader, "/x header", 64)
	require.Equal(t, uint64(800), a.Record(h).Offset)

	requireInvariantPanic(t, func() {
		a.ReserveAt(KindBTreeNode, "/ b-tree", 90, 160)
	})
}

func TestProbeSkipsToNextBoundary(t *testing.T) {
	a := New()
	a.Allocate(KindDatasetData, "blob", 1000) // [2048,3048)

	// A metadata range reaching into the blob jumps past it, boundary
	// by boundary.
	h := a.Allocate(KindObjectHeader, "wide header", 1500)
	require.Equal(t, uint64(4096), a.Record(h).Offset)
	requireDisjoint(t, a)
}

func TestResyncKeepsSmallFilesCompact(t *testing.T) {
	a := New()
	a.Allocate(KindObjectHeader, "wide header", 1500) // [800,2300)

	_, d := a.Frontiers()
	require.Equal(t, uint64(2300), d, "data frontier follows metadata while no data exists")

	blob := a.Allocate(KindDatasetData, "blob", 100)
	require.Equal(t, uint64(2300), a.Record(blob).Offset)
	requireDisjoint(t, a)
}

func TestFrontiersNeverDecrease(t *testing.T) {
	a := New()
	steps := []func(){
		func() { a.ReserveAt(KindSuperblock, "superblock", 0, 96) },
		func() { a.Allocate(KindObjectHeader, "/a header", 272) },
		func() { a.Allocate(KindDatasetData, "/a data", 1000) },
		func() { a.Allocate(KindSNOD, "/ node 1", 328) },
		func() { a.Allocate(KindLocalHeap, "/ heap data", 256) },
		func() { a.Allocate(KindDatasetData, "/b data", 64) },
		func() { a.Allocate(KindObjectHeader, "/b header", 1500) },
	}

	prevMD, prevD := a.Frontiers()
	for _, step := range steps {
		step()
		md, d := a.Frontiers()
		require.GreaterOrEqual(t, md, prevMD)
		require.GreaterOrEqual(t, d, prevD)
		prevMD, prevD = md, d
	}
	requireDisjoint(t, a)
}

func TestGrowExtendsInPlace(t *testing.T) {
	a := New()
	cont := a.Allocate(KindHeaderContinuation, "/ continuation", 256)

	moved := a.Grow(cont, 512)
	require.Empty(t, moved)
	rec := a.Record(cont)
	require.Equal(t, uint64(800), rec.Offset)
	require.Equal(t, uint64(512), rec.Size)
}

func TestGrowRelocatesSymbolTableNode(t *testing.T) {
	a := New()
	cont := a.Allocate(KindHeaderContinuation, "/ continuation", 256) // [800,1056)
	snod := a.Allocate(KindSNOD, "/ node 1", 328)                     // [1056,1384)

	moved := a.Grow(cont, 512)
	require.Len(t, moved, 1)
	require.Equal(t, snod, moved[0].Handle)
	require.Equal(t, uint64(1056), moved[0].OldOffset)
	require.Equal(t, uint64(1312), moved[0].NewOffset, "node lands right past the grown extent")
	require.Equal(t, uint64(1312), a.Record(snod).Offset)
	requireDisjoint(t, a)
}

func TestGrowRelocatesNodeChain(t *testing.T) {
	a := New()
	cont := a.Allocate(KindHeaderContinuation, "/ continuation", 256) // [800,1056)
	first := a.Allocate(KindSNOD, "/ node 1", 328)                    // [1056,1384)
	second := a.Allocate(KindSNOD, "/ node 2", 328)                   // [1384,1712)

	moved := a.Grow(cont, 912) // extent [800,1712) swallows both
	require.Len(t, moved, 2)
	require.Equal(t, first, moved[0].Handle)
	require.Equal(t, second, moved[1].Handle)
	requireDisjoint(t, a)
}

func TestGrowCollisionIsFatal(t *testing.T) {
	a := New()
	cont := a.Allocate(KindHeaderContinuation, "/ continuation", 256)
	a.Allocate(KindObjectHeader, "/x header", 64)

	requireInvariantPanic(t, func() { a.Grow(cont, 512) })
}

func TestGrowShrinkIsFatal(t *testing.T) {
	a := New()
	cont := a.Allocate(KindHeaderContinuation, "/ continuation", 256)
	requireInvariantPanic(t, func() { a.Grow(cont, 128) })
	requireInvariantPanic(t, func() { a.Grow(cont, 256) })
}

func TestSupersedeAbandonsOldSegment(t *testing.T) {
	a := New()
	seg := a.Allocate(KindLocalHeap, "/ heap data", 256)
	old := a.Record(seg)

	repl := a.Supersede(seg, 512)
	require.Equal(t, KindLocalHeapAbandoned, a.Record(seg).Kind)
	require.Equal(t, uint64(512), a.Record(repl).Size)
	require.Equal(t, old.Name, a.Record(repl).Name)

	// The abandoned range stays occupied for the lifetime of the file.
	require.True(t, a.Overlaps(old.Offset, old.Size))
	requireDisjoint(t, a)
}

func TestSupersedeNonHeapIsFatal(t *testing.T) {
	a := New()
	h := a.Allocate(KindObjectHeader, "/x header", 64)
	requireInvariantPanic(t, func() { a.Supersede(h, 128) })
}

func TestDuplicateAllocationIsFatal(t *testing.T) {
	a := New()
	a.Allocate(KindObjectHeader, "/x header", 64)
	requireInvariantPanic(t, func() {
		a.Allocate(KindObjectHeader, "/x header", 64)
	})
}

func TestZeroSizeAllocationIsFatal(t *testing.T) {
	a := New()
	requireInvariantPanic(t, func() {
		a.Allocate(KindObjectHeader, "/x header", 0)
	})
}

func TestThirdGlobalHeapBlockIsFatal(t *testing.T) {
	a := New()
	a.Allocate(KindGlobalHeapFirst, "global heap block 1", 4096)
	a.Allocate(KindGlobalHeapSecond, "global heap block 2", 4096)

	requireInvariantPanic(t, func() {
		a.Allocate(KindGlobalHeapFirst, "global heap block 3", 4096)
	})
	requireInvariantPanic(t, func() {
		a.Allocate(KindGlobalHeapSecond, "global heap block 3", 4096)
	})
}

func TestInvalidHandleIsFatal(t *testing.T) {
	a := New()
	requireInvariantPanic(t, func() { a.Record(Handle(0)) })
	requireInvariantPanic(t, func() { a.Record(Handle(7)) })
}

func TestResumeStartsPastExistingBytes(t *testing.T) {
	a := Resume(5000)

	h := a.Allocate(KindObjectHeader, "/x header", 100)
	require.Equal(t, uint64(5000), a.Record(h).Offset)

	blob := a.Allocate(KindDatasetData, "/x data", 64)
	require.Equal(t, uint64(5100), a.Record(blob).Offset)
	requireDisjoint(t, a)
}
