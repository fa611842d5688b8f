package hdf5

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateGroup(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)

	root := mustRoot(t, f)
	g, err := root.CreateGroup("sensors")
	require.NoError(t, err)
	require.Equal(t, "/sensors", g.Path())
	require.Equal(t, "sensors", g.Name())

	members, err := root.Members()
	require.NoError(t, err)
	require.Equal(t, []string{"sensors"}, members)

	rf := reopen(t, f)
	g2, err := mustRoot(t, rf).Group("sensors")
	require.NoError(t, err)
	require.Equal(t, "/sensors", g2.Path())

	obj, err := rf.FindByPath("/sensors")
	require.NoError(t, err)
	require.True(t, obj.IsGroup())
	require.False(t, obj.IsDataset())
}

func TestCreateGroupPath(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)

	deep, err := f.CreateGroup("/a/b/c")
	require.NoError(t, err)
	require.Equal(t, "/a/b/c", deep.Path())

	// Existing prefixes are reused, not recreated.
	again, err := f.CreateGroup("/a/b")
	require.NoError(t, err)
	require.Equal(t, "/a/b", again.Path())

	sib, err := f.CreateGroup("/a/b/d")
	require.NoError(t, err)
	require.Equal(t, "/a/b/d", sib.Path())

	rf := reopen(t, f)
	b, err := mustRoot(t, rf).Group("a")
	require.NoError(t, err)
	bb, err := b.Group("b")
	require.NoError(t, err)
	members, err := bb.Members()
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, members)
}

func TestCreateGroupAcrossDataset(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	defer f.Close()

	_, err = mustRoot(t, f).CreateDataset("d", []int32{1})
	require.NoError(t, err)

	_, err = f.CreateGroup("/d/child")
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCreateGroupDuplicate(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	defer f.Close()

	root := mustRoot(t, f)
	_, err = root.CreateGroup("twice")
	require.NoError(t, err)
	_, err = root.CreateGroup("twice")
	require.ErrorIs(t, err, ErrExists)

	// Any entry kind occupies the name.
	_, err = root.CreateDataset("twice", []int32{1})
	require.ErrorIs(t, err, ErrExists)
	require.ErrorIs(t, root.CreateSoftLink("/x", "twice"), ErrExists)
}

func TestCreateGroupBadNames(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	defer f.Close()

	root := mustRoot(t, f)
	_, err = root.CreateGroup("")
	require.Error(t, err)
	_, err = root.CreateGroup("a/b")
	require.Error(t, err)
}

func TestGroupOfDatasetFails(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	_, err = mustRoot(t, f).CreateDataset("d", []int32{1})
	require.NoError(t, err)

	rf := reopen(t, f)
	_, err = mustRoot(t, rf).Group("d")
	require.ErrorIs(t, err, ErrTypeMismatch)

	g, err := mustRoot(t, rf).CreateGroup("g")
	require.ErrorIs(t, err, ErrReadOnly)
	require.Nil(t, g)
}

func TestManyGroupsSplitIndex(t *testing.T) {
	// Small ranks and a small heap force node splits and heap growth.
	f, err := Create(tempPath(t), WithGroupKeys(2, 2), WithLocalHeapSize(64))
	require.NoError(t, err)

	names := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		names = append(names, fmt.Sprintf("g%02d", i))
	}

	root := mustRoot(t, f)
	for i := len(names) - 1; i >= 0; i-- {
		_, err := root.CreateGroup(names[i])
		require.NoError(t, err)
	}

	members, err := root.Members()
	require.NoError(t, err)
	require.Equal(t, names, members)

	rf := reopen(t, f)
	root = mustRoot(t, rf)
	members, err = root.Members()
	require.NoError(t, err)
	require.Equal(t, names, members)

	for _, n := range names {
		g, err := root.Group(n)
		require.NoError(t, err)
		require.Equal(t, "/"+n, g.Path())
	}
}

func TestCreateSoftLink(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)

	root := mustRoot(t, f)
	_, err = root.CreateDataset("data", []int64{5, 6})
	require.NoError(t, err)
	require.NoError(t, root.CreateSoftLink("/data", "alias"))

	// Links resolve on the file being written.
	ds, err := root.Dataset("alias")
	require.NoError(t, err)
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6}, got)

	// Dangling targets are legal to create, they just fail to resolve.
	require.NoError(t, root.CreateSoftLink("/not/yet", "pending"))
	_, err = root.Dataset("pending")
	require.ErrorIs(t, err, ErrNotFound)

	members, err := root.Members()
	require.NoError(t, err)
	require.Equal(t, []string{"alias", "data", "pending"}, members)

	rf := reopen(t, f)
	root = mustRoot(t, rf)
	ds, err = root.Dataset("alias")
	require.NoError(t, err)
	got, err = ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6}, got)
	_, err = root.Dataset("pending")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSoftLinkRelativeTarget(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)

	g, err := mustRoot(t, f).CreateGroup("runs")
	require.NoError(t, err)
	_, err = g.CreateDataset("x", []float64{0.5})
	require.NoError(t, err)
	// A target without a leading slash resolves against the group the
	// link lives in.
	require.NoError(t, g.CreateSoftLink("x", "latest"))

	rf := reopen(t, f)
	g, err = mustRoot(t, rf).Group("runs")
	require.NoError(t, err)
	ds, err := g.Dataset("latest")
	require.NoError(t, err)
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []float64{0.5}, got)
}

func TestSoftLinkBadArguments(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	defer f.Close()

	root := mustRoot(t, f)
	require.Error(t, root.CreateSoftLink("", "l"))
	require.Error(t, root.CreateSoftLink("/x", ""))
	require.Error(t, root.CreateSoftLink("/x", "a/b"))
}

func TestRemove(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)

	root := mustRoot(t, f)
	_, err = root.CreateDataset("a", []int32{1})
	require.NoError(t, err)
	_, err = root.CreateDataset("b", []int32{2})
	require.NoError(t, err)

	require.NoError(t, root.Remove("a"))
	members, err := root.Members()
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)
	require.ErrorIs(t, root.Remove("a"), ErrNotFound)

	ds, err := root.Dataset("b")
	require.NoError(t, err)
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int32{2}, got)

	rf := reopen(t, f)
	root = mustRoot(t, rf)
	_, err = root.Dataset("a")
	require.ErrorIs(t, err, ErrNotFound)
	ds, err = root.Dataset("b")
	require.NoError(t, err)
	got, err = ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int32{2}, got)
}

func TestRemoveAndRecreate(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)

	root := mustRoot(t, f)
	_, err = root.CreateDataset("x", []int32{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, root.Remove("x"))

	// The name is free again; the new dataset is unrelated to the old
	// one, whose space stays allocated.
	_, err = root.CreateDataset("x", []int64{9})
	require.NoError(t, err)

	g, err := root.CreateGroup("g")
	require.NoError(t, err)
	_, err = g.CreateDataset("inner", []int32{4})
	require.NoError(t, err)
	require.NoError(t, root.Remove("g"))
	g2, err := root.CreateGroup("g")
	require.NoError(t, err)
	_, err = g2.CreateDataset("inner", []int32{5})
	require.NoError(t, err)

	rf := reopen(t, f)
	root = mustRoot(t, rf)
	ds, err := root.Dataset("x")
	require.NoError(t, err)
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int64{9}, got)

	g3, err := root.Group("g")
	require.NoError(t, err)
	ds, err = g3.Dataset("inner")
	require.NoError(t, err)
	got, err = ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int32{5}, got)
}

func TestRemovedGroupHandleStaysUsable(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	defer f.Close()

	root := mustRoot(t, f)
	g, err := root.CreateGroup("doomed")
	require.NoError(t, err)
	_, err = g.CreateDataset("kept", []int32{3})
	require.NoError(t, err)

	// Unlinking removes the directory entry, not the object.
	require.NoError(t, root.Remove("doomed"))
	ds, err := g.Dataset("kept")
	require.NoError(t, err)
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int32{3}, got)
}
