package hdf5

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skalare/goh5/internal/message"
	"github.com/skalare/goh5/internal/object"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data.h5")
}

func mustRoot(t *testing.T, f *File) *Group {
	t.Helper()
	root, err := f.RootGroup()
	require.NoError(t, err)
	return root
}

// reopen closes the writable file and opens it again read-only.
func reopen(t *testing.T, f *File) *File {
	t.Helper()
	path := f.Path()
	require.NoError(t, f.Close())
	rf, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { rf.Close() })
	return rf
}

func TestRoundTripTree(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)

	root := mustRoot(t, f)
	require.NoError(t, root.CreateAttribute("format", "sensor archive"))

	sensors, err := root.CreateGroup("sensors")
	require.NoError(t, err)
	temp, err := sensors.CreateGroup("temperature")
	require.NoError(t, err)

	_, err = temp.CreateDataset("celsius", []float64{21.5, 22.0, 21.8},
		WithAttribute("units", "degC"))
	require.NoError(t, err)
	_, err = temp.CreateDataset("counts", []int32{3, 1, 4, 1, 5})
	require.NoError(t, err)
	_, err = sensors.CreateDataset("labels", []string{"north", "south"})
	require.NoError(t, err)
	require.NoError(t, root.CreateSoftLink("/sensors/temperature", "temp"))

	rf := reopen(t, f)
	root = mustRoot(t, rf)

	members, err := root.Members()
	require.NoError(t, err)
	require.Equal(t, []string{"sensors", "temp"}, members)

	a, err := root.Attribute("format")
	require.NoError(t, err)
	v, err := a.Value()
	require.NoError(t, err)
	require.Equal(t, "sensor archive", v)

	temp2, err := root.Group("temp") // through the soft link
	require.NoError(t, err)
	ds, err := temp2.Dataset("celsius")
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, ds.Shape())
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []float64{21.5, 22.0, 21.8}, got)

	units, err := ds.Attribute("units")
	require.NoError(t, err)
	s, err := units.ReadString()
	require.NoError(t, err)
	require.Equal(t, "degC", s)

	counts, err := rf.FindByPath("/sensors/temperature/counts")
	require.NoError(t, err)
	require.True(t, counts.IsDataset())
	cds, err := counts.Dataset()
	require.NoError(t, err)
	ints, err := cds.ReadInt64s()
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1, 4, 1, 5}, ints)

	sg, err := mustRoot(t, rf).Group("sensors")
	require.NoError(t, err)
	lds, err := sg.Dataset("labels")
	require.NoError(t, err)
	strs, err := lds.ReadStrings()
	require.NoError(t, err)
	require.Equal(t, []string{"north", "south"}, strs)
}

func TestFindByPath(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	g, err := f.CreateGroup("/a/b")
	require.NoError(t, err)
	_, err = g.CreateDataset("d", []int64{1, 2})
	require.NoError(t, err)

	// Paths resolve on the file being written.
	obj, err := f.FindByPath("/a/b/d")
	require.NoError(t, err)
	require.True(t, obj.IsDataset())
	require.False(t, obj.IsGroup())
	require.Equal(t, "d", obj.Name())
	require.Equal(t, "/a/b/d", obj.Path())

	rf := reopen(t, f)

	obj, err = rf.FindByPath("/")
	require.NoError(t, err)
	require.True(t, obj.IsGroup())
	require.Equal(t, "/", obj.Name())

	obj, err = rf.FindByPath("/a/b")
	require.NoError(t, err)
	require.True(t, obj.IsGroup())
	gg, err := obj.Group()
	require.NoError(t, err)
	members, err := gg.Members()
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, members)

	// Sloppy paths normalize.
	obj, err = rf.FindByPath("//a//b/")
	require.NoError(t, err)
	require.Equal(t, "/a/b", obj.Path())

	_, err = rf.FindByPath("/a/missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = rf.FindByPath("/a/b/d/e")
	require.ErrorIs(t, err, ErrTypeMismatch)

	obj, err = rf.FindByPath("/a/b/d")
	require.NoError(t, err)
	_, err = obj.Group()
	require.ErrorIs(t, err, ErrTypeMismatch)
	obj, err = rf.FindByPath("/a")
	require.NoError(t, err)
	_, err = obj.Dataset()
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestOpenMappedReads(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path)
	require.NoError(t, err)
	_, err = mustRoot(t, f).CreateDataset("grid", [][]int32{{1, 2}, {3, 4}},
		WithAttribute("rows", int32(2)))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mf, err := OpenMapped(path)
	require.NoError(t, err)
	defer mf.Close()

	ds, err := mustRoot(t, mf).Dataset("grid")
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 2}, ds.Shape())
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3, 4}, got)

	a, err := ds.Attribute("rows")
	require.NoError(t, err)
	v, err := a.Value()
	require.NoError(t, err)
	require.Equal(t, int32(2), v)
}

func TestOpenWithCache(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path)
	require.NoError(t, err)
	root := mustRoot(t, f)
	for i := 0; i < 10; i++ {
		_, err = root.CreateDataset(fmt.Sprintf("d%d", i), []int32{int32(i)})
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	rf, err := Open(path, WithCache(256))
	require.NoError(t, err)
	defer rf.Close()

	// Repeated traversal reads the same headers again and again.
	for pass := 0; pass < 3; pass++ {
		for i := 0; i < 10; i++ {
			ds, err := mustRoot(t, rf).Dataset(fmt.Sprintf("d%d", i))
			require.NoError(t, err)
			got, err := ds.Read()
			require.NoError(t, err)
			require.Equal(t, []int32{int32(i)}, got)
		}
	}
}

func TestReadDatatypeAt(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	_, err = mustRoot(t, f).CreateDataset("v", []float64{1, 2, 3})
	require.NoError(t, err)

	rf := reopen(t, f)
	ds, err := mustRoot(t, rf).Dataset("v")
	require.NoError(t, err)

	off, _, err := object.FindMessagePayload(rf.reader, ds.Address(), message.TypeDatatype)
	require.NoError(t, err)

	dt, err := rf.ReadDatatypeAt(off)
	require.NoError(t, err)
	require.Equal(t, message.ClassFloatPoint, dt.Class)
	require.Equal(t, uint32(8), dt.Size)

	_, err = rf.ReadDatatypeAt(1 << 40)
	require.ErrorIs(t, err, ErrFormat)
}

func TestSoftLinkCycles(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	root := mustRoot(t, f)
	require.NoError(t, root.CreateSoftLink("/self", "self"))
	require.NoError(t, root.CreateSoftLink("/b", "a"))
	require.NoError(t, root.CreateSoftLink("/a", "b"))

	rf := reopen(t, f)
	root = mustRoot(t, rf)

	_, err = root.Group("self")
	require.ErrorIs(t, err, ErrLinkDepth)
	_, err = root.Dataset("a")
	require.ErrorIs(t, err, ErrLinkDepth)
	_, err = rf.FindByPath("/b")
	require.ErrorIs(t, err, ErrLinkDepth)
}

func TestDeepLinkChain(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	root := mustRoot(t, f)
	_, err = root.CreateDataset("end", []int32{7})
	require.NoError(t, err)

	require.NoError(t, root.CreateSoftLink("/end", "hop0"))
	for i := 1; i <= MaxLinkDepth+5; i++ {
		require.NoError(t, root.CreateSoftLink(fmt.Sprintf("/hop%d", i-1), fmt.Sprintf("hop%d", i)))
	}

	rf := reopen(t, f)
	root = mustRoot(t, rf)

	ds, err := root.Dataset("hop3")
	require.NoError(t, err)
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int32{7}, got)

	_, err = root.Dataset(fmt.Sprintf("hop%d", MaxLinkDepth+5))
	require.ErrorIs(t, err, ErrLinkDepth)
}

func TestSoftLinkToRoot(t *testing.T) {
	f, err := Create(tempPath(t))
	require.NoError(t, err)
	root := mustRoot(t, f)
	_, err = root.CreateDataset("x", []int64{11})
	require.NoError(t, err)
	require.NoError(t, root.CreateSoftLink("/", "top"))

	rf := reopen(t, f)
	g, err := mustRoot(t, rf).Group("top")
	require.NoError(t, err)
	members, err := g.Members()
	require.NoError(t, err)
	require.Equal(t, []string{"top", "x"}, members)

	ds, err := g.Dataset("x")
	require.NoError(t, err)
	got, err := ds.Read()
	require.NoError(t, err)
	require.Equal(t, []int64{11}, got)
}
