// h5probe dumps the structure of HDF5 files: superblock layout, the
// group tree with dataset shapes and types, attribute values, and a
// size summary. Several files are probed concurrently; reports print
// in argument order.
//
// Usage:
//
//	h5probe [flags] file.h5 [more.h5 ...]
//	h5probe -selfcheck
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skalare/goh5/hdf5"
	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/logger"
	"github.com/skalare/goh5/internal/message"
	"github.com/skalare/goh5/internal/superblock"
)

var (
	mapped    = flag.Bool("mapped", false, "open files memory-mapped instead of buffered")
	withData  = flag.Bool("data", false, "decode and print dataset values")
	spewTypes = flag.Bool("spew", false, "deep-dump every datatype description")
	dtypeAt   = flag.Uint64("dtype-at", 0, "also parse the serialized datatype at this byte offset")
	verbose   = flag.Bool("v", false, "log structural detail to stderr")
	selfCheck = flag.Bool("selfcheck", false, "probe a generated scratch file and verify the round trip")
)

var (
	headColor = color.New(color.Bold)
	grpColor  = color.New(color.FgCyan)
	dsetColor = color.New(color.FgGreen)
	attrColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed)
)

// dumper keeps spew output stable across runs.
var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file.h5> [more.h5 ...]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New()
	if *verbose {
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.DebugLevel)
	}

	if *selfCheck {
		if err := runSelfCheck(os.Stdout, log); err != nil {
			fmt.Fprintln(os.Stderr, badColor.Sprintf("self-check failed: %v", err))
			os.Exit(1)
		}
		fmt.Println(dsetColor.Sprint("self-check passed"))
		return
	}

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Probe concurrently, print in argument order.
	reports := make([]bytes.Buffer, len(files))
	var g errgroup.Group
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			return probe(&reports[i], path, log)
		})
	}
	err := g.Wait()
	for i := range reports {
		if i > 0 {
			fmt.Println()
		}
		os.Stdout.Write(reports[i].Bytes())
	}
	if err != nil {
		os.Exit(1)
	}
}

// probe writes the structural report for one file. Failures are both
// reported inline and returned, so a bad file still shows everything
// that could be read while failing the exit code.
func probe(w io.Writer, path string, log *logrus.Logger) error {
	fi, err := os.Stat(path)
	if err != nil {
		fmt.Fprintln(w, badColor.Sprint(err))
		return err
	}
	fmt.Fprintf(w, "%s  %s\n", headColor.Sprint(path), humanize.IBytes(uint64(fi.Size())))

	if err := dumpSuperblock(w, path); err != nil {
		fmt.Fprintf(w, "  %s\n", badColor.Sprintf("superblock: %v", err))
		return err
	}

	open := hdf5.Open
	if *mapped {
		open = hdf5.OpenMapped
	}
	f, err := open(path, hdf5.WithLogger(log))
	if err != nil {
		fmt.Fprintf(w, "  %s\n", badColor.Sprint(err))
		return err
	}
	defer f.Close()

	if *dtypeAt != 0 {
		if err := dumpDatatypeAt(w, f, *dtypeAt); err != nil {
			fmt.Fprintf(w, "  %s\n", badColor.Sprint(err))
			return err
		}
	}

	var st scanStats
	if err := dumpTree(w, f, &st); err != nil {
		fmt.Fprintf(w, "  %s\n", badColor.Sprint(err))
		return err
	}

	fmt.Fprintf(w, "  total: %s groups, %s datasets, %s attributes, %s of data (%s elements)\n",
		humanize.Comma(st.groups), humanize.Comma(st.datasets), humanize.Comma(st.attrs),
		humanize.IBytes(st.dataBytes), humanize.Comma(st.elements))
	return nil
}

// dumpSuperblock reads the superblock directly so the report carries
// the raw layout fields even when the full open would fail later.
func dumpSuperblock(w io.Writer, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	sb, err := superblock.Read(fh)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  superblock v%d: offsets %d bytes, lengths %d bytes, b-tree K %d/%d\n",
		sb.Version, sb.OffsetSize, sb.LengthSize, sb.GroupLeafNodeK, sb.GroupInternalNodeK)
	fmt.Fprintf(w, "  base %s  eof %s  root header %s  b-tree %s  name heap %s\n",
		addr(sb.BaseAddress, sb.OffsetSize), addr(sb.EOFAddress, sb.OffsetSize),
		addr(sb.RootGroupAddress, sb.OffsetSize),
		addr(sb.RootGroupBTreeAddress, sb.OffsetSize),
		addr(sb.RootGroupLocalHeapAddress, sb.OffsetSize))
	return nil
}

// addr formats a file address, spelling out the all-ones undefined
// pattern for the file's offset width.
func addr(v uint64, width uint8) string {
	if v == binary.Undefined(int(width)) {
		return "undefined"
	}
	return fmt.Sprintf("%#x", v)
}

func dumpDatatypeAt(w io.Writer, f *hdf5.File, offset uint64) error {
	dt, err := f.ReadDatatypeAt(offset)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  datatype at %#x: %s\n", offset, typeLabel(dt))
	if *spewTypes {
		indented(w, dumper.Sdump(dt))
	}
	return nil
}

// scanStats counts what the walk reached. Objects visible through
// more than one link are counted once per path.
type scanStats struct {
	groups, datasets, attrs, elements int64
	dataBytes                         uint64
}

func dumpTree(w io.Writer, f *hdf5.File, st *scanStats) error {
	return f.Walk(func(path string, obj interface{}, err error) error {
		if err != nil {
			fmt.Fprintf(w, "  %s %s  %v\n", badColor.Sprint("!!  "), path, err)
			return nil
		}
		switch o := obj.(type) {
		case *hdf5.Group:
			names, err := o.Members()
			if err != nil {
				fmt.Fprintf(w, "  %s %s  @%#x  %s\n", grpColor.Sprint("grp "), path, o.Address(),
					badColor.Sprintf("members: %v", err))
				return nil
			}
			st.groups++
			fmt.Fprintf(w, "  %s %s  @%#x  (%d members)\n", grpColor.Sprint("grp "), path, o.Address(), len(names))
			dumpAttrs(w, o, st)
		case *hdf5.Dataset:
			st.datasets++
			dt := o.Datatype()
			size := o.NumElements() * uint64(dt.Size)
			st.elements += int64(o.NumElements())
			st.dataBytes += size
			fmt.Fprintf(w, "  %s %s  @%#x  %s%s  %s\n", dsetColor.Sprint("dset"), path, o.Address(),
				typeLabel(dt), shapeLabel(o.Shape()), humanize.IBytes(size))
			if *spewTypes {
				indented(w, dumper.Sdump(dt))
			}
			dumpAttrs(w, o, st)
			if *withData {
				if v, err := o.Read(); err != nil {
					fmt.Fprintf(w, "       %s\n", badColor.Sprintf("read: %v", err))
				} else {
					fmt.Fprintf(w, "       = %s\n", valueLabel(v))
				}
			}
		}
		return nil
	})
}

// attributed is the common read surface of groups and datasets.
type attributed interface {
	Attributes() ([]hdf5.Attribute, error)
}

func dumpAttrs(w io.Writer, obj attributed, st *scanStats) {
	attrs, err := obj.Attributes()
	if err != nil {
		fmt.Fprintf(w, "       %s\n", badColor.Sprintf("attributes: %v", err))
		return
	}
	for i := range attrs {
		a := &attrs[i]
		st.attrs++
		v, err := a.Value()
		if err != nil {
			fmt.Fprintf(w, "       %s = %s\n", attrColor.Sprintf("@%s", a.Name()), badColor.Sprint(err))
			continue
		}
		fmt.Fprintf(w, "       %s = %s\n", attrColor.Sprintf("@%s", a.Name()), valueLabel(v))
	}
}

// typeLabel names a datatype the way h5ls would: width-qualified
// numbers, string[N], and recursively labelled element types.
func typeLabel(dt *message.Datatype) string {
	switch dt.Class {
	case message.ClassFixedPoint:
		if dt.Signed {
			return fmt.Sprintf("int%d", dt.Size*8)
		}
		return fmt.Sprintf("uint%d", dt.Size*8)
	case message.ClassFloatPoint:
		return fmt.Sprintf("float%d", dt.Size*8)
	case message.ClassString:
		return fmt.Sprintf("string[%d]", dt.Size)
	case message.ClassCompound:
		return fmt.Sprintf("compound{%d members, %d bytes}", len(dt.Members), dt.Size)
	case message.ClassVarLen:
		if dt.IsVarLenString {
			return "string[var]"
		}
		if dt.VarLenType != nil {
			return "vlen " + typeLabel(dt.VarLenType)
		}
		return "vlen"
	case message.ClassArray:
		if dt.BaseType != nil {
			return fmt.Sprintf("%s%v", typeLabel(dt.BaseType), dt.ArrayDims)
		}
		return fmt.Sprintf("array%v", dt.ArrayDims)
	case message.ClassReference:
		return "reference"
	default:
		return fmt.Sprintf("class-%d[%d]", dt.Class, dt.Size)
	}
}

// shapeLabel renders dimensions as [4x3]; scalars get nothing.
func shapeLabel(shape []uint64) string {
	if len(shape) == 0 {
		return ""
	}
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = strconv.FormatUint(n, 10)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// valueLabel renders a decoded value compactly: strings quoted, long
// slices elided after the first few elements.
func valueLabel(v interface{}) string {
	const max = 8
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return fmt.Sprintf("%q", rv.String())
	case reflect.Slice:
		if rv.Len() <= max {
			return fmt.Sprintf("%v", v)
		}
		parts := make([]string, max)
		for i := 0; i < max; i++ {
			parts[i] = fmt.Sprint(rv.Index(i).Interface())
		}
		return fmt.Sprintf("[%s ... %s more]", strings.Join(parts, " "), humanize.Comma(int64(rv.Len()-max)))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// indented writes a multi-line dump shifted under its parent line.
func indented(w io.Writer, s string) {
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		fmt.Fprintf(w, "       %s\n", line)
	}
}

var scratchSamples = []float64{1.5, 2.5, 4, 8}

// runSelfCheck builds a small file, reads it back through the public
// API, cross-checks the raw layout, then prints its report. Nothing
// is left on disk.
func runSelfCheck(w io.Writer, log *logrus.Logger) error {
	dir, err := os.MkdirTemp("", "h5probe")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "selfcheck.h5")

	if err := writeScratchFile(path, log); err != nil {
		return errors.Wrap(err, "writing scratch file")
	}
	if err := verifyScratchFile(path, log); err != nil {
		return errors.Wrap(err, "reading scratch file back")
	}
	if err := verifyRawLayout(path); err != nil {
		return errors.Wrap(err, "checking raw layout")
	}
	return probe(w, path, log)
}

func writeScratchFile(path string, log *logrus.Logger) error {
	f, err := hdf5.Create(path, hdf5.WithLogger(log))
	if err != nil {
		return err
	}
	if err := populateScratch(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func populateScratch(f *hdf5.File) error {
	root, err := f.RootGroup()
	if err != nil {
		return err
	}
	if err := root.CreateAttribute("generator", "h5probe self-check"); err != nil {
		return err
	}
	runs, err := root.CreateGroup("runs")
	if err != nil {
		return err
	}
	ds, err := runs.CreateDataset("samples", scratchSamples)
	if err != nil {
		return err
	}
	if err := ds.CreateAttribute("units", "volts"); err != nil {
		return err
	}
	return root.CreateSoftLink("/runs/samples", "latest")
}

func verifyScratchFile(path string, log *logrus.Logger) error {
	f, err := hdf5.Open(path, hdf5.WithLogger(log))
	if err != nil {
		return err
	}
	defer f.Close()

	obj, err := f.FindByPath("/latest")
	if err != nil {
		return errors.Wrap(err, "resolving soft link")
	}
	ds, err := obj.Dataset()
	if err != nil {
		return err
	}
	vals, err := ds.ReadFloat64s()
	if err != nil {
		return err
	}
	if len(vals) != len(scratchSamples) {
		return errors.Errorf("read %d samples, want %d", len(vals), len(scratchSamples))
	}
	for i, want := range scratchSamples {
		if vals[i] != want {
			return errors.Errorf("sample %d: read %v, want %v", i, vals[i], want)
		}
	}

	units, err := f.Attribute("/runs/samples@units")
	if err != nil {
		return err
	}
	s, err := units.ReadString()
	if err != nil {
		return err
	}
	if s != "volts" {
		return errors.Errorf("units attribute: read %q, want %q", s, "volts")
	}

	var objects int
	if err := f.Walk(func(string, interface{}, error) error {
		objects++
		return nil
	}); err != nil {
		return err
	}
	// Root, runs, and the dataset reached both directly and through
	// the link.
	if objects != 4 {
		return errors.Errorf("walk visited %d objects, want 4", objects)
	}
	return nil
}

// verifyRawLayout loads the file into an in-memory buffer and checks
// that the superblock's bookkeeping matches the bytes on disk.
func verifyRawLayout(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	buf := binary.NewBuffer(0)
	if _, err := buf.WriteAt(raw, 0); err != nil {
		return err
	}

	sb, err := superblock.Read(buf)
	if err != nil {
		return err
	}
	if sb.Version != 0 {
		return errors.Errorf("scratch file has superblock v%d, want v0", sb.Version)
	}
	if got := uint64(buf.Len()); got > sb.EOFAddress {
		return errors.Errorf("%d bytes on disk but end of file recorded at %d", got, sb.EOFAddress)
	}

	// The root entry is written with its scratch pad cached, so both
	// addresses must point at real structures.
	checks := []struct {
		name string
		at   uint64
		sig  string
	}{
		{"root b-tree", sb.RootGroupBTreeAddress, "TREE"},
		{"root name heap", sb.RootGroupLocalHeapAddress, "HEAP"},
	}
	for _, c := range checks {
		got := make([]byte, 4)
		if _, err := buf.ReadAt(got, int64(c.at)); err != nil {
			return errors.Wrapf(err, "reading %s signature at %d", c.name, c.at)
		}
		if string(got) != c.sig {
			return errors.Errorf("%s at %d: signature %q, want %q", c.name, c.at, got, c.sig)
		}
	}
	return nil
}
