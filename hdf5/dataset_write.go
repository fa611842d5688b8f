package hdf5

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skalare/goh5/internal/btree"
	"github.com/skalare/goh5/internal/dtype"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/layout"
	"github.com/skalare/goh5/internal/message"
	"github.com/skalare/goh5/internal/object"
)

// CompactDataLimit is the largest encoded size stored inline in the
// object header. Larger data always goes to a contiguous block.
const CompactDataLimit = 256

// CreateDataset creates a dataset under the group holding the given
// value. The element type is inferred from the value: Go integers,
// floats and strings map to the matching stored types, nested slices
// add dimensions. Compound and other explicit types go through
// WithDatatype, and WithDataspace overrides the inferred shape.
func (g *Group) CreateDataset(name string, data interface{}, opts ...DatasetOption) (*Dataset, error) {
	if err := g.file.checkWritable(); err != nil {
		return nil, err
	}
	if err := checkLinkName(name); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.Errorf("dataset %s: nil value; use CreateDatasetWithType to create without data", name)
	}
	o := applyDatasetOptions(opts)
	f := g.file

	dt := o.datatype
	if dt == nil {
		var err error
		dt, err = dtype.GoTypeToDatatype(leafType(reflect.TypeOf(data)), f.writer.OffsetSize())
		if err != nil {
			return nil, errors.Wrapf(err, "creating dataset %s", name)
		}
	}

	dims := o.dims
	if dims == nil {
		dims = dtype.ValueShape(dt, data)
	}
	if err := checkShape(dims, o.maxDims); err != nil {
		return nil, errors.Wrapf(err, "creating dataset %s", name)
	}
	ds := newDataspace(dims, o.maxDims)

	raw, err := dtype.EncodeWithHeap(dt, data, f.globalHeap(), f.writer.OffsetSize())
	if err != nil {
		return nil, errors.Wrapf(err, "encoding dataset %s", name)
	}
	if want := dtype.DataSize(dt, ds.NumElements()); uint64(len(raw)) != want {
		return nil, errors.Errorf("dataset %s: value encodes to %d bytes, shape %v holds %d",
			name, len(raw), dims, want)
	}

	return g.createDataset(name, ds, dt, raw, o)
}

// CreateDatasetWithType creates a zero-filled dataset with an explicit
// element type and shape. An empty space creates a scalar dataset.
// Fill it with Write or WriteFrom.
func (g *Group) CreateDatasetWithType(name string, dt *message.Datatype, space []uint64, opts ...DatasetOption) (*Dataset, error) {
	if err := g.file.checkWritable(); err != nil {
		return nil, err
	}
	if err := checkLinkName(name); err != nil {
		return nil, err
	}
	if dt == nil {
		return nil, errors.Errorf("dataset %s: nil datatype", name)
	}
	o := applyDatasetOptions(opts)

	dims := space
	if o.dims != nil {
		dims = o.dims
	}
	if err := checkShape(dims, o.maxDims); err != nil {
		return nil, errors.Wrapf(err, "creating dataset %s", name)
	}
	ds := newDataspace(dims, o.maxDims)

	raw := make([]byte, dtype.DataSize(dt, ds.NumElements()))
	return g.createDataset(name, ds, dt, raw, o)
}

// createDataset lays the encoded bytes down, writes the dataset's
// header and links it into the group.
func (g *Group) createDataset(name string, ds *message.Dataspace, dt *message.Datatype, raw []byte, o *datasetOptions) (*Dataset, error) {
	f := g.file
	gs, err := g.state()
	if err != nil {
		return nil, err
	}
	if err := g.checkAbsent(gs, name); err != nil {
		return nil, err
	}

	dsPath := JoinPath(g.path, name)
	base := f.uniqueName(dsPath)

	var layoutMsg *message.DataLayout
	switch {
	case o.compact && len(raw) <= CompactDataLimit:
		layoutMsg = message.NewCompactLayout(raw)
	case len(raw) == 0:
		// Nothing to store; the address stays undefined until a write
		// needs one.
		layoutMsg = message.NewContiguousLayout(f.writer.UndefinedOffset(), 0)
	default:
		h := f.alloc.Allocate(fspace.KindDatasetData, base+" data", uint64(len(raw)))
		addr := f.alloc.Record(h).Offset
		if err := f.writer.At(int64(addr)).WriteBytes(raw); err != nil {
			return nil, errors.Wrapf(err, "writing data of %s", dsPath)
		}
		layoutMsg = message.NewContiguousLayout(addr, uint64(len(raw)))
	}

	msgs := object.NewDatasetMessages(ds, dt, message.NewFillValue(nil), layoutMsg)
	for _, a := range o.attributes {
		am, err := newAttributeMessage(f, a.name, a.value)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %q of %s", a.name, dsPath)
		}
		msgs = append(msgs, am)
	}

	size := uint64(object.HeaderSize(f.writer, msgs, object.DefaultReserve))
	h := f.alloc.Allocate(fspace.KindObjectHeader, base, size)
	addr := f.alloc.Record(h).Offset
	if _, err := object.WriteHeader(f.writer, addr, msgs, object.DefaultReserve); err != nil {
		return nil, errors.Wrapf(err, "writing header of %s", dsPath)
	}

	if err := gs.index.Insert(btree.NewObjectEntry(addr), name); err != nil {
		return nil, err
	}
	f.bases[addr] = base

	hdr, err := f.headerAt(addr)
	if err != nil {
		return nil, err
	}
	d, err := newDataset(f, dsPath, addr, hdr)
	if err != nil {
		return nil, err
	}
	f.log.WithFields(logrus.Fields{
		"path":  dsPath,
		"shape": ds.Dimensions,
		"bytes": len(raw),
	}).Debug("created dataset")
	return d, nil
}

// leafType walks nested slice and array types down to the element.
func leafType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	return t
}

// newDataspace builds the dataspace for a shape; no dimensions means
// scalar.
func newDataspace(dims, maxDims []uint64) *message.Dataspace {
	if len(dims) == 0 {
		return message.NewScalarDataspace()
	}
	return message.NewDataspace(dims, maxDims)
}

// checkShape validates declared bounds against the shape. The
// unlimited sentinel is all ones and never compares below a size.
func checkShape(dims, maxDims []uint64) error {
	if maxDims == nil {
		return nil
	}
	if len(maxDims) != len(dims) {
		return errors.Errorf("max dims rank %d does not match shape rank %d", len(maxDims), len(dims))
	}
	for i := range maxDims {
		if maxDims[i] < dims[i] {
			return errors.Errorf("max dims %v fall below the shape %v", maxDims, dims)
		}
	}
	return nil
}

// Write replaces the dataset's contents with the encoded value. The
// value must hold exactly as many elements as the dataset; the shape
// never changes.
func (d *Dataset) Write(value interface{}) error {
	f := d.file
	if err := f.checkWritable(); err != nil {
		return err
	}

	raw, err := dtype.EncodeWithHeap(d.datatype, value, f.globalHeap(), f.writer.OffsetSize())
	if err != nil {
		return errors.Wrapf(err, "encoding value for %s", d.path)
	}
	if want := dtype.DataSize(d.datatype, d.dataspace.NumElements()); uint64(len(raw)) != want {
		return errors.Errorf("%s: value encodes to %d bytes, dataset holds %d",
			d.path, len(raw), want)
	}
	return d.writeBytes(raw)
}

// WriteFrom fills the dataset from a source function, called until
// the dataset is full. Each call may return one element or a slice of
// elements; values land in row-major order. The source must produce
// exactly the dataset's element count and then report false.
func (d *Dataset) WriteFrom(next func() (interface{}, bool)) error {
	f := d.file
	if err := f.checkWritable(); err != nil {
		return err
	}

	elemSize := uint64(d.datatype.Size)
	total := dtype.DataSize(d.datatype, d.dataspace.NumElements())

	if d.layoutMsg.Class == message.LayoutCompact {
		buf := make([]byte, 0, total)
		for uint64(len(buf)) < total {
			raw, err := d.nextChunk(next, uint64(len(buf)), total, elemSize)
			if err != nil {
				return err
			}
			buf = append(buf, raw...)
		}
		if _, ok := next(); ok {
			return errors.Errorf("%s: source produced more than %d elements",
				d.path, d.dataspace.NumElements())
		}
		return d.writeBytes(buf)
	}

	var addr uint64
	if total > 0 {
		var err error
		addr, err = d.ensureStorage(total)
		if err != nil {
			return err
		}
	}
	var off uint64
	for off < total {
		raw, err := d.nextChunk(next, off, total, elemSize)
		if err != nil {
			return err
		}
		if err := f.writer.At(int64(addr + off)).WriteBytes(raw); err != nil {
			return errors.Wrapf(err, "writing data of %s", d.path)
		}
		off += uint64(len(raw))
	}
	if _, ok := next(); ok {
		return errors.Errorf("%s: source produced more than %d elements",
			d.path, d.dataspace.NumElements())
	}
	return nil
}

// nextChunk pulls and encodes one source value, checking it against
// the space left.
func (d *Dataset) nextChunk(next func() (interface{}, bool), off, total, elemSize uint64) ([]byte, error) {
	v, ok := next()
	if !ok {
		return nil, errors.Errorf("%s: source ended after %d of %d elements",
			d.path, off/elemSize, d.dataspace.NumElements())
	}
	raw, err := dtype.EncodeWithHeap(d.datatype, v, d.file.globalHeap(), d.file.writer.OffsetSize())
	if err != nil {
		return nil, errors.Wrapf(err, "encoding value for %s", d.path)
	}
	n := uint64(len(raw))
	if n == 0 || n%elemSize != 0 {
		return nil, errors.Errorf("%s: value encodes to %d bytes, not a whole number of %d-byte elements",
			d.path, n, elemSize)
	}
	if off+n > total {
		return nil, errors.Errorf("%s: value overflows the dataset by %d bytes", d.path, off+n-total)
	}
	return raw, nil
}

// writeBytes replaces the dataset's stored bytes. Compact data is
// patched inside the object header; contiguous data goes to its
// block, allocated on first need.
func (d *Dataset) writeBytes(raw []byte) error {
	f := d.file
	switch d.layoutMsg.Class {
	case message.LayoutCompact:
		if len(raw) != len(d.layoutMsg.CompactData) {
			return errors.Errorf("%s: compact block holds %d bytes, value encodes to %d",
				d.path, len(d.layoutMsg.CompactData), len(raw))
		}
		off, size, err := object.FindMessagePayload(f.reader, d.addr, message.TypeDataLayout)
		if err != nil {
			return errors.Wrapf(err, "locating layout of %s", d.path)
		}
		// Compact data follows the message prefix: version, class and a
		// 2-byte length in version 3; a 4-byte prefix and 4-byte length
		// in versions 1 and 2.
		dataOff := 4
		if d.layoutMsg.Version < 3 {
			dataOff = 8
		}
		if dataOff+len(raw) > size {
			return errors.Wrapf(ErrFormat, "%s: layout message too small for its compact data", d.path)
		}
		if err := f.writer.At(int64(off) + int64(dataOff)).WriteBytes(raw); err != nil {
			return errors.Wrapf(err, "writing data of %s", d.path)
		}
		return d.refresh()

	case message.LayoutContiguous:
		if len(raw) == 0 {
			return nil
		}
		addr, err := d.ensureStorage(uint64(len(raw)))
		if err != nil {
			return err
		}
		if err := f.writer.At(int64(addr)).WriteBytes(raw); err != nil {
			return errors.Wrapf(err, "writing data of %s", d.path)
		}
		return nil

	default:
		return errors.Errorf("cannot write layout class %d", d.layoutMsg.Class)
	}
}

// ensureStorage returns the contiguous data address, allocating a
// block and patching the layout message in place when storage was
// deferred at creation.
func (d *Dataset) ensureStorage(size uint64) (uint64, error) {
	f := d.file
	if !f.reader.IsUndefinedOffset(d.layoutMsg.Address) {
		if d.layoutMsg.Size < size {
			return 0, errors.Errorf("%s: stored block holds %d bytes, need %d",
				d.path, d.layoutMsg.Size, size)
		}
		return d.layoutMsg.Address, nil
	}
	if d.layoutMsg.Version != 3 {
		return 0, errors.Errorf("%s: cannot allocate storage for a version %d layout message",
			d.path, d.layoutMsg.Version)
	}

	h := f.alloc.Allocate(fspace.KindDatasetData, f.uniqueName(d.path+" data"), size)
	addr := f.alloc.Record(h).Offset

	off, _, err := object.FindMessagePayload(f.reader, d.addr, message.TypeDataLayout)
	if err != nil {
		return 0, errors.Wrapf(err, "locating layout of %s", d.path)
	}
	lw := f.writer.At(int64(off) + 2)
	if err := lw.WriteOffset(addr); err != nil {
		return 0, err
	}
	if err := lw.WriteLength(size); err != nil {
		return 0, err
	}

	d.layoutMsg.Address = addr
	d.layoutMsg.Size = size
	lay, err := layout.New(d.layoutMsg, d.dataspace, d.datatype, f.reader)
	if err != nil {
		return 0, err
	}
	d.lay = lay
	f.dropHeader(d.addr)
	f.log.WithFields(logrus.Fields{
		"path": d.path,
		"addr": addr,
		"size": size,
	}).Debug("allocated dataset storage")
	return addr, nil
}
