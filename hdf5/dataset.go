package hdf5

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/dtype"
	"github.com/skalare/goh5/internal/layout"
	"github.com/skalare/goh5/internal/message"
	"github.com/skalare/goh5/internal/object"
)

// Dataset is a typed n-dimensional array stored in the file.
type Dataset struct {
	file      *File
	path      string
	addr      uint64
	header    *object.Header
	dataspace *message.Dataspace
	datatype  *message.Datatype
	layoutMsg *message.DataLayout
	lay       layout.Layout
}

// newDataset builds a Dataset over an object header. Headers without
// the dataset message triple fail with ErrTypeMismatch.
func newDataset(f *File, path string, addr uint64, header *object.Header) (*Dataset, error) {
	space := header.Dataspace()
	dt := header.Datatype()
	layoutMsg := header.DataLayout()
	if space == nil || dt == nil || layoutMsg == nil {
		return nil, errors.Wrapf(ErrTypeMismatch, "%s is not a dataset", path)
	}

	lay, err := layout.New(layoutMsg, space, dt, f.reader)
	if err != nil {
		return nil, errors.Wrapf(err, "opening layout of %s", path)
	}

	return &Dataset{
		file:      f,
		path:      path,
		addr:      addr,
		header:    header,
		dataspace: space,
		datatype:  dt,
		layoutMsg: layoutMsg,
		lay:       lay,
	}, nil
}

// refresh re-reads the dataset's header after an in-place write so
// compact data and layout state stay current.
func (d *Dataset) refresh() error {
	d.file.dropHeader(d.addr)
	h, err := d.file.headerAt(d.addr)
	if err != nil {
		return err
	}
	nd, err := newDataset(d.file, d.path, d.addr, h)
	if err != nil {
		return err
	}
	*d = *nd
	return nil
}

// Path returns the absolute path of the dataset.
func (d *Dataset) Path() string {
	return d.path
}

// Name returns the last path segment of the dataset.
func (d *Dataset) Name() string {
	parts := SplitPath(d.path)
	if len(parts) == 0 {
		return d.path
	}
	return parts[len(parts)-1]
}

// Address returns the file address of the dataset's object header.
func (d *Dataset) Address() uint64 {
	return d.addr
}

// Shape returns the dimensions of the dataset. Scalar datasets return
// an empty slice.
func (d *Dataset) Shape() []uint64 {
	dims := make([]uint64, len(d.dataspace.Dimensions))
	copy(dims, d.dataspace.Dimensions)
	return dims
}

// MaxShape returns the declared upper bounds per dimension, or the
// current shape when none were declared.
func (d *Dataset) MaxShape() []uint64 {
	src := d.dataspace.MaxDims
	if src == nil {
		src = d.dataspace.Dimensions
	}
	dims := make([]uint64, len(src))
	copy(dims, src)
	return dims
}

// Rank returns the number of dimensions. Scalar datasets have rank 0.
func (d *Dataset) Rank() int {
	return d.dataspace.Rank
}

// NumElements returns the total number of elements.
func (d *Dataset) NumElements() uint64 {
	return d.dataspace.NumElements()
}

// IsScalar reports whether the dataset holds a single element with no
// dimensions.
func (d *Dataset) IsScalar() bool {
	return d.dataspace.IsScalar()
}

// Datatype returns the element type of the dataset.
func (d *Dataset) Datatype() *message.Datatype {
	return d.datatype
}

// GoType returns the Go type that Read produces for one element.
func (d *Dataset) GoType() (reflect.Type, error) {
	return dtype.GoType(d.datatype)
}

// Read reads the whole dataset. Scalar datasets return a single Go
// value; others return a typed slice in row-major element order. See
// the dtype package for the type mapping.
func (d *Dataset) Read() (interface{}, error) {
	if err := d.file.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := d.lay.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", d.path)
	}
	if d.dataspace.IsScalar() {
		return dtype.Decode(d.datatype, raw, d.file.reader)
	}
	return dtype.DecodeSlice(d.datatype, raw, d.dataspace.NumElements(), d.file.reader)
}

// ReadSlice reads a rectangular selection of the dataset: start gives
// the first coordinate per dimension and count the element count per
// dimension. The result is a typed slice in row-major order.
func (d *Dataset) ReadSlice(start, count []uint64) (interface{}, error) {
	if err := d.file.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := d.lay.ReadSlice(start, count)
	if err != nil {
		return nil, errors.Wrapf(err, "reading selection of %s", d.path)
	}
	n := uint64(1)
	for _, c := range count {
		n *= c
	}
	return dtype.DecodeSlice(d.datatype, raw, n, d.file.reader)
}

// ReadRecords reads a compound dataset as one map per record. Non-
// compound datasets fail with ErrTypeMismatch.
func (d *Dataset) ReadRecords() ([]map[string]interface{}, error) {
	if d.datatype.Class != message.ClassCompound {
		return nil, errors.Wrapf(ErrTypeMismatch, "%s is not a compound dataset", d.path)
	}

	v, err := d.Read()
	if err != nil {
		return nil, err
	}
	switch records := v.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{records}, nil
	case []map[string]interface{}:
		return records, nil
	default:
		return nil, errors.Errorf("unexpected compound representation %T", v)
	}
}

// ReadInto reads the dataset into dest, which must be a pointer to a
// slice or scalar of a compatible Go type. Numeric widening is
// applied where it cannot lose information.
func (d *Dataset) ReadInto(dest interface{}) error {
	if err := d.file.checkOpen(); err != nil {
		return err
	}

	raw, err := d.lay.Read()
	if err != nil {
		return errors.Wrapf(err, "reading %s", d.path)
	}
	return dtype.ConvertWithReader(d.datatype, raw, d.dataspace.NumElements(), dest, d.file.reader)
}

// ReadFloat64s reads a numeric dataset as float64 values.
func (d *Dataset) ReadFloat64s() ([]float64, error) {
	var out []float64
	if err := d.ReadInto(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadInt64s reads an integer dataset as int64 values.
func (d *Dataset) ReadInt64s() ([]int64, error) {
	var out []int64
	if err := d.ReadInto(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadStrings reads a string dataset, fixed or variable length.
func (d *Dataset) ReadStrings() ([]string, error) {
	var out []string
	if err := d.ReadInto(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// object returns the attribute handle for the dataset.
func (d *Dataset) object() *Object {
	return &Object{file: d.file, path: d.path, addr: d.addr, header: d.header}
}

// Attributes returns all attributes of the dataset.
func (d *Dataset) Attributes() ([]Attribute, error) {
	return d.object().Attributes()
}

// Attribute returns the named attribute of the dataset.
func (d *Dataset) Attribute(name string) (*Attribute, error) {
	return d.object().Attribute(name)
}

// CreateAttribute attaches an attribute to the dataset.
func (d *Dataset) CreateAttribute(name string, value interface{}) error {
	return d.object().CreateAttribute(name, value)
}
