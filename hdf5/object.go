package hdf5

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skalare/goh5/internal/dtype"
	"github.com/skalare/goh5/internal/message"
	"github.com/skalare/goh5/internal/object"
)

// Object is a handle on any named thing in the file, group or
// dataset, as returned by FindByPath. It carries the attribute
// operations shared by both.
type Object struct {
	file   *File
	path   string
	addr   uint64
	header *object.Header
}

// Path returns the absolute path the object was resolved through.
func (o *Object) Path() string {
	return o.path
}

// Name returns the last path segment.
func (o *Object) Name() string {
	parts := SplitPath(o.path)
	if len(parts) == 0 {
		return "/"
	}
	return parts[len(parts)-1]
}

// Address returns the file address of the object's header.
func (o *Object) Address() uint64 {
	return o.addr
}

// IsGroup reports whether the object is a group.
func (o *Object) IsGroup() bool {
	return o.header.GetMessage(message.TypeSymbolTable) != nil
}

// IsDataset reports whether the object is a dataset.
func (o *Object) IsDataset() bool {
	return o.header.Dataspace() != nil && o.header.Datatype() != nil
}

// Group returns the object as a group, or ErrTypeMismatch when it is
// not one.
func (o *Object) Group() (*Group, error) {
	btreeAddr, heapAddr, err := o.file.groupAddrs(o.addr)
	if err != nil {
		return nil, err
	}
	return &Group{
		file:      o.file,
		path:      o.path,
		addr:      o.addr,
		btreeAddr: btreeAddr,
		heapAddr:  heapAddr,
	}, nil
}

// Dataset returns the object as a dataset, or ErrTypeMismatch when it
// is not one.
func (o *Object) Dataset() (*Dataset, error) {
	return newDataset(o.file, o.path, o.addr, o.header)
}

// Attributes returns every attribute attached to the object.
func (o *Object) Attributes() ([]Attribute, error) {
	if err := o.file.checkOpen(); err != nil {
		return nil, err
	}

	h, err := o.file.headerAt(o.addr)
	if err != nil {
		return nil, err
	}
	msgs := h.GetMessages(message.TypeAttribute)
	attrs := make([]Attribute, 0, len(msgs))
	for _, m := range msgs {
		attrs = append(attrs, Attribute{msg: m.(*message.Attribute), file: o.file})
	}
	return attrs, nil
}

// Attribute returns the named attribute, or ErrNotFound.
func (o *Object) Attribute(name string) (*Attribute, error) {
	attrs, err := o.Attributes()
	if err != nil {
		return nil, err
	}
	for i := range attrs {
		if attrs[i].Name() == name {
			return &attrs[i], nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "attribute %q of %s", name, o.path)
}

// CreateAttribute attaches a named value to the object. The value can
// be a scalar or slice of the supported Go types; the attribute lands
// in the header's reserve, spilling into a continuation block when
// the header is full. Attribute names must be unique per object.
func (o *Object) CreateAttribute(name string, value interface{}) error {
	f := o.file
	if err := f.checkWritable(); err != nil {
		return err
	}

	if _, err := o.Attribute(name); err == nil {
		return errors.Wrapf(ErrExists, "attribute %q of %s", name, o.path)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	msg, err := newAttributeMessage(f, name, value)
	if err != nil {
		return errors.Wrapf(err, "attribute %q of %s", name, o.path)
	}

	e, err := f.editorFor(o.addr, o.path)
	if err != nil {
		return err
	}
	if err := e.Append(msg); err != nil {
		return errors.Wrapf(err, "appending attribute %q to %s", name, o.path)
	}
	f.dropHeader(o.addr)
	f.log.WithFields(logrus.Fields{
		"path": o.path,
		"name": name,
	}).Debug("created attribute")
	return nil
}

// newAttributeMessage encodes a Go value as an attribute message.
// Scalars get a scalar dataspace, slices a one-dimensional one and
// nested slices add dimensions, mirroring dataset creation.
func newAttributeMessage(f *File, name string, value interface{}) (*message.Attribute, error) {
	if name == "" {
		return nil, errors.New("attribute name cannot be empty")
	}
	if value == nil {
		return nil, errors.New("attribute value cannot be nil")
	}

	dt, err := dtype.GoTypeToDatatype(leafType(reflect.TypeOf(value)), f.writer.OffsetSize())
	if err != nil {
		return nil, err
	}
	dims := dtype.ValueShape(dt, value)
	ds := newDataspace(dims, nil)

	data, err := dtype.EncodeWithHeap(dt, value, f.globalHeap(), f.writer.OffsetSize())
	if err != nil {
		return nil, err
	}
	if want := dtype.DataSize(dt, ds.NumElements()); uint64(len(data)) != want {
		return nil, errors.Errorf("value encodes to %d bytes, shape %v holds %d", len(data), dims, want)
	}

	if len(dims) == 0 {
		return message.NewScalarAttribute(name, dt, data), nil
	}
	return message.NewAttribute(name, dt, ds, data), nil
}
