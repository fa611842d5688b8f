package hdf5

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/dtype"
	"github.com/skalare/goh5/internal/message"
)

// Attribute is a small named value attached to a group or dataset.
// The value lives in the owner's header, so reading it costs nothing
// beyond decoding.
type Attribute struct {
	msg  *message.Attribute
	file *File
}

// Name returns the attribute name.
func (a *Attribute) Name() string {
	return a.msg.Name
}

// Shape returns the dimensions of the attribute value, nil for
// scalars.
func (a *Attribute) Shape() []uint64 {
	if a.msg.Dataspace == nil || a.msg.Dataspace.IsScalar() {
		return nil
	}
	return a.msg.Dataspace.Dimensions
}

// NumElements returns the total number of elements.
func (a *Attribute) NumElements() uint64 {
	if a.msg.Dataspace == nil {
		return 1
	}
	return a.msg.Dataspace.NumElements()
}

// IsScalar reports whether the attribute holds a single value.
func (a *Attribute) IsScalar() bool {
	return a.msg.Dataspace == nil || a.msg.Dataspace.IsScalar()
}

// Datatype returns the stored type of the attribute value.
func (a *Attribute) Datatype() *message.Datatype {
	return a.msg.Datatype
}

// GoType returns the Go type that Value produces for one element.
func (a *Attribute) GoType() (reflect.Type, error) {
	return dtype.GoType(a.msg.Datatype)
}

// Value decodes the attribute into its natural Go representation: a
// single value for scalar attributes, a typed slice otherwise. See
// the dtype package for the type mapping.
func (a *Attribute) Value() (interface{}, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if a.IsScalar() {
		return dtype.Decode(a.msg.Datatype, a.msg.Data, a.file.reader)
	}
	return dtype.DecodeSlice(a.msg.Datatype, a.msg.Data, a.NumElements(), a.file.reader)
}

// ReadInto decodes the attribute into dest, a pointer to a slice or
// scalar of a compatible Go type. Numeric widening is applied where
// it cannot lose information.
func (a *Attribute) ReadInto(dest interface{}) error {
	if err := a.check(); err != nil {
		return err
	}
	return dtype.ConvertWithReader(a.msg.Datatype, a.msg.Data, a.NumElements(), dest, a.file.reader)
}

func (a *Attribute) check() error {
	if a.msg.Datatype == nil {
		return errors.Errorf("attribute %q has no datatype", a.msg.Name)
	}
	if a.msg.Data == nil && a.NumElements() > 0 {
		return errors.Errorf("attribute %q has no data", a.msg.Name)
	}
	return nil
}

// ReadFloat64s reads a numeric attribute as float64 values.
func (a *Attribute) ReadFloat64s() ([]float64, error) {
	var out []float64
	if err := a.ReadInto(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadInt64s reads an integer attribute as int64 values.
func (a *Attribute) ReadInt64s() ([]int64, error) {
	var out []int64
	if err := a.ReadInto(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadStrings reads a string attribute, fixed or variable length.
func (a *Attribute) ReadStrings() ([]string, error) {
	var out []string
	if err := a.ReadInto(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadString reads a scalar string attribute.
func (a *Attribute) ReadString() (string, error) {
	vals, err := a.ReadStrings()
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", errors.Errorf("attribute %q has no values", a.msg.Name)
	}
	return vals[0], nil
}
