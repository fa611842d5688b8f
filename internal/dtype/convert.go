package dtype

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/message"
)

// Convert decodes n contiguous elements into dest without file access.
// Variable-length data needs a reader; use ConvertWithReader for it.
func Convert(dt *message.Datatype, data []byte, n uint64, dest interface{}) error {
	return ConvertWithReader(dt, data, n, dest, nil)
}

// ConvertWithReader decodes n contiguous elements into dest, a pointer
// to a slice or to a single value. Elements are decoded to their
// natural Go type first; where dest's element type differs, numeric
// values are converted through reflect, so int32 data can be read into
// []int64 or []float64.
func ConvertWithReader(dt *message.Datatype, data []byte, n uint64, dest interface{}, r *binary.Reader) error {
	if dt == nil {
		return errors.New("nil datatype")
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return errors.New("dest must be a non-nil pointer")
	}
	out := dv.Elem()

	if out.Kind() == reflect.Slice {
		natural, err := DecodeSlice(dt, data, n, r)
		if err != nil {
			return err
		}
		return assignSlice(out, reflect.ValueOf(natural))
	}

	if n != 1 {
		return errors.Errorf("cannot store %d elements in a single %s", n, out.Type())
	}
	natural, err := Decode(dt, data, r)
	if err != nil {
		return err
	}
	return assignValue(out, reflect.ValueOf(natural))
}

func assignSlice(out, natural reflect.Value) error {
	if natural.Type() == out.Type() {
		out.Set(natural)
		return nil
	}
	res := reflect.MakeSlice(out.Type(), natural.Len(), natural.Len())
	for i := 0; i < natural.Len(); i++ {
		ev := natural.Index(i)
		for ev.Kind() == reflect.Interface {
			ev = ev.Elem()
		}
		if err := assignValue(res.Index(i), ev); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	out.Set(res)
	return nil
}

func assignValue(out, v reflect.Value) error {
	if !v.IsValid() {
		// Null variable-length reference.
		out.Set(reflect.Zero(out.Type()))
		return nil
	}
	if v.Type().AssignableTo(out.Type()) {
		out.Set(v)
		return nil
	}
	if numericKind(v.Kind()) && numericKind(out.Kind()) {
		out.Set(v.Convert(out.Type()))
		return nil
	}
	return errors.Errorf("cannot convert %s to %s", v.Type(), out.Type())
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
