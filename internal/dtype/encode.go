package dtype

import (
	"math"
	"math/big"
	"reflect"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/message"
)

// HeapSink receives variable-length payloads and reports where the
// object landed: collection address and 1-based object index.
// heap.GlobalHeapWriter satisfies it.
type HeapSink interface {
	Put(data []byte) (uint64, uint32, error)
}

type encodeState struct {
	sink       HeapSink
	offsetSize int
}

// Encode converts a Go value to stored bytes. A slice or array is
// treated as a sequence of elements unless the type itself is
// slice-shaped (opaque data, array types, variable-length sequences).
// Types containing variable-length data need EncodeWithHeap.
func Encode(dt *message.Datatype, src interface{}) ([]byte, error) {
	return EncodeWithHeap(dt, src, nil, 8)
}

// EncodeWithHeap is Encode with a destination for variable-length
// payloads. Each string or sequence is stored through sink and the
// element bytes carry the 4-byte count, offset-sized collection
// address and 4-byte object index that point at it. Empty values
// encode as an all-zero reference without touching the heap.
func EncodeWithHeap(dt *message.Datatype, src interface{}, sink HeapSink, offsetSize int) ([]byte, error) {
	if dt == nil {
		return nil, errors.New("nil datatype")
	}
	st := &encodeState{sink: sink, offsetSize: offsetSize}

	v := reflect.ValueOf(src)
	if v.Kind() == reflect.Ptr {
		if _, ok := src.(*big.Int); !ok {
			if _, ok := src.(*big.Rat); !ok {
				v = v.Elem()
			}
		}
	}
	if isSingleElement(dt, v) {
		return st.encodeValue(dt, v)
	}
	return st.encodeElements(dt, v)
}

// EncodeScalar encodes a single value.
func EncodeScalar(dt *message.Datatype, src interface{}) ([]byte, error) {
	return EncodeWithHeap(dt, src, nil, 8)
}

// EncodeScalarWithHeap encodes a single value that may hold
// variable-length data.
func EncodeScalarWithHeap(dt *message.Datatype, src interface{}, sink HeapSink, offsetSize int) ([]byte, error) {
	return EncodeWithHeap(dt, src, sink, offsetSize)
}

// isSingleElement decides whether a slice-kinded value is one element
// of the type rather than a sequence of elements.
func isSingleElement(dt *message.Datatype, v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		return true
	}
	switch dt.Class {
	case message.ClassOpaque:
		return v.Type().Elem().Kind() == reflect.Uint8
	case message.ClassArray:
		elemKind := v.Type().Elem().Kind()
		return elemKind != reflect.Slice && elemKind != reflect.Array &&
			uint64(v.Len()) == arrayElements(dt)
	case message.ClassVarLen:
		if dt.IsVarLenString {
			return false
		}
		return v.Type().Elem().Kind() != reflect.Slice
	}
	return false
}

// encodeElements writes a sequence in row-major order, recursing
// through nested slices so multi-dimensional values flatten to one
// run of element bytes.
func (st *encodeState) encodeElements(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, errors.Errorf("cannot encode %s as a sequence of elements", v.Kind())
	}
	n := v.Len()
	out := make([]byte, 0, n*int(dt.Size))
	for i := 0; i < n; i++ {
		ev := v.Index(i)
		for ev.Kind() == reflect.Interface {
			ev = ev.Elem()
		}
		var b []byte
		var err error
		if isSingleElement(dt, ev) {
			b, err = st.encodeValue(dt, ev)
		} else {
			b, err = st.encodeElements(dt, ev)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		out = append(out, b...)
	}
	return out, nil
}

func (st *encodeState) encodeValue(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	for v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch dt.Class {
	case message.ClassFixedPoint:
		return encodeFixedPointValue(dt, v)
	case message.ClassFloatPoint:
		return encodeFloatValue(dt, v)
	case message.ClassString:
		return encodeFixedStringValue(dt, v)
	case message.ClassVarLen:
		return st.encodeVarLen(dt, v)
	case message.ClassCompound:
		return st.encodeCompound(dt, v)
	case message.ClassArray:
		return st.encodeArray(dt, v)
	case message.ClassEnum, message.ClassBitfield:
		i, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return bigIntBytes(i, int(dt.Size), dt.ByteOrder, i.Sign() < 0)
	case message.ClassOpaque:
		return encodeOpaqueValue(dt, v)
	default:
		return nil, errors.Errorf("cannot encode datatype class %d", dt.Class)
	}
}

func encodeFixedPointValue(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	var i *big.Int
	if dt.IsScaled() {
		r, err := toRat(v)
		if err != nil {
			return nil, err
		}
		scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(pow2(dt.BitOffset)))
		i = roundHalfUp(scaled)
	} else {
		var err error
		i, err = toInt(v)
		if err != nil {
			return nil, err
		}
	}
	return bigIntBytes(i, int(dt.Size), dt.ByteOrder, dt.Signed)
}

func encodeFloatValue(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	if err := checkIEEE(dt); err != nil {
		return nil, err
	}
	var f float64
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f = v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f = float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f = float64(v.Uint())
	default:
		return nil, errors.Errorf("cannot encode %s as float", v.Kind())
	}
	out := make([]byte, dt.Size)
	order := ByteOrder(dt)
	if dt.Size == 4 {
		order.PutUint32(out, math.Float32bits(float32(f)))
	} else {
		order.PutUint64(out, math.Float64bits(f))
	}
	return out, nil
}

func encodeFixedStringValue(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	if v.Kind() != reflect.String {
		return nil, errors.Errorf("cannot encode %s as string", v.Kind())
	}
	size := int(dt.Size)
	out := make([]byte, size)
	n := copy(out, v.String())
	if dt.StringPadding == message.PadSpacePad {
		for j := n; j < size; j++ {
			out[j] = ' '
		}
	}
	return out, nil
}

func (st *encodeState) encodeVarLen(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	ref := make([]byte, 4+st.offsetSize+4)

	var payload []byte
	var count int
	if dt.IsVarLenString {
		if v.Kind() != reflect.String {
			return nil, errors.Errorf("cannot encode %s as variable-length string", v.Kind())
		}
		s := v.String()
		if s == "" {
			return ref, nil
		}
		payload = []byte(s)
		count = len(payload)
	} else {
		if dt.VarLenType == nil {
			return nil, errors.New("variable-length sequence has no element type")
		}
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return nil, errors.Errorf("cannot encode %s as variable-length sequence", v.Kind())
		}
		count = v.Len()
		if count == 0 {
			return ref, nil
		}
		var err error
		payload, err = st.encodeElements(dt.VarLenType, v)
		if err != nil {
			return nil, err
		}
	}

	if st.sink == nil {
		return nil, errors.New("variable-length data requires a global heap writer")
	}
	address, index, err := st.sink.Put(payload)
	if err != nil {
		return nil, errors.Wrap(err, "storing variable-length payload")
	}
	putUintLE(ref[0:4], uint64(count))
	putUintLE(ref[4:4+st.offsetSize], address)
	putUintLE(ref[4+st.offsetSize:], uint64(index))
	return ref, nil
}

func (st *encodeState) encodeCompound(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	m, ok := v.Interface().(map[string]any)
	if !ok {
		return nil, errors.Errorf("cannot encode %s as compound value, want map[string]any", v.Type())
	}
	out := make([]byte, dt.Size)
	for i := range dt.Members {
		member := &dt.Members[i]
		raw, present := m[member.Name]
		if !present {
			return nil, errors.Errorf("compound value missing member %q", member.Name)
		}
		mv := reflect.ValueOf(raw)
		var (
			b   []byte
			err error
		)
		if n := memberElements(member); n > 1 {
			if mv.Kind() != reflect.Slice && mv.Kind() != reflect.Array {
				err = errors.Errorf("member %q wants %d elements, got %s", member.Name, n, mv.Kind())
			} else if uint64(mv.Len()) != n {
				err = errors.Errorf("member %q wants %d elements, got %d", member.Name, n, mv.Len())
			} else {
				b, err = st.encodeElements(member.Type, mv)
			}
		} else {
			b, err = st.encodeValue(member.Type, mv)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "encoding member %q", member.Name)
		}
		offset := int(member.ByteOffset)
		if offset+len(b) > len(out) {
			return nil, errors.Errorf("member %q overruns element: offset %d plus %d bytes exceeds size %d",
				member.Name, offset, len(b), len(out))
		}
		copy(out[offset:], b)
	}
	return out, nil
}

func (st *encodeState) encodeArray(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	if dt.BaseType == nil {
		return nil, errors.New("array type has no base type")
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, errors.Errorf("cannot encode %s as array value", v.Kind())
	}
	total := arrayElements(dt)
	if uint64(v.Len()) != total {
		return nil, errors.Errorf("array value has %d elements, type wants %d", v.Len(), total)
	}
	return st.encodeElements(dt.BaseType, v)
}

func encodeOpaqueValue(dt *message.Datatype, v reflect.Value) ([]byte, error) {
	b, ok := v.Interface().([]byte)
	if !ok {
		return nil, errors.Errorf("cannot encode %s as opaque data, want []byte", v.Type())
	}
	size := int(dt.Size)
	if len(b) > size {
		return nil, errors.Errorf("opaque value of %d bytes exceeds type size %d", len(b), size)
	}
	out := make([]byte, size)
	copy(out, b)
	return out, nil
}

// toInt widens any Go integer or *big.Int.
func toInt(v reflect.Value) (*big.Int, error) {
	switch x := v.Interface().(type) {
	case *big.Int:
		return x, nil
	case big.Int:
		return &x, nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(v.Uint()), nil
	}
	return nil, errors.Errorf("cannot encode %s as integer", v.Kind())
}

// toRat widens integers, floats, *big.Int and *big.Rat.
func toRat(v reflect.Value) (*big.Rat, error) {
	switch x := v.Interface().(type) {
	case *big.Rat:
		return x, nil
	case big.Rat:
		return &x, nil
	case *big.Int:
		return new(big.Rat).SetInt(x), nil
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		r := new(big.Rat).SetFloat64(v.Float())
		if r == nil {
			return nil, errors.Errorf("cannot encode %v as scaled integer", v.Float())
		}
		return r, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return new(big.Rat).SetInt64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Rat).SetInt(new(big.Int).SetUint64(v.Uint())), nil
	}
	return nil, errors.Errorf("cannot encode %s as scaled integer", v.Kind())
}

// roundHalfUp rounds to the nearest integer, ties toward positive
// infinity: floor((2n + d) / 2d) with d > 0.
func roundHalfUp(r *big.Rat) *big.Int {
	num := new(big.Int).Lsh(r.Num(), 1)
	num.Add(num, r.Denom())
	den := new(big.Int).Lsh(r.Denom(), 1)
	return num.Div(num, den)
}

// bigIntBytes writes v as a size-byte two's-complement integer,
// rejecting values outside the representable range.
func bigIntBytes(v *big.Int, size int, order message.ByteOrder, signed bool) ([]byte, error) {
	bits := uint(size) * 8
	var lo, hi *big.Int
	if signed {
		hi = new(big.Int).Lsh(big.NewInt(1), bits-1)
		lo = new(big.Int).Neg(hi)
		hi = new(big.Int).Sub(hi, big.NewInt(1))
	} else {
		lo = big.NewInt(0)
		hi = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits), big.NewInt(1))
	}
	if v.Cmp(lo) < 0 || v.Cmp(hi) > 0 {
		kind := "unsigned"
		if signed {
			kind = "signed"
		}
		return nil, errors.Errorf("value %s does not fit a %d-byte %s integer", v, size, kind)
	}
	u := v
	if v.Sign() < 0 {
		u = new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), bits))
	}
	out := u.FillBytes(make([]byte, size))
	if order != message.OrderBE {
		for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func putUintLE(buf []byte, v uint64) {
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

// ValueShape derives the dataset shape of a Go value under the given
// stored type: one dimension per nesting level the type does not
// absorb itself. Scalars yield a nil shape.
func ValueShape(dt *message.Datatype, src interface{}) []uint64 {
	v := reflect.ValueOf(src)
	if v.Kind() == reflect.Ptr {
		if _, ok := src.(*big.Int); !ok {
			if _, ok := src.(*big.Rat); !ok {
				v = v.Elem()
			}
		}
	}

	var dims []uint64
	for (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) && !isSingleElement(dt, v) {
		dims = append(dims, uint64(v.Len()))
		if v.Len() == 0 {
			break
		}
		v = v.Index(0)
		for v.Kind() == reflect.Interface {
			v = v.Elem()
		}
	}
	return dims
}

// GoTypeToDatatype derives a stored type from a Go type. Strings map
// to variable-length strings, so the reference layout needs the
// file's offset size.
func GoTypeToDatatype(t reflect.Type, offsetSize int) (*message.Datatype, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Int8:
		return message.NewFixedPointDatatype(1, true, message.OrderLE), nil
	case reflect.Int16:
		return message.NewFixedPointDatatype(2, true, message.OrderLE), nil
	case reflect.Int32:
		return message.NewFixedPointDatatype(4, true, message.OrderLE), nil
	case reflect.Int64, reflect.Int:
		return message.NewFixedPointDatatype(8, true, message.OrderLE), nil
	case reflect.Uint8:
		return message.NewFixedPointDatatype(1, false, message.OrderLE), nil
	case reflect.Uint16:
		return message.NewFixedPointDatatype(2, false, message.OrderLE), nil
	case reflect.Uint32:
		return message.NewFixedPointDatatype(4, false, message.OrderLE), nil
	case reflect.Uint64, reflect.Uint:
		return message.NewFixedPointDatatype(8, false, message.OrderLE), nil
	case reflect.Float32:
		return message.NewFloatDatatype(4, message.OrderLE), nil
	case reflect.Float64:
		return message.NewFloatDatatype(8, message.OrderLE), nil
	case reflect.String:
		return message.NewVarLenStringDatatype(message.CharsetUTF8, offsetSize), nil
	default:
		return nil, errors.Errorf("unsupported Go type: %v", t)
	}
}

// DataSize returns the total size in bytes needed to store n elements of the given datatype.
func DataSize(dt *message.Datatype, n uint64) uint64 {
	return uint64(dt.Size) * n
}
