package dtype

import (
	"math"
	"math/big"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/heap"
	"github.com/skalare/goh5/internal/message"
)

// ErrUnsupportedLayout marks a float descriptor whose bit layout is
// not one of the two IEEE 754 profiles this codec speaks.
var ErrUnsupportedLayout = errors.New("unsupported floating-point layout")

// decodeState threads the file reader and a per-call cache of global
// heap collections through nested decodes.
type decodeState struct {
	r     *binary.Reader
	heaps map[uint64]*heap.GlobalHeap
}

func (st *decodeState) collection(address uint64) (*heap.GlobalHeap, error) {
	if st.r == nil {
		return nil, errors.New("variable-length data requires a file reader")
	}
	if gh, ok := st.heaps[address]; ok {
		return gh, nil
	}
	gh, err := heap.ReadGlobalHeap(st.r, address)
	if err != nil {
		return nil, errors.Wrapf(err, "reading global heap at %d", address)
	}
	if st.heaps == nil {
		st.heaps = make(map[uint64]*heap.GlobalHeap)
	}
	st.heaps[address] = gh
	return gh, nil
}

// Decode interprets one stored element as a Go value: integers sized
// to their container (*big.Int past 8 bytes, *big.Rat when scaled),
// float32/float64, string, []byte for opaque data, map[string]any for
// compounds, and typed slices for arrays and variable-length
// sequences. The reader resolves global heap references and may be
// nil when the type holds no variable-length data.
func Decode(dt *message.Datatype, data []byte, r *binary.Reader) (any, error) {
	return decodeValue(dt, data, &decodeState{r: r})
}

// DecodeSlice decodes n contiguous elements into a typed slice.
func DecodeSlice(dt *message.Datatype, data []byte, n uint64, r *binary.Reader) (any, error) {
	return decodeSlice(dt, data, n, &decodeState{r: r})
}

func decodeValue(dt *message.Datatype, data []byte, st *decodeState) (any, error) {
	if dt == nil {
		return nil, errors.New("nil datatype")
	}
	size := int(dt.Size)
	if len(data) < size {
		return nil, errors.Errorf("element truncated: type needs %d bytes, have %d", size, len(data))
	}
	data = data[:size]

	switch dt.Class {
	case message.ClassFixedPoint:
		return decodeFixedPoint(dt, data)
	case message.ClassFloatPoint:
		return decodeFloat(dt, data)
	case message.ClassString:
		return decodeFixedString(dt, data), nil
	case message.ClassVarLen:
		return decodeVarLen(dt, data, st)
	case message.ClassCompound:
		return decodeCompound(dt, data, st)
	case message.ClassArray:
		return decodeSlice(dt.BaseType, data, arrayElements(dt), st)
	case message.ClassEnum:
		return decodeEnum(dt, data)
	case message.ClassBitfield:
		return decodeBitfield(dt, data)
	case message.ClassOpaque:
		out := make([]byte, size)
		copy(out, data)
		return out, nil
	default:
		return nil, errors.Errorf("cannot decode datatype class %d", dt.Class)
	}
}

func decodeFixedPoint(dt *message.Datatype, data []byte) (any, error) {
	raw := bigIntFrom(data, dt.ByteOrder, dt.Signed)
	if dt.IsScaled() {
		return new(big.Rat).SetFrac(raw, pow2(dt.BitOffset)), nil
	}
	if int(dt.Size) > 8 {
		return raw, nil
	}
	if dt.Signed {
		switch {
		case dt.Size == 1:
			return int8(raw.Int64()), nil
		case dt.Size == 2:
			return int16(raw.Int64()), nil
		case dt.Size <= 4:
			return int32(raw.Int64()), nil
		default:
			return raw.Int64(), nil
		}
	}
	switch {
	case dt.Size == 1:
		return uint8(raw.Uint64()), nil
	case dt.Size == 2:
		return uint16(raw.Uint64()), nil
	case dt.Size <= 4:
		return uint32(raw.Uint64()), nil
	default:
		return raw.Uint64(), nil
	}
}

func decodeFloat(dt *message.Datatype, data []byte) (any, error) {
	if err := checkIEEE(dt); err != nil {
		return nil, err
	}
	order := ByteOrder(dt)
	if dt.Size == 4 {
		return math.Float32frombits(order.Uint32(data)), nil
	}
	return math.Float64frombits(order.Uint64(data)), nil
}

func decodeFixedString(dt *message.Datatype, data []byte) string {
	end := len(data)
	for i, b := range data {
		if b == 0 {
			end = i
			break
		}
	}
	if dt.StringPadding == message.PadSpacePad {
		for end > 0 && data[end-1] == ' ' {
			end--
		}
	}
	return string(data[:end])
}

func decodeVarLen(dt *message.Datatype, data []byte, st *decodeState) (any, error) {
	offsetSize := 8
	if st.r != nil {
		offsetSize = st.r.OffsetSize()
	}
	if len(data) < 4+offsetSize+4 {
		return nil, errors.Errorf("variable-length reference truncated: %d bytes", len(data))
	}
	count := uint64(data[0]) | uint64(data[1])<<8 | uint64(data[2])<<16 | uint64(data[3])<<24
	id, err := heap.ParseGlobalHeapID(data[4:], offsetSize)
	if err != nil {
		return nil, errors.Wrap(err, "parsing global heap reference")
	}

	if id.CollectionAddress == 0 {
		if dt.IsVarLenString {
			return "", nil
		}
		return nil, nil
	}

	gh, err := st.collection(id.CollectionAddress)
	if err != nil {
		return nil, err
	}
	payload, err := gh.Get(id.ObjectIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving heap object %d", id.ObjectIndex)
	}

	if dt.IsVarLenString {
		if uint64(len(payload)) > count {
			payload = payload[:count]
		}
		return string(payload), nil
	}
	if dt.VarLenType == nil {
		return nil, errors.New("variable-length sequence has no element type")
	}
	return decodeSlice(dt.VarLenType, payload, count, st)
}

func decodeCompound(dt *message.Datatype, data []byte, st *decodeState) (any, error) {
	out := make(map[string]any, len(dt.Members))
	for i := range dt.Members {
		member := &dt.Members[i]
		if member.Type == nil {
			continue
		}
		offset := int(member.ByteOffset)
		if offset > len(data) {
			return nil, errors.Errorf("member %q offset %d outside element of %d bytes",
				member.Name, offset, len(data))
		}
		var (
			value any
			err   error
		)
		if n := memberElements(member); n > 1 {
			value, err = decodeSlice(member.Type, data[offset:], n, st)
		} else {
			value, err = decodeValue(member.Type, data[offset:], st)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decoding member %q", member.Name)
		}
		out[member.Name] = value
	}
	return out, nil
}

func decodeEnum(dt *message.Datatype, data []byte) (any, error) {
	order := ByteOrder(dt)
	switch dt.Size {
	case 1:
		return int32(int8(data[0])), nil
	case 2:
		return int32(int16(order.Uint16(data))), nil
	case 4:
		return int32(order.Uint32(data)), nil
	case 8:
		return int64(order.Uint64(data)), nil
	}
	return nil, errors.Errorf("unsupported enum size %d", dt.Size)
}

func decodeBitfield(dt *message.Datatype, data []byte) (any, error) {
	order := ByteOrder(dt)
	switch dt.Size {
	case 1:
		return data[0], nil
	case 2:
		return order.Uint16(data), nil
	case 4:
		return order.Uint32(data), nil
	case 8:
		return order.Uint64(data), nil
	}
	return nil, errors.Errorf("unsupported bitfield size %d", dt.Size)
}

func decodeSlice(dt *message.Datatype, data []byte, n uint64, st *decodeState) (any, error) {
	if dt == nil {
		return nil, errors.New("nil datatype")
	}
	size := uint64(dt.Size)
	if uint64(len(data)) < n*size {
		return nil, errors.Errorf("data truncated: %d elements of %d bytes need %d, have %d",
			n, size, n*size, len(data))
	}

	elem := func(i uint64) []byte { return data[i*size : (i+1)*size] }

	switch {
	case dt.Class == message.ClassFixedPoint && dt.IsScaled():
		out := make([]*big.Rat, n)
		for i := uint64(0); i < n; i++ {
			out[i] = new(big.Rat).SetFrac(bigIntFrom(elem(i), dt.ByteOrder, dt.Signed), pow2(dt.BitOffset))
		}
		return out, nil

	case dt.Class == message.ClassFixedPoint && dt.Size > 8:
		out := make([]*big.Int, n)
		for i := uint64(0); i < n; i++ {
			out[i] = bigIntFrom(elem(i), dt.ByteOrder, dt.Signed)
		}
		return out, nil

	case dt.Class == message.ClassFixedPoint:
		return decodeIntegerSlice(dt, data, n)

	case dt.Class == message.ClassFloatPoint:
		if err := checkIEEE(dt); err != nil {
			return nil, err
		}
		order := ByteOrder(dt)
		if dt.Size == 4 {
			out := make([]float32, n)
			for i := uint64(0); i < n; i++ {
				out[i] = math.Float32frombits(order.Uint32(elem(i)))
			}
			return out, nil
		}
		out := make([]float64, n)
		for i := uint64(0); i < n; i++ {
			out[i] = math.Float64frombits(order.Uint64(elem(i)))
		}
		return out, nil

	case dt.Class == message.ClassString,
		dt.Class == message.ClassVarLen && dt.IsVarLenString:
		out := make([]string, n)
		for i := uint64(0); i < n; i++ {
			v, err := decodeValue(dt, elem(i), st)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			out[i] = v.(string)
		}
		return out, nil

	case dt.Class == message.ClassCompound:
		out := make([]map[string]any, n)
		for i := uint64(0); i < n; i++ {
			v, err := decodeCompound(dt, elem(i), st)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			out[i] = v.(map[string]any)
		}
		return out, nil

	default:
		out := make([]any, n)
		for i := uint64(0); i < n; i++ {
			v, err := decodeValue(dt, elem(i), st)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			out[i] = v
		}
		return out, nil
	}
}

func decodeIntegerSlice(dt *message.Datatype, data []byte, n uint64) (any, error) {
	size := uint64(dt.Size)
	elem := func(i uint64) []byte { return data[i*size : (i+1)*size] }
	if dt.Signed {
		switch {
		case dt.Size == 1:
			out := make([]int8, n)
			for i := uint64(0); i < n; i++ {
				out[i] = int8(elem(i)[0])
			}
			return out, nil
		case dt.Size == 2:
			order := ByteOrder(dt)
			out := make([]int16, n)
			for i := uint64(0); i < n; i++ {
				out[i] = int16(order.Uint16(elem(i)))
			}
			return out, nil
		case dt.Size <= 4:
			out := make([]int32, n)
			for i := uint64(0); i < n; i++ {
				out[i] = int32(bigIntFrom(elem(i), dt.ByteOrder, true).Int64())
			}
			return out, nil
		default:
			out := make([]int64, n)
			for i := uint64(0); i < n; i++ {
				out[i] = bigIntFrom(elem(i), dt.ByteOrder, true).Int64()
			}
			return out, nil
		}
	}
	switch {
	case dt.Size == 1:
		out := make([]uint8, n)
		copy(out, data[:n])
		return out, nil
	case dt.Size == 2:
		order := ByteOrder(dt)
		out := make([]uint16, n)
		for i := uint64(0); i < n; i++ {
			out[i] = order.Uint16(elem(i))
		}
		return out, nil
	case dt.Size <= 4:
		out := make([]uint32, n)
		for i := uint64(0); i < n; i++ {
			out[i] = uint32(bigIntFrom(elem(i), dt.ByteOrder, false).Uint64())
		}
		return out, nil
	default:
		out := make([]uint64, n)
		for i := uint64(0); i < n; i++ {
			out[i] = bigIntFrom(elem(i), dt.ByteOrder, false).Uint64()
		}
		return out, nil
	}
}

// bigIntFrom interprets size bytes as a (possibly two's-complement)
// integer in the given byte order.
func bigIntFrom(data []byte, order message.ByteOrder, signed bool) *big.Int {
	be := make([]byte, len(data))
	if order == message.OrderBE {
		copy(be, data)
	} else {
		for i, b := range data {
			be[len(data)-1-i] = b
		}
	}
	v := new(big.Int).SetBytes(be)
	if signed && len(be) > 0 && be[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(len(be)*8)))
	}
	return v
}

func pow2(bits uint16) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(bits))
}

func arrayElements(dt *message.Datatype) uint64 {
	total := uint64(1)
	for _, d := range dt.ArrayDims {
		total *= uint64(d)
	}
	return total
}

// memberElements returns the element count of a version 1 compound
// member's legacy dimension block; scalar members report 1.
func memberElements(member *message.CompoundMember) uint64 {
	total := uint64(1)
	for i := 0; i < int(member.Dimensionality) && i < len(member.DimensionSizes); i++ {
		total *= uint64(member.DimensionSizes[i])
	}
	return total
}

// checkIEEE verifies the float descriptor is one of the two IEEE 754
// layouts.
func checkIEEE(dt *message.Datatype) error {
	switch dt.Size {
	case 4:
		if dt.BitOffset == 0 && dt.BitPrecision == 32 &&
			dt.ExpLocation == 23 && dt.ExpSize == 8 &&
			dt.MantLocation == 0 && dt.MantSize == 23 &&
			dt.ExpBias == 127 {
			return nil
		}
	case 8:
		if dt.BitOffset == 0 && dt.BitPrecision == 64 &&
			dt.ExpLocation == 52 && dt.ExpSize == 11 &&
			dt.MantLocation == 0 && dt.MantSize == 52 &&
			dt.ExpBias == 1023 {
			return nil
		}
	}
	return errors.Wrapf(ErrUnsupportedLayout,
		"size %d, exponent %d+%d bias %d, mantissa %d+%d",
		dt.Size, dt.ExpLocation, dt.ExpSize, dt.ExpBias, dt.MantLocation, dt.MantSize)
}
