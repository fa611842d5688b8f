package dtype

import (
	"encoding/binary"
	"math/big"
	"reflect"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/message"
)

// GoType returns the static Go type Decode produces for one element
// of dt.
func GoType(dt *message.Datatype) (reflect.Type, error) {
	if dt == nil {
		return nil, errors.New("nil datatype")
	}

	switch dt.Class {
	case message.ClassFixedPoint:
		return goTypeFixedPoint(dt)

	case message.ClassFloatPoint:
		switch dt.Size {
		case 4:
			return reflect.TypeOf(float32(0)), nil
		case 8:
			return reflect.TypeOf(float64(0)), nil
		}
		return nil, errors.Errorf("unsupported float size %d", dt.Size)

	case message.ClassString:
		return reflect.TypeOf(""), nil

	case message.ClassVarLen:
		if dt.IsVarLenString {
			return reflect.TypeOf(""), nil
		}
		if dt.VarLenType == nil {
			return nil, errors.New("variable-length sequence has no element type")
		}
		elem, err := GoType(dt.VarLenType)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil

	case message.ClassCompound:
		return reflect.TypeOf(map[string]interface{}(nil)), nil

	case message.ClassArray:
		if dt.BaseType == nil {
			return nil, errors.New("array type has no element type")
		}
		elem, err := GoType(dt.BaseType)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil

	case message.ClassEnum:
		if dt.Size == 8 {
			return reflect.TypeOf(int64(0)), nil
		}
		return reflect.TypeOf(int32(0)), nil

	case message.ClassBitfield:
		switch dt.Size {
		case 1:
			return reflect.TypeOf(uint8(0)), nil
		case 2:
			return reflect.TypeOf(uint16(0)), nil
		case 4:
			return reflect.TypeOf(uint32(0)), nil
		case 8:
			return reflect.TypeOf(uint64(0)), nil
		}
		return nil, errors.Errorf("unsupported bitfield size %d", dt.Size)

	case message.ClassOpaque:
		return reflect.TypeOf([]byte(nil)), nil

	default:
		return nil, errors.Errorf("unsupported datatype class %d", dt.Class)
	}
}

func goTypeFixedPoint(dt *message.Datatype) (reflect.Type, error) {
	if dt.IsScaled() {
		return reflect.TypeOf((*big.Rat)(nil)), nil
	}
	if dt.Size > 8 {
		return reflect.TypeOf((*big.Int)(nil)), nil
	}
	if dt.Signed {
		switch {
		case dt.Size == 1:
			return reflect.TypeOf(int8(0)), nil
		case dt.Size == 2:
			return reflect.TypeOf(int16(0)), nil
		case dt.Size <= 4:
			return reflect.TypeOf(int32(0)), nil
		default:
			return reflect.TypeOf(int64(0)), nil
		}
	}
	switch {
	case dt.Size == 1:
		return reflect.TypeOf(uint8(0)), nil
	case dt.Size == 2:
		return reflect.TypeOf(uint16(0)), nil
	case dt.Size <= 4:
		return reflect.TypeOf(uint32(0)), nil
	default:
		return reflect.TypeOf(uint64(0)), nil
	}
}

// ByteOrder returns the byte order the datatype's raw bytes use.
func ByteOrder(dt *message.Datatype) binary.ByteOrder {
	if dt.ByteOrder == message.OrderBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
