package message

import (
	"github.com/skalare/goh5/internal/binary"
)

// Serialize writes the Datatype to the writer.
//
// Descriptors are written as version 1, which is what the symbol-table
// file layout expects. Array types did not exist in version 1 and are
// written as version 2.
func (m *Datatype) Serialize(w *binary.Writer) error {
	// Datatype message format:
	// Byte 0: Class (lower 4 bits) + Version (upper 4 bits)
	// Bytes 1-3: Class-specific bit fields (24 bits)
	// Bytes 4-7: Size (32 bits)
	// Bytes 8+: Class-specific properties

	version := uint8(1)
	if m.Class == ClassArray {
		version = 2
	}

	classAndVersion := uint8(m.Class) | (version << 4)
	if err := w.WriteUint8(classAndVersion); err != nil {
		return err
	}

	// Class bits (3 bytes, little-endian)
	if err := w.WriteUint8(uint8(m.ClassBits)); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(m.ClassBits >> 8)); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(m.ClassBits >> 16)); err != nil {
		return err
	}

	if err := w.WriteUint32(m.Size); err != nil {
		return err
	}

	switch m.Class {
	case ClassFixedPoint, ClassBitfield:
		if err := w.WriteUint16(m.BitOffset); err != nil {
			return err
		}
		if err := w.WriteUint16(m.BitPrecision); err != nil {
			return err
		}

	case ClassFloatPoint:
		if err := w.WriteUint16(m.BitOffset); err != nil {
			return err
		}
		if err := w.WriteUint16(m.BitPrecision); err != nil {
			return err
		}
		if err := w.WriteUint8(m.ExpLocation); err != nil {
			return err
		}
		if err := w.WriteUint8(m.ExpSize); err != nil {
			return err
		}
		if err := w.WriteUint8(m.MantLocation); err != nil {
			return err
		}
		if err := w.WriteUint8(m.MantSize); err != nil {
			return err
		}
		if err := w.WriteUint32(m.ExpBias); err != nil {
			return err
		}

	case ClassString:
		// No properties for strings

	case ClassCompound:
		for i := range m.Members {
			if err := writeCompoundMember(w, &m.Members[i]); err != nil {
				return err
			}
		}

	case ClassArray:
		if err := w.WriteUint8(uint8(len(m.ArrayDims))); err != nil {
			return err
		}
		if err := w.WriteZeros(3); err != nil {
			return err
		}
		for _, dim := range m.ArrayDims {
			if err := w.WriteUint32(dim); err != nil {
				return err
			}
		}
		if m.BaseType != nil {
			if err := m.BaseType.Serialize(w); err != nil {
				return err
			}
		}

	case ClassVarLen:
		if m.VarLenType != nil {
			if err := m.VarLenType.Serialize(w); err != nil {
				return err
			}
		}
	}

	return nil
}

// SerializedSize returns the size in bytes when serialized.
func (m *Datatype) SerializedSize(w *binary.Writer) int {
	// Prefix: 8 bytes (class+version, class bits, size)
	size := 8

	switch m.Class {
	case ClassFixedPoint, ClassBitfield:
		size += 4 // bit offset + bit precision
	case ClassFloatPoint:
		size += 12
	case ClassString:
		// no properties
	case ClassCompound:
		for i := range m.Members {
			size += compoundMemberSize(&m.Members[i])
		}
	case ClassArray:
		size += 4 + len(m.ArrayDims)*4 // dimensionality + reserved + dims
		if m.BaseType != nil {
			size += m.BaseType.SerializedSize(w)
		}
	case ClassVarLen:
		if m.VarLenType != nil {
			size += m.VarLenType.SerializedSize(w)
		}
	}

	return size
}

// writeCompoundMember writes a version 1 member record: the name
// padded to 8 bytes, a 4-byte offset, the 28-byte legacy array block
// and the member's type descriptor.
func writeCompoundMember(w *binary.Writer, member *CompoundMember) error {
	if err := w.WriteBytes([]byte(member.Name)); err != nil {
		return err
	}
	if err := w.WriteUint8(0); err != nil {
		return err
	}
	nameLen := len(member.Name) + 1
	if pad := (8 - nameLen%8) % 8; pad > 0 {
		if err := w.WriteZeros(pad); err != nil {
			return err
		}
	}

	if err := w.WriteUint32(member.ByteOffset); err != nil {
		return err
	}

	// Dimensionality, 3 reserved, permutation, 4 reserved, 4 dims
	if err := w.WriteUint8(member.Dimensionality); err != nil {
		return err
	}
	if err := w.WriteZeros(3); err != nil {
		return err
	}
	if err := w.WriteUint32(member.DimensionPermutation); err != nil {
		return err
	}
	if err := w.WriteZeros(4); err != nil {
		return err
	}
	for _, dim := range member.DimensionSizes {
		if err := w.WriteUint32(dim); err != nil {
			return err
		}
	}

	if member.Type != nil {
		if err := member.Type.Serialize(w); err != nil {
			return err
		}
	}

	return nil
}

// compoundMemberSize calculates the serialized size of a version 1
// member record.
func compoundMemberSize(member *CompoundMember) int {
	nameLen := len(member.Name) + 1
	if pad := (8 - nameLen%8) % 8; pad > 0 {
		nameLen += pad
	}
	size := nameLen + 4 + 28
	if member.Type != nil {
		size += member.Type.SerializedSize(nil)
	}
	return size
}

// NewFixedPointDatatype creates a new fixed-point (integer) datatype.
func NewFixedPointDatatype(size uint32, signed bool, byteOrder ByteOrder) *Datatype {
	classBits := uint32(byteOrder)
	if signed {
		classBits |= 0x08 // Signed flag
	}

	return &Datatype{
		Version:      1,
		Class:        ClassFixedPoint,
		ClassBits:    classBits,
		Size:         size,
		ByteOrder:    byteOrder,
		BitOffset:    0,
		BitPrecision: uint16(size * 8),
		Signed:       signed,
	}
}

// NewScaledDatatype creates a fixed-point datatype whose stored value
// is the real value multiplied by 2^bitOffset and rounded.
func NewScaledDatatype(size uint32, signed bool, bitOffset uint16, byteOrder ByteOrder) *Datatype {
	dt := NewFixedPointDatatype(size, signed, byteOrder)
	dt.BitOffset = bitOffset
	return dt
}

// NewFloatDatatype creates a new floating-point datatype. Only the
// IEEE 754 single and double layouts are produced.
func NewFloatDatatype(size uint32, byteOrder ByteOrder) *Datatype {
	// ClassBits for floating-point:
	//   Bit 0: byte order (0=LE, 1=BE)
	//   Bit 5: mantissa normalization (1 = implied MSB)
	//   Bits 8-15: sign bit location
	dt := &Datatype{
		Version:   1,
		Class:     ClassFloatPoint,
		Size:      size,
		ByteOrder: byteOrder,
	}

	switch size {
	case 4:
		dt.SignLocation = 31
		dt.BitPrecision = 32
		dt.ExpLocation = 23
		dt.ExpSize = 8
		dt.MantLocation = 0
		dt.MantSize = 23
		dt.ExpBias = 127
	case 8:
		dt.SignLocation = 63
		dt.BitPrecision = 64
		dt.ExpLocation = 52
		dt.ExpSize = 11
		dt.MantLocation = 0
		dt.MantSize = 52
		dt.ExpBias = 1023
	}

	dt.ClassBits = uint32(byteOrder) | (1 << 5) | (uint32(dt.SignLocation) << 8)
	return dt
}

// NewStringDatatype creates a new fixed-length string datatype.
func NewStringDatatype(size uint32, padding StringPadding, charset CharacterSet) *Datatype {
	classBits := uint32(padding) | (uint32(charset) << 4)

	return &Datatype{
		Version:       1,
		Class:         ClassString,
		ClassBits:     classBits,
		Size:          size,
		StringPadding: padding,
		CharSet:       charset,
	}
}

// NewVarLenStringDatatype creates a new variable-length string
// datatype. The element size covers the on-disk reference: a 4-byte
// length, the collection address and a 4-byte index.
func NewVarLenStringDatatype(charset CharacterSet, offsetSize int) *Datatype {
	// VarLen string: type=1 (string), charset in bits 4-7
	classBits := uint32(1) | (uint32(charset) << 4)

	baseType := &Datatype{
		Version:       1,
		Class:         ClassString,
		ClassBits:     uint32(PadNullTerm) | (uint32(charset) << 4),
		Size:          1,
		StringPadding: PadNullTerm,
		CharSet:       charset,
	}

	return &Datatype{
		Version:        1,
		Class:          ClassVarLen,
		ClassBits:      classBits,
		Size:           uint32(4 + offsetSize + 4),
		VarLenType:     baseType,
		IsVarLenString: true,
		CharSet:        charset,
	}
}

// NewVarLenDatatype creates a variable-length sequence datatype over
// the given element type.
func NewVarLenDatatype(elem *Datatype, offsetSize int) *Datatype {
	return &Datatype{
		Version:    1,
		Class:      ClassVarLen,
		ClassBits:  0, // type=0 (sequence)
		Size:       uint32(4 + offsetSize + 4),
		VarLenType: elem,
	}
}

// NewCompoundDatatype creates a new compound datatype.
func NewCompoundDatatype(size uint32, members []CompoundMember) *Datatype {
	return &Datatype{
		Version:   1,
		Class:     ClassCompound,
		ClassBits: uint32(len(members)),
		Size:      size,
		Members:   members,
	}
}

// NewArrayDatatype creates a new array datatype.
func NewArrayDatatype(dims []uint32, baseType *Datatype) *Datatype {
	totalElements := uint32(1)
	for _, d := range dims {
		totalElements *= d
	}

	return &Datatype{
		Version:   2,
		Class:     ClassArray,
		Size:      totalElements * baseType.Size,
		ArrayDims: dims,
		BaseType:  baseType,
	}
}
