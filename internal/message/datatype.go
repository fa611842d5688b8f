package message

import (
	"encoding/binary"

	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// DatatypeClass represents the class of an HDF5 datatype.
type DatatypeClass uint8

const (
	ClassFixedPoint DatatypeClass = 0  // Integers
	ClassFloatPoint DatatypeClass = 1  // Floating-point
	ClassTime       DatatypeClass = 2  // Time (rarely used)
	ClassString     DatatypeClass = 3  // Strings
	ClassBitfield   DatatypeClass = 4  // Bitfields
	ClassOpaque     DatatypeClass = 5  // Opaque data
	ClassCompound   DatatypeClass = 6  // Compound types (structs)
	ClassReference  DatatypeClass = 7  // References to objects/regions
	ClassEnum       DatatypeClass = 8  // Enumerated types
	ClassVarLen     DatatypeClass = 9  // Variable-length data
	ClassArray      DatatypeClass = 10 // Fixed-size arrays
)

// ByteOrder represents the byte order of numeric types.
type ByteOrder uint8

const (
	OrderLE   ByteOrder = 0 // Little-endian
	OrderBE   ByteOrder = 1 // Big-endian
	OrderVAX  ByteOrder = 2 // VAX mixed-endian (rare)
	OrderNone ByteOrder = 3 // Not applicable
)

// StringPadding represents how strings are padded.
type StringPadding uint8

const (
	PadNullTerm StringPadding = 0 // Null-terminated
	PadNullPad  StringPadding = 1 // Null-padded
	PadSpacePad StringPadding = 2 // Space-padded
)

// CharacterSet represents the character encoding.
type CharacterSet uint8

const (
	CharsetASCII CharacterSet = 0
	CharsetUTF8  CharacterSet = 1
)

// Nested compound/varlen descriptors deeper than this are rejected
// rather than parsed, guarding against cyclic or corrupt descriptors.
const maxTypeDepth = 8

// Datatype represents a datatype message (type 0x0003).
//
// The Size field from the descriptor prefix is authoritative for the
// stored element size. Bit-level fields (BitPrecision etc.) describe
// the interpretation of those bytes and never override Size.
type Datatype struct {
	Version   uint8
	Class     DatatypeClass
	ClassBits uint32 // Class-specific bit field
	Size      uint32

	// Class-specific properties
	ByteOrder ByteOrder

	// Fixed-point specific. A non-zero BitOffset denotes a scaled
	// integer: stored = round(value * 2^BitOffset).
	BitOffset    uint16
	BitPrecision uint16
	Signed       bool

	// Float-point specific
	ExpLocation  uint8
	ExpSize      uint8
	MantLocation uint8
	MantSize     uint8
	ExpBias      uint32
	SignLocation uint8

	// String specific
	StringPadding StringPadding
	CharSet       CharacterSet

	// Compound specific
	Members []CompoundMember

	// Array specific
	ArrayDims []uint32
	BaseType  *Datatype

	// VarLen specific
	VarLenType     *Datatype
	IsVarLenString bool

	// Raw properties data, as read from the file
	Properties []byte
}

// CompoundMember represents a member of a compound datatype.
//
// Version 1 members carry a legacy array block describing per-member
// dimensions. Scalar members (the common case) have Dimensionality 0
// and all-zero sizes.
type CompoundMember struct {
	Name       string
	ByteOffset uint32
	Type       *Datatype

	// Version 1 dimension block
	Dimensionality       uint8
	DimensionPermutation uint32
	DimensionSizes       [4]uint32
}

func (m *Datatype) Type() Type { return TypeDatatype }

// IsInteger returns true if this is an integer type.
func (m *Datatype) IsInteger() bool {
	return m.Class == ClassFixedPoint
}

// IsFloat returns true if this is a floating-point type.
func (m *Datatype) IsFloat() bool {
	return m.Class == ClassFloatPoint
}

// IsString returns true if this is a string type (fixed or variable-length).
func (m *Datatype) IsString() bool {
	return m.Class == ClassString || (m.Class == ClassVarLen && m.IsVarLenString)
}

// IsCompound returns true if this is a compound type.
func (m *Datatype) IsCompound() bool {
	return m.Class == ClassCompound
}

// IsArray returns true if this is an array type.
func (m *Datatype) IsArray() bool {
	return m.Class == ClassArray
}

// IsVarLen returns true if this is a variable-length type.
func (m *Datatype) IsVarLen() bool {
	return m.Class == ClassVarLen
}

// IsScaled returns true for fixed-point types whose stored value is
// value * 2^BitOffset.
func (m *Datatype) IsScaled() bool {
	return m.Class == ClassFixedPoint && m.BitOffset > 0
}

func parseDatatype(data []byte, r *binpkg.Reader) (*Datatype, error) {
	dt, _, err := parseDatatypeAt(data, r, 0)
	return dt, err
}

// parseDatatypeWithSize parses a datatype and returns the total bytes consumed.
func parseDatatypeWithSize(data []byte, r *binpkg.Reader) (*Datatype, int, error) {
	return parseDatatypeAt(data, r, 0)
}

func parseDatatypeAt(data []byte, r *binpkg.Reader, depth int) (*Datatype, int, error) {
	if depth > maxTypeDepth {
		return nil, 0, errors.Errorf("datatype nesting exceeds %d levels", maxTypeDepth)
	}
	if len(data) < 8 {
		return nil, 0, errors.New("datatype message too short")
	}

	classAndVersion := data[0]
	class := DatatypeClass(classAndVersion & 0x0F)
	version := classAndVersion >> 4

	classBits := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
	size := binary.LittleEndian.Uint32(data[4:8])

	dt := &Datatype{
		Version:   version,
		Class:     class,
		ClassBits: classBits,
		Size:      size,
	}

	props := data[8:]
	propsSize := 0

	switch class {
	case ClassFixedPoint, ClassBitfield:
		dt.ByteOrder = ByteOrder(classBits & 0x01)
		if classBits&0x08 != 0 {
			dt.Signed = true
		}
		if len(props) < 4 {
			return nil, 0, errors.New("fixed-point properties truncated")
		}
		dt.BitOffset = binary.LittleEndian.Uint16(props[0:2])
		dt.BitPrecision = binary.LittleEndian.Uint16(props[2:4])
		propsSize = 4

	case ClassFloatPoint:
		dt.ByteOrder = ByteOrder(classBits & 0x01)
		dt.SignLocation = uint8(classBits >> 8)
		if len(props) < 12 {
			return nil, 0, errors.New("floating-point properties truncated")
		}
		dt.BitOffset = binary.LittleEndian.Uint16(props[0:2])
		dt.BitPrecision = binary.LittleEndian.Uint16(props[2:4])
		dt.ExpLocation = props[4]
		dt.ExpSize = props[5]
		dt.MantLocation = props[6]
		dt.MantSize = props[7]
		dt.ExpBias = binary.LittleEndian.Uint32(props[8:12])
		propsSize = 12

	case ClassString:
		dt.StringPadding = StringPadding(classBits & 0x0F)
		dt.CharSet = CharacterSet((classBits >> 4) & 0x0F)

	case ClassOpaque:
		// Tag is a null-terminated string
		end := 0
		for end < len(props) && props[end] != 0 {
			end++
		}
		if end < len(props) {
			end++
		}
		propsSize = end

	case ClassCompound:
		numMembers := int(classBits & 0xFFFF)
		dt.Members = make([]CompoundMember, 0, numMembers)
		offset := 0
		for i := 0; i < numMembers; i++ {
			member, consumed, err := parseCompoundMember(props[offset:], r, int(version), size, depth)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "compound member %d", i)
			}
			dt.Members = append(dt.Members, member)
			offset += consumed
		}
		propsSize = offset

	case ClassReference:
		// no properties

	case ClassEnum:
		// Base type plus name/value pairs; the raw bytes are kept but
		// not interpreted.
		propsSize = len(props)

	case ClassArray:
		if len(props) < 4 {
			return nil, 0, errors.New("array properties truncated")
		}
		ndims := int(props[0])
		dt.ArrayDims = make([]uint32, ndims)
		offset := 4 // dimensionality byte + 3 reserved
		for i := 0; i < ndims; i++ {
			if offset+4 > len(props) {
				return nil, 0, errors.New("array dimensions truncated")
			}
			dt.ArrayDims[i] = binary.LittleEndian.Uint32(props[offset:])
			offset += 4
		}
		baseType, consumed, err := parseDatatypeAt(props[offset:], r, depth+1)
		if err != nil {
			return nil, 0, errors.Wrap(err, "array base type")
		}
		dt.BaseType = baseType
		propsSize = offset + consumed

	case ClassVarLen:
		// Type: 0 = sequence, 1 = string. For strings the character
		// set lives in bits 4-7.
		dt.IsVarLenString = (classBits & 0x0F) == 1
		dt.CharSet = CharacterSet((classBits >> 4) & 0x0F)
		varLenType, consumed, err := parseDatatypeAt(props, r, depth+1)
		if err != nil {
			return nil, 0, errors.Wrap(err, "variable-length base type")
		}
		dt.VarLenType = varLenType
		propsSize = consumed

	default:
		propsSize = len(props)
	}

	if propsSize > len(props) {
		return nil, 0, errors.New("datatype properties truncated")
	}
	dt.Properties = props[:propsSize]

	return dt, 8 + propsSize, nil
}

func parseCompoundMember(data []byte, r *binpkg.Reader, version int, compoundSize uint32, depth int) (CompoundMember, int, error) {
	var member CompoundMember

	// Find null-terminated name
	nameEnd := 0
	for nameEnd < len(data) && data[nameEnd] != 0 {
		nameEnd++
	}
	if nameEnd >= len(data) {
		return member, 0, errors.New("member name not terminated")
	}

	member.Name = string(data[:nameEnd])
	offset := nameEnd + 1

	// Versions 1 and 2 pad names to an 8-byte boundary. Version 3
	// does not.
	if version < 3 {
		if offset%8 != 0 {
			offset += 8 - (offset % 8)
		}
	}

	// Version 3 shrinks the byte offset field to the smallest size
	// that can hold the compound's total size. Versions 1 and 2 use a
	// fixed 4-byte offset.
	var offsetSize int
	if version >= 3 {
		switch {
		case compoundSize <= 0xFF:
			offsetSize = 1
		case compoundSize <= 0xFFFF:
			offsetSize = 2
		default:
			offsetSize = 4
		}
	} else {
		offsetSize = 4
	}

	if offset+offsetSize > len(data) {
		return member, 0, errors.New("member offset truncated")
	}

	switch offsetSize {
	case 1:
		member.ByteOffset = uint32(data[offset])
	case 2:
		member.ByteOffset = uint32(binary.LittleEndian.Uint16(data[offset:]))
	case 4:
		member.ByteOffset = binary.LittleEndian.Uint32(data[offset:])
	}
	offset += offsetSize

	// Version 1 members carry a legacy array block: dimensionality,
	// three reserved bytes, a permutation word, four reserved bytes
	// and four dimension sizes.
	if version == 1 {
		if offset+28 > len(data) {
			return member, 0, errors.New("member dimension block truncated")
		}
		member.Dimensionality = data[offset]
		member.DimensionPermutation = binary.LittleEndian.Uint32(data[offset+4:])
		for i := 0; i < 4; i++ {
			member.DimensionSizes[i] = binary.LittleEndian.Uint32(data[offset+12+4*i:])
		}
		offset += 28
	}

	memberType, typeSize, err := parseDatatypeAt(data[offset:], r, depth+1)
	if err != nil {
		return member, 0, err
	}
	member.Type = memberType
	offset += typeSize

	return member, offset, nil
}
