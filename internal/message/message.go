package message

import (
	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// Type identifies a header message kind.
type Type uint16

// The header message type registry. Types outside the Parse switch
// round-trip through Unknown.
const (
	TypeNIL                      Type = 0x0000
	TypeDataspace                Type = 0x0001
	TypeLinkInfo                 Type = 0x0002
	TypeDatatype                 Type = 0x0003
	TypeFillValueOld             Type = 0x0004
	TypeFillValue                Type = 0x0005
	TypeLink                     Type = 0x0006
	TypeExternalDataFiles        Type = 0x0007
	TypeDataLayout               Type = 0x0008
	TypeBogus                    Type = 0x0009
	TypeGroupInfo                Type = 0x000A
	TypeFilterPipeline           Type = 0x000B
	TypeAttribute                Type = 0x000C
	TypeObjectComment            Type = 0x000D
	TypeObjectModTime            Type = 0x000E
	TypeSharedMessageTable       Type = 0x000F
	TypeObjectHeaderContinuation Type = 0x0010
	TypeSymbolTable              Type = 0x0011
	TypeObjectModTimeOld         Type = 0x0012
	TypeBTreeKValues             Type = 0x0013
	TypeDriverInfo               Type = 0x0014
	TypeAttributeInfo            Type = 0x0015
	TypeObjectRefCount           Type = 0x0016
)

// Message is implemented by all header messages.
type Message interface {
	Type() Type
}

// Parse decodes one header message body.
func Parse(typ Type, data []byte, flags uint8, r *binpkg.Reader) (Message, error) {
	switch typ {
	case TypeDataspace:
		return parseDataspace(data, r)
	case TypeDatatype:
		return parseDatatype(data, r)
	case TypeDataLayout:
		return parseDataLayout(data, r)
	case TypeFillValue:
		return parseFillValue(data, r)
	case TypeAttribute:
		return parseAttribute(data, r)
	case TypeSymbolTable:
		return parseSymbolTable(data, r)
	case TypeObjectHeaderContinuation:
		return ParseContinuation(data, r)
	default:
		return &Unknown{typ: typ, data: data}, nil
	}
}

// Unknown wraps a message type this library does not decode, keeping
// its raw bytes.
type Unknown struct {
	typ  Type
	data []byte
}

func (m *Unknown) Type() Type   { return m.typ }
func (m *Unknown) Data() []byte { return m.data }

// Continuation is the object header continuation message (type
// 0x0010): the address and length of a further block of header
// messages.
type Continuation struct {
	Offset uint64
	Length uint64
}

func (m *Continuation) Type() Type { return TypeObjectHeaderContinuation }

// ParseContinuation parses a continuation message body.
func ParseContinuation(data []byte, r *binpkg.Reader) (*Continuation, error) {
	offsetSize := r.OffsetSize()
	if len(data) < offsetSize+r.LengthSize() {
		return nil, errors.New("continuation message too short")
	}
	return &Continuation{
		Offset: decodeUint(data, offsetSize, r.ByteOrder()),
		Length: decodeUint(data[offsetSize:], r.LengthSize(), r.ByteOrder()),
	}, nil
}

// NewContinuation creates a continuation message pointing at a
// further block of header messages.
func NewContinuation(offset, length uint64) *Continuation {
	return &Continuation{Offset: offset, Length: length}
}

// Serialize writes the block address followed by its length.
func (m *Continuation) Serialize(w *binpkg.Writer) error {
	if err := w.WriteOffset(m.Offset); err != nil {
		return err
	}
	return w.WriteLength(m.Length)
}

// SerializedSize returns the size in bytes when serialized.
func (m *Continuation) SerializedSize(w *binpkg.Writer) int {
	return w.OffsetSize() + w.LengthSize()
}
