package object

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/message"
)

var (
	ErrInvalidHeader      = errors.New("invalid object header")
	ErrUnsupportedVersion = errors.New("unsupported object header version")
)

// Header is a parsed object header: the reference count plus every
// message collected from the header block and its continuations.
type Header struct {
	Version  uint8
	Address  uint64
	RefCount uint32
	Messages []message.Message
}

// Read parses the object header at address.
func Read(r *binary.Reader, address uint64) (*Header, error) {
	hr := r.At(int64(address))

	version, err := hr.ReadUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "reading object header at %d", address)
	}
	switch version {
	case 1:
		return readV1(hr, address)
	case 'O':
		// Version 2 headers open with an OHDR signature instead of a
		// version byte.
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version 2 object header at %d", address)
	default:
		return nil, errors.Wrapf(ErrInvalidHeader, "unknown header format at %d", address)
	}
}

// GetMessage returns the first message of the given type, or nil.
func (h *Header) GetMessage(typ message.Type) message.Message {
	for _, msg := range h.Messages {
		if msg.Type() == typ {
			return msg
		}
	}
	return nil
}

// GetMessages returns all messages of the given type in header order.
func (h *Header) GetMessages(typ message.Type) []message.Message {
	var result []message.Message
	for _, msg := range h.Messages {
		if msg.Type() == typ {
			result = append(result, msg)
		}
	}
	return result
}

// Dataspace returns the dataspace message, or nil.
func (h *Header) Dataspace() *message.Dataspace {
	msg, _ := h.GetMessage(message.TypeDataspace).(*message.Dataspace)
	return msg
}

// Datatype returns the datatype message, or nil.
func (h *Header) Datatype() *message.Datatype {
	msg, _ := h.GetMessage(message.TypeDatatype).(*message.Datatype)
	return msg
}

// DataLayout returns the data layout message, or nil.
func (h *Header) DataLayout() *message.DataLayout {
	msg, _ := h.GetMessage(message.TypeDataLayout).(*message.DataLayout)
	return msg
}
