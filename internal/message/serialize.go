package message

import (
	"encoding/binary"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// Serializable is implemented by the messages this library writes
// into object headers.
type Serializable interface {
	Message

	// Serialize writes the message body at the writer's position.
	Serialize(w *binpkg.Writer) error

	// SerializedSize is the body size Serialize will produce, before
	// header padding.
	SerializedSize(w *binpkg.Writer) int
}

// decodeUint decodes a size-byte unsigned integer from the front of
// buf. Odd widths are little-endian, the only order they occur in.
func decodeUint(buf []byte, size int, order binary.ByteOrder) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}
