package object

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/message"
)

// Version 1 headers are written with this layout:
//
//	0   1   Version (1)
//	1   1   Reserved
//	2   2   Total number of header messages
//	4   4   Object reference count
//	8   4   Size of the chunk 0 message region
//	12  4   Padding to an 8-byte boundary
//
// Messages follow at offset 16, each with an 8-byte header (type,
// size, flags, 3 reserved) and a payload padded to 8 bytes.
const (
	// PrefixSize is the byte distance from a header's address to its
	// first message.
	PrefixSize = 16

	// messageHeaderSize is the fixed per-message header.
	messageHeaderSize = 8
)

// DefaultReserve is the empty space left at the end of a freshly
// written header so attributes can be added without moving it.
const DefaultReserve = 80

// messagePad returns the bytes of padding after a message payload.
func messagePad(n int) int {
	return (8 - n%8) % 8
}

// storedMessageSize returns the full on-disk footprint of a message:
// header, payload and padding.
func storedMessageSize(w *binary.Writer, msg message.Serializable) int {
	n := msg.SerializedSize(w)
	return messageHeaderSize + n + messagePad(n)
}

// MessagesSize returns the message region size for the given
// messages, excluding any reserve.
func MessagesSize(w *binary.Writer, msgs []message.Serializable) int {
	total := 0
	for _, msg := range msgs {
		total += storedMessageSize(w, msg)
	}
	return total
}

// HeaderSize returns the total on-disk size of a version 1 header
// holding the given messages plus reserve bytes of empty space. The
// reserve must be zero or a multiple of 8 no smaller than 8.
func HeaderSize(w *binary.Writer, msgs []message.Serializable, reserve int) int {
	return PrefixSize + MessagesSize(w, msgs) + reserve
}

// WriteHeader writes a version 1 object header at the given address.
// The reserve is emitted as a trailing NIL message so the header can
// later absorb new messages in place. Returns the total bytes
// written.
func WriteHeader(w *binary.Writer, address uint64, msgs []message.Serializable, reserve int) (int64, error) {
	if reserve != 0 && (reserve < messageHeaderSize || reserve%8 != 0) {
		return 0, errors.Errorf("header reserve %d is not a multiple of 8 covering a message header", reserve)
	}

	numMessages := len(msgs)
	if reserve > 0 {
		numMessages++
	}
	chunkSize := MessagesSize(w, msgs) + reserve

	hw := w.At(int64(address))
	if err := hw.WriteUint8(1); err != nil {
		return 0, err
	}
	if err := hw.WriteUint8(0); err != nil {
		return 0, err
	}
	if err := hw.WriteUint16(uint16(numMessages)); err != nil {
		return 0, err
	}
	if err := hw.WriteUint32(1); err != nil { // reference count
		return 0, err
	}
	if err := hw.WriteUint32(uint32(chunkSize)); err != nil {
		return 0, err
	}
	if err := hw.WriteZeros(4); err != nil {
		return 0, err
	}

	for _, msg := range msgs {
		if err := writeV1Message(hw, msg); err != nil {
			return 0, err
		}
	}

	if reserve > 0 {
		if err := writeNIL(hw, reserve); err != nil {
			return 0, err
		}
	}

	return hw.Pos() - int64(address), nil
}

// writeV1Message writes one message header and its padded payload.
func writeV1Message(w *binary.Writer, msg message.Serializable) error {
	size := msg.SerializedSize(w)
	if size > 0xFFFF {
		return errors.Errorf("message type 0x%04x payload of %d bytes exceeds the version 1 size field", uint16(msg.Type()), size)
	}

	if err := w.WriteUint16(uint16(msg.Type())); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(size)); err != nil {
		return err
	}
	if err := w.WriteUint8(0); err != nil { // flags
		return err
	}
	if err := w.WriteZeros(3); err != nil {
		return err
	}
	if err := msg.Serialize(w); err != nil {
		return err
	}
	return w.WriteZeros(messagePad(size))
}

// writeNIL writes a NIL message whose total footprint is exactly
// size bytes.
func writeNIL(w *binary.Writer, size int) error {
	if err := w.WriteUint16(uint16(message.TypeNIL)); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(size - messageHeaderSize)); err != nil {
		return err
	}
	if err := w.WriteUint8(0); err != nil {
		return err
	}
	if err := w.WriteZeros(3); err != nil {
		return err
	}
	return w.WriteZeros(size - messageHeaderSize)
}

// NewGroupMessages builds the message list for a group header: a
// single symbol table message naming the group's entry index and name
// heap.
func NewGroupMessages(btreeAddr, heapAddr uint64) []message.Serializable {
	return []message.Serializable{
		message.NewSymbolTable(btreeAddr, heapAddr),
	}
}

// NewDatasetMessages builds the message list for a dataset header.
// The fill value may be nil.
func NewDatasetMessages(dataspace *message.Dataspace, datatype *message.Datatype, fill *message.FillValue, layout *message.DataLayout) []message.Serializable {
	msgs := make([]message.Serializable, 0, 4)
	msgs = append(msgs, dataspace, datatype)
	if fill != nil {
		msgs = append(msgs, fill)
	}
	msgs = append(msgs, layout)
	return msgs
}
