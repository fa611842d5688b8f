package object

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/message"
)

/*
Version 1 Object Header Layout:
Offset  Size  Description
0       1     Version (1)
1       1     Reserved
2       2     Number of header messages
4       4     Object reference count
8       4     Size of the header message region
12      var   Header messages (region starts 8-byte aligned)

Each message:
0       2     Message type
2       2     Size of message data
4       1     Flags
5       3     Reserved
8       var   Message data, padded to an 8-byte boundary
*/

// maxContinuationDepth bounds how many continuation blocks a header
// may chain through, so cyclic block references terminate.
const maxContinuationDepth = 32

// readV1 parses a version 1 header whose version byte has already
// been consumed.
func readV1(r *binary.Reader, address uint64) (*Header, error) {
	r.Skip(1) // reserved

	count, err := r.ReadUint16()
	if err != nil {
		return nil, errors.Wrap(err, "reading message count")
	}
	refCount, err := r.ReadUint32()
	if err != nil {
		return nil, errors.Wrap(err, "reading reference count")
	}
	size, err := r.ReadUint32()
	if err != nil {
		return nil, errors.Wrap(err, "reading header size")
	}

	hdr := &Header{
		Version:  1,
		Address:  address,
		RefCount: refCount,
		Messages: make([]message.Message, 0, count),
	}

	// The message region starts on the next 8-byte boundary.
	r.Align(8)
	if err := hdr.readMessages(r, r.Pos()+int64(size), 0); err != nil {
		return nil, err
	}
	return hdr, nil
}

// readMessages collects the messages between r's position and end,
// descending into continuation blocks as they appear. Messages this
// library cannot decode are skipped; structural damage is an error.
func (h *Header) readMessages(r *binary.Reader, end int64, depth int) error {
	if depth > maxContinuationDepth {
		return errors.Wrap(ErrInvalidHeader, "continuation chain too deep")
	}

	for r.Pos() < end {
		typ, err := r.ReadUint16()
		if err != nil {
			return errors.Wrap(err, "reading message type")
		}
		size, err := r.ReadUint16()
		if err != nil {
			return errors.Wrap(err, "reading message size")
		}
		flags, err := r.ReadUint8()
		if err != nil {
			return errors.Wrap(err, "reading message flags")
		}
		r.Skip(3) // reserved

		data, err := r.ReadBytes(int(size))
		if err != nil {
			return errors.Wrapf(err, "reading %d-byte message body", size)
		}
		r.Align(8)

		switch message.Type(typ) {
		case message.TypeNIL:
			// Gap left by a removed or relocated message.

		case message.TypeObjectHeaderContinuation:
			cont, err := message.ParseContinuation(data, r)
			if err != nil {
				return errors.Wrapf(ErrInvalidHeader, "bad continuation message: %v", err)
			}
			cr := r.At(int64(cont.Offset))
			if err := h.readMessages(cr, int64(cont.Offset+cont.Length), depth+1); err != nil {
				return err
			}

		default:
			msg, err := message.Parse(message.Type(typ), data, flags, r)
			if err != nil {
				// An undecodable message does not block the rest of
				// the header.
				continue
			}
			h.Messages = append(h.Messages, msg)
		}
	}
	return nil
}
