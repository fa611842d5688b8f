package object

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/fspace"
	"github.com/skalare/goh5/internal/message"
)

// editBlock is one message region under edit: chunk 0 of the header
// or a continuation block. gap marks the trailing NIL that absorbs
// appended messages; gap == end means the region is packed full.
type editBlock struct {
	start, end uint64
	gap        uint64
}

// Editor appends messages to a version 1 header already on disk. New
// messages land in the trailing reserve; when no region can hold one,
// the reserve becomes a continuation message pointing at a freshly
// allocated block and the message moves there.
//
// Keep a single Editor per header: it assumes sole ownership of the
// header's continuation records in the allocator.
type Editor struct {
	alloc       *fspace.Allocator
	w           *binary.Writer
	address     uint64
	name        string
	numMessages uint16
	blocks      []editBlock
	seq         int
}

// NewEditor walks the header at address, registers its continuation
// blocks with the allocator, and returns an editor positioned on the
// trailing gaps.
func NewEditor(alloc *fspace.Allocator, w *binary.Writer, r *binary.Reader, name string, address uint64) (*Editor, error) {
	hr := r.At(int64(address))
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "reading object header at %d", address)
	}
	if version != 1 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "cannot edit version %d header at %d", version, address)
	}
	hr.Skip(1)
	numMessages, err := hr.ReadUint16()
	if err != nil {
		return nil, err
	}
	hr.Skip(4) // reference count
	headerSize, err := hr.ReadUint32()
	if err != nil {
		return nil, err
	}

	e := &Editor{
		alloc:       alloc,
		w:           w,
		address:     address,
		name:        name,
		numMessages: numMessages,
	}
	e.blocks = append(e.blocks, editBlock{
		start: address + PrefixSize,
		end:   address + PrefixSize + uint64(headerSize),
	})
	for i := 0; i < len(e.blocks); i++ {
		if err := e.scanBlock(r, i); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// scanBlock walks one message region, recording its trailing NIL and
// following continuation messages into new blocks.
func (e *Editor) scanBlock(r *binary.Reader, i int) error {
	b := &e.blocks[i]
	b.gap = b.end
	br := r.At(int64(b.start))
	for uint64(br.Pos()) < b.end {
		msgStart := uint64(br.Pos())
		msgType, err := br.ReadUint16()
		if err != nil {
			return errors.Wrapf(err, "scanning header messages at %d", msgStart)
		}
		size, err := br.ReadUint16()
		if err != nil {
			return err
		}
		br.Skip(4) // flags, reserved
		data, err := br.ReadBytes(int(size))
		if err != nil {
			return err
		}
		br.Align(8)

		switch message.Type(msgType) {
		case message.TypeNIL:
			if uint64(br.Pos()) == b.end {
				b.gap = msgStart
			}
		case message.TypeObjectHeaderContinuation:
			cont, err := message.ParseContinuation(data, br)
			if err != nil {
				return errors.Wrapf(err, "parsing continuation message at %d", msgStart)
			}
			e.alloc.ReserveAt(fspace.KindHeaderContinuation, e.recordName(),
				cont.Offset, cont.Length)
			e.blocks = append(e.blocks, editBlock{
				start: cont.Offset,
				end:   cont.Offset + cont.Length,
			})
		}
	}
	return nil
}

func (e *Editor) recordName() string {
	name := fmt.Sprintf("%s continuation %d", e.name, e.seq)
	e.seq++
	return name
}

// Append adds one message to the header, spilling into a new
// continuation block when no region has room.
func (e *Editor) Append(msg message.Serializable) error {
	need := storedMessageSize(e.w, msg)
	for i := range e.blocks {
		b := &e.blocks[i]
		if gapFits(b, need) {
			return e.appendAt(b, msg, need)
		}
	}
	return e.spill(msg, need)
}

// gapFits reports whether a region's gap can take need bytes and
// still leave either nothing or room for a NIL header.
func gapFits(b *editBlock, need int) bool {
	gap := int(b.end - b.gap)
	return gap == need || gap >= need+messageHeaderSize
}

func (e *Editor) appendAt(b *editBlock, msg message.Serializable, need int) error {
	mw := e.w.At(int64(b.gap))
	if err := writeV1Message(mw, msg); err != nil {
		return err
	}
	b.gap += uint64(need)
	e.numMessages++
	if b.gap == b.end {
		e.numMessages-- // the gap NIL is gone
	} else if err := writeNIL(mw, int(b.end-b.gap)); err != nil {
		return err
	}
	return e.writeCount()
}

func (e *Editor) spill(msg message.Serializable, need int) error {
	contNeed := storedMessageSize(e.w, &message.Continuation{})
	var host *editBlock
	for i := range e.blocks {
		if gapFits(&e.blocks[i], contNeed) {
			host = &e.blocks[i]
			break
		}
	}
	if host == nil {
		return errors.Errorf("object header at %d has no room left for a continuation message", e.address)
	}

	blockSize := uint64(need + DefaultReserve)
	h := e.alloc.Allocate(fspace.KindHeaderContinuation, e.recordName(), blockSize)
	offset := e.alloc.Record(h).Offset

	cw := e.w.At(int64(host.gap))
	if err := writeV1Message(cw, message.NewContinuation(offset, blockSize)); err != nil {
		return err
	}
	host.gap += uint64(contNeed)
	e.numMessages++
	if host.gap == host.end {
		e.numMessages--
	} else if err := writeNIL(cw, int(host.end-host.gap)); err != nil {
		return err
	}

	bw := e.w.At(int64(offset))
	if err := writeV1Message(bw, msg); err != nil {
		return err
	}
	if err := writeNIL(bw, DefaultReserve); err != nil {
		return err
	}
	e.numMessages += 2
	e.blocks = append(e.blocks, editBlock{
		start: offset,
		end:   offset + blockSize,
		gap:   offset + uint64(need),
	})
	return e.writeCount()
}

// writeCount refreshes the message count in the header prefix.
func (e *Editor) writeCount() error {
	return e.w.At(int64(e.address) + 2).WriteUint16(e.numMessages)
}

// FindMessagePayload walks the version 1 header at address, following
// continuation blocks, and returns the absolute file offset and size
// of the first payload with the given message type. Callers use it to
// patch fixed-size message fields in place.
func FindMessagePayload(r *binary.Reader, address uint64, typ message.Type) (uint64, int, error) {
	hr := r.At(int64(address))
	version, err := hr.ReadUint8()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "reading object header at %d", address)
	}
	if version != 1 {
		return 0, 0, errors.Wrapf(ErrUnsupportedVersion, "cannot walk version %d header at %d", version, address)
	}
	hr.Skip(7) // reserved, message count, reference count
	headerSize, err := hr.ReadUint32()
	if err != nil {
		return 0, 0, err
	}

	type region struct{ start, end uint64 }
	regions := []region{{
		start: address + PrefixSize,
		end:   address + PrefixSize + uint64(headerSize),
	}}
	for i := 0; i < len(regions); i++ {
		br := r.At(int64(regions[i].start))
		for uint64(br.Pos()) < regions[i].end {
			msgType, err := br.ReadUint16()
			if err != nil {
				return 0, 0, errors.Wrapf(err, "scanning header messages at %d", br.Pos())
			}
			size, err := br.ReadUint16()
			if err != nil {
				return 0, 0, err
			}
			br.Skip(4) // flags, reserved
			if message.Type(msgType) == typ {
				return uint64(br.Pos()), int(size), nil
			}
			data, err := br.ReadBytes(int(size))
			if err != nil {
				return 0, 0, err
			}
			br.Align(8)
			if message.Type(msgType) == message.TypeObjectHeaderContinuation {
				cont, err := message.ParseContinuation(data, br)
				if err != nil {
					return 0, 0, errors.Wrapf(err, "parsing continuation message in header at %d", address)
				}
				regions = append(regions, region{
					start: cont.Offset,
					end:   cont.Offset + cont.Length,
				})
			}
		}
	}
	return 0, 0, errors.Errorf("header at %d has no message of type 0x%04x", address, uint16(typ))
}
