package message

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// Attribute is the attribute message (type 0x000C): a named value
// attached to an object, carried inline with its own datatype and
// dataspace.
type Attribute struct {
	Version       uint8
	Name          string
	DatatypeSize  uint16
	DataspaceSize uint16
	Datatype      *Datatype
	Dataspace     *Dataspace
	Data          []byte
}

func (m *Attribute) Type() Type { return TypeAttribute }

// parseAttribute handles versions 1 through 3, which share one shape:
// a size-prefixed name, datatype and dataspace, then the raw value.
// Version 1 pads each region to an 8-byte boundary and version 3
// inserts a name-encoding byte; otherwise the layouts agree.
func parseAttribute(data []byte, r *binpkg.Reader) (*Attribute, error) {
	if len(data) < 8 {
		return nil, errors.New("attribute message too short")
	}

	attr := &Attribute{Version: data[0]}

	var pos int
	switch attr.Version {
	case 1, 2:
		pos = 8
	case 3:
		pos = 9 // name-encoding byte
	default:
		return nil, errors.Errorf("unsupported attribute version %d", attr.Version)
	}
	padded := attr.Version == 1

	nameSize := binary.LittleEndian.Uint16(data[2:4])
	attr.DatatypeSize = binary.LittleEndian.Uint16(data[4:6])
	attr.DataspaceSize = binary.LittleEndian.Uint16(data[6:8])

	section := func(size int, what string) ([]byte, error) {
		if pos+size > len(data) {
			return nil, errors.Errorf("attribute %s truncated", what)
		}
		b := data[pos : pos+size]
		pos += size
		if padded {
			pos = binpkg.AlignUp(pos, 8)
		}
		return b, nil
	}

	name, err := section(int(nameSize), "name")
	if err != nil {
		return nil, err
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	attr.Name = string(name)

	typeBytes, err := section(int(attr.DatatypeSize), "datatype")
	if err != nil {
		return nil, err
	}
	if dt, err := parseDatatype(typeBytes, r); err == nil {
		attr.Datatype = dt
	}

	spaceBytes, err := section(int(attr.DataspaceSize), "dataspace")
	if err != nil {
		return nil, err
	}
	if ds, err := parseDataspace(spaceBytes, r); err == nil {
		attr.Dataspace = ds
	}

	// Whatever remains is the attribute value.
	if pos < len(data) {
		attr.Data = append([]byte(nil), data[pos:]...)
	}
	return attr, nil
}
