package message

import (
	"github.com/skalare/goh5/internal/binary"
)

// NewAttribute creates a new attribute message.
func NewAttribute(name string, datatype *Datatype, dataspace *Dataspace, data []byte) *Attribute {
	return &Attribute{
		Version:   1,
		Name:      name,
		Datatype:  datatype,
		Dataspace: dataspace,
		Data:      data,
	}
}

// NewScalarAttribute creates a new scalar attribute (no dimensions).
func NewScalarAttribute(name string, datatype *Datatype, data []byte) *Attribute {
	return &Attribute{
		Version:   1,
		Name:      name,
		Datatype:  datatype,
		Dataspace: NewScalarDataspace(),
		Data:      data,
	}
}

// Serialize writes the Attribute message to the writer in version 1
// format: an 8-byte header, then the name, datatype and dataspace
// blocks each padded to an 8-byte boundary, then the raw value.
func (m *Attribute) Serialize(w *binary.Writer) error {
	nameSize := len(m.Name) + 1 // +1 for null terminator
	datatypeSize := m.Datatype.SerializedSize(w)
	dataspaceSize := m.Dataspace.SerializedSize(w)

	if err := w.WriteUint8(1); err != nil {
		return err
	}

	// Reserved
	if err := w.WriteUint8(0); err != nil {
		return err
	}

	// The size fields hold unpadded sizes; readers apply the padding
	// themselves.
	if err := w.WriteUint16(uint16(nameSize)); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(datatypeSize)); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(dataspaceSize)); err != nil {
		return err
	}

	if err := w.WriteBytes([]byte(m.Name)); err != nil {
		return err
	}
	if err := w.WriteUint8(0); err != nil {
		return err
	}
	if err := w.WriteZeros(pad8(nameSize)); err != nil {
		return err
	}

	if err := m.Datatype.Serialize(w); err != nil {
		return err
	}
	if err := w.WriteZeros(pad8(datatypeSize)); err != nil {
		return err
	}

	if err := m.Dataspace.Serialize(w); err != nil {
		return err
	}
	if err := w.WriteZeros(pad8(dataspaceSize)); err != nil {
		return err
	}

	return w.WriteBytes(m.Data)
}

// SerializedSize returns the size in bytes when serialized.
func (m *Attribute) SerializedSize(w *binary.Writer) int {
	nameSize := len(m.Name) + 1
	datatypeSize := m.Datatype.SerializedSize(w)
	dataspaceSize := m.Dataspace.SerializedSize(w)

	size := 8
	size += nameSize + pad8(nameSize)
	size += datatypeSize + pad8(datatypeSize)
	size += dataspaceSize + pad8(dataspaceSize)
	size += len(m.Data)
	return size
}

// pad8 returns the number of bytes needed to round n up to a multiple
// of 8.
func pad8(n int) int {
	return (8 - n%8) % 8
}
