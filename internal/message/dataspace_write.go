package message

import (
	"github.com/skalare/goh5/internal/binary"
)

// Serialize writes the Dataspace to the writer in version 1 format.
func (m *Dataspace) Serialize(w *binary.Writer) error {
	// Version 1 format:
	// Byte 0: Version (1)
	// Byte 1: Dimensionality (rank)
	// Byte 2: Flags (bit 0 = max dims present)
	// Bytes 3-7: Reserved
	// Followed by: dimensions (rank * lengthSize bytes each)
	// Followed by: max dimensions if present
	//
	// Scalar dataspaces are rank 0 with no dimension list. Version 1
	// cannot express a null dataspace.

	if err := w.WriteUint8(1); err != nil {
		return err
	}

	if err := w.WriteUint8(uint8(m.Rank)); err != nil {
		return err
	}

	flags := uint8(0)
	if len(m.MaxDims) > 0 {
		flags |= 0x01
	}
	if err := w.WriteUint8(flags); err != nil {
		return err
	}

	if err := w.WriteZeros(5); err != nil {
		return err
	}

	for _, dim := range m.Dimensions {
		if err := w.WriteLength(dim); err != nil {
			return err
		}
	}

	if m.MaxDims != nil {
		for _, maxDim := range m.MaxDims {
			if err := w.WriteLength(maxDim); err != nil {
				return err
			}
		}
	}

	return nil
}

// SerializedSize returns the size in bytes when serialized.
func (m *Dataspace) SerializedSize(w *binary.Writer) int {
	// Header: version, rank, flags, 5 reserved
	size := 8

	size += m.Rank * w.LengthSize()

	if len(m.MaxDims) > 0 {
		size += m.Rank * w.LengthSize()
	}

	return size
}

// NewDataspace creates a new Dataspace message for simple datasets.
func NewDataspace(dims []uint64, maxDims []uint64) *Dataspace {
	ds := &Dataspace{
		Version:    1,
		Rank:       len(dims),
		SpaceType:  DataspaceSimple,
		Dimensions: dims,
	}

	if maxDims != nil {
		ds.MaxDims = maxDims
	}

	return ds
}

// NewScalarDataspace creates a new scalar Dataspace message.
func NewScalarDataspace() *Dataspace {
	return &Dataspace{
		Version:   1,
		Rank:      0,
		SpaceType: DataspaceScalar,
	}
}
