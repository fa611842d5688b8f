package message

import (
	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// DataspaceType distinguishes the three extent kinds.
type DataspaceType uint8

const (
	DataspaceScalar DataspaceType = 0 // single element, no dimensions
	DataspaceSimple DataspaceType = 1 // regular N-dimensional array
	DataspaceNull   DataspaceType = 2 // no data at all
)

// Dataspace is the dataspace message (type 0x0001): the rank and
// extent of a dataset or attribute value.
type Dataspace struct {
	Version   uint8
	Rank      int
	SpaceType DataspaceType

	Dimensions []uint64

	// MaxDims is nil when the extent is fixed at Dimensions. An entry
	// of all ones marks that dimension unlimited.
	MaxDims []uint64
}

func (m *Dataspace) Type() Type { return TypeDataspace }

// NumElements returns the element count across all dimensions.
func (m *Dataspace) NumElements() uint64 {
	switch m.SpaceType {
	case DataspaceScalar:
		return 1
	case DataspaceSimple:
		if len(m.Dimensions) == 0 {
			return 0
		}
		n := uint64(1)
		for _, d := range m.Dimensions {
			n *= d
		}
		return n
	default:
		return 0
	}
}

// IsScalar reports whether this is a scalar dataspace.
func (m *Dataspace) IsScalar() bool { return m.SpaceType == DataspaceScalar }

// IsNull reports whether this dataspace holds no data.
func (m *Dataspace) IsNull() bool { return m.SpaceType == DataspaceNull }

func parseDataspace(data []byte, r *binpkg.Reader) (*Dataspace, error) {
	if len(data) < 4 {
		return nil, errors.New("dataspace message too short")
	}

	ds := &Dataspace{
		Version: data[0],
		Rank:    int(data[1]),
	}
	flags := data[2]

	// Version 1 infers the extent kind from the rank and pads the
	// prefix to 8 bytes; version 2 states the kind explicitly.
	var dimsAt int
	switch ds.Version {
	case 1:
		if ds.Rank == 0 {
			ds.SpaceType = DataspaceScalar
		} else {
			ds.SpaceType = DataspaceSimple
		}
		dimsAt = 8
	case 2:
		ds.SpaceType = DataspaceType(data[3])
		dimsAt = 4
	default:
		return nil, errors.Errorf("unsupported dataspace version %d", ds.Version)
	}

	if ds.SpaceType != DataspaceSimple || ds.Rank == 0 {
		return ds, nil
	}

	width := r.LengthSize()
	readDims := func(what string) ([]uint64, error) {
		dims := make([]uint64, ds.Rank)
		for i := range dims {
			if dimsAt+width > len(data) {
				return nil, errors.Errorf("dataspace message truncated reading %s", what)
			}
			dims[i] = decodeUint(data[dimsAt:], width, r.ByteOrder())
			dimsAt += width
		}
		return dims, nil
	}

	var err error
	if ds.Dimensions, err = readDims("dimensions"); err != nil {
		return nil, err
	}
	if flags&0x01 != 0 {
		if ds.MaxDims, err = readDims("max dimensions"); err != nil {
			return nil, err
		}
	}
	return ds, nil
}
