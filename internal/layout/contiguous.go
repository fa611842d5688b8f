package layout

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/message"
)

// Contiguous represents contiguous storage layout.
// Data is stored in a single contiguous block in the file.
type Contiguous struct {
	address   uint64
	size      uint64
	dataspace *message.Dataspace
	datatype  *message.Datatype
	reader    *binary.Reader
}

// NewContiguous creates a new contiguous layout handler.
func NewContiguous(
	layout *message.DataLayout,
	dataspace *message.Dataspace,
	datatype *message.Datatype,
	reader *binary.Reader,
) *Contiguous {
	size := layout.Size
	if size == 0 {
		size = calculateDataSize(dataspace, datatype)
	}

	return &Contiguous{
		address:   layout.Address,
		size:      size,
		dataspace: dataspace,
		datatype:  datatype,
		reader:    reader,
	}
}

func (c *Contiguous) Class() message.LayoutClass {
	return message.LayoutContiguous
}

// Read reads all data from contiguous storage. Empty datasets carry
// the undefined address sentinel and read as zero bytes.
func (c *Contiguous) Read() ([]byte, error) {
	if c.size == 0 {
		return []byte{}, nil
	}

	if c.reader.IsUndefinedOffset(c.address) {
		return nil, errors.New("contiguous data not allocated")
	}

	data, err := c.reader.At(int64(c.address)).ReadBytes(int(c.size))
	if err != nil {
		return nil, errors.Wrap(err, "reading contiguous data")
	}
	return data, nil
}

// ReadSlice reads a hyperslab from contiguous storage. The innermost rows of
// the selection are read directly from the file without loading the rest of
// the dataset.
func (c *Contiguous) ReadSlice(start, count []uint64) ([]byte, error) {
	dims := c.dataspace.Dimensions
	if len(dims) == 0 {
		if len(start) == 0 && len(count) == 0 {
			return c.Read()
		}
		return nil, errors.New("cannot slice scalar dataset with non-empty start/count")
	}

	if err := checkSelection(dims, start, count); err != nil {
		return nil, err
	}
	if c.reader.IsUndefinedOffset(c.address) {
		return nil, errors.New("contiguous data not allocated")
	}

	elementSize := uint64(c.datatype.Size)
	ndims := len(dims)

	srcStrides := make([]uint64, ndims)
	srcStrides[ndims-1] = elementSize
	for d := ndims - 2; d >= 0; d-- {
		srcStrides[d] = srcStrides[d+1] * dims[d+1]
	}

	totalElements := uint64(1)
	for _, cnt := range count {
		totalElements *= cnt
	}
	if totalElements == 0 {
		return []byte{}, nil
	}
	result := make([]byte, 0, totalElements*elementSize)

	// Walk every row of the selection, reading each contiguous run.
	rowBytes := count[ndims-1] * elementSize
	coord := make([]uint64, ndims)
	copy(coord, start)
	for {
		offset := c.address
		for d := 0; d < ndims; d++ {
			offset += coord[d] * srcStrides[d]
		}
		row, err := c.reader.At(int64(offset)).ReadBytes(int(rowBytes))
		if err != nil {
			return nil, errors.Wrapf(err, "reading selection row at offset %d", offset)
		}
		result = append(result, row...)

		// Advance to the next row, odometer-style over the outer dimensions.
		d := ndims - 2
		for ; d >= 0; d-- {
			coord[d]++
			if coord[d] < start[d]+count[d] {
				break
			}
			coord[d] = start[d]
		}
		if d < 0 {
			break
		}
	}

	return result, nil
}

// Address returns the data address.
func (c *Contiguous) Address() uint64 {
	return c.address
}

// Size returns the data size in bytes.
func (c *Contiguous) Size() uint64 {
	return c.size
}
