package layout

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/message"
)

// Layout is the interface for reading dataset data from a storage layout.
type Layout interface {
	// Read reads all data from the layout.
	Read() ([]byte, error)

	// ReadSlice reads a hyperslab (rectangular selection) of the dataset.
	// start specifies the starting coordinates, count specifies elements per
	// dimension. Returns the raw bytes for the selection in row-major order.
	ReadSlice(start, count []uint64) ([]byte, error)

	// Class returns the layout class.
	Class() message.LayoutClass
}

// New creates a Layout from a DataLayout message. Chunked storage is not
// supported; datasets written by this package are compact or contiguous.
func New(
	layout *message.DataLayout,
	dataspace *message.Dataspace,
	datatype *message.Datatype,
	reader *binary.Reader,
) (Layout, error) {
	if layout == nil {
		return nil, errors.New("nil layout message")
	}

	switch layout.Class {
	case message.LayoutCompact:
		return NewCompact(layout, dataspace, datatype), nil

	case message.LayoutContiguous:
		return NewContiguous(layout, dataspace, datatype, reader), nil

	case message.LayoutChunked:
		return nil, errors.New("chunked storage layout is not supported")

	default:
		return nil, errors.Errorf("unknown layout class %d", layout.Class)
	}
}

// calculateDataSize calculates the total size of data in bytes.
func calculateDataSize(dataspace *message.Dataspace, datatype *message.Datatype) uint64 {
	if dataspace == nil || datatype == nil {
		return 0
	}
	return dataspace.NumElements() * uint64(datatype.Size)
}

// checkSelection validates a hyperslab selection against the dataset shape.
func checkSelection(dims, start, count []uint64) error {
	if len(start) != len(dims) || len(count) != len(dims) {
		return errors.Errorf("start and count must have %d dimensions, got %d and %d",
			len(dims), len(start), len(count))
	}
	for d := range dims {
		if start[d]+count[d] > dims[d] {
			return errors.Errorf("selection out of bounds: dimension %d, start %d, count %d, size %d",
				d, start[d], count[d], dims[d])
		}
	}
	return nil
}

// extractHyperslab extracts a rectangular region from data stored in row-major
// order. dims is the full dataset shape, start and count the selection.
func extractHyperslab(data []byte, dims []uint64, start, count []uint64, elementSize uint64) ([]byte, error) {
	ndims := len(dims)
	if ndims == 0 {
		return nil, errors.New("cannot extract hyperslab from scalar dataset")
	}

	totalElements := uint64(1)
	for _, c := range count {
		totalElements *= c
	}
	result := make([]byte, totalElements*elementSize)

	// Row-major strides for the source and the selection.
	srcStrides := make([]uint64, ndims)
	srcStrides[ndims-1] = elementSize
	for d := ndims - 2; d >= 0; d-- {
		srcStrides[d] = srcStrides[d+1] * dims[d+1]
	}
	dstStrides := make([]uint64, ndims)
	dstStrides[ndims-1] = elementSize
	for d := ndims - 2; d >= 0; d-- {
		dstStrides[d] = dstStrides[d+1] * count[d+1]
	}

	copyHyperslab(data, result, start, count, srcStrides, dstStrides, 0, 0, 0, ndims)
	return result, nil
}

// copyHyperslab walks the selection one dimension at a time. The innermost
// dimension is contiguous in row-major order and copies as a single block.
func copyHyperslab(
	src, dst []byte,
	start, count []uint64,
	srcStrides, dstStrides []uint64,
	srcOffset, dstOffset uint64,
	dim, ndims int,
) {
	if dim == ndims-1 {
		rowBytes := count[dim] * srcStrides[dim]
		srcStart := srcOffset + start[dim]*srcStrides[dim]
		if srcStart+rowBytes <= uint64(len(src)) && dstOffset+rowBytes <= uint64(len(dst)) {
			copy(dst[dstOffset:dstOffset+rowBytes], src[srcStart:srcStart+rowBytes])
		}
		return
	}

	for i := uint64(0); i < count[dim]; i++ {
		copyHyperslab(src, dst, start, count, srcStrides, dstStrides,
			srcOffset+(start[dim]+i)*srcStrides[dim],
			dstOffset+i*dstStrides[dim],
			dim+1, ndims)
	}
}
