package hdf5

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skalare/goh5/internal/message"
)

// FileOption configures file creation and opening.
type FileOption func(*fileOptions)

type fileOptions struct {
	offsetSize    int
	lengthSize    int
	leafK         int
	internalK     int
	localHeapSize uint64
	log           *logrus.Logger
	cacheSize     int64
}

func defaultFileOptions() *fileOptions {
	return &fileOptions{
		offsetSize:    8,
		lengthSize:    8,
		leafK:         4,
		internalK:     16,
		localHeapSize: 256,
	}
}

func applyFileOptions(opts []FileOption) *fileOptions {
	o := defaultFileOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *fileOptions) validate() error {
	switch o.offsetSize {
	case 2, 4, 8:
	default:
		return errors.Errorf("offset size must be 2, 4 or 8, got %d", o.offsetSize)
	}
	switch o.lengthSize {
	case 2, 4, 8:
	default:
		return errors.Errorf("length size must be 2, 4 or 8, got %d", o.lengthSize)
	}
	if o.leafK < 1 || o.internalK < 2 {
		return errors.Errorf("group index ranks must be at least 1 (leaf) and 2 (internal), got %d and %d", o.leafK, o.internalK)
	}
	if o.localHeapSize < 8 {
		return errors.Errorf("local heap size must be at least 8 bytes, got %d", o.localHeapSize)
	}
	return nil
}

// WithOffsetSize sets the size in bytes for file offsets (2, 4, or 8).
// Only meaningful at create time; opens read the size from the file.
func WithOffsetSize(size int) FileOption {
	return func(o *fileOptions) {
		o.offsetSize = size
	}
}

// WithLengthSize sets the size in bytes for lengths (2, 4, or 8).
// Only meaningful at create time.
func WithLengthSize(size int) FileOption {
	return func(o *fileOptions) {
		o.lengthSize = size
	}
}

// WithGroupKeys sets the half-ranks of group index nodes: a symbol
// node holds up to 2*leafK directory entries, an internal node up to
// 2*internalK-1 children. Only meaningful at create time.
func WithGroupKeys(leafK, internalK int) FileOption {
	return func(o *fileOptions) {
		o.leafK = leafK
		o.internalK = internalK
	}
}

// WithLocalHeapSize sets the initial name heap segment size for new
// groups. Heaps double when full, so this only tunes how soon the
// first relocation happens.
func WithLocalHeapSize(size uint64) FileOption {
	return func(o *fileOptions) {
		o.localHeapSize = size
	}
}

// WithLogger routes structural diagnostics (allocations, relocations,
// index splits) to l. By default they are discarded.
func WithLogger(l *logrus.Logger) FileOption {
	return func(o *fileOptions) {
		o.log = l
	}
}

// WithCache keeps up to n parsed object headers in an in-memory cache,
// speeding up repeated traversal of large files. The cache is safe for
// concurrent readers.
func WithCache(n int64) FileOption {
	return func(o *fileOptions) {
		o.cacheSize = n
	}
}

// DatasetOption configures dataset creation.
type DatasetOption func(*datasetOptions)

// attrDef holds an attribute definition for creation.
type attrDef struct {
	name  string
	value interface{}
}

type datasetOptions struct {
	datatype   *message.Datatype
	dims       []uint64
	maxDims    []uint64
	compact    bool
	attributes []attrDef
}

func applyDatasetOptions(opts []DatasetOption) *datasetOptions {
	o := &datasetOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithDatatype overrides the element type inferred from the value.
// Use the message package constructors to build types the inference
// cannot produce: scaled fixed-point, big-endian, fixed strings.
func WithDatatype(dt *message.Datatype) DatasetOption {
	return func(o *datasetOptions) {
		o.datatype = dt
	}
}

// WithDataspace sets the dataset shape explicitly instead of taking
// it from the value. An empty dims creates a scalar dataset.
func WithDataspace(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) {
		o.dims = dims
	}
}

// WithMaxDims records upper bounds for each dimension in the
// dataspace. Data beyond the current shape cannot be written, but
// readers see the declared bounds.
func WithMaxDims(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) {
		o.maxDims = dims
	}
}

// WithCompact stores the data inside the object header instead of a
// separate file block. Only honored when the encoded data fits
// CompactDataLimit; larger datasets fall back to contiguous storage.
func WithCompact() DatasetOption {
	return func(o *datasetOptions) {
		o.compact = true
	}
}

// WithAttribute attaches an attribute to the dataset at creation time.
// The value can be a scalar or slice of the numeric types, string, or
// a compound map. Repeat the option for multiple attributes.
func WithAttribute(name string, value interface{}) DatasetOption {
	return func(o *datasetOptions) {
		o.attributes = append(o.attributes, attrDef{name: name, value: value})
	}
}
