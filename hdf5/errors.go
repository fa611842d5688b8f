// Package hdf5 reads and writes HDF5 files.
package hdf5

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/btree"
)

// Sentinel errors. Lookup and insert failures share the group index
// sentinels so errors.Is works on errors surfacing from either layer.
var (
	// ErrFormat reports a structurally invalid file: bad signature,
	// corrupt block, or a field outside its legal range.
	ErrFormat = errors.New("invalid file format")

	// ErrNotFound reports a path or name with no linked object.
	ErrNotFound = btree.ErrNotFound

	// ErrExists rejects creating an object under a name already in use.
	ErrExists = btree.ErrExists

	// ErrUnsupportedVersion reports a structure version this package
	// does not handle.
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrReadOnly rejects mutation of a file opened for reading.
	ErrReadOnly = errors.New("file opened read-only")

	// ErrClosed rejects operations on a closed file.
	ErrClosed = errors.New("file is closed")

	// ErrTypeMismatch reports a value or object of the wrong kind: a
	// group where a dataset was expected, records requested from a
	// non-compound dataset, and the like.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrLinkDepth reports a soft link chain longer than MaxLinkDepth,
	// usually a cycle.
	ErrLinkDepth = errors.New("maximum link depth exceeded")
)

// MaxLinkDepth bounds soft link resolution during path traversal.
const MaxLinkDepth = 100
