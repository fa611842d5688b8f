// Package layout provides storage layout handlers for reading dataset data.
//
// Datasets store their raw bytes using one of two storage layouts, and this
// package provides a unified [Layout] interface over both:
//
//   - Compact (class 0): Data is stored directly within the object header.
//     Used for small datasets where external storage overhead would exceed
//     the data size. Implemented by [Compact].
//
//   - Contiguous (class 1): Data is stored in a single contiguous block in
//     the file, addressed by the layout message. Implemented by [Contiguous].
//
// Chunked storage (class 2) is recognized but rejected by [New]; files that
// use it cannot be read by this package.
//
// Use [New] to create the appropriate handler from a parsed layout message:
//
//	l, err := layout.New(layoutMsg, dataspaceMsg, datatypeMsg, reader)
//	data, err := l.Read()
//
// ReadSlice extracts a rectangular selection without materializing the whole
// dataset: compact layouts slice their in-memory copy, contiguous layouts
// read only the selected rows from the file.
package layout
