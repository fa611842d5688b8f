// Package message parses and serializes HDF5 object header messages.
//
// Object headers carry a sequence of messages describing the object's
// properties. Each message has a type, flags, and a type-specific
// body. This package decodes the message kinds the library works
// with:
//
//   - Dataspace (0x0001): Rank and extent of a value. See [Dataspace].
//   - Datatype (0x0003): Element type descriptor. See [Datatype].
//   - Fill Value (0x0005): Default for unwritten elements. See [FillValue].
//   - Data Layout (0x0008): Where raw data lives. See [DataLayout].
//   - Attribute (0x000C): Named inline value. See [Attribute].
//   - Continuation (0x0010): Further header block. See [Continuation].
//   - Symbol Table (0x0011): Group B-tree and heap addresses. See [SymbolTable].
//
// Unrecognized message types are wrapped in [Unknown] so the rest of
// a header still parses.
//
// # Datatype Classes
//
// The [Datatype] message is a tagged variant over the HDF5 type
// classes:
//
//   - ClassFixedPoint (0): Integers, signed or unsigned
//   - ClassFloatPoint (1): IEEE floating-point numbers
//   - ClassString (3): Fixed-length strings
//   - ClassBitfield (4): Bit fields
//   - ClassOpaque (5): Tagged byte sequences
//   - ClassCompound (6): Structures with named members
//   - ClassReference (7): Object or region references
//   - ClassEnum (8): Named integer values
//   - ClassVarLen (9): Variable-length sequences and strings
//   - ClassArray (10): Fixed-shape arrays
//
// # Layout Classes
//
// The [DataLayout] message names one of three storage layouts:
// LayoutCompact keeps the raw data inside the header message,
// LayoutContiguous points at one flat block, and LayoutChunked
// indexes separate chunks. Chunked layouts are decoded so their
// metadata is visible, but this library does not read or write
// chunked data.
//
// # Writing
//
// Messages the library writes implement [Serializable]. Writers emit
// version 1 encodings throughout: version 1 dataspace and attribute
// messages, version 1 datatype descriptors (version 2 for arrays),
// and the version 3 layout encoding shared by all header versions.
package message
