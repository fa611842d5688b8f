// Package heap reads and writes the two HDF5 heap structures.
//
// # Local heaps
//
// A local heap (signature "HEAP") is a header plus one data segment
// holding null-terminated strings. Every old-style group owns one:
// its B-tree keys and symbol table entries name members by offset
// into the segment. [ReadLocalHeap] decodes a heap and
// [LocalHeap.GetString] resolves an offset.
//
// [LocalHeapWriter] builds a heap incrementally. The segment is
// append-only and starts with a reserved null entry, so the empty
// string is always offset 0 and offsets handed out by Put stay valid
// when the segment grows. Growth doubles the segment, abandoning the
// old range through the allocator.
//
// # Global heaps
//
// A global heap collection (signature "GCOL") stores variable-length
// payloads as numbered objects; serialized elements reference them by
// collection address and 1-based object index. [ReadGlobalHeap]
// indexes a collection and [GlobalHeap.Get] fetches one payload. The
// reference bytes embedded in element data decode with
// [ParseGlobalHeapID].
//
// [GlobalHeapWriter] fills a first fixed-size collection, then a
// second that doubles in place when needed. Growing in place keeps
// every previously issued reference valid; symbol table nodes sitting
// behind the collection are displaced, and the writer reports each
// move through its [RelocateFunc] so the caller can patch pointers.
package heap
