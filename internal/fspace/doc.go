// Package fspace assigns every byte offset in an HDF5 file under
// construction.
//
// All on-disk structures — superblock, object headers, continuation
// blocks, symbol table nodes, heaps, and dataset payloads — obtain
// their placement from a single [Allocator]. The allocator keeps one
// [Record] per structure and guarantees that live records never
// overlap.
//
// # Regions and frontiers
//
// The file is split into a metadata region and a data region, each
// with its own placement frontier:
//
//   - Metadata (object headers, continuations, symbol table nodes,
//     B-tree nodes, local heaps) starts at [MetadataStart], just past
//     the fixed superblock and root group preamble.
//   - Data (dataset payloads, global heap blocks) starts at
//     [DataStart].
//
// A candidate range that would intersect a live record is pushed to
// the next [DataAlign] boundary and rechecked, so placement always
// succeeds. While no data block exists yet the data frontier trails
// the metadata frontier, which keeps small files compact.
//
// # Growth and relocation
//
// [Allocator.Grow] extends a record in place. Symbol table nodes are
// the only structures allowed to sit in the way; they are moved past
// the grown extent and reported as [Relocation] values for the caller
// to rewrite. [Allocator.Supersede] retires a local heap data segment
// in favor of a larger one; the abandoned segment is retained so its
// bytes are never reused.
//
// # Misuse
//
// Allocating the same structure twice, shrinking a record, growing
// over anything other than a symbol table node, or allocating a third
// global heap block are programmer errors. They panic with an
// [*InvariantError] and are never retried.
package fspace
