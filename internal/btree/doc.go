// Package btree implements the version-1 B-tree that indexes group
// members.
//
// A group's index is a tree of "TREE" nodes over "SNOD" symbol table
// nodes. Tree nodes hold keys and child pointers; the keys are local
// heap offsets whose strings bound the names in each child. Symbol
// nodes hold the entries themselves, sorted by name: a 40-byte record
// per link, with the header address of the target and a scratch pad
// caching type-specific data (group B-tree and heap addresses, or a
// soft link's target offset).
//
// Two surfaces share these structures:
//
//   - [ReadGroupEntries] walks a tree directly off the file and
//     returns every link with its name resolved, for read-only opens.
//
//   - [GroupIndex] keeps a tree open for modification: Find, Insert
//     with top-down splits, Remove, and an in-order Entries walk.
//     Nodes live in memory and are written through on every change,
//     so the file is consistent after each operation.
//
// The root node never moves. Growing the tree shifts the old root's
// content into a fresh child and raises the root a level, keeping the
// address stored in the group's symbol table message valid. Symbol
// nodes displaced by a growing global heap collection are re-homed
// through [GroupIndex.ApplyRelocation].
package btree
