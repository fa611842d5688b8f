package fspace

import "fmt"

// Kind classifies the structure occupying an allocated range.
type Kind uint8

const (
	KindSuperblock Kind = iota
	KindObjectHeader
	KindHeaderContinuation
	KindDatasetData
	KindLocalHeap
	KindLocalHeapAbandoned
	KindSNOD
	KindBTreeNode
	KindGlobalHeapFirst
	KindGlobalHeapSecond
)

var kindNames = [...]string{
	KindSuperblock:         "superblock",
	KindObjectHeader:       "object header",
	KindHeaderContinuation: "header continuation",
	KindDatasetData:        "dataset data",
	KindLocalHeap:          "local heap",
	KindLocalHeapAbandoned: "local heap (abandoned)",
	KindSNOD:               "symbol table node",
	KindBTreeNode:          "b-tree node",
	KindGlobalHeapFirst:    "global heap block 1",
	KindGlobalHeapSecond:   "global heap block 2",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// isData reports whether records of this kind live in the data region.
func (k Kind) isData() bool {
	return k == KindDatasetData || k == KindGlobalHeapFirst || k == KindGlobalHeapSecond
}

// Handle identifies an allocation record. Handles stay valid for the
// lifetime of the allocator; the zero Handle refers to nothing.
type Handle int

// Record describes one allocated range. Offset and size mutate in
// place on Grow; callers holding a Handle observe the current values
// through [Allocator.Record].
type Record struct {
	Kind   Kind
	Name   string
	Offset uint64
	Size   uint64
}

// End returns one past the last byte of the record.
func (r Record) End() uint64 { return r.Offset + r.Size }

func (r Record) intersects(offset, size uint64) bool {
	return offset < r.End() && r.Offset < offset+size
}

// Relocation reports that Grow moved a symbol table node out of the
// way of a growing record. The caller must copy the node's bytes to
// the new offset and patch every pointer that referenced the old one.
type Relocation struct {
	Handle    Handle
	Kind      Kind
	Name      string
	OldOffset uint64
	NewOffset uint64
	Size      uint64
}

// InvariantError is the panic value raised on allocator misuse:
// duplicate allocations, shrinking a record, superseding a structure
// that may not move, or growing into a range that cannot be vacated.
// These are programmer errors, not runtime conditions, and are never
// retried.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("fspace: %s: %s", e.Op, e.Detail)
}

func violated(op, format string, args ...interface{}) {
	panic(&InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)})
}
