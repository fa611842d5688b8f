package fspace

import (
	"github.com/sirupsen/logrus"

	"github.com/skalare/goh5/internal/binary"
	"github.com/skalare/goh5/internal/logger"
)

const (
	// MetadataStart is the first offset past the fixed superblock and
	// root group preamble. Metadata allocations begin here.
	MetadataStart = 800

	// DataStart is the lowest offset eligible for data-region blocks.
	DataStart = 2048

	// DataAlign is the boundary a candidate range jumps to after an
	// overlap, in either region.
	DataAlign = 2048
)

// Allocator hands out every byte range in a file being written. It is
// the sole owner of its records; other components hold handles, never
// direct references. Not safe for concurrent use — callers serialize
// writes per file.
type Allocator struct {
	records      []Record
	dataRecords  int
	metadataNext uint64
	dataNext     uint64
	log          *logrus.Entry
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger routes allocation tracing to l.
func WithLogger(l *logrus.Logger) Option {
	return func(a *Allocator) { a.log = logger.Named(l, "fspace") }
}

// New returns an empty allocator with both frontiers at their initial
// thresholds.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		metadataNext: MetadataStart,
		dataNext:     DataStart,
		log:          logger.Named(nil, "fspace"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resume returns an allocator for extending an existing file. The
// structures already on disk are unknown to it, so both frontiers
// start at or past eof and nothing below is ever handed out.
func Resume(eof uint64, opts ...Option) *Allocator {
	a := New(opts...)
	if eof > a.metadataNext {
		a.metadataNext = eof
	}
	if a.metadataNext > a.dataNext {
		a.dataNext = a.metadataNext
	}
	return a
}

// Allocate assigns size bytes to a structure of the given kind and
// returns its handle. Placement never fails: the owning frontier
// advances past conflicts until a disjoint range is found.
func (a *Allocator) Allocate(kind Kind, name string, size uint64) Handle {
	if size == 0 {
		violated("allocate", "zero-size allocation for %s %q", kind, name)
	}
	a.checkDuplicate(kind, name)

	var offset uint64
	if kind.isData() {
		offset = a.probe(a.dataNext, size)
		a.dataNext = offset + size
	} else {
		offset = a.probe(a.metadataNext, size)
		a.metadataNext = offset + size
		a.resyncFrontiers()
	}
	return a.commit(kind, name, offset, size)
}

// ReserveAt pins a structure to a fixed offset inside the preamble
// region. Reserving an occupied range is a fatal misuse.
func (a *Allocator) ReserveAt(kind Kind, name string, offset, size uint64) Handle {
	if size == 0 {
		violated("reserve", "zero-size reservation for %s %q", kind, name)
	}
	a.checkDuplicate(kind, name)
	if a.Overlaps(offset, size) {
		violated("reserve", "%s %q at [%d,%d) overlaps a live record", kind, name, offset, offset+size)
	}
	return a.commit(kind, name, offset, size)
}

// Grow extends a record in place: the offset is kept and the size
// increases to newSize. Symbol table nodes inside the grown extent are
// relocated past it and reported so the caller can rewrite them and
// patch their parents. Colliding with any other structure is a fatal
// misuse, as is shrinking.
func (a *Allocator) Grow(h Handle, newSize uint64) []Relocation {
	rec := a.record(h, "grow")
	if newSize <= rec.Size {
		violated("grow", "%s %q: new size %d does not exceed current size %d",
			rec.Kind, rec.Name, newSize, rec.Size)
	}

	// The extent may swallow several nodes. Move them lowest-offset
	// first so each relocation is checked against the previous ones.
	var moved []Relocation
	for {
		victim := Handle(0)
		var victimOffset uint64
		for i := range a.records {
			r := &a.records[i]
			if Handle(i+1) == h || !r.intersects(rec.Offset, newSize) {
				continue
			}
			if r.Kind != KindSNOD {
				violated("grow", "%s %q extent [%d,%d) collides with %s %q",
					rec.Kind, rec.Name, rec.Offset, rec.Offset+newSize, r.Kind, r.Name)
			}
			if victim == 0 || r.Offset < victimOffset {
				victim = Handle(i + 1)
				victimOffset = r.Offset
			}
		}
		if victim == 0 {
			break
		}
		moved = append(moved, a.relocate(victim, h, newSize))
	}

	a.log.WithFields(logrus.Fields{
		"kind": rec.Kind.String(), "offset": rec.Offset,
		"size": rec.Size, "newSize": newSize, "moved": len(moved),
	}).Debugf("grow %q", rec.Name)
	rec.Size = newSize
	return moved
}

// relocate finds a conflict-free offset past the grown extent for the
// victim node and updates its record.
func (a *Allocator) relocate(victim, growing Handle, growSize uint64) Relocation {
	grower := a.records[growing-1]
	candidate := grower.Offset + growSize
	size := a.records[victim-1].Size
	for a.overlapsForMove(candidate, size, victim, growing, growSize) {
		candidate = binary.AlignUp(candidate+1, uint64(DataAlign))
	}

	v := &a.records[victim-1]
	rel := Relocation{
		Handle:    victim,
		Kind:      v.Kind,
		Name:      v.Name,
		OldOffset: v.Offset,
		NewOffset: candidate,
		Size:      v.Size,
	}
	v.Offset = candidate
	a.log.WithFields(logrus.Fields{
		"from": rel.OldOffset, "to": rel.NewOffset, "size": rel.Size,
	}).Debugf("relocate %q", rel.Name)
	return rel
}

// Supersede retires a local heap data segment in favor of a larger
// one and returns the replacement's handle. The old record is kept,
// reclassified as abandoned, and its bytes are never handed out
// again. Structures other than local heap segments are pinned by
// on-disk references and may not be superseded.
func (a *Allocator) Supersede(h Handle, newSize uint64) Handle {
	rec := a.record(h, "supersede")
	if rec.Kind != KindLocalHeap {
		violated("supersede", "%s %q cannot be superseded", rec.Kind, rec.Name)
	}
	if newSize <= rec.Size {
		violated("supersede", "%q: new size %d does not exceed current size %d",
			rec.Name, newSize, rec.Size)
	}
	rec.Kind = KindLocalHeapAbandoned
	name := rec.Name
	a.log.WithFields(logrus.Fields{
		"offset": rec.Offset, "size": rec.Size, "newSize": newSize,
	}).Debugf("supersede %q", name)
	return a.Allocate(KindLocalHeap, name, newSize)
}

// Record returns a copy of the record behind h.
func (a *Allocator) Record(h Handle) Record {
	return *a.record(h, "record")
}

// Records returns a copy of every record in allocation order,
// abandoned segments included.
func (a *Allocator) Records() []Record {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// Overlaps reports whether [offset, offset+size) intersects any live
// record. Abandoned heap segments still count: their bytes stay
// occupied for the lifetime of the file.
func (a *Allocator) Overlaps(offset, size uint64) bool {
	for i := range a.records {
		if a.records[i].intersects(offset, size) {
			return true
		}
	}
	return false
}

// EndOfFile returns one past the highest allocated byte.
func (a *Allocator) EndOfFile() uint64 {
	var end uint64
	for i := range a.records {
		if e := a.records[i].End(); e > end {
			end = e
		}
	}
	return end
}

// Frontiers returns the current metadata and data frontiers.
func (a *Allocator) Frontiers() (metadata, data uint64) {
	return a.metadataNext, a.dataNext
}

func (a *Allocator) record(h Handle, op string) *Record {
	if h <= 0 || int(h) > len(a.records) {
		violated(op, "invalid handle %d", h)
	}
	return &a.records[h-1]
}

func (a *Allocator) commit(kind Kind, name string, offset, size uint64) Handle {
	a.records = append(a.records, Record{Kind: kind, Name: name, Offset: offset, Size: size})
	if kind.isData() {
		a.dataRecords++
	}
	a.log.WithFields(logrus.Fields{
		"kind": kind.String(), "offset": offset, "size": size,
	}).Debugf("place %q", name)
	return Handle(len(a.records))
}

// checkDuplicate enforces one live record per structure. Global heap
// blocks are additionally capped at one of each kind: the format
// supports a fixed first block and a growable second, never a third.
func (a *Allocator) checkDuplicate(kind Kind, name string) {
	for i := range a.records {
		r := &a.records[i]
		if r.Kind != kind {
			continue
		}
		if kind == KindGlobalHeapFirst || kind == KindGlobalHeapSecond {
			violated("allocate", "%s already allocated; a third global heap block is not supported", kind)
		}
		if r.Name == name {
			violated("allocate", "duplicate allocation of %s %q", kind, name)
		}
	}
}

// probe advances the candidate to the next alignment boundary until
// [candidate, candidate+size) intersects no live record. Each retry
// strictly increases the offset, so the loop terminates.
func (a *Allocator) probe(candidate, size uint64) uint64 {
	for a.Overlaps(candidate, size) {
		candidate = binary.AlignUp(candidate+1, uint64(DataAlign))
	}
	return candidate
}

// resyncFrontiers pulls the data frontier up to the metadata frontier
// while no data block exists, keeping small files compact.
func (a *Allocator) resyncFrontiers() {
	if a.dataRecords == 0 && a.metadataNext > a.dataNext {
		a.dataNext = a.metadataNext
	}
}

func (a *Allocator) overlapsForMove(offset, size uint64, moving, growing Handle, growSize uint64) bool {
	for i := range a.records {
		r := a.records[i]
		switch Handle(i + 1) {
		case moving:
			continue
		case growing:
			r.Size = growSize
		}
		if r.intersects(offset, size) {
			return true
		}
	}
	return false
}
