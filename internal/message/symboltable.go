package message

import (
	"github.com/pkg/errors"

	binpkg "github.com/skalare/goh5/internal/binary"
)

// SymbolTable represents a symbol table message (type 0x0011).
// This message is used in version 1 object headers to point to the
// B-tree and local heap that define group membership.
type SymbolTable struct {
	BTreeAddress     uint64 // Address of B-tree for group members
	LocalHeapAddress uint64 // Address of local heap for member names
}

func (m *SymbolTable) Type() Type { return TypeSymbolTable }

// NewSymbolTable creates a symbol table message pointing a group at
// its entry index and name heap.
func NewSymbolTable(btreeAddr, heapAddr uint64) *SymbolTable {
	return &SymbolTable{
		BTreeAddress:     btreeAddr,
		LocalHeapAddress: heapAddr,
	}
}

func parseSymbolTable(data []byte, r *binpkg.Reader) (*SymbolTable, error) {
	offsetSize := r.OffsetSize()

	if len(data) < 2*offsetSize {
		return nil, errors.New("symbol table message too short")
	}

	return &SymbolTable{
		BTreeAddress:     decodeUint(data[0:offsetSize], offsetSize, r.ByteOrder()),
		LocalHeapAddress: decodeUint(data[offsetSize:2*offsetSize], offsetSize, r.ByteOrder()),
	}, nil
}

// Serialize writes the SymbolTable message: the B-tree address
// followed by the local heap address.
func (m *SymbolTable) Serialize(w *binpkg.Writer) error {
	if err := w.WriteOffset(m.BTreeAddress); err != nil {
		return err
	}
	return w.WriteOffset(m.LocalHeapAddress)
}

// SerializedSize returns the size in bytes when serialized.
func (m *SymbolTable) SerializedSize(w *binpkg.Writer) int {
	return 2 * w.OffsetSize()
}
