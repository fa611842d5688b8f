// Package object reads, writes and edits HDF5 version 1 object
// headers, the per-object message containers groups and datasets
// hang off.
//
// # Header Structure
//
// A version 1 header opens with a version byte, a message count, a
// reference count and the size of its message region; the region
// follows on the next 8-byte boundary. Each message carries a type,
// a body size, flags and an 8-byte padded body. Headers grow past
// their first block through continuation messages, which point at
// further message blocks elsewhere in the file.
//
// Version 2 headers (signature "OHDR") are recognized and reported
// as unsupported.
//
// # Reading
//
// [Read] parses the header at an address, following continuations:
//
//	header, err := object.Read(reader, objectAddress)
//	dataspace := header.Dataspace()
//	allAttrs := header.GetMessages(message.TypeAttribute)
//
// Messages the library cannot decode are skipped; structural damage
// surfaces as [ErrInvalidHeader].
//
// # Writing
//
// [WriteHeader] serializes a fresh header: [NewGroupMessages] and
// [NewDatasetMessages] assemble the standard message sets, and the
// reserve parameter leaves NIL-padded slack so attributes can be
// added later without immediately spilling.
//
// # Editing
//
// [Editor] appends messages to headers already on disk. It rewrites
// NIL gaps in place when the new message fits, and otherwise
// allocates a continuation block and splices it into the chain.
package object
