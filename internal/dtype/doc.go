// Package dtype converts between stored element bytes and Go values.
//
// The mapping follows the datatype descriptor, not the caller:
//
//	Class             | Go value
//	------------------|------------------
//	Fixed-point       | int8/16/32/64 or uint8/16/32/64 up to 8 bytes,
//	                  | *big.Int beyond that, *big.Rat when scaled
//	Floating-point    | float32 or float64 (IEEE 754 layouts only)
//	String (fixed)    | string, declared padding applied and stripped
//	String (varlen)   | string via the global heap
//	Varlen sequence   | typed slice via the global heap
//	Compound          | map[string]any keyed by member name
//	Array             | typed slice of the base type
//	Enum              | int32 or int64
//	Bitfield          | unsigned integer type
//	Opaque            | []byte
//
// A scaled fixed-point type (bit offset > 0) stores the real value
// multiplied by 2^bitOffset; encoding rounds halves toward positive
// infinity.
//
// # Reading
//
// [Decode] interprets one element, [DecodeSlice] a contiguous run. The
// reader argument resolves global heap references and may be nil for
// types without variable-length data:
//
//	v, err := dtype.Decode(datatype, elementBytes, reader)
//	vs, err := dtype.DecodeSlice(datatype, rawBytes, n, reader)
//
// [Convert] and [ConvertWithReader] fill a caller-supplied destination
// instead, a pointer to a slice or to a single value, widening
// numerics where the destination type differs:
//
//	var values []float64
//	err := dtype.Convert(datatype, rawBytes, numElements, &values)
//
// # Writing
//
// [Encode] turns Go values into element bytes; a slice is a sequence
// of elements unless the type itself is slice-shaped. Variable-length
// payloads go through a heap writer:
//
//	data, err := dtype.Encode(datatype, []int32{1, 2, 3})
//	data, err := dtype.EncodeWithHeap(datatype, values, heapWriter, offsetSize)
//
// [GoTypeToDatatype] derives a descriptor from a Go type; strings
// become variable-length, so it needs the file's offset size:
//
//	dt, err := dtype.GoTypeToDatatype(reflect.TypeOf([]float64{}), 8)
package dtype
