package binary

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to the next multiple of boundary, which must be
// a power of two.
func AlignUp[T constraints.Integer](v, boundary T) T {
	return (v + boundary - 1) &^ (boundary - 1)
}

// PadTo returns the number of bytes needed after n to reach the next
// multiple of boundary.
func PadTo[T constraints.Integer](n, boundary T) T {
	return AlignUp(n, boundary) - n
}
