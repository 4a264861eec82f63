// Package conv provides checked integer conversions.
//
// Use these where a value crosses from the signed id space into an unsigned
// representation (bitmaps, encodings) and a negative value would be a bug.
// For conversions that are provably safe by domain constraints, use direct
// type casts instead.
package conv
