// Copyright 2025 QuaternionEngine Authors. All rights reserved.

// Package bitvec defines a bit vector type useful for
// resource management (e.g., block allocation and free
// list implementations).
package bitvec

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// V is a growable bit vector with custom granularity.
type V[T constraints.Unsigned] struct {
	s   []T
	rem int
}

// nbit returns the number of bits in T.
func (*V[T]) nbit() int { return int(unsafe.Sizeof(T(0))) * 8 }

// Len returns the number of bits in the vector.
func (v *V[_]) Len() int { return len(v.s) * v.nbit() }

// Rem returns the number of unset bits in the vector.
func (v *V[_]) Rem() int { return v.rem }

// Grow resizes the vector to contain nplus additional Uints.
// The new extent is appended as a contiguous range of unset
// bits, so requesting the range
//
//	nplus * <number of bits in T>
//
// afterwards is guaranteed to succeed.
// It returns the value of v.Len prior to appending the new
// extent.
func (v *V[T]) Grow(nplus int) (index int) {
	index = v.Len()
	if nplus > 0 {
		v.rem += nplus * v.nbit()
		v.s = append(v.s, make([]T, nplus)...)
	}
	return
}

// Set sets a given bit.
func (v *V[T]) Set(index int) {
	n := v.nbit()
	i := index / n
	b := T(1) << (index & (n - 1))
	if v.s[i]&b == 0 {
		v.s[i] |= b
		v.rem--
	}
}

// Unset unsets a given bit.
func (v *V[T]) Unset(index int) {
	n := v.nbit()
	i := index / n
	b := T(1) << (index & (n - 1))
	if v.s[i]&b != 0 {
		v.s[i] &^= b
		v.rem++
	}
}

// IsSet checks whether a given bit is set.
func (v *V[T]) IsSet(index int) bool {
	n := v.nbit()
	i := index / n
	b := T(1) << (index & (n - 1))
	return v.s[i]&b != 0
}

// Search attempts to locate an unset bit in the vector.
// If ok is true, then index is a value suitable for use
// in a call to v.Set.
// It fails only when v.Rem() == 0.
func (v *V[T]) Search() (index int, ok bool) {
	return v.SearchRange(1)
}

// SearchRange attempts to locate a contiguous range of unset
// bits. If ok is true, then all values in [index, index+n)
// are suitable for use in a call to v.Set.
func (v *V[T]) SearchRange(n int) (index int, ok bool) {
	if n < 1 || v.rem < n {
		return
	}
	nb := v.nbit()
	var cnt int
	for i, x := range v.s {
		switch x {
		case 0:
			if cnt == 0 {
				index = i * nb
			}
			cnt += nb
			if cnt >= n {
				return index, true
			}
		case ^T(0):
			cnt = 0
		default:
			for b := 0; b < nb; b++ {
				if x&(1<<b) != 0 {
					cnt = 0
					continue
				}
				if cnt == 0 {
					index = i*nb + b
				}
				cnt++
				if cnt >= n {
					return index, true
				}
			}
		}
	}
	return 0, false
}

// Clear unsets every bit in the vector.
func (v *V[T]) Clear() {
	n := v.Len()
	if n == v.rem {
		return
	}
	clear(v.s)
	v.rem = n
}
