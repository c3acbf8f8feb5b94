// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Iter iterates over all possible indices of the shape in row-major order (the last axis changes
// fastest).
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq[[]int] {
	return IterDims(s.Dimensions)
}

// IterDims is like Shape.Iter, but only takes the dimensions.
//
// The iteration is empty if any dimension is non-positive.
func IterDims(dimensions []int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		rank := len(dimensions)
		for _, dim := range dimensions {
			if dim <= 0 {
				return
			}
		}
		indices := make([]int, rank)
		if rank == 0 {
			_ = yield(indices)
			return
		}
		for {
			if !yield(indices) {
				return
			}
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < dimensions[axis] {
					break
				}
				// Carry-over to the next higher-order axis.
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}
