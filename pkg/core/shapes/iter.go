// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"

	"github.com/pkg/errors"
)

// RowMajorStrides returns the strides (in elements, not bytes) of a row-major layout of the given dimensions.
func RowMajorStrides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() []int {
	return RowMajorStrides(s.Dimensions)
}

// Iter iterates sequentially over all indices of the shape, in row-major order.
//
// It yields the flat index (counter) and a slice of indices for each axis. The yielded indices slice is owned
// by Iter: don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		if s.Size() == 0 {
			return
		}
		indices := make([]int, s.Rank())
		for flatIdx := 0; ; flatIdx++ {
			if !yield(flatIdx, indices) {
				return
			}
			axis := s.Rank() - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}

// IterOffsets iterates over all indices of dimensions in row-major order, and yields for each operand its
// offset into its own storage, given by the operand base offset plus the dot product of the indices with
// the operand strides.
//
// Strides of 0 broadcast an operand over an axis. This is the basic building block of transposes, broadcasts,
// reductions and strided slices: each operand sees the same logical index space through its own strides.
//
// The yielded offsets slice is owned by the iterator.
func IterOffsets(dimensions []int, bases []int, strides ...[]int) iter.Seq[[]int] {
	rank := len(dimensions)
	for i, operandStrides := range strides {
		if len(operandStrides) != rank {
			panic(errors.Errorf("IterOffsets: operand #%d has %d strides, expected %d", i, len(operandStrides), rank))
		}
	}
	if len(bases) != len(strides) {
		panic(errors.Errorf("IterOffsets: %d bases given for %d operands", len(bases), len(strides)))
	}
	return func(yield func([]int) bool) {
		for _, dim := range dimensions {
			if dim == 0 {
				return
			}
		}
		offsets := make([]int, len(strides))
		copy(offsets, bases)
		indices := make([]int, rank)
		for {
			if !yield(offsets) {
				return
			}
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				for op := range strides {
					offsets[op] += strides[op][axis]
				}
				if indices[axis] < dimensions[axis] {
					break
				}
				for op := range strides {
					offsets[op] -= strides[op][axis] * dimensions[axis]
				}
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}
