// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
)

// dot implements the tensor contraction as a matrix multiplication: x is laid out as (XOut…, XReduced…),
// y as (YReduced…, YOut…), and the output as (XOut…, YOut…).
//
// Operands in the canonical layout (see passes.RequiredTensorShaping) are used without copies.
func (kernels[T]) dot(e *execution, node *graph.Node) {
	x, y := node.Arg(0), node.Arg(1)
	params := graph.DotParamsOf(node)
	lhs := alignedFlat[T](e, x, params.XOut.Concat(params.XReduced))
	rhs := alignedFlat[T](e, y, params.YReduced.Concat(params.YOut))
	m, k, n := params.XOut.Size(), params.XReduced.Size(), params.YOut.Size()

	outAxes := params.XOut.Concat(params.YOut)
	out := flatOf[T](e.tensorOf(node))
	result := out
	if !outAxes.Equal(node.Axes()) {
		result = make([]T, len(out))
	}
	rowsPerChunk := max(1, e.backend.minChunk/max(1, k*n))
	e.backend.workers.ParallelFor(m, rowsPerChunk, func(start, end int) {
		for row := start; row < end; row++ {
			resultRow := result[row*n : (row+1)*n]
			clear(resultRow)
			lhsRow := lhs[row*k : (row+1)*k]
			for kk, v := range lhsRow {
				rhsRow := rhs[kk*n : (kk+1)*n]
				for col, w := range rhsRow {
					resultRow[col] += v * w
				}
			}
		}
	})
	if !outAxes.Equal(node.Axes()) {
		alignTo(out, node.Axes(), result, outAxes)
	}
}
