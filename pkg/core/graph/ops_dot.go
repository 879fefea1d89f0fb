// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// DotParams are the parameters of a Dot node.
type DotParams struct {
	// XReduced are the contracted axes of x, and YReduced the matching axes of y (XReduced shifted by
	// dual offset 1), in the same order.
	XReduced, YReduced axes.Axes

	// XOut and YOut are the axes of x and y that are not contracted, in their order in the output.
	XOut, YOut axes.Axes
}

// Dot returns the tensor contraction of x and y.
//
// An axis a of x is contracted with the axis a.Dual(1) of y, if y has it: so to contract over an axis
// present in both operands, use its dual in y (see CastAxes). The output has the non-contracted axes of x
// followed by the non-contracted axes of y. If they have axes in common, it panics with an error wrapping
// errs.ErrShape. With no contracted axes it is the outer product.
func Dot(x, y *Node) *Node {
	x.AssertTensor()
	y.AssertTensor()
	if x.graph != y.graph {
		exceptions.Panicf("Dot: operands from different graphs %q and %q", x.graph.name, y.graph.name)
	}
	if x.DType() != y.DType() {
		panic(errors.Wrapf(errs.ErrShape, "Dot: operands have different dtypes %s and %s", x.DType(), y.DType()))
	}
	params := dotParams(x.Axes(), y.Axes())
	out, err := params.XOut.ConcatOrError(params.YOut)
	if err != nil {
		panic(errors.Wrapf(errs.ErrShape, "Dot(%s, %s): non-contracted axes overlap, use duals to pair them",
			x.Axes(), y.Axes()))
	}
	for ii := range params.XReduced.Len() {
		xa, ya := params.XReduced.At(ii), params.YReduced.At(ii)
		if xa.IsBound() && ya.IsBound() && xa.Length() != ya.Length() {
			panic(errors.Wrapf(errs.ErrShape, "Dot: contracted axes %s and %s have different lengths", xa, ya))
		}
	}
	return x.graph.newNode(OpTypeDot, []*Node{x, y}, out, x.DType(), params)
}

// dotParams pairs the axes of x with their duals in y.
func dotParams(xAxes, yAxes axes.Axes) *DotParams {
	var reduced []axes.Axis
	for _, axis := range xAxes.All() {
		if yAxes.Has(axis.Dual(1)) {
			reduced = append(reduced, axis)
		}
	}
	xReduced := axes.Make(reduced...)
	yReduced := xReduced.Dual(1)
	return &DotParams{
		XReduced: xReduced,
		YReduced: yReduced,
		XOut:     xAxes.Sub(xReduced),
		YOut:     yAxes.Sub(yReduced),
	}
}

// DotParamsOf returns the parameters of the Dot node n, recomputed from the current axes of its arguments.
func DotParamsOf(n *Node) *DotParams {
	return dotParams(n.Arg(0).Axes(), n.Arg(1).Axes())
}
