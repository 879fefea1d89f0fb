// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// ReduceParams are the parameters of reduction nodes.
type ReduceParams struct {
	// Reduced are the axes of the input that are reduced.
	Reduced axes.Axes
}

// defaultReductionAxes are the sample axes of x, except its recurrent axis.
func defaultReductionAxes(x *Node) axes.Axes {
	reduced := x.Axes().SampleAxes()
	if recurrent, found := reduced.RecurrentAxis(); found {
		reduced = reduced.Sub(axes.Make(recurrent))
	}
	return reduced
}

// reduce creates a reduction node of x over the reduced axes.
// If no axes are given, it uses the sample axes of x, except its recurrent axis.
func reduce(opType OpType, x *Node, reducedAxes []axes.Axis) *Node {
	x.AssertTensor()
	var reduced axes.Axes
	if len(reducedAxes) == 0 {
		reduced = defaultReductionAxes(x)
	} else {
		var err error
		reduced, err = axes.MakeOrError(reducedAxes...)
		if err != nil {
			panic(errors.WithMessagef(err, "%s", opType))
		}
	}
	if !reduced.IsSubsetOf(x.Axes()) {
		panic(errors.Wrapf(errs.ErrShape, "%s: reduction axes %s are not axes of %s", opType, reduced, x))
	}
	if reduced.Len() == 0 {
		return x
	}
	reduced = x.Axes().Intersect(reduced)
	return x.graph.newNode(opType, []*Node{x}, x.Axes().Sub(reduced), x.DType(), &ReduceParams{Reduced: reduced})
}

// reduceOut creates a reduction node of x that keeps only the out axes.
func reduceOut(opType OpType, x *Node, out axes.Axes) *Node {
	x.AssertTensor()
	if !out.IsSubsetOf(x.Axes()) {
		panic(errors.Wrapf(errs.ErrShape, "%s: output axes %s are not axes of %s", opType, out, x))
	}
	reduced := x.Axes().Sub(out)
	if reduced.Len() == 0 {
		return ReorderAxes(x, out)
	}
	n := x.graph.newNode(opType, []*Node{x}, x.Axes().Sub(reduced), x.DType(), &ReduceParams{Reduced: reduced})
	return ReorderAxes(n, out)
}

// ReduceSum returns the sum of x over the given axes.
// If no axes are given, it reduces the sample axes of x, except its recurrent axis.
func ReduceSum(x *Node, reducedAxes ...axes.Axis) *Node { return reduce(OpTypeReduceSum, x, reducedAxes) }

// ReduceMax returns the maximum of x over the given axes (see ReduceSum for the default axes).
func ReduceMax(x *Node, reducedAxes ...axes.Axis) *Node { return reduce(OpTypeReduceMax, x, reducedAxes) }

// ReduceMin returns the minimum of x over the given axes (see ReduceSum for the default axes).
func ReduceMin(x *Node, reducedAxes ...axes.Axis) *Node { return reduce(OpTypeReduceMin, x, reducedAxes) }

// ReduceProd returns the product of x over the given axes (see ReduceSum for the default axes).
func ReduceProd(x *Node, reducedAxes ...axes.Axis) *Node { return reduce(OpTypeReduceProd, x, reducedAxes) }

// ReduceSumOut returns the sum of x over all its axes not in out. The result has exactly the out axes.
func ReduceSumOut(x *Node, out axes.Axes) *Node { return reduceOut(OpTypeReduceSum, x, out) }

// ReduceMaxOut returns the maximum of x over all its axes not in out.
func ReduceMaxOut(x *Node, out axes.Axes) *Node { return reduceOut(OpTypeReduceMax, x, out) }

// ReduceMinOut returns the minimum of x over all its axes not in out.
func ReduceMinOut(x *Node, out axes.Axes) *Node { return reduceOut(OpTypeReduceMin, x, out) }

// ReduceProdOut returns the product of x over all its axes not in out.
func ReduceProdOut(x *Node, out axes.Axes) *Node { return reduceOut(OpTypeReduceProd, x, out) }

// TensorSizeParams are the parameters of a TensorSize node.
type TensorSizeParams struct {
	// Counted are the axes whose lengths are multiplied.
	Counted axes.Axes
}

// TensorSize returns a scalar with the number of elements of x over the given axes (all axes of x if none
// are given). The value is only known once the lengths of the axes are bound.
func TensorSize(x *Node, countedAxes ...axes.Axis) *Node {
	x.AssertTensor()
	counted := x.Axes()
	if len(countedAxes) > 0 {
		counted = axes.Make(countedAxes...)
		if !counted.IsSubsetOf(x.Axes()) {
			panic(errors.Wrapf(errs.ErrShape, "TensorSize: axes %s are not axes of %s", counted, x))
		}
	}
	return x.graph.newNode(OpTypeTensorSize, []*Node{x}, axes.Axes{}, x.DType(), &TensorSizeParams{Counted: counted})
}

// Mean returns the mean of x over the given axes (see ReduceSum for the default axes).
func Mean(x *Node, reducedAxes ...axes.Axis) *Node {
	x.AssertTensor()
	if len(reducedAxes) == 0 {
		reducedAxes = defaultReductionAxes(x).All()
	}
	if len(reducedAxes) == 0 {
		return x
	}
	return Div(ReduceSum(x, reducedAxes...), TensorSize(x, reducedAxes...))
}

// Variance returns the variance of x over the given axes (see ReduceSum for the default axes).
func Variance(x *Node, reducedAxes ...axes.Axis) *Node {
	mean := Mean(x, reducedAxes...)
	return Mean(Square(Sub(x, mean)), reducedAxes...)
}
