// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// Broadcast returns x replicated over the target axes: the axes of x must be a subset of target (in any
// order), otherwise it panics with an error wrapping errs.ErrShape.
//
// If x already has exactly the target axes, it is returned unchanged.
func Broadcast(x *Node, target axes.Axes) *Node {
	x.AssertTensor()
	if x.Axes().Equal(target) {
		return x
	}
	if !x.Axes().IsSubsetOf(target) {
		panic(errors.Wrapf(errs.ErrShape, "Broadcast: axes %s of %s are not a subset of %s", x.Axes(), x, target))
	}
	return x.graph.newNode(OpTypeBroadcast, []*Node{x}, target, x.DType(), nil)
}

// ExpandDimsParams are the parameters of an ExpandDims node.
type ExpandDimsParams struct {
	Axis     axes.Axis
	Position int
}

// ExpandDims returns x with a new axis inserted at the given position: the values are replicated over it.
func ExpandDims(x *Node, axis axes.Axis, position int) *Node {
	x.AssertTensor()
	if x.Axes().Has(axis) {
		panic(errors.Wrapf(errs.ErrShape, "ExpandDims: %s already has axis %s", x, axis))
	}
	if position < 0 || position > x.Rank() {
		panic(errors.Wrapf(errs.ErrShape, "ExpandDims: position %d out of range for %s", position, x.Axes()))
	}
	return x.graph.newNode(OpTypeExpandDims, []*Node{x}, x.Axes().Insert(position, axis), x.DType(),
		&ExpandDimsParams{Axis: axis, Position: position})
}

// ReorderAxes returns x transposed to the target order of its axes.
// The target must have the same axes as x (errs.ErrShape otherwise).
func ReorderAxes(x *Node, target axes.Axes) *Node {
	x.AssertTensor()
	if x.Axes().Equal(target) {
		return x
	}
	if !x.Axes().SameSet(target) {
		panic(errors.Wrapf(errs.ErrShape, "ReorderAxes: %s and %s don't have the same axes", x.Axes(), target))
	}
	return x.graph.newNode(OpTypeReorderAxes, []*Node{x}, target, x.DType(), nil)
}

// CastAxes returns x with its axes renamed, position by position, to newAxes. The data is unchanged.
//
// The number of axes must match, and so must the lengths of the axes that are bound.
func CastAxes(x *Node, newAxes axes.Axes) *Node {
	x.AssertTensor()
	if x.Axes().Equal(newAxes) {
		return x
	}
	if x.Rank() != newAxes.Len() {
		panic(errors.Wrapf(errs.ErrShape, "CastAxes: cannot cast %s to %s, different number of axes",
			x.Axes(), newAxes))
	}
	for ii := range newAxes.Len() {
		from, to := x.Axes().At(ii), newAxes.At(ii)
		if from.IsBound() && to.IsBound() && from.Length() != to.Length() {
			panic(errors.Wrapf(errs.ErrShape, "CastAxes: cannot cast axis %s to %s, different lengths", from, to))
		}
	}
	return x.graph.newNode(OpTypeAxesCast, []*Node{x}, newAxes, x.DType(), nil)
}

// castAxesMap returns x with the axes present in mapping renamed.
func castAxesMap(x *Node, mapping map[axes.Axis]axes.Axis) *Node {
	return CastAxes(x, x.Axes().Map(func(axis axes.Axis) axes.Axis {
		if to, found := mapping[axis]; found {
			return to
		}
		return axis
	}))
}

// Flatten returns x with all its axes collapsed into one flattened axis (see axes.Registry.Flatten).
// Scalars and tensors with one axis are returned unchanged.
func Flatten(x *Node) *Node {
	x.AssertTensor()
	if x.Rank() <= 1 {
		return x
	}
	return flattenTo(x, axes.Make(x.graph.registry.Flatten(x.Axes())))
}

// FlattenAt returns x with its axes collapsed into two flattened axes: the axes before position idx and
// the axes from idx on. If idx is 0 or the rank of x, all axes are flattened into one.
func FlattenAt(x *Node, idx int) *Node {
	x.AssertTensor()
	if idx < 0 || idx > x.Rank() {
		panic(errors.Wrapf(errs.ErrShape, "FlattenAt: index %d out of range for %s", idx, x.Axes()))
	}
	if idx == 0 || idx == x.Rank() {
		return Flatten(x)
	}
	all := x.Axes().All()
	reg := x.graph.registry
	return flattenTo(x, axes.Make(reg.Flatten(axes.Make(all[:idx]...)), reg.Flatten(axes.Make(all[idx:]...))))
}

// flattenTo creates a Flatten node with the given flattened axes, which must unflatten to the axes of x.
func flattenTo(x *Node, target axes.Axes) *Node {
	if x.Axes().Equal(target) {
		return x
	}
	if !target.Unflatten().Equal(x.Axes().Unflatten()) {
		panic(errors.Wrapf(errs.ErrShape, "Flatten: axes %s are not a flattening of %s", target, x.Axes()))
	}
	return x.graph.newNode(OpTypeFlatten, []*Node{x}, target, x.DType(), nil)
}

// Unflatten returns x with all its flattened axes expanded back into their sub-axes.
// If x has no flattened axes it is returned unchanged.
func Unflatten(x *Node) *Node {
	x.AssertTensor()
	target := x.Axes().Unflatten()
	if target.Equal(x.Axes()) {
		return x
	}
	return x.graph.newNode(OpTypeUnflatten, []*Node{x}, target, x.DType(), nil)
}

// OneHot returns the one-hot encoding of the integer values of x over the given axis: the result has the
// axes of x preceded by axis, and it is 1 where the position along axis equals the value of x, 0 elsewhere.
//
// The length of axis must be bound. Values out of range yield all zeros.
func OneHot(x *Node, axis axes.Axis) *Node {
	x.AssertTensor()
	if x.Axes().Has(axis) {
		panic(errors.Wrapf(errs.ErrShape, "OneHot: %s already has axis %s", x, axis))
	}
	if !axis.IsBound() {
		panic(errors.Wrapf(errs.ErrShape, "OneHot: axis %s length must be bound", axis))
	}
	return x.graph.newNode(OpTypeOneHot, []*Node{x}, axes.Make(axis).Concat(x.Axes()), x.DType(), nil)
}

// ConcatParams are the parameters of a Concat node.
type ConcatParams struct {
	// Axes are the axes of each input that are concatenated.
	Axes []axes.Axis

	// Position of the concatenated axis in the output.
	Position int
}

// Concat concatenates the inputs xs, each along its own axis in inAxes, into outAxis.
//
// All inputs must have the same other axes (in any order): the output has the axes of the first input
// with its concatenated axis replaced by outAxis. If all lengths are bound, the length of outAxis must be
// the sum of the lengths of inAxes.
func Concat(outAxis axes.Axis, inAxes []axes.Axis, xs ...*Node) *Node {
	if len(xs) == 0 {
		exceptions.Panicf("Concat requires at least one input")
	}
	if len(inAxes) != len(xs) {
		panic(errors.Wrapf(errs.ErrShape, "Concat: %d inputs but %d concatenation axes", len(xs), len(inAxes)))
	}
	first := xs[0]
	first.AssertTensor()
	position := first.Axes().Index(inAxes[0])
	if position < 0 {
		panic(errors.Wrapf(errs.ErrShape, "Concat: input #0 %s doesn't have axis %s", first, inAxes[0]))
	}
	common := first.Axes().Sub(axes.Make(inAxes[0]))
	allBound := true
	total := 0
	args := make([]*Node, len(xs))
	for ii, x := range xs {
		x.AssertTensor()
		if x.DType() != first.DType() {
			panic(errors.Wrapf(errs.ErrShape, "Concat: input #%d has dtype %s, expected %s", ii, x.DType(), first.DType()))
		}
		if !x.Axes().Has(inAxes[ii]) || !x.Axes().Sub(axes.Make(inAxes[ii])).SameSet(common) {
			panic(errors.Wrapf(errs.ErrShape, "Concat: input #%d axes %s don't match %s plus axis %s",
				ii, x.Axes(), common, inAxes[ii]))
		}
		if inAxes[ii].IsBound() {
			total += inAxes[ii].Length()
		} else {
			allBound = false
		}
		args[ii] = ReorderAxes(x, common.Insert(position, inAxes[ii]))
	}
	if allBound && outAxis.IsBound() && outAxis.Length() != total {
		panic(errors.Wrapf(errs.ErrShape, "Concat: output axis %s length should be %d", outAxis, total))
	}
	return first.graph.newNode(OpTypeConcat, args, common.Insert(position, outAxis), first.DType(),
		&ConcatParams{Axes: inAxes, Position: position})
}
