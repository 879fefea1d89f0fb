// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
)

// isInteger returns whether T is an integer type.
func isInteger[T numeric]() bool {
	return T(1)/T(2) == 0
}

// safeDiv returns x/y, or 0 for an integer division by zero.
func safeDiv[T numeric](x, y T) T {
	if y == 0 && isInteger[T]() {
		return 0
	}
	return x / y
}

// fromBool returns 1 if cond is true, 0 otherwise.
func fromBool[T numeric](cond bool) T {
	if cond {
		return 1
	}
	return 0
}

// unaryFn returns the element-wise function of the unary op type.
func unaryFn[T numeric](opType graph.OpType) func(x T) T {
	switch opType {
	case graph.OpTypeNegative:
		return func(x T) T { return -x }
	case graph.OpTypeAbs:
		return func(x T) T {
			if x < 0 {
				return -x
			}
			return x
		}
	case graph.OpTypeSign:
		return func(x T) T { return fromBool[T](x > 0) - fromBool[T](x < 0) }
	case graph.OpTypeReciprocal:
		return func(x T) T { return safeDiv(T(1), x) }
	case graph.OpTypeSquare:
		return func(x T) T { return x * x }
	case graph.OpTypeSqrt:
		return func(x T) T { return T(math.Sqrt(float64(x))) }
	case graph.OpTypeExp:
		return func(x T) T { return T(math.Exp(float64(x))) }
	case graph.OpTypeLog:
		return func(x T) T { return T(math.Log(float64(x))) }
	case graph.OpTypeTanh:
		return func(x T) T { return T(math.Tanh(float64(x))) }
	case graph.OpTypeSin:
		return func(x T) T { return T(math.Sin(float64(x))) }
	case graph.OpTypeCos:
		return func(x T) T { return T(math.Cos(float64(x))) }
	case graph.OpTypeStopGradient:
		return func(x T) T { return x }
	}
	exceptions.Panicf("%s is not a unary element-wise op", opType)
	return nil
}

// binaryFn returns the element-wise function of the binary op type.
func binaryFn[T numeric](opType graph.OpType) func(x, y T) T {
	switch opType {
	case graph.OpTypeAdd:
		return func(x, y T) T { return x + y }
	case graph.OpTypeSub:
		return func(x, y T) T { return x - y }
	case graph.OpTypeMul:
		return func(x, y T) T { return x * y }
	case graph.OpTypeDiv:
		return safeDiv[T]
	case graph.OpTypePow:
		return func(x, y T) T { return T(math.Pow(float64(x), float64(y))) }
	case graph.OpTypeMaximum:
		return func(x, y T) T { return max(x, y) }
	case graph.OpTypeMinimum:
		return func(x, y T) T { return min(x, y) }
	case graph.OpTypeEqual:
		return func(x, y T) T { return fromBool[T](x == y) }
	case graph.OpTypeNotEqual:
		return func(x, y T) T { return fromBool[T](x != y) }
	case graph.OpTypeGreater:
		return func(x, y T) T { return fromBool[T](x > y) }
	case graph.OpTypeGreaterEqual:
		return func(x, y T) T { return fromBool[T](x >= y) }
	case graph.OpTypeLess:
		return func(x, y T) T { return fromBool[T](x < y) }
	case graph.OpTypeLessEqual:
		return func(x, y T) T { return fromBool[T](x <= y) }
	}
	exceptions.Panicf("%s is not a binary element-wise op", opType)
	return nil
}

// alignedStrides returns, for each axis of target, the row-major stride of the same axis in a tensor with
// the source axes, or 0 if source doesn't have it: iterating over target with these strides broadcasts and
// transposes the source.
func alignedStrides(source, target axes.Axes) []int {
	sourceStrides := shapes.RowMajorStrides(source.Lengths())
	strides := make([]int, target.Len())
	for ii := range target.Len() {
		if idx := source.Index(target.At(ii)); idx >= 0 {
			strides[ii] = sourceStrides[idx]
		}
	}
	return strides
}

// alignTo copies src, with the srcAxes, into dst with the dstAxes. The axes of dst missing in src are
// broadcast.
func alignTo[T numeric](dst []T, dstAxes axes.Axes, src []T, srcAxes axes.Axes) {
	ii := 0
	for offsets := range shapes.IterOffsets(dstAxes.Lengths(), []int{0}, alignedStrides(srcAxes, dstAxes)) {
		dst[ii] = src[offsets[0]]
		ii++
	}
}

// alignedFlat returns the values of arg laid out with the target axes: the flat storage of arg if it
// already has them in the same order, an aligned copy otherwise.
func alignedFlat[T numeric](e *execution, arg *graph.Node, target axes.Axes) []T {
	src := flatOf[T](e.tensorOf(arg))
	if arg.Axes().Equal(target) {
		return src
	}
	dst := make([]T, target.Size())
	alignTo(dst, target, src, arg.Axes())
	return dst
}

func (kernels[T]) unary(e *execution, node *graph.Node) {
	x := alignedFlat[T](e, node.Arg(0), node.Axes())
	out := flatOf[T](e.tensorOf(node))
	fn := unaryFn[T](node.Type())
	e.parallelFor(len(out), func(start, end int) {
		for ii := start; ii < end; ii++ {
			out[ii] = fn(x[ii])
		}
	})
}

func (kernels[T]) binary(e *execution, node *graph.Node) {
	x := alignedFlat[T](e, node.Arg(0), node.Axes())
	y := alignedFlat[T](e, node.Arg(1), node.Axes())
	out := flatOf[T](e.tensorOf(node))
	fn := binaryFn[T](node.Type())
	e.parallelFor(len(out), func(start, end int) {
		for ii := start; ii < end; ii++ {
			out[ii] = fn(x[ii], y[ii])
		}
	})
}

func (kernels[T]) relu(e *execution, node *graph.Node) {
	slope := T(node.Params().(*graph.ReluParams).Slope)
	x := alignedFlat[T](e, node.Arg(0), node.Axes())
	out := flatOf[T](e.tensorOf(node))
	e.parallelFor(len(out), func(start, end int) {
		for ii := start; ii < end; ii++ {
			if v := x[ii]; v > 0 {
				out[ii] = v
			} else {
				out[ii] = slope * v
			}
		}
	})
}

func (kernels[T]) bpropRelu(e *execution, node *graph.Node) {
	slope := T(node.Params().(*graph.ReluParams).Slope)
	delta := alignedFlat[T](e, node.Arg(0), node.Axes())
	x := alignedFlat[T](e, node.Arg(1), node.Axes())
	out := flatOf[T](e.tensorOf(node))
	e.parallelFor(len(out), func(start, end int) {
		for ii := start; ii < end; ii++ {
			switch v := x[ii]; {
			case v > 0:
				out[ii] = delta[ii]
			case v < 0:
				out[ii] = slope * delta[ii]
			default:
				out[ii] = 0
			}
		}
	})
}
