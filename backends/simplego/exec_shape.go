// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
)

func (kernels[T]) reduce(e *execution, node *graph.Node) {
	x := node.Arg(0)
	src := flatOf[T](e.tensorOf(x))
	out := flatOf[T](e.tensorOf(node))
	var fn func(acc, v T) T
	switch node.Type() {
	case graph.OpTypeReduceSum:
		fn = func(acc, v T) T { return acc + v }
	case graph.OpTypeReduceProd:
		fn = func(acc, v T) T { return acc * v }
	case graph.OpTypeReduceMax:
		fn = func(acc, v T) T { return max(acc, v) }
	case graph.OpTypeReduceMin:
		fn = func(acc, v T) T { return min(acc, v) }
	default:
		exceptions.Panicf("%s is not a reduction", node.Type())
	}

	// Empty reductions: sum is 0 and product is 1. Max and min of nothing is left as 0.
	var initial T
	if node.Type() == graph.OpTypeReduceProd {
		initial = 1
	}
	seen := make([]bool, len(out))
	for ii := range out {
		out[ii] = initial
	}
	dims := x.Axes().Lengths()
	for offsets := range shapes.IterOffsets(dims, []int{0, 0}, shapes.RowMajorStrides(dims),
		alignedStrides(node.Axes(), x.Axes())) {
		v, o := src[offsets[0]], offsets[1]
		if !seen[o] {
			seen[o] = true
			if node.Type() == graph.OpTypeReduceMax || node.Type() == graph.OpTypeReduceMin {
				out[o] = v
				continue
			}
		}
		out[o] = fn(out[o], v)
	}
}

func (kernels[T]) tensorSize(e *execution, node *graph.Node) {
	params := node.Params().(*graph.TensorSizeParams)
	flatOf[T](e.tensorOf(node))[0] = T(params.Counted.Size())
}

// align implements Broadcast, ExpandDims and ReorderAxes: the output has a superset of the axes of the input.
func (kernels[T]) align(e *execution, node *graph.Node) {
	x := node.Arg(0)
	alignTo(flatOf[T](e.tensorOf(node)), node.Axes(), flatOf[T](e.tensorOf(x)), x.Axes())
}

// sliceIteration returns the iteration space of the sliced tensor (its dimensions), and the base offset and
// strides of each of its elements in the full tensor.
func sliceIteration(params *graph.SliceParams) (dims []int, base int, strides []int) {
	fullStrides := shapes.RowMajorStrides(params.FullAxes().Lengths())
	for ii, entry := range params.Entries {
		rng := entry.BoundRange()
		base += rng.Start * fullStrides[ii]
		if entry.Dropped {
			continue
		}
		dims = append(dims, rng.Len())
		strides = append(strides, rng.Step*fullStrides[ii])
	}
	return
}

func (kernels[T]) tensorSlice(e *execution, node *graph.Node) {
	params := node.Params().(*graph.SliceParams)
	full := alignedFlat[T](e, node.Arg(0), params.FullAxes())
	out := flatOf[T](e.tensorOf(node))
	dims, base, strides := sliceIteration(params)
	ii := 0
	for offsets := range shapes.IterOffsets(dims, []int{base}, strides) {
		out[ii] = full[offsets[0]]
		ii++
	}
}

func (kernels[T]) unslice(e *execution, node *graph.Node) {
	params := node.Params().(*graph.SliceParams)
	sliced := alignedFlat[T](e, node.Arg(0), params.SlicedAxes())
	out := flatOf[T](e.tensorOf(node))
	clear(out)
	dims, base, strides := sliceIteration(params)
	ii := 0
	for offsets := range shapes.IterOffsets(dims, []int{base}, strides) {
		out[offsets[0]] = sliced[ii]
		ii++
	}
}

func (kernels[T]) concat(e *execution, node *graph.Node) {
	params := node.Params().(*graph.ConcatParams)
	outAxes := node.Axes()
	out := flatOf[T](e.tensorOf(node))
	outStrides := shapes.RowMajorStrides(outAxes.Lengths())
	position := 0
	for ii, arg := range node.Args() {
		argAxes := outAxes.All()
		argAxes[params.Position] = params.Axes[ii]
		expected := axes.Make(argAxes...)
		src := alignedFlat[T](e, arg, expected)
		dims := expected.Lengths()
		jj := 0
		for offsets := range shapes.IterOffsets(dims, []int{position * outStrides[params.Position]}, outStrides) {
			out[offsets[0]] = src[jj]
			jj++
		}
		position += dims[params.Position]
	}
}

func (kernels[T]) oneHot(e *execution, node *graph.Node) {
	outAxes := node.Axes().All()
	depth := outAxes[0].Length()
	x := alignedFlat[T](e, node.Arg(0), axes.Make(outAxes[1:]...))
	out := flatOf[T](e.tensorOf(node))
	clear(out)
	for ii, v := range x {
		if idx := int(v); idx >= 0 && idx < depth && T(idx) == v {
			out[idx*len(x)+ii] = 1
		}
	}
}

func (kernels[T]) assign(e *execution, node *graph.Node) {
	target := node.Arg(0)
	value := alignedFlat[T](e, node.Arg(1), target.Axes())
	dst := flatOf[T](e.tensorOf(target))
	copy(dst, value)
}

func (kernels[T]) fill(e *execution, node *graph.Node) {
	value := T(node.Params().(*graph.FillParams).Value)
	dst := flatOf[T](e.tensorOf(node.Arg(0)))
	for ii := range dst {
		dst[ii] = value
	}
}
