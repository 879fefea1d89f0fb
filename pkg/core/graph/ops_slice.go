// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// SliceSpec specifies how to slice one axis of a tensor. Create it with AxisElem, AxisRange or
// AxisRangeToEnd, optionally followed by Stride.
type SliceSpec struct {
	isIndex           bool
	index             int
	start, stop       int
	hasStart, hasStop bool
	stride            int
}

// AxisElem selects one element of the axis, and drops the axis. Negative indices count from the end.
func AxisElem(index int) SliceSpec {
	return SliceSpec{isIndex: true, index: index, stride: 1}
}

// AxisRange selects a range of the axis:
//
//   - AxisRange() selects the whole axis;
//   - AxisRange(start) selects from start to the end of the axis;
//   - AxisRange(start, stop) selects from start up to (excluding) stop.
//
// Negative indices count from the end, and out-of-range values are clamped, as in Python slices.
func AxisRange(indices ...int) SliceSpec {
	spec := SliceSpec{stride: 1}
	switch len(indices) {
	case 0:
	case 1:
		spec.start, spec.hasStart = indices[0], true
	case 2:
		spec.start, spec.hasStart = indices[0], true
		spec.stop, spec.hasStop = indices[1], true
	default:
		panic(errors.Wrapf(errs.ErrShape, "AxisRange takes at most 2 indices, got %v", indices))
	}
	return spec
}

// AxisRangeToEnd selects from start to the end of the axis. Same as AxisRange(start).
func AxisRangeToEnd(start int) SliceSpec {
	return AxisRange(start)
}

// Stride returns a copy of the spec taking one element every stride. A negative stride walks the axis
// backwards: the default start is then the last element.
func (s SliceSpec) Stride(stride int) SliceSpec {
	if stride == 0 {
		panic(errors.Wrapf(errs.ErrShape, "slice stride cannot be 0"))
	}
	s.stride = stride
	return s
}

// String implements fmt.Stringer.
func (s SliceSpec) String() string {
	if s.isIndex {
		return fmt.Sprintf("[%d]", s.index)
	}
	start, stop := "", ""
	if s.hasStart {
		start = fmt.Sprint(s.start)
	}
	if s.hasStop {
		stop = fmt.Sprint(s.stop)
	}
	if s.stride != 1 {
		return fmt.Sprintf("[%s:%s:%d]", start, stop, s.stride)
	}
	return fmt.Sprintf("[%s:%s]", start, stop)
}

// normalize converts the spec to a concrete range over an axis of the given length.
func (s SliceSpec) normalize(length int) (axes.Range, error) {
	if s.isIndex {
		index := s.index
		if index < 0 {
			index += length
		}
		if index < 0 || index >= length {
			return axes.Range{}, errors.Wrapf(errs.ErrShape, "index %d out of range for axis of length %d", s.index, length)
		}
		return axes.Range{Start: index, Stop: index + 1, Step: 1}, nil
	}
	step := s.stride
	lower, upper := 0, length
	if step < 0 {
		lower, upper = -1, length-1
	}
	clamp := func(value, defaultValue int, has bool) int {
		if !has {
			return defaultValue
		}
		if value < 0 {
			value += length
		}
		return min(max(value, lower), upper)
	}
	var rng axes.Range
	if step > 0 {
		rng = axes.Range{Start: clamp(s.start, lower, s.hasStart), Stop: clamp(s.stop, upper, s.hasStop), Step: step}
	} else {
		rng = axes.Range{Start: clamp(s.start, upper, s.hasStart), Stop: clamp(s.stop, lower, s.hasStop), Step: step}
	}
	return rng, nil
}

// SliceEntry is the normalized slicing of one input axis.
type SliceEntry struct {
	// Axis of the input being sliced.
	Axis axes.Axis

	// Range selected from Axis.
	Range axes.Range

	// Dropped is set when the axis was indexed by one element (AxisElem): it is not present in the output.
	Dropped bool

	// Output axis, if not dropped: Axis itself if the whole axis is selected, a sliced axis otherwise.
	Output axes.Axis
}

// BoundRange returns the range of the entry: whole axes selected before their length was bound get
// the current length of the axis.
func (e SliceEntry) BoundRange() axes.Range {
	if e.Range.Stop == axes.Unbound && e.Range.Step == 1 {
		return axes.Range{Start: 0, Stop: e.Axis.Length(), Step: 1}
	}
	return e.Range
}

// SliceParams are the parameters of TensorSlice and Unslice nodes: one entry per axis of the full
// (un-sliced) tensor, in its order.
type SliceParams struct {
	Entries []SliceEntry
}

// SlicedAxes returns the axes of the sliced tensor.
func (p *SliceParams) SlicedAxes() axes.Axes {
	var list []axes.Axis
	for _, e := range p.Entries {
		if !e.Dropped {
			list = append(list, e.Output)
		}
	}
	return axes.Make(list...)
}

// FullAxes returns the axes of the full tensor.
func (p *SliceParams) FullAxes() axes.Axes {
	list := make([]axes.Axis, len(p.Entries))
	for ii, e := range p.Entries {
		list[ii] = e.Axis
	}
	return axes.Make(list...)
}

// makeSliceParams normalizes one spec per axis of full.
func makeSliceParams(opName string, full axes.Axes, specs []SliceSpec) *SliceParams {
	if len(specs) != full.Len() {
		panic(errors.Wrapf(errs.ErrShape, "%s: %d slice specs given for %d axes %s", opName, len(specs), full.Len(), full))
	}
	params := &SliceParams{Entries: make([]SliceEntry, len(specs))}
	for ii, spec := range specs {
		axis := full.At(ii)
		entry := SliceEntry{Axis: axis, Output: axis}
		wholeAxis := !spec.isIndex && !spec.hasStart && !spec.hasStop && spec.stride == 1
		if !axis.IsBound() {
			if !wholeAxis {
				panic(errors.Wrapf(errs.ErrShape, "%s: cannot slice axis %s with %s, its length is not bound",
					opName, axis, spec))
			}
			entry.Range = axes.Range{Start: 0, Stop: axes.Unbound, Step: 1}
			params.Entries[ii] = entry
			continue
		}
		length := axis.Length()
		rng, err := spec.normalize(length)
		if err != nil {
			panic(errors.WithMessagef(err, "%s: axis %s", opName, axis))
		}
		entry.Range = rng
		switch {
		case spec.isIndex:
			entry.Dropped = true
			entry.Output = axes.Axis{}
		case rng.Start == 0 && rng.Stop == length && rng.Step == 1:
			// Whole axis: keeps its identity.
		default:
			entry.Output = axis.Registry().Slice(axis, rng)
		}
		params.Entries[ii] = entry
	}
	return params
}

// TensorSlice returns a slice of x: one SliceSpec must be given per axis of x (errs.ErrShape otherwise).
//
// Axes indexed with AxisElem are dropped, axes selected whole keep their identity, and the other axes are
// replaced by sliced axes (see axes.Registry.Slice), so slicing the same axis the same way twice yields the
// same axes.
func TensorSlice(x *Node, specs ...SliceSpec) *Node {
	x.AssertTensor()
	params := makeSliceParams("TensorSlice", x.Axes(), specs)
	sliced := params.SlicedAxes()
	if sliced.Equal(x.Axes()) {
		return x
	}
	return x.graph.newNode(OpTypeTensorSlice, []*Node{x}, sliced, x.DType(), params)
}

// Unslice is the inverse of TensorSlice: it returns a tensor with the fullAxes, holding the values of x at
// the positions selected by the specs (one per axis of fullAxes), and zeros elsewhere.
//
// The axes of x must be the axes that TensorSlice would return for the same fullAxes and specs.
func Unslice(x *Node, fullAxes axes.Axes, specs ...SliceSpec) *Node {
	params := makeSliceParams("Unslice", fullAxes, specs)
	return unsliceWithParams(x, params)
}

func unsliceWithParams(x *Node, params *SliceParams) *Node {
	x.AssertTensor()
	sliced := params.SlicedAxes()
	if !x.Axes().SameSet(sliced) {
		panic(errors.Wrapf(errs.ErrShape, "Unslice: axes %s of %s don't match the sliced axes %s", x.Axes(), x, sliced))
	}
	full := params.FullAxes()
	if sliced.Equal(full) {
		return ReorderAxes(x, full)
	}
	x = ReorderAxes(x, sliced)
	return x.graph.newNode(OpTypeUnslice, []*Node{x}, full, x.DType(), params)
}
