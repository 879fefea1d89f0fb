// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// ReluParams are the parameters of the Relu and BpropRelu nodes.
type ReluParams struct {
	// Slope applied to negative values: 0 for the plain rectifier, a small positive value for a "leaky" one.
	Slope float64
}

// Relu returns max(x, 0) + slope*min(0, x), as one fused op.
func Relu(x *Node, slope float64) *Node {
	x.AssertTensor()
	return x.graph.newNode(OpTypeRelu, []*Node{x}, x.Axes(), x.DType(), &ReluParams{Slope: slope})
}

// BpropRelu returns the back-propagation of delta through Relu(x, slope): delta where x > 0,
// slope*delta where x < 0 and 0 where x == 0.
func BpropRelu(delta, x *Node, slope float64) *Node {
	delta.AssertTensor()
	x.AssertTensor()
	if delta.DType() != x.DType() {
		panic(errors.Wrapf(errs.ErrShape, "BpropRelu: delta dtype %s doesn't match x dtype %s", delta.DType(), x.DType()))
	}
	if !delta.Axes().SameSet(x.Axes()) {
		panic(errors.Wrapf(errs.ErrShape, "BpropRelu: delta axes %s don't match x axes %s", delta.Axes(), x.Axes()))
	}
	delta = ReorderAxes(delta, x.Axes())
	return x.graph.newNode(OpTypeBpropRelu, []*Node{delta, x}, x.Axes(), x.DType(), &ReluParams{Slope: slope})
}

// ConvParams are the parameters of a convolution. Each field has one value per spatial axis, and nil
// means the default value (stride 1, no padding, dilation 1).
type ConvParams struct {
	Strides []int

	// Padding has the (low, high) padding of each spatial axis.
	Padding [][2]int

	Dilations []int
}

// normalize fills the defaults for the given number of spatial axes.
func (p ConvParams) normalize(opName string, numSpatial int) *ConvParams {
	norm := &ConvParams{
		Strides:   make([]int, numSpatial),
		Padding:   make([][2]int, numSpatial),
		Dilations: make([]int, numSpatial),
	}
	for ii := range numSpatial {
		norm.Strides[ii] = 1
		norm.Dilations[ii] = 1
	}
	for _, field := range []struct {
		name   string
		length int
	}{{"strides", len(p.Strides)}, {"padding", len(p.Padding)}, {"dilations", len(p.Dilations)}} {
		if field.length != 0 && field.length != numSpatial {
			panic(errors.Wrapf(errs.ErrShape, "%s: %d %s given for %d spatial axes", opName, field.length,
				field.name, numSpatial))
		}
	}
	if len(p.Strides) > 0 {
		copy(norm.Strides, p.Strides)
	}
	if len(p.Padding) > 0 {
		copy(norm.Padding, p.Padding)
	}
	if len(p.Dilations) > 0 {
		copy(norm.Dilations, p.Dilations)
	}
	for ii := range numSpatial {
		if norm.Strides[ii] < 1 || norm.Dilations[ii] < 1 || norm.Padding[ii][0] < 0 || norm.Padding[ii][1] < 0 {
			panic(errors.Wrapf(errs.ErrShape, "%s: invalid parameters %+v for spatial axis #%d", opName, p, ii))
		}
	}
	return norm
}

// IsSymmetricPadding returns whether the low and high padding are the same for all spatial axes.
func (p *ConvParams) IsSymmetricPadding() bool {
	for _, pad := range p.Padding {
		if pad[0] != pad[1] {
			return false
		}
	}
	return true
}

// spatialOutputLength returns the output length of a sliding window over an input axis.
func spatialOutputLength(input, window, stride, dilation int, padding [2]int) int {
	effectiveWindow := dilation*(window-1) + 1
	return (input+padding[0]+padding[1]-effectiveWindow)/stride + 1
}

// checkOutputSpatial checks the lengths of the output spatial axes, binding the ones that are not bound yet.
func checkOutputSpatial(opName string, inSpatial, outSpatial axes.Axes, windows []int, params *ConvParams) {
	for ii := range outSpatial.Len() {
		in, out := inSpatial.At(ii), outSpatial.At(ii)
		if !in.IsBound() || windows[ii] < 0 {
			continue
		}
		length := spatialOutputLength(in.Length(), windows[ii], params.Strides[ii], params.Dilations[ii], params.Padding[ii])
		if length < 1 {
			panic(errors.Wrapf(errs.ErrShape, "%s: window %d is larger than the padded input axis %s",
				opName, windows[ii], in))
		}
		if !out.IsBound() {
			if err := out.Registry().BindLength(out, length); err != nil {
				panic(errors.WithMessagef(err, "%s", opName))
			}
			continue
		}
		if out.Length() != length {
			panic(errors.Wrapf(errs.ErrShape, "%s: output axis %s should have length %d", opName, out, length))
		}
	}
}

// ConvolutionParams are the parameters of Convolution nodes and their back-propagation nodes.
type ConvolutionParams struct {
	ConvParams

	// OutSpatial are the spatial axes of the output.
	OutSpatial axes.Axes
}

// Convolution returns the convolution of x with filter.
//
// The layout is fixed: x has axes (C, S₁…Sₙ, N), filter has axes (C, F₁…Fₙ, K) and the output has axes
// (K, O₁…Oₙ, N), where C is the input channels, S the input spatial axes, N the batch, F the filter
// spatial axes, K the output channels and O the outSpatial axes given. Output spatial axes that are not
// bound are bound to the computed length.
func Convolution(x, filter *Node, params ConvParams, outSpatial axes.Axes) *Node {
	x.AssertTensor()
	filter.AssertTensor()
	const opName = "Convolution"
	if x.DType() != filter.DType() {
		panic(errors.Wrapf(errs.ErrShape, "%s: x dtype %s doesn't match filter dtype %s", opName, x.DType(), filter.DType()))
	}
	numSpatial := outSpatial.Len()
	if x.Rank() != numSpatial+2 || filter.Rank() != numSpatial+2 {
		panic(errors.Wrapf(errs.ErrShape, "%s: x %s and filter %s must have %d axes for %d spatial axes",
			opName, x.Axes(), filter.Axes(), numSpatial+2, numSpatial))
	}
	xc, fc := x.Axes().At(0), filter.Axes().At(0)
	if xc.IsBound() && fc.IsBound() && xc.Length() != fc.Length() {
		panic(errors.Wrapf(errs.ErrShape, "%s: input channels %s and filter channels %s differ", opName, xc, fc))
	}
	norm := params.normalize(opName, numSpatial)
	all := x.Axes().All()
	inSpatial := axes.Make(all[1 : numSpatial+1]...)
	filterSpatial := axes.Make(filter.Axes().All()[1 : numSpatial+1]...)
	windows := make([]int, numSpatial)
	for ii := range windows {
		windows[ii] = filterSpatial.At(ii).Length()
	}
	checkOutputSpatial(opName, inSpatial, outSpatial, windows, norm)
	k, n := filter.Axes().At(numSpatial+1), x.Axes().At(numSpatial+1)
	out, err := axes.Make(k).Concat(outSpatial).ConcatOrError(axes.Make(n))
	if err != nil {
		panic(errors.WithMessagef(err, "%s: invalid output axes", opName))
	}
	return x.graph.newNode(OpTypeConvolution, []*Node{x, filter}, out, x.DType(),
		&ConvolutionParams{ConvParams: *norm, OutSpatial: outSpatial})
}

// convolutionBpropData returns the gradient of a convolution with respect to its input x.
func convolutionBpropData(delta, filter, x *Node, params *ConvolutionParams) *Node {
	return x.graph.newNode(OpTypeConvolutionBpropData, []*Node{delta, filter}, x.Axes(), x.DType(), params)
}

// convolutionBpropFilter returns the gradient of a convolution with respect to its filter.
func convolutionBpropFilter(delta, x, filter *Node, params *ConvolutionParams) *Node {
	return x.graph.newNode(OpTypeConvolutionBpropFilter, []*Node{delta, x}, filter.Axes(), filter.DType(), params)
}

// PoolOp is the reduction used by Pooling.
type PoolOp int

const (
	PoolMax PoolOp = iota
	PoolAvg
)

// String implements fmt.Stringer.
func (op PoolOp) String() string {
	switch op {
	case PoolMax:
		return "max"
	case PoolAvg:
		return "avg"
	default:
		return fmt.Sprintf("PoolOp(%d)", int(op))
	}
}

// PoolParams are the parameters of Pooling.
type PoolParams struct {
	Op PoolOp

	// Window has the size of the pooling window for each spatial axis.
	Window []int

	// Strides and Padding are as in ConvParams. Strides default to the window size.
	Strides []int
	Padding [][2]int
}

// PoolingParams are the parameters of Pooling nodes and their back-propagation nodes.
type PoolingParams struct {
	Op         PoolOp
	Window     []int
	ConvParams ConvParams
	OutSpatial axes.Axes
}

// Pooling returns the max or average pooling of x.
//
// The layout is (C, S₁…Sₙ, N) for x and (C, O₁…Oₙ, N) for the output, with the outSpatial axes given.
// For average pooling, the padded elements are not counted.
func Pooling(x *Node, params PoolParams, outSpatial axes.Axes) *Node {
	x.AssertTensor()
	const opName = "Pooling"
	if params.Op != PoolMax && params.Op != PoolAvg {
		panic(errors.Wrapf(errs.ErrShape, "%s: unsupported pooling type %s", opName, params.Op))
	}
	numSpatial := outSpatial.Len()
	if x.Rank() != numSpatial+2 {
		panic(errors.Wrapf(errs.ErrShape, "%s: x %s must have %d axes for %d spatial axes",
			opName, x.Axes(), numSpatial+2, numSpatial))
	}
	if len(params.Window) != numSpatial {
		panic(errors.Wrapf(errs.ErrShape, "%s: window %v doesn't match %d spatial axes", opName, params.Window, numSpatial))
	}
	strides := params.Strides
	if len(strides) == 0 {
		strides = params.Window
	}
	norm := ConvParams{Strides: strides, Padding: params.Padding}.normalize(opName, numSpatial)
	all := x.Axes().All()
	inSpatial := axes.Make(all[1 : numSpatial+1]...)
	checkOutputSpatial(opName, inSpatial, outSpatial, params.Window, norm)
	c, n := x.Axes().At(0), x.Axes().At(numSpatial+1)
	out, err := axes.Make(c).Concat(outSpatial).ConcatOrError(axes.Make(n))
	if err != nil {
		panic(errors.WithMessagef(err, "%s: invalid output axes", opName))
	}
	return x.graph.newNode(OpTypePooling, []*Node{x}, out, x.DType(), &PoolingParams{
		Op:         params.Op,
		Window:     params.Window,
		ConvParams: *norm,
		OutSpatial: outSpatial,
	})
}

// poolingBprop returns the gradient of a pooling with respect to its input x.
func poolingBprop(delta, x *Node, params *PoolingParams) *Node {
	return x.graph.newNode(OpTypePoolingBprop, []*Node{delta, x}, x.Axes(), x.DType(), params)
}
