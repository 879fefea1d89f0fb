// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

/*
Notes on the implementation of reverse-mode automatic differentiation:

  - The adjoint of a node y with respect to an error e is the accumulated "upstream" gradient: starting
    with adjoint[y] = e, each node visited in reverse topological order routes its adjoint to its arguments.
  - The ordered closure of y is taken before any adjoint node is created: nodes created while generating
    adjoints (including those created by schemas) are never visited.
  - Each op type has one entry in adjointRules, and a test checks that every OpType is covered. Op types
    with no gradient (comparisons, state ops, etc.) use noAdjoint.
  - The adjoint of a node always has exactly the axes of the node, in its order: AdjointMap.AddDelta
    checks the set of axes, reorders and sums the contributions.
*/

import (
	"maps"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// adjointKey identifies a memoized differentiation: err is nil for the default error (ones).
type adjointKey struct {
	y, err     *Node
	generation uint64
}

// AdjointMap accumulates the adjoints of the nodes during differentiation.
type AdjointMap struct {
	adjoints map[*Node]*Node
}

// AddDelta adds delta to the adjoint of x.
//
// The axes of delta must be the same set as the axes of x (errs.ErrShape otherwise): it is reordered
// to the order of the axes of x. Non-tensor nodes are ignored.
func (am *AdjointMap) AddDelta(x, delta *Node) {
	x = x.Resolve()
	if !x.IsTensor() {
		return
	}
	delta.AssertTensor()
	if !delta.Axes().SameSet(x.Axes()) {
		panic(errors.Wrapf(errs.ErrShape, "adjoint of %s with axes %s cannot be added to %s with axes %s",
			x, x.Axes(), delta, delta.Axes()))
	}
	if delta.DType() != x.DType() {
		panic(errors.Wrapf(errs.ErrShape, "adjoint %s of dtype %s cannot be added to %s of dtype %s",
			delta, delta.DType(), x, x.DType()))
	}
	delta = ReorderAxes(delta, x.Axes())
	if previous, found := am.adjoints[x]; found {
		delta = Add(previous, delta)
	}
	am.adjoints[x] = delta
}

// Get returns the adjoint accumulated for x so far.
func (am *AdjointMap) Get(x *Node) (adjoint *Node, found bool) {
	adjoint, found = am.adjoints[x.Resolve()]
	return
}

// Adjoints returns the adjoints of y with respect to the error err, for every node in the closure of y
// that influences it: the map key is the resolved node.
//
// The err must have the same axes as y (in any order) and its dtype. If err is nil, it defaults to ones.
// Results are memoized per (y, err), and recomputed if some node was replaced since.
func Adjoints(y, err *Node) map[*Node]*Node {
	y = y.Resolve()
	y.AssertTensor()
	g := y.graph
	if err != nil {
		err = err.Resolve()
	}
	key := adjointKey{y: y, err: err, generation: g.generation}
	if cached, found := g.adjoints[key]; found {
		return maps.Clone(cached)
	}

	ordered := OrderedOps(y)
	if err == nil {
		err = OnesLike(y)
	} else {
		err.AssertTensor()
		if err.graph != g {
			exceptions.Panicf("Adjoints: error %s belongs to a different graph than %s", err, y)
		}
		if !err.Axes().SameSet(y.Axes()) || err.DType() != y.DType() {
			panic(errors.Wrapf(errs.ErrShape, "Adjoints: error (%s)%s doesn't match (%s)%s of %s",
				err.DType(), err.Axes(), y.DType(), y.Axes(), y))
		}
		err = ReorderAxes(err, y.Axes())
	}

	am := &AdjointMap{adjoints: map[*Node]*Node{y: err}}
	for ii := len(ordered) - 1; ii >= 0; ii-- {
		node := ordered[ii]
		delta, found := am.adjoints[node]
		if !found {
			continue
		}
		if scale := node.AdjointScale(); scale != nil {
			delta = Mul(delta, scale)
		}
		if schemas := node.Schemas(); len(schemas) > 0 {
			schemas[len(schemas)-1].GenerateAdjoints(am, delta, node)
			continue
		}
		adjointRules[node.opType](am, node, delta)
	}
	if klog.V(1).Enabled() {
		klog.Infof("generated adjoints of %s: %d nodes visited, %d adjoints", y, len(ordered), len(am.adjoints))
	}
	g.adjoints[key] = am.adjoints
	return maps.Clone(am.adjoints)
}

// Deriv returns the derivative of y with respect to x, scaled by err (see Adjoints): it has exactly the
// axes of x. If x doesn't influence y, it returns zeros.
func Deriv(y, x, err *Node) *Node {
	adjoint, found := Adjoints(y, err)[x.Resolve()]
	if !found {
		return ZerosLike(x)
	}
	return adjoint
}

// Gradient returns the derivatives of y (with the default error of ones) with respect to each of xs.
func Gradient(y *Node, xs ...*Node) []*Node {
	grads := make([]*Node, len(xs))
	adjoints := Adjoints(y, nil)
	for ii, x := range xs {
		if adjoint, found := adjoints[x.Resolve()]; found {
			grads[ii] = adjoint
		} else {
			grads[ii] = ZerosLike(x)
		}
	}
	return grads
}

// adjointRule routes delta, the adjoint of node, to the node's arguments.
type adjointRule func(am *AdjointMap, node, delta *Node)

// adjointRules has one rule per op type. It's filled in init() to avoid an initialization cycle.
var adjointRules [OpTypeLast]adjointRule

// noAdjoint is used by op types that don't propagate gradients.
func noAdjoint(*AdjointMap, *Node, *Node) {}

// passThroughAdjoint routes delta unchanged to the first argument.
func passThroughAdjoint(am *AdjointMap, node, delta *Node) {
	am.AddDelta(node.Arg(0), delta)
}

func init() {
	for _, t := range []OpType{
		OpTypeInvalid, OpTypeAssignable, OpTypeParallel, OpTypeSign, OpTypeStopGradient,
		OpTypeEqual, OpTypeNotEqual, OpTypeGreater, OpTypeGreaterEqual, OpTypeLess, OpTypeLessEqual,
		OpTypeTensorSize, OpTypeOneHot, OpTypeAssign, OpTypeFill, OpTypeInitTensor,
		OpTypeConvolutionBpropData, OpTypeConvolutionBpropFilter, OpTypePoolingBprop, OpTypeRecv,
	} {
		adjointRules[t] = noAdjoint
	}
	for _, t := range []OpType{OpTypeSequential, OpTypeTensorValue, OpTypeReorderAxes, OpTypeSend} {
		adjointRules[t] = passThroughAdjoint
	}

	// Unary element-wise: node = f(x).
	adjointRules[OpTypeNegative] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), Negative(delta))
	}
	adjointRules[OpTypeAbs] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, Mul(delta, Sign(x)))
	}
	adjointRules[OpTypeReciprocal] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), Negative(Mul(delta, Square(node))))
	}
	adjointRules[OpTypeSquare] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, Mul(delta, x.Mul(2)))
	}
	adjointRules[OpTypeSqrt] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), Div(delta.Mul(0.5), node))
	}
	adjointRules[OpTypeExp] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), Mul(delta, node))
	}
	adjointRules[OpTypeLog] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), Div(delta, node.Arg(0)))
	}
	adjointRules[OpTypeTanh] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), Mul(delta, Square(node).ReverseSub(1)))
	}
	adjointRules[OpTypeSin] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, Mul(delta, Cos(x)))
	}
	adjointRules[OpTypeCos] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, Negative(Mul(delta, Sin(x))))
	}

	// Binary element-wise: node = f(x, y), all with the same axes.
	adjointRules[OpTypeAdd] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), delta)
		am.AddDelta(node.Arg(1), delta)
	}
	adjointRules[OpTypeSub] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), delta)
		am.AddDelta(node.Arg(1), Negative(delta))
	}
	adjointRules[OpTypeMul] = func(am *AdjointMap, node, delta *Node) {
		x, y := node.Arg(0), node.Arg(1)
		am.AddDelta(x, Mul(delta, y))
		am.AddDelta(y, Mul(delta, x))
	}
	adjointRules[OpTypeDiv] = func(am *AdjointMap, node, delta *Node) {
		x, y := node.Arg(0), node.Arg(1)
		am.AddDelta(x, Div(delta, y))
		am.AddDelta(y, Negative(Div(Mul(delta, node), y)))
	}
	adjointRules[OpTypePow] = func(am *AdjointMap, node, delta *Node) {
		x, y := node.Arg(0), node.Arg(1)
		am.AddDelta(x, Mul(Mul(delta, y), Pow(x, y.Sub(1))))
		am.AddDelta(y, Mul(Mul(delta, node), Log(x)))
	}
	minMaxRule := func(am *AdjointMap, node, delta *Node) {
		x, y := node.Arg(0), node.Arg(1)
		am.AddDelta(x, Mul(delta, Equal(node, x)))
		am.AddDelta(y, Mul(delta, Equal(node, y)))
	}
	adjointRules[OpTypeMaximum] = minMaxRule
	adjointRules[OpTypeMinimum] = minMaxRule

	// Reductions: the adjoint is broadcast back to the input axes.
	adjointRules[OpTypeReduceSum] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, Broadcast(delta, x.Axes()))
	}
	reduceExtremumRule := func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		mask := Equal(x, Broadcast(node, x.Axes()))
		am.AddDelta(x, Mul(Broadcast(delta, x.Axes()), mask))
	}
	adjointRules[OpTypeReduceMax] = reduceExtremumRule
	adjointRules[OpTypeReduceMin] = reduceExtremumRule
	adjointRules[OpTypeReduceProd] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, Div(Broadcast(Mul(delta, node), x.Axes()), x))
	}

	// Axes manipulation: the adjoint goes through the inverse transformation.
	adjointRules[OpTypeBroadcast] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, ReduceSumOut(delta, x.Axes()))
	}
	adjointRules[OpTypeExpandDims] = func(am *AdjointMap, node, delta *Node) {
		params := node.Params().(*ExpandDimsParams)
		am.AddDelta(node.Arg(0), ReduceSum(delta, params.Axis))
	}
	adjointRules[OpTypeAxesCast] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, CastAxes(delta, x.Axes()))
	}
	adjointRules[OpTypeTensorSlice] = func(am *AdjointMap, node, delta *Node) {
		am.AddDelta(node.Arg(0), unsliceWithParams(delta, node.Params().(*SliceParams)))
	}
	adjointRules[OpTypeUnslice] = func(am *AdjointMap, node, delta *Node) {
		params := node.Params().(*SliceParams)
		am.AddDelta(node.Arg(0), delta.graph.newNode(OpTypeTensorSlice, []*Node{delta}, params.SlicedAxes(),
			delta.DType(), params))
	}
	adjointRules[OpTypeFlatten] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, delta.graph.newNode(OpTypeUnflatten, []*Node{delta}, x.Axes(), delta.DType(), nil))
	}
	adjointRules[OpTypeUnflatten] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, flattenTo(delta, x.Axes()))
	}
	adjointRules[OpTypeDot] = dotAdjoint
	adjointRules[OpTypeConcat] = concatAdjoint

	// Fused ops.
	adjointRules[OpTypeRelu] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, BpropRelu(delta, x, node.Params().(*ReluParams).Slope))
	}
	adjointRules[OpTypeBpropRelu] = func(am *AdjointMap, node, delta *Node) {
		// Relu is piecewise linear: only the incoming delta has a (non-zero) gradient.
		x := node.Arg(1)
		am.AddDelta(node.Arg(0), BpropRelu(delta, x, node.Params().(*ReluParams).Slope))
	}
	adjointRules[OpTypeConvolution] = func(am *AdjointMap, node, delta *Node) {
		x, filter := node.Arg(0), node.Arg(1)
		params := node.Params().(*ConvolutionParams)
		am.AddDelta(x, convolutionBpropData(delta, filter, x, params))
		am.AddDelta(filter, convolutionBpropFilter(delta, x, filter, params))
	}
	adjointRules[OpTypePooling] = func(am *AdjointMap, node, delta *Node) {
		x := node.Arg(0)
		am.AddDelta(x, poolingBprop(delta, x, node.Params().(*PoolingParams)))
	}
}

// dotAdjoint routes the adjoint of node = Dot(x, y), whose axes are xOut+yOut.
//
// The gradients are again dot products, with axes renamed (CastAxes) so that the dual pairing contracts
// the right axes:
//
//	grad(x) = Dot(delta[yOut→yOut⁻¹], y[yRed→yRed⁻¹]) with axes xOut+xRed
//	grad(y) = Dot(x[xOut→xOut⁻¹, xRed→xRed⁺¹], delta) with axes yRed+yOut
func dotAdjoint(am *AdjointMap, node, delta *Node) {
	x, y := node.Arg(0), node.Arg(1)
	params := DotParamsOf(node)

	deltaForX := make(map[axes.Axis]axes.Axis)
	for _, axis := range params.YOut.All() {
		deltaForX[axis] = axis.Dual(-1)
	}
	yForX := make(map[axes.Axis]axes.Axis)
	for _, axis := range params.YReduced.All() {
		yForX[axis] = axis.Dual(-1)
	}
	am.AddDelta(x, Dot(castAxesMap(delta, deltaForX), castAxesMap(y, yForX)))

	xForY := make(map[axes.Axis]axes.Axis)
	for _, axis := range params.XOut.All() {
		xForY[axis] = axis.Dual(-1)
	}
	for _, axis := range params.XReduced.All() {
		xForY[axis] = axis.Dual(1)
	}
	am.AddDelta(y, Dot(castAxesMap(x, xForY), delta))
}

// concatAdjoint routes to each input the slice of the adjoint along the concatenated axis.
func concatAdjoint(am *AdjointMap, node, delta *Node) {
	params := node.Params().(*ConcatParams)
	outAxis := node.Axes().At(params.Position)
	offset := 0
	for ii, x := range node.Args() {
		inAxis := params.Axes[ii]
		length := inAxis.Length()
		if length == axes.Unbound || !outAxis.IsBound() {
			panic(errors.Wrapf(errs.ErrShape, "Concat gradient requires bound axes, got %s and %s", inAxis, outAxis))
		}
		specs := make([]SliceSpec, delta.Rank())
		for jj := range specs {
			specs[jj] = AxisRange()
		}
		specs[delta.Axes().Index(outAxis)] = AxisRange(offset, offset+length)
		sliced := TensorSlice(delta, specs...)
		mapping := make(map[axes.Axis]axes.Axis)
		for _, axis := range sliced.Axes().All() {
			if !delta.Axes().Has(axis) {
				mapping[axis] = inAxis
			}
		}
		if len(mapping) == 0 {
			// The slice covers the whole output axis: only possible with a single input.
			mapping[outAxis] = inAxis
		}
		am.AddDelta(x, castAxesMap(sliced, mapping))
		offset += length
	}
}
