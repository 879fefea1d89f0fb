// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opgraph/pkg/core/axes"
)

// Schema describes how a node was generated by a composite function (e.g. Softmax), and provides a
// simplified gradient for it: when a node has schemas, the last one added replaces the adjoint rule of
// the node's op type during differentiation.
type Schema interface {
	// GenerateAdjoints adds to adjoints the contributions of delta, the adjoint of node, to the inputs of
	// the composite function.
	GenerateAdjoints(adjoints *AdjointMap, delta, node *Node)
}

// FindSchema returns the most recently added schema of type S of node n.
func FindSchema[S Schema](n *Node) (schema S, found bool) {
	schemas := n.Schemas()
	for ii := len(schemas) - 1; ii >= 0; ii-- {
		if s, ok := schemas[ii].(S); ok {
			return s, true
		}
	}
	return
}

// SoftmaxSchema marks the output of Softmax.
type SoftmaxSchema struct {
	// X is the input shifted by its maximum, Exps = exp(X) and Z the sum of Exps over Axes.
	X, Exps, Z *Node
	Axes       axes.Axes
}

// GenerateAdjoints implements Schema.
func (s *SoftmaxSchema) GenerateAdjoints(adjoints *AdjointMap, delta, node *Node) {
	z := Mul(delta, node)
	zs := ReduceSum(z, s.Axes.All()...)
	adjoints.AddDelta(s.X, Sub(z, Mul(zs, node)))
}

// Softmax returns exp(x) normalized over the given axes: by default the sample axes of x, except its
// recurrent axis.
func Softmax(x *Node, normalizationAxes ...axes.Axis) *Node {
	x.AssertTensor()
	norm := defaultReductionAxes(x)
	if len(normalizationAxes) > 0 {
		norm = axes.Make(normalizationAxes...)
	}
	shifted := Sub(x, StopGradient(ReduceMax(x, norm.All()...)))
	exps := Exp(shifted)
	z := ReduceSum(exps, norm.All()...)
	result := Div(exps, z)
	result.AddSchema(&SoftmaxSchema{X: shifted, Exps: exps, Z: z, Axes: norm})
	return result
}

// SigmoidSchema marks the output of Sigmoid.
type SigmoidSchema struct {
	X *Node
}

// GenerateAdjoints implements Schema.
func (s *SigmoidSchema) GenerateAdjoints(adjoints *AdjointMap, delta, node *Node) {
	adjoints.AddDelta(s.X, Mul(Mul(delta, node), node.ReverseSub(1)))
}

// Sigmoid returns 1/(1+exp(-x)).
func Sigmoid(x *Node) *Node {
	x.AssertTensor()
	result := Reciprocal(Exp(Negative(x)).Add(1))
	result.AddSchema(&SigmoidSchema{X: x})
	return result
}

// CrossEntropyMultiInnerSchema marks a CrossEntropyMulti computed from the inputs of a Softmax.
type CrossEntropyMultiInnerSchema struct {
	// X is the (shifted) input of the softmax, Y its output and S = -sum(X*targets).
	X, Y, S *Node
}

// GenerateAdjoints implements Schema.
func (s *CrossEntropyMultiInnerSchema) GenerateAdjoints(adjoints *AdjointMap, delta, node *Node) {
	adjoints.AddDelta(s.S, delta)
	adjoints.AddDelta(s.X, Mul(s.Y, delta))
}

// defaultCrossEntropyOutAxes are the recurrent and batch axes of y.
func defaultCrossEntropyOutAxes(y *Node) axes.Axes {
	var out []axes.Axis
	if recurrent, found := y.Axes().RecurrentAxis(); found {
		out = append(out, recurrent)
	}
	for _, axis := range y.Axes().BatchAxes().All() {
		if !axis.IsRecurrent() {
			out = append(out, axis)
		}
	}
	return axes.Make(out...)
}

// CrossEntropyMulti returns the cross-entropy of the predicted distributions y and the targets t (whose
// values over the reduced axes should sum to 1). The result has the outAxes: by default the recurrent and
// batch axes of y.
//
// If y is the output of Softmax, the result is computed from the softmax input, which is numerically
// more stable, and its gradient is simplified.
func CrossEntropyMulti(y, t *Node, outAxes ...axes.Axis) *Node {
	y.AssertTensor()
	t.AssertTensor()
	out := defaultCrossEntropyOutAxes(y)
	if len(outAxes) > 0 {
		out = axes.Make(outAxes...)
	}
	if softmax, found := FindSchema[*SoftmaxSchema](y); found {
		s := Negative(ReduceSumOut(Mul(softmax.X, t), out))
		result := Add(s, SafeLog(softmax.Z))
		result.AddSchema(&CrossEntropyMultiInnerSchema{X: softmax.X, Y: y, S: s})
		return result
	}
	return Negative(ReduceSumOut(Mul(SafeLog(y), t), out))
}

// CrossEntropyBinaryInnerSchema marks a CrossEntropyBinaryInner computed from the input of a Sigmoid.
type CrossEntropyBinaryInnerSchema struct {
	// X is the input of the sigmoid, Y its output and T the targets.
	X, Y, T *Node
}

// GenerateAdjoints implements Schema.
func (s *CrossEntropyBinaryInnerSchema) GenerateAdjoints(adjoints *AdjointMap, delta, node *Node) {
	adjoints.AddDelta(s.X, Mul(Sub(s.Y, s.T), delta))
	adjoints.AddDelta(s.T, Negative(Mul(s.X, delta)))
}

// CrossEntropyBinaryInner returns the element-wise binary cross-entropy of predictions y (in [0, 1]) and
// targets t (in [0, 1]): -(t*log(y) + (1-t)*log(1-y)).
//
// If y is the output of Sigmoid, the equivalent (1-t)*x - log(y) is used, with x the sigmoid input, and
// its gradient is simplified.
func CrossEntropyBinaryInner(y, t *Node) *Node {
	y.AssertTensor()
	t.AssertTensor()
	if sigmoid, found := FindSchema[*SigmoidSchema](y); found {
		x := sigmoid.X
		cutoff := Scalar(x.graph, x.DType(), SafeLogLimit)
		result := Sub(Mul(t.ReverseSub(1), Maximum(x, cutoff)), SafeLog(y))
		result.AddSchema(&CrossEntropyBinaryInnerSchema{X: x, Y: y, T: t})
		return result
	}
	return Negative(Add(Mul(SafeLog(y), t), Mul(SafeLog(y.ReverseSub(1)), t.ReverseSub(1))))
}

// CrossEntropyBinary returns the binary cross-entropy of y and t (see CrossEntropyBinaryInner), summed to
// the outAxes: by default the recurrent and batch axes of y.
func CrossEntropyBinary(y, t *Node, outAxes ...axes.Axis) *Node {
	out := defaultCrossEntropyOutAxes(y)
	if len(outAxes) > 0 {
		out = axes.Make(outAxes...)
	}
	return ReduceSumOut(CrossEntropyBinaryInner(y, t), out)
}
