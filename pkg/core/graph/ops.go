// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// unaryOp creates an element-wise op over x.
func unaryOp(opType OpType, x *Node) *Node {
	x.AssertTensor()
	return x.graph.newNode(opType, []*Node{x}, x.Axes(), x.DType(), nil)
}

// binaryOp creates an element-wise op over x and y.
//
// The result axes are the ordered union of the axes of x and y: the operands whose axes differ from it
// are wrapped in a Broadcast, so element-wise kernels always see operands with the exact same axes.
func binaryOp(opType OpType, x, y *Node) *Node {
	x.AssertTensor()
	y.AssertTensor()
	if x.graph != y.graph {
		exceptions.Panicf("%s: operands from different graphs %q and %q", opType, x.graph.name, y.graph.name)
	}
	if x.DType() != y.DType() {
		panic(errors.Wrapf(errs.ErrShape, "%s: operands have different dtypes %s and %s",
			opType, x.DType(), y.DType()))
	}
	result := x.Axes().Union(y.Axes())
	x = Broadcast(x, result)
	y = Broadcast(y, result)
	return x.graph.newNode(opType, []*Node{x, y}, result, x.DType(), nil)
}

// Negative returns -x.
func Negative(x *Node) *Node { return unaryOp(OpTypeNegative, x) }

// Abs returns |x|.
func Abs(x *Node) *Node { return unaryOp(OpTypeAbs, x) }

// Sign returns -1, 0 or 1 depending on the sign of x.
func Sign(x *Node) *Node { return unaryOp(OpTypeSign, x) }

// Reciprocal returns 1/x.
func Reciprocal(x *Node) *Node { return unaryOp(OpTypeReciprocal, x) }

// Square returns x².
func Square(x *Node) *Node { return unaryOp(OpTypeSquare, x) }

// Sqrt returns the square root of x.
func Sqrt(x *Node) *Node { return unaryOp(OpTypeSqrt, x) }

// Exp returns e^x.
func Exp(x *Node) *Node { return unaryOp(OpTypeExp, x) }

// Log returns the natural logarithm of x.
func Log(x *Node) *Node { return unaryOp(OpTypeLog, x) }

// Tanh returns the hyperbolic tangent of x.
func Tanh(x *Node) *Node { return unaryOp(OpTypeTanh, x) }

// Sin returns the sine of x.
func Sin(x *Node) *Node { return unaryOp(OpTypeSin, x) }

// Cos returns the cosine of x.
func Cos(x *Node) *Node { return unaryOp(OpTypeCos, x) }

// StopGradient returns x, but no gradient flows through it during differentiation.
func StopGradient(x *Node) *Node { return unaryOp(OpTypeStopGradient, x) }

// SafeLogLimit is the smallest exponent used by SafeLog.
const SafeLogLimit = -50.0

// SafeLog returns log(max(x, e^SafeLogLimit)), which is finite for x <= 0.
func SafeLog(x *Node) *Node {
	return Log(Maximum(x, Scalar(x.graph, x.DType(), math.Exp(SafeLogLimit))))
}

// Add returns x + y.
func Add(x, y *Node) *Node { return binaryOp(OpTypeAdd, x, y) }

// Sub returns x - y.
func Sub(x, y *Node) *Node { return binaryOp(OpTypeSub, x, y) }

// Mul returns x * y.
func Mul(x, y *Node) *Node { return binaryOp(OpTypeMul, x, y) }

// Div returns x / y.
func Div(x, y *Node) *Node { return binaryOp(OpTypeDiv, x, y) }

// Pow returns x^y.
func Pow(x, y *Node) *Node { return binaryOp(OpTypePow, x, y) }

// Maximum returns the element-wise max(x, y).
func Maximum(x, y *Node) *Node { return binaryOp(OpTypeMaximum, x, y) }

// Minimum returns the element-wise min(x, y).
func Minimum(x, y *Node) *Node { return binaryOp(OpTypeMinimum, x, y) }

// Equal returns 1 where x == y, 0 elsewhere, in the dtype of x.
func Equal(x, y *Node) *Node { return binaryOp(OpTypeEqual, x, y) }

// NotEqual returns 1 where x != y, 0 elsewhere, in the dtype of x.
func NotEqual(x, y *Node) *Node { return binaryOp(OpTypeNotEqual, x, y) }

// Greater returns 1 where x > y, 0 elsewhere, in the dtype of x.
func Greater(x, y *Node) *Node { return binaryOp(OpTypeGreater, x, y) }

// GreaterEqual returns 1 where x >= y, 0 elsewhere, in the dtype of x.
func GreaterEqual(x, y *Node) *Node { return binaryOp(OpTypeGreaterEqual, x, y) }

// Less returns 1 where x < y, 0 elsewhere, in the dtype of x.
func Less(x, y *Node) *Node { return binaryOp(OpTypeLess, x, y) }

// LessEqual returns 1 where x <= y, 0 elsewhere, in the dtype of x.
func LessEqual(x, y *Node) *Node { return binaryOp(OpTypeLessEqual, x, y) }

// coerce converts other to a node: nodes are returned as is, Go numbers become scalar constants of the
// dtype of n.
func (n *Node) coerce(other any) *Node {
	if node, ok := other.(*Node); ok {
		return node
	}
	value, ok := toFloat64(other)
	if !ok {
		exceptions.Panicf("cannot use value of type %T as an operand of %s", other, n)
	}
	return Scalar(n.graph, n.DType(), value)
}

// Add returns n + other, where other is a *Node or a Go number.
func (n *Node) Add(other any) *Node { return Add(n, n.coerce(other)) }

// Sub returns n - other, where other is a *Node or a Go number.
func (n *Node) Sub(other any) *Node { return Sub(n, n.coerce(other)) }

// Mul returns n * other, where other is a *Node or a Go number.
func (n *Node) Mul(other any) *Node { return Mul(n, n.coerce(other)) }

// Div returns n / other, where other is a *Node or a Go number.
func (n *Node) Div(other any) *Node { return Div(n, n.coerce(other)) }

// Pow returns n ^ other, where other is a *Node or a Go number.
func (n *Node) Pow(other any) *Node { return Pow(n, n.coerce(other)) }

// Neg returns -n.
func (n *Node) Neg() *Node { return Negative(n) }

// ReverseSub returns other - n, where other is a *Node or a Go number.
func (n *Node) ReverseSub(other any) *Node { return Sub(n.coerce(other), n) }

// ReverseDiv returns other / n, where other is a *Node or a Go number.
func (n *Node) ReverseDiv(other any) *Node { return Div(n.coerce(other), n) }
