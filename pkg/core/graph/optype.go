// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// OpType is the closed enum of all operations of the graph IR.
//
// Every per-op-type table (adjoint rules in this package, kernels in the backends) is indexed by OpType,
// and has to cover every value up to OpTypeLast.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota

	// OpTypeAssignable is an allocation site (placeholder, constant, variable, temporary): it is not executed.
	OpTypeAssignable

	// Value ops: they don't compute anything, their value is the value of one of their arguments.
	OpTypeSequential
	OpTypeParallel
	OpTypeTensorValue

	// Unary element-wise.
	OpTypeNegative
	OpTypeAbs
	OpTypeSign
	OpTypeReciprocal
	OpTypeSquare
	OpTypeSqrt
	OpTypeExp
	OpTypeLog
	OpTypeTanh
	OpTypeSin
	OpTypeCos
	OpTypeStopGradient

	// Binary element-wise.
	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeDiv
	OpTypePow
	OpTypeMaximum
	OpTypeMinimum
	OpTypeEqual
	OpTypeNotEqual
	OpTypeGreater
	OpTypeGreaterEqual
	OpTypeLess
	OpTypeLessEqual

	// Reductions.
	OpTypeReduceSum
	OpTypeReduceMax
	OpTypeReduceMin
	OpTypeReduceProd
	OpTypeTensorSize

	// Axes manipulation.
	OpTypeBroadcast
	OpTypeExpandDims
	OpTypeReorderAxes
	OpTypeAxesCast
	OpTypeTensorSlice
	OpTypeUnslice
	OpTypeFlatten
	OpTypeUnflatten
	OpTypeDot
	OpTypeConcat
	OpTypeOneHot

	// State.
	OpTypeAssign
	OpTypeFill
	OpTypeInitTensor

	// Fused and opaque parameterized ops.
	OpTypeRelu
	OpTypeBpropRelu
	OpTypeConvolution
	OpTypeConvolutionBpropData
	OpTypeConvolutionBpropFilter
	OpTypePooling
	OpTypePoolingBprop

	// Communication.
	OpTypeSend
	OpTypeRecv

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

// IsElementWiseUnary returns whether the op is an element-wise function of one argument.
func (t OpType) IsElementWiseUnary() bool {
	return t >= OpTypeNegative && t <= OpTypeStopGradient
}

// IsElementWiseBinary returns whether the op is an element-wise function of two arguments with the same axes.
func (t OpType) IsElementWiseBinary() bool {
	return t >= OpTypeAdd && t <= OpTypeLessEqual
}

// IsComparison returns whether the op is an element-wise comparison, producing 0 or 1.
func (t OpType) IsComparison() bool {
	return t >= OpTypeEqual && t <= OpTypeLessEqual
}

// IsReduction returns whether the op reduces some of the axes of its argument.
func (t OpType) IsReduction() bool {
	return t >= OpTypeReduceSum && t <= OpTypeReduceProd
}

// IsCommutative returns whether swapping the two arguments of the op yields the same value.
func (t OpType) IsCommutative() bool {
	switch t {
	case OpTypeAdd, OpTypeMul, OpTypeMaximum, OpTypeMinimum, OpTypeEqual, OpTypeNotEqual:
		return true
	default:
		return false
	}
}

// IsValueOp returns whether the op doesn't compute anything by itself, but exposes the value of another op.
func (t OpType) IsValueOp() bool {
	return t == OpTypeSequential || t == OpTypeParallel || t == OpTypeTensorValue
}

// IsDeviceOp returns whether the op is executed as an instruction by a backend.
func (t OpType) IsDeviceOp() bool {
	return t != OpTypeAssignable && !t.IsValueOp() && t != OpTypeInvalid
}

// IsStateWrite returns whether the op writes into the storage of its first argument.
func (t OpType) IsStateWrite() bool {
	return t == OpTypeAssign || t == OpTypeFill || t == OpTypeInitTensor
}
