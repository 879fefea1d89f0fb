// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ValueFn is a host function that produces the value of a tensor with the given (materialized) shape.
// It is used by InitTensor to initialize storage.
type ValueFn func(shape shapes.Shape) *tensors.Tensor

// newAssignable creates an allocation site.
func newAssignable(g *Graph, name string, ax axes.Axes, dtype dtypes.DType, flags Flags) *Node {
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("cannot create tensor %q with an invalid dtype", name)
	}
	n := g.newNode(OpTypeAssignable, nil, ax, dtype, nil)
	n.flags = flags
	n.name = name
	return n
}

// Placeholder creates an input allocation site: its value is given at every call of a computation.
func Placeholder(g *Graph, name string, ax axes.Axes, dtype dtypes.DType) *Node {
	return newAssignable(g, name, ax, dtype, FlagInput|FlagPersistent)
}

// Temporary creates a non-persistent tensor storage: it can share its buffer with other temporaries
// that are not simultaneously live.
func Temporary(g *Graph, name string, ax axes.Axes, dtype dtypes.DType) *Node {
	return newAssignable(g, name, ax, dtype, 0)
}

// Variable creates a persistent, trainable tensor storage.
//
// The initial value is optional (nil). It can be a Go scalar or a *tensors.Tensor (host values, set with
// InitTensor), a ValueFn or a graph *Node (assigned with Assign, in the initialization program).
func Variable(g *Graph, name string, ax axes.Axes, dtype dtypes.DType, initial any) *Node {
	n := newAssignable(g, name, ax, dtype, FlagPersistent|FlagTrainable)
	addInitialValue(n, initial)
	return n
}

// PersistentTensor creates a persistent, non-trainable tensor storage. See Variable for the initial value.
func PersistentTensor(g *Graph, name string, ax axes.Axes, dtype dtypes.DType, initial any) *Node {
	n := newAssignable(g, name, ax, dtype, FlagPersistent)
	addInitialValue(n, initial)
	return n
}

// ConstantStorage creates a persistent tensor that can't be assigned to after its initialization.
// Differently from a Constant, its value is not known at graph building time (see Variable for initial).
func ConstantStorage(g *Graph, name string, ax axes.Axes, dtype dtypes.DType, initial any) *Node {
	n := newAssignable(g, name, ax, dtype, FlagPersistent|FlagConstant)
	addInitialValue(n, initial)
	return n
}

func addInitialValue(n *Node, initial any) {
	switch v := initial.(type) {
	case nil:
		return
	case *Node:
		n.AddInitializer(Assign(n, v, true))
	case ValueFn:
		n.AddInitializer(InitTensor(n, v))
	case func(shapes.Shape) *tensors.Tensor:
		n.AddInitializer(InitTensor(n, v))
	case *tensors.Tensor:
		n.AddInitializer(InitTensor(n, tensorValueFn(v)))
	default:
		value, ok := toFloat64(initial)
		if !ok {
			exceptions.Panicf("invalid initial value of type %T for %s", initial, n)
		}
		n.AddInitializer(InitTensor(n, func(shape shapes.Shape) *tensors.Tensor {
			values := make([]float64, shape.Size())
			for ii := range values {
				values[ii] = value
			}
			return tensors.FromFloat64s(shape, values)
		}))
	}
}

// tensorValueFn returns a ValueFn that returns t converted to the requested dtype.
func tensorValueFn(t *tensors.Tensor) ValueFn {
	return func(shape shapes.Shape) *tensors.Tensor {
		if t.Size() != shape.Size() {
			exceptions.Panicf("initial value of shape %s can't be used for a tensor of shape %s", t.Shape(), shape)
		}
		if t.DType() != shape.DType {
			return t.ConvertTo(shape.DType).Reshape(shape.Dimensions...)
		}
		return t.Reshape(shape.Dimensions...)
	}
}

// Scalar returns a scalar constant of the given dtype. Scalars are cached per graph: asking twice for the
// same value returns the same node.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Node {
	byValue, found := g.scalars[dtype]
	if !found {
		byValue = make(map[float64]*Node)
		g.scalars[dtype] = byValue
	}
	if n, found := byValue[value]; found && !n.IsForwarded() {
		return n
	}
	t := tensors.FromFloat64s(shapes.Make(dtype), []float64{value})
	n := constantFromTensor(g, t, axes.Axes{})
	byValue[value] = n
	return n
}

// Constant returns a constant node with the given scalar value: a Go number, or a scalar *tensors.Tensor.
// The dtype is inferred from the value's Go type.
//
// For constants with axes, use ConstantAxes.
func Constant(g *Graph, value any) *Node {
	t := tensors.FromAnyValue(value)
	if !t.IsScalar() {
		panic(errors.Wrapf(errs.ErrShape, "Constant(%s): non-scalar values require axes, use ConstantAxes", t.Shape()))
	}
	return Scalar(g, t.DType(), t.Float64s()[0])
}

// ConstantAxes returns a constant with the given axes.
//
// The value can be a Go scalar, which is broadcast to the axes (lengths don't need to be bound), or a
// *tensors.Tensor or multidimensional Go slice with one dimension per axis: in that case the axes must be
// bound to the matching lengths (errs.ErrShape otherwise).
func ConstantAxes(g *Graph, value any, ax axes.Axes) *Node {
	if _, ok := value.(*tensors.Tensor); !ok && isGoScalar(value) {
		return Broadcast(Constant(g, value), ax)
	}
	t := tensors.FromAnyValue(value)
	if t.IsScalar() {
		return Broadcast(Scalar(g, t.DType(), t.Float64s()[0]), ax)
	}
	if !ax.AllBound() || !slices.Equal(ax.Lengths(), t.Shape().Dimensions) {
		panic(errors.Wrapf(errs.ErrShape, "ConstantAxes: value of shape %s doesn't match axes %s", t.Shape(), ax))
	}
	return constantFromTensor(g, t, ax)
}

// ConstantAxesOfDType returns the scalar value broadcast to the given axes, with the given dtype.
func ConstantAxesOfDType(g *Graph, dtype dtypes.DType, value float64, ax axes.Axes) *Node {
	return Broadcast(Scalar(g, dtype, value), ax)
}

// Zeros returns zeros with the given axes and dtype.
func Zeros(g *Graph, ax axes.Axes, dtype dtypes.DType) *Node {
	return ConstantAxesOfDType(g, dtype, 0, ax)
}

// Ones returns ones with the given axes and dtype.
func Ones(g *Graph, ax axes.Axes, dtype dtypes.DType) *Node {
	return ConstantAxesOfDType(g, dtype, 1, ax)
}

// ZerosLike returns zeros with the same axes and dtype as x.
func ZerosLike(x *Node) *Node {
	return Zeros(x.Graph(), x.Axes(), x.DType())
}

// OnesLike returns ones with the same axes and dtype as x.
func OnesLike(x *Node) *Node {
	return Ones(x.Graph(), x.Axes(), x.DType())
}

func constantFromTensor(g *Graph, t *tensors.Tensor, ax axes.Axes) *Node {
	n := newAssignable(g, "", ax, t.DType(), FlagConstant|FlagPersistent)
	n.value = t
	n.AddInitializer(InitTensor(n, tensorValueFn(t)))
	return n
}

// ValueOf returns a copy of the current value of x: later assignments to the storage of x don't change it.
func ValueOf(x *Node) *Node {
	x.AssertTensor()
	temp := Temporary(x.Graph(), "", x.Axes(), x.DType())
	return Sequential(Assign(temp, x, true), temp)
}

func isGoScalar(value any) bool {
	_, ok := toFloat64(value)
	return ok
}

// toFloat64 converts Go numbers (and bool) to float64.
func toFloat64(value any) (float64, bool) {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return 0, false
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Bool:
		if v.Bool() {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
