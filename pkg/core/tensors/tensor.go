// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a host `Tensor`, a representation of a multidimensional array.
//
// Tensors are the inputs and outputs of computations (see package transformer), and the values of constant
// nodes in a graph. They are defined by their shape (a data type and its dimensions) and their content, stored
// as a flat (1D) Go slice of the underlying type, in row-major order.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[S MultiDimensionSlice](value S): works with the scalar supported `DType`s as well as with
//     multidimensional slices of them. Slices of rank > 1 must be regular. Example:
//
//     t := FromValue([][]float32{{1,2}, {3, 5}, {7, 11}})
//
//   - FromAnyValue(value any): same as FromValue but non-generic. If `value` is already a tensor, it is
//     returned unchanged.
package tensors

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
)

// Tensor is a host (Go memory) multidimensional array.
//
// It is not safe for concurrent mutation: backends copy tensors in and out of their buffers, they never
// keep references to the flat data.
type Tensor struct {
	shape shapes.Shape

	// flat holds a []T, where T is the Go type of shape.DType.
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported for host tensors", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface(),
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements of the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory is the number of bytes used by the tensor elements.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// IsScalar returns whether the tensor has no dimensions.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Flat returns the underlying flat slice (a []T for the tensor's dtype), without copying.
//
// Changes made to the returned slice are reflected in the tensor.
func (t *Tensor) Flat() any { return t.flat }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape)
	reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(t.flat))
	return clone
}

// Reshape returns a tensor sharing the same flat data with new dimensions. The total size must be preserved.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	shape := shapes.Make(t.shape.DType, dimensions...)
	if shape.Size() != t.shape.Size() {
		exceptions.Panicf("tensors.Reshape(%v): tensor shape %s has a different size", dimensions, t.shape)
	}
	return &Tensor{shape: shape, flat: t.flat}
}

// CopyFrom copies the contents of src into t. They must have the same shape.
func (t *Tensor) CopyFrom(src *Tensor) {
	if !t.shape.Equal(src.shape) {
		exceptions.Panicf("tensors.CopyFrom: shape %s differs from source shape %s", t.shape, src.shape)
	}
	reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(src.flat))
}

// ConstFlatData calls accessFn with the flat data of the tensor, which must have Go type T.
// The data must not be changed.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatAs[T](t))
}

// MutableFlatData calls accessFn with the flat data of the tensor, which must have Go type T.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatAs[T](t))
}

// CopyFlatData returns a copy of the flat data of the tensor, which must have Go type T.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	flat := flatAs[T](t)
	out := make([]T, len(flat))
	copy(out, flat)
	return out
}

func flatAs[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		exceptions.Panicf("tensor of shape %s cannot be accessed as []%T", t.shape, zero)
	}
	return flat
}
