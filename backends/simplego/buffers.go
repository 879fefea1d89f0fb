// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Buffer for SimpleGo backend holds a reference to the flat data.
type Buffer struct {
	dtype dtypes.DType

	// flat is always a slice of the underlying data type (dtype).
	flat any
}

// Compile-time check.
var _ backends.Buffer = (*Buffer)(nil)

// DType implements backends.Buffer.
func (b *Buffer) DType() dtypes.DType { return b.dtype }

// NumElements implements backends.Buffer.
func (b *Buffer) NumElements() int { return reflect.ValueOf(b.flat).Len() }

// AllocateBuffer implements backends.Backend.
func (b *Backend) AllocateBuffer(dtype dtypes.DType, numElements int) (backends.Buffer, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	if !Capabilities.DTypes[dtype] {
		return nil, errors.Wrapf(errs.ErrBackendCapability, "simplego: dtype %s not supported", dtype)
	}
	if numElements < 0 {
		return nil, errors.Errorf("simplego: cannot allocate a buffer with %d elements", numElements)
	}
	b.allocated.Add(int64(numElements) * int64(dtype.Size()))
	return &Buffer{
		dtype: dtype,
		flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), numElements, numElements).Interface(),
	}, nil
}

// Tensor is the SimpleGo implementation of backends.DeviceTensor: a view of a range of a Buffer.
type Tensor struct {
	buffer *Buffer
	layout backends.Layout
}

// Compile-time check.
var _ backends.DeviceTensor = (*Tensor)(nil)

// DeviceTensor implements backends.Backend.
func (b *Backend) DeviceTensor(buffer backends.Buffer, layout backends.Layout) (backends.DeviceTensor, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	buf, ok := buffer.(*Buffer)
	if !ok {
		return nil, errors.Errorf("simplego: buffer of type %T was not allocated by simplego", buffer)
	}
	if layout.Shape.DType != buf.dtype {
		return nil, errors.Wrapf(errs.ErrShape, "simplego: layout %s doesn't match buffer dtype %s", layout.Shape, buf.dtype)
	}
	if layout.Offset < 0 || layout.Offset+layout.Shape.Size() > buf.NumElements() {
		return nil, errors.Wrapf(errs.ErrShape, "simplego: layout %s at offset %d doesn't fit in a buffer of %d elements",
			layout.Shape, layout.Offset, buf.NumElements())
	}
	return &Tensor{buffer: buf, layout: backends.Layout{Shape: layout.Shape.Clone(), Offset: layout.Offset}}, nil
}

// Shape implements backends.DeviceTensor.
func (t *Tensor) Shape() shapes.Shape { return t.layout.Shape }

// Buffer implements backends.DeviceTensor.
func (t *Tensor) Buffer() backends.Buffer { return t.buffer }

// Layout implements backends.DeviceTensor.
func (t *Tensor) Layout() backends.Layout { return t.layout }

// flatValue returns the reflect.Value of the flat slice of the elements of the tensor.
func (t *Tensor) flatValue() reflect.Value {
	return reflect.ValueOf(t.buffer.flat).Slice(t.layout.Offset, t.layout.Offset+t.layout.Shape.Size())
}

// Get implements backends.DeviceTensor.
func (t *Tensor) Get() (*tensors.Tensor, error) {
	host := tensors.FromShape(t.layout.Shape)
	reflect.Copy(reflect.ValueOf(host.Flat()), t.flatValue())
	return host, nil
}

// Set implements backends.DeviceTensor.
func (t *Tensor) Set(host *tensors.Tensor) error {
	if host == nil {
		return errors.New("simplego: cannot set tensor from nil")
	}
	if host.Size() != t.layout.Shape.Size() || host.Rank() != t.layout.Shape.Rank() {
		return errors.Wrapf(errs.ErrShape, "simplego: cannot set tensor of shape %s from a value of shape %s",
			t.layout.Shape, host.Shape())
	}
	for axis, dim := range host.Shape().Dimensions {
		if dim != t.layout.Shape.Dimensions[axis] {
			return errors.Wrapf(errs.ErrShape, "simplego: cannot set tensor of shape %s from a value of shape %s",
				t.layout.Shape, host.Shape())
		}
	}
	if host.DType() != t.layout.Shape.DType {
		host = host.ConvertTo(t.layout.Shape.DType)
	}
	reflect.Copy(t.flatValue(), reflect.ValueOf(host.Flat()))
	return nil
}

// Slice implements backends.DeviceTensor.
func (t *Tensor) Slice(start, stop int) (backends.DeviceTensor, error) {
	shape := t.layout.Shape
	if shape.Rank() == 0 {
		return nil, errors.Wrapf(errs.ErrShape, "simplego: cannot slice a scalar")
	}
	if start < 0 || stop > shape.Dimensions[0] || start > stop {
		return nil, errors.Wrapf(errs.ErrShape, "simplego: slice [%d:%d] out of range for shape %s", start, stop, shape)
	}
	rowSize := shape.Size() / max(shape.Dimensions[0], 1)
	sliced := shape.Clone()
	sliced.Dimensions[0] = stop - start
	return &Tensor{
		buffer: t.buffer,
		layout: backends.Layout{Shape: sliced, Offset: t.layout.Offset + start*rowSize},
	}, nil
}

// Initialize implements backends.Backend.
func (b *Backend) Initialize(tensor backends.DeviceTensor, fn graph.ValueFn) error {
	if err := b.checkOk(); err != nil {
		return err
	}
	var value *tensors.Tensor
	err := exceptions.TryCatch[error](func() { value = fn(tensor.Shape()) })
	if err != nil {
		return errors.WithMessagef(err, "simplego: initializing tensor of shape %s", tensor.Shape())
	}
	return tensor.Set(value)
}

// flatOf returns the flat elements of the device tensor as a []T.
func flatOf[T any](t *Tensor) []T {
	flat, ok := t.buffer.flat.([]T)
	if !ok {
		var zero T
		exceptions.Panicf("simplego: tensor of shape %s accessed as []%T", t.layout.Shape, zero)
	}
	return flat[t.layout.Offset : t.layout.Offset+t.layout.Shape.Size()]
}
