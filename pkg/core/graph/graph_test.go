// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// catch runs fn and returns the error it panicked with, or nil.
func catch(fn func()) error {
	return exceptions.TryCatch[error](fn)
}

func TestOpTypeTables(t *testing.T) {
	for opType := OpTypeInvalid; opType < OpTypeLast; opType++ {
		assert.NotNilf(t, adjointRules[opType], "no adjoint rule for %s", opType)
		assert.NotEmpty(t, opType.String())
	}
	assert.Len(t, OpTypeValues(), int(OpTypeLast)+1)
	parsed, err := OpTypeString("Dot")
	require.NoError(t, err)
	assert.Equal(t, OpTypeDot, parsed)
	assert.True(t, OpTypeAdd.IsCommutative())
	assert.False(t, OpTypeSub.IsCommutative())
	assert.True(t, OpTypeAssign.IsStateWrite())
	assert.False(t, OpTypeAssignable.IsDeviceOp())
	assert.False(t, OpTypeSequential.IsDeviceOp())
	assert.True(t, OpTypeReduceSum.IsDeviceOp())
}

func TestBinaryOpAxes(t *testing.T) {
	g := NewGraph(t.Name())
	batch := g.NewAxis("batch", 8, axes.RoleBatch)
	feature := g.NewAxis("feature", 3)
	x := Placeholder(g, "x", axes.Make(batch, feature), dtypes.Float32)
	b := Placeholder(g, "b", axes.Make(feature), dtypes.Float32)

	sum := Add(x, b)
	assert.True(t, sum.Axes().Equal(axes.Make(batch, feature)))
	assert.Equal(t, OpTypeBroadcast, sum.Arg(1).Type(), "b should be broadcast to the result axes")
	assert.Same(t, x, sum.Arg(0), "x already has the result axes")

	// Order: receiver's axes first.
	reversed := Add(b, x)
	assert.True(t, reversed.Axes().Equal(axes.Make(feature, batch)))

	// Go scalars are converted to the dtype of the node.
	y := x.Mul(2).Add(1)
	assert.Equal(t, dtypes.Float32, y.DType())
	assert.True(t, y.Axes().Equal(x.Axes()))

	// Mismatched dtypes.
	i := Placeholder(g, "i", axes.Make(feature), dtypes.Int32)
	err := catch(func() { Add(b, i) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrShape))
}

func TestShapeInferenceDeterminism(t *testing.T) {
	g := NewGraph(t.Name())
	h, w := g.NewAxis("h", 4), g.NewAxis("w", 5)
	x := Placeholder(g, "x", axes.Make(h, w), dtypes.Float64)
	y := Placeholder(g, "y", axes.Make(w), dtypes.Float64)
	build := func() *Node {
		return ReduceSum(Mul(Tanh(x), Exp(y)), w)
	}
	first, second := build(), build()
	assert.NotSame(t, first, second)
	assert.True(t, first.Axes().Equal(second.Axes()))
	assert.True(t, first.Axes().Equal(axes.Make(h)))
}

func TestDotAxes(t *testing.T) {
	g := NewGraph(t.Name())
	n, c, k := g.NewAxis("n", 4), g.NewAxis("c", 3), g.NewAxis("k", 2)
	x := Placeholder(g, "x", axes.Make(n, c), dtypes.Float32)

	t.Run("Contraction", func(t *testing.T) {
		w := Placeholder(g, "w", axes.Make(c.Dual(1), k), dtypes.Float32)
		y := Dot(x, w)
		assert.True(t, y.Axes().Equal(axes.Make(n, k)))
		params := DotParamsOf(y)
		assert.True(t, params.XReduced.Equal(axes.Make(c)))
		assert.True(t, params.YReduced.Equal(axes.Make(c.Dual(1))))
	})

	t.Run("OuterProduct", func(t *testing.T) {
		v := Placeholder(g, "v", axes.Make(k), dtypes.Float32)
		y := Dot(x, v)
		assert.True(t, y.Axes().Equal(axes.Make(n, c, k)))
	})

	t.Run("Overlap", func(t *testing.T) {
		// Same axis in both operands without a dual pairing.
		w := Placeholder(g, "w2", axes.Make(c, k), dtypes.Float32)
		err := catch(func() { Dot(x, w) })
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrShape))
	})
}

func TestReductions(t *testing.T) {
	g := NewGraph(t.Name())
	batch := g.NewAxis("batch", 2, axes.RoleBatch)
	time := g.NewAxis("time", 5, axes.RoleRecurrent)
	feature := g.NewAxis("feature", 3)
	x := Placeholder(g, "x", axes.Make(batch, time, feature), dtypes.Float32)

	// Default: sample axes, except the recurrent axis.
	assert.True(t, ReduceSum(x).Axes().Equal(axes.Make(batch, time)))
	assert.True(t, ReduceMax(x, batch, feature).Axes().Equal(axes.Make(time)))
	assert.True(t, ReduceSumOut(x, axes.Make(feature, batch)).Axes().Equal(axes.Make(feature, batch)))
	assert.True(t, Mean(x, time).Axes().Equal(axes.Make(batch, feature)))
	assert.True(t, Variance(x).Axes().Equal(axes.Make(batch, time)))
	assert.True(t, TensorSize(x).IsScalar())

	other := g.NewAxis("other", 7)
	err := catch(func() { ReduceSum(x, other) })
	assert.True(t, errors.Is(err, errs.ErrShape))
}

func TestConstants(t *testing.T) {
	g := NewGraph(t.Name())
	assert.Same(t, Scalar(g, dtypes.Float32, 1), Scalar(g, dtypes.Float32, 1), "scalars are cached")
	assert.NotSame(t, Scalar(g, dtypes.Float32, 1), Scalar(g, dtypes.Float64, 1))

	c := Constant(g, int32(7))
	assert.Equal(t, dtypes.Int32, c.DType())
	assert.True(t, c.IsConstant())
	value, ok := c.ScalarValue()
	require.True(t, ok)
	assert.Equal(t, 7.0, value)

	i, j := g.NewAxis("i", 2), g.NewAxis("j", 3)
	m := ConstantAxes(g, [][]float32{{1, 2, 3}, {4, 5, 6}}, axes.Make(i, j))
	assert.Equal(t, OpTypeAssignable, m.Type())
	assert.Len(t, m.Initializers(), 1)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, m.ConstValue().Float64s())

	ones := Ones(g, axes.Make(i, j), dtypes.Float32)
	value, ok = ones.ScalarValue()
	require.True(t, ok)
	assert.Equal(t, 1.0, value)

	err := catch(func() { ConstantAxes(g, []float32{1, 2}, axes.Make(j)) })
	assert.True(t, errors.Is(err, errs.ErrShape))
}

func TestAssign(t *testing.T) {
	g := NewGraph(t.Name())
	i := g.NewAxis("i", 3)
	v := Variable(g, "v", axes.Make(i), dtypes.Float32, 0.5)
	require.Len(t, v.Initializers(), 1)
	assert.Equal(t, OpTypeInitTensor, v.Initializers()[0].Type())

	assign := Assign(v, Scalar(g, dtypes.Float32, 2), false)
	assert.False(t, assign.IsTensor())
	assert.Equal(t, OpTypeBroadcast, assign.Arg(1).Type())
	assert.Equal(t, []*Node{v}, assign.StatesWritten())
	assert.Empty(t, assign.StatesRead())

	c := ConstantAxes(g, []float32{1, 2, 3}, axes.Make(i))
	err := catch(func() { Assign(c, Scalar(g, dtypes.Float32, 2), false) })
	assert.True(t, errors.Is(err, errs.ErrIllegalMutation))
	assert.NoError(t, catch(func() { Assign(c, Scalar(g, dtypes.Float32, 2), true) }))

	err = catch(func() { Fill(c, 0) })
	assert.True(t, errors.Is(err, errs.ErrIllegalMutation))

	// ValueOf is a copy into a temporary.
	copied := ValueOf(v)
	assert.Equal(t, OpTypeSequential, copied.Type())
	assert.True(t, copied.Axes().Equal(v.Axes()))
	desc := copied.TensorDescription()
	assert.False(t, desc.Persistent)
	assert.Equal(t, OpTypeAssignable, desc.Base.Type())
}

func TestMetadataScopes(t *testing.T) {
	g := NewGraph(t.Name())
	i := g.NewAxis("i", 3)
	x := Placeholder(g, "x", axes.Make(i), dtypes.Float32)
	var inner, outer *Node
	g.WithMetadata(map[string]any{"device": "cpu", "device_id": "0"}, func() {
		outer = Negative(x)
		g.WithMetadata(map[string]any{"device_id": "1"}, func() {
			inner = Abs(x)
		})
	})
	after := Sqrt(x)
	assert.Equal(t, map[string]any{"device": "cpu", "device_id": "0"}, outer.Metadata())
	assert.Equal(t, map[string]any{"device": "cpu", "device_id": "1"}, inner.Metadata())
	assert.Empty(t, after.Metadata())
}
