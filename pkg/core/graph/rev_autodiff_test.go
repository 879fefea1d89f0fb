// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivAxes(t *testing.T) {
	g := NewGraph(t.Name())
	batch := g.NewAxis("batch", 8, axes.RoleBatch)
	in, hidden := g.NewAxis("in", 3), g.NewAxis("hidden", 5)
	x := Placeholder(g, "x", axes.Make(batch, in), dtypes.Float32)
	w := Variable(g, "w", axes.Make(in.Dual(1), hidden), dtypes.Float32, 0.1)
	b := Variable(g, "b", axes.Make(hidden), dtypes.Float32, 0)
	logits := Add(Dot(x, w), b)
	loss := ReduceSum(Square(Tanh(logits)), batch, hidden)
	require.True(t, loss.IsScalar())

	grads := Gradient(loss, w, b, x)
	for ii, wrt := range []*Node{w, b, x} {
		assert.Truef(t, grads[ii].Axes().Equal(wrt.Axes()), "gradient #%d has axes %s, wanted %s",
			ii, grads[ii].Axes(), wrt.Axes())
		assert.Equal(t, wrt.DType(), grads[ii].DType())
	}

	t.Run("Unrelated", func(t *testing.T) {
		other := Placeholder(g, "other", axes.Make(hidden), dtypes.Float32)
		d := Deriv(loss, other, nil)
		value, ok := d.ScalarValue()
		require.True(t, ok)
		assert.Equal(t, 0.0, value)
		assert.True(t, d.Axes().Equal(other.Axes()))
	})

	t.Run("StopGradient", func(t *testing.T) {
		stopped := ReduceSum(StopGradient(x), batch, in)
		_, found := Adjoints(stopped, nil)[x]
		assert.False(t, found)

		// Only the direct path of the product contributes to x.
		sg := StopGradient(x)
		adjoints := Adjoints(ReduceSum(Mul(sg, x), batch, in), nil)
		grad, found := adjoints[x]
		require.True(t, found)
		assert.True(t, grad.Axes().Equal(x.Axes()))
		assert.Contains(t, OrderedOps(grad), sg)
	})

	t.Run("Memoized", func(t *testing.T) {
		first := Adjoints(loss, nil)
		numNodes := g.NumNodes()
		second := Adjoints(loss, nil)
		assert.Equal(t, numNodes, g.NumNodes(), "no new nodes for a memoized differentiation")
		assert.Same(t, first[w], second[w])
	})

	t.Run("ErrorAxes", func(t *testing.T) {
		wrongErr := Placeholder(g, "wrong", axes.Make(hidden), dtypes.Float32)
		err := catch(func() { Adjoints(loss, wrongErr) })
		assert.True(t, errors.Is(err, errs.ErrShape))

		// err with reordered axes is accepted.
		y := Tanh(logits)
		custom := Placeholder(g, "custom", axes.Make(hidden, batch), dtypes.Float32)
		d := Deriv(y, b, custom)
		assert.True(t, d.Axes().Equal(b.Axes()))
	})
}

func TestAdjointScale(t *testing.T) {
	g := NewGraph(t.Name())
	i := g.NewAxis("i", 4)
	x := Placeholder(g, "x", axes.Make(i), dtypes.Float32)
	y := Exp(x)
	y.SetAdjointScale(Scalar(g, dtypes.Float32, 0.5))
	loss := ReduceSum(y, i)
	d := Deriv(loss, x, nil)
	assert.Contains(t, OrderedOps(d), Scalar(g, dtypes.Float32, 0.5))
}

func TestSchemas(t *testing.T) {
	g := NewGraph(t.Name())
	batch := g.NewAxis("batch", 4, axes.RoleBatch)
	classes := g.NewAxis("classes", 10)
	x := Placeholder(g, "x", axes.Make(batch, classes), dtypes.Float32)
	targets := Placeholder(g, "targets", axes.Make(batch, classes), dtypes.Float32)

	y := Softmax(x)
	softmax, found := FindSchema[*SoftmaxSchema](y)
	require.True(t, found)
	assert.True(t, softmax.Axes.Equal(axes.Make(classes)))
	assert.True(t, y.Axes().Equal(x.Axes()))

	ce := CrossEntropyMulti(y, targets)
	assert.True(t, ce.Axes().Equal(axes.Make(batch)))
	_, found = FindSchema[*CrossEntropyMultiInnerSchema](ce)
	assert.True(t, found)
	assert.True(t, Deriv(ReduceSum(ce, batch), x, nil).Axes().Equal(x.Axes()))

	s := Sigmoid(x)
	_, found = FindSchema[*SigmoidSchema](s)
	require.True(t, found)
	bce := CrossEntropyBinary(s, targets)
	assert.True(t, bce.Axes().Equal(axes.Make(batch)))
	grads := Gradient(ReduceSum(bce, batch), x, targets)
	assert.True(t, grads[0].Axes().Equal(x.Axes()))
	assert.True(t, grads[1].Axes().Equal(targets.Axes()))

	// Without a softmax, the plain formula is used.
	plain := CrossEntropyMulti(Abs(x), targets)
	_, found = FindSchema[*CrossEntropyMultiInnerSchema](plain)
	assert.False(t, found)
}

func TestFusedOpsAxes(t *testing.T) {
	g := NewGraph(t.Name())
	c, h, w, n := g.NewAxis("C", 3), g.NewAxis("H", 8), g.NewAxis("W", 8), g.NewAxis("N", 2, axes.RoleBatch)
	k, r, s := g.NewAxis("K", 4), g.NewAxis("R", 3), g.NewAxis("S", 3)
	x := Placeholder(g, "x", axes.Make(c, h, w, n), dtypes.Float32)
	filter := Variable(g, "filter", axes.Make(c, r, s, k), dtypes.Float32, 0.1)

	oh, ow := g.NewAxis("OH", axes.Unbound), g.NewAxis("OW", axes.Unbound)
	conv := Convolution(x, filter, ConvParams{Padding: [][2]int{{1, 1}, {1, 1}}}, axes.Make(oh, ow))
	assert.True(t, conv.Axes().Equal(axes.Make(k, oh, ow, n)))
	assert.Equal(t, 8, oh.Length(), "unbound output axes are bound to the computed length")
	assert.Equal(t, 8, ow.Length())

	ph, pw := g.NewAxis("PH", 4), g.NewAxis("PW", 4)
	pool := Pooling(Relu(conv, 0), PoolParams{Op: PoolMax, Window: []int{2, 2}}, axes.Make(ph, pw))
	assert.True(t, pool.Axes().Equal(axes.Make(k, ph, pw, n)))

	wrong := g.NewAxis("wrong", 5)
	err := catch(func() {
		Pooling(conv, PoolParams{Op: PoolAvg, Window: []int{2, 2}}, axes.Make(wrong, pw))
	})
	assert.True(t, errors.Is(err, errs.ErrShape))

	loss := ReduceSum(pool, k, ph, pw, n)
	grads := Gradient(loss, x, filter)
	assert.True(t, grads[0].Axes().Equal(x.Axes()))
	assert.True(t, grads[1].Axes().Equal(filter.Axes()))
}

func TestCommunicationOps(t *testing.T) {
	g := NewGraph(t.Name())
	i := g.NewAxis("i", 4)
	x := Placeholder(g, "x", axes.Make(i), dtypes.Float32)
	send := Send(Exp(x))
	recv := Recv(send)
	assert.True(t, recv.Axes().Equal(x.Axes()))
	assert.Equal(t, dtypes.Float32, recv.DType())
	assert.Same(t, send, recv.Params().(*RecvParams).Send())
	assert.Zero(t, recv.NumArgs())
	assert.Error(t, catch(func() { Recv(x) }))
}
