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

func TestReplace(t *testing.T) {
	g := NewGraph(t.Name())
	i := g.NewAxis("i", 4)
	x := Placeholder(g, "x", axes.Make(i), dtypes.Float32)
	y := Placeholder(g, "y", axes.Make(i), dtypes.Float32)
	a := Exp(x)
	b := Add(a, y)
	out := Tanh(b)

	t.Run("ArgumentsFollowReplacement", func(t *testing.T) {
		replacement := Log(x)
		side := Sin(y)
		a.AddControlDep(side)
		a.SetMetadata("device", "cpu")
		require.NoError(t, g.ReplaceOrError(a, replacement))
		assert.True(t, a.IsForwarded())
		assert.Same(t, replacement, a.Resolve())
		assert.Same(t, replacement, b.Arg(0))
		assert.Equal(t, OpTypeLog, a.Type())

		// Control dependencies and metadata migrate to the replacement.
		assert.Contains(t, replacement.ControlDeps(), side)
		md, found := replacement.GetMetadata("device")
		require.True(t, found)
		assert.Equal(t, "cpu", md)

		// The replaced node is not part of the ordered ops anymore.
		ordered := OrderedOps(out)
		assert.NotContains(t, ordered, g.NodeById(a.Id()))
		assert.Contains(t, ordered, replacement)
		assert.Contains(t, ordered, side)
	})

	t.Run("Chain", func(t *testing.T) {
		first, second := Sqrt(y), Abs(y)
		c := Mul(first, x)
		g.Replace(first, second)
		third := Square(y)
		g.Replace(second, third)
		assert.Same(t, third, first.Resolve())
		assert.Same(t, third, c.Arg(0))
	})

	t.Run("Self", func(t *testing.T) {
		err := g.ReplaceOrError(out, out)
		assert.True(t, errors.Is(err, errs.ErrIllegalMutation))
	})

	t.Run("Cycle", func(t *testing.T) {
		// out depends on b: making b resolve to something depending on out creates a cycle.
		err := g.ReplaceOrError(b, Add(out, y))
		assert.True(t, errors.Is(err, errs.ErrIllegalMutation))
		assert.False(t, b.IsForwarded())
	})

	t.Run("Shape", func(t *testing.T) {
		j := g.NewAxis("j", 2)
		z := Placeholder(g, "z", axes.Make(j), dtypes.Float32)
		err := g.ReplaceOrError(out, z)
		assert.True(t, errors.Is(err, errs.ErrShape))
		w := Placeholder(g, "w", axes.Make(i), dtypes.Float64)
		err = g.ReplaceOrError(out, w)
		assert.True(t, errors.Is(err, errs.ErrShape))
	})

	t.Run("TensorDescriptionRefresh", func(t *testing.T) {
		v := Variable(g, "v", axes.Make(i), dtypes.Float32, nil)
		seq := Sequential(Assign(v, x, false), v)
		assert.Same(t, v, seq.TensorDescription().Base)
		other := Variable(g, "other", axes.Make(i), dtypes.Float32, nil)
		g.Replace(v, other)
		assert.Same(t, other, seq.TensorDescription().Base)
	})
}

func TestWithArgs(t *testing.T) {
	g := NewGraph(t.Name())
	i, j := g.NewAxis("i", 4), g.NewAxis("j", 2)
	x := Placeholder(g, "x", axes.Make(i), dtypes.Float32)
	y := Placeholder(g, "y", axes.Make(i), dtypes.Float32)
	var sum *Node
	g.WithMetadata(map[string]any{"device": "gpu"}, func() {
		sum = Add(Exp(x), y)
	})
	consumer := Tanh(sum)

	rerouted := WithArgs(sum, Log(x), y)
	assert.Equal(t, OpTypeAdd, rerouted.Type())
	assert.Equal(t, OpTypeLog, rerouted.Arg(0).Type())
	assert.Same(t, y, rerouted.Arg(1))
	md, found := rerouted.GetMetadata("device")
	require.True(t, found)
	assert.Equal(t, "gpu", md)
	assert.NotEqual(t, sum.UUID(), rerouted.UUID())

	g.Replace(sum, rerouted)
	assert.Same(t, rerouted, consumer.Arg(0))

	err := exceptions.TryCatch[error](func() { WithArgs(rerouted, x) })
	assert.True(t, errors.Is(err, errs.ErrArgumentCount))
	z := Placeholder(g, "z", axes.Make(j), dtypes.Float32)
	err = exceptions.TryCatch[error](func() { WithArgs(rerouted, x, z) })
	assert.True(t, errors.Is(err, errs.ErrShape))
}

func TestOrderedOps(t *testing.T) {
	g := NewGraph(t.Name())
	i := g.NewAxis("i", 3)
	x := Placeholder(g, "x", axes.Make(i), dtypes.Float32)
	y := Placeholder(g, "y", axes.Make(i), dtypes.Float32)
	a := Mul(x, y)
	b := Exp(a)
	c := Sub(b, a)
	side := Abs(x)
	c.AddControlDep(side)

	ordered := OrderedOps(c)
	position := make(map[*Node]int, len(ordered))
	for ii, node := range ordered {
		_, duplicate := position[node]
		require.False(t, duplicate, "node %s visited twice", node)
		position[node] = ii
	}
	assert.Len(t, ordered, 6)
	for _, node := range ordered {
		for _, dep := range node.Deps() {
			assert.Less(t, position[dep], position[node], "%s must come before %s", dep, node)
		}
	}

	// Deterministic.
	assert.Equal(t, ordered, OrderedOps(c))

	// Multiple roots share their closure.
	both := OrderedOps(c, b)
	assert.Len(t, both, 6)

	// Cycle through control dependencies.
	a.AddControlDep(c)
	_, err := OrderedOpsOrError(c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotDAG))
	a.RemoveControlDep(c)
	_, err = OrderedOpsOrError(c)
	assert.NoError(t, err)
}

func TestSequentialControlDependencies(t *testing.T) {
	g := NewGraph(t.Name())
	i := g.NewAxis("i", 3)
	v := Variable(g, "v", axes.Make(i), dtypes.Float32, 0)
	x := Placeholder(g, "x", axes.Make(i), dtypes.Float32)

	read1 := Mul(v, x)
	write := Assign(v, Add(v, x), false)
	read2 := Exp(v)
	seq := Sequential(read1, write, read2)
	require.NoError(t, ComputeControlDependencies(seq))

	// Write after read: the write is ordered after the first segment.
	assert.Contains(t, write.ControlDeps(), read1)
	// Read after write: the second read is ordered after the write.
	assert.Contains(t, read2.ControlDeps(), write)

	ordered := OrderedOps(seq)
	position := make(map[*Node]int, len(ordered))
	for ii, node := range ordered {
		position[node] = ii
	}
	assert.Less(t, position[read1], position[write])
	assert.Less(t, position[write], position[read2])
	assert.Equal(t, read2, seq.Arg(0))
	assert.True(t, seq.Axes().Equal(read2.Axes()))

	// Only the first call has an effect.
	numDeps := len(read2.ControlDeps())
	require.NoError(t, ComputeAllControlDependencies(seq))
	assert.Len(t, read2.ControlDeps(), numDeps)

	t.Run("WriteAfterWrite", func(t *testing.T) {
		w1 := Assign(v, x, false)
		w2 := Fill(v, 1)
		s := Sequential(w1, w2, v)
		require.NoError(t, ComputeControlDependencies(s))
		assert.Contains(t, w2.ControlDeps(), w1)
	})

	t.Run("NotSequential", func(t *testing.T) {
		assert.Error(t, ComputeControlDependencies(read1))
	})
}

func TestSlicing(t *testing.T) {
	g := NewGraph(t.Name())
	batch, feature := g.NewAxis("batch", 5), g.NewAxis("feature", 4)
	x := Placeholder(g, "x", axes.Make(batch, feature), dtypes.Float32)

	t.Run("Range", func(t *testing.T) {
		y := TensorSlice(x, AxisRange(1, 3), AxisRange())
		require.Equal(t, 2, y.Rank())
		assert.Equal(t, feature, y.Axes().At(1))
		parent, rng, ok := y.Axes().At(0).SliceOf()
		require.True(t, ok)
		assert.Equal(t, batch, parent)
		assert.Equal(t, axes.Range{Start: 1, Stop: 3, Step: 1}, rng)
		assert.Equal(t, 2, y.Axes().At(0).Length())

		// Same slicing yields the same axes.
		again := TensorSlice(x, AxisRange(1, 3), AxisRange())
		assert.True(t, again.Axes().Equal(y.Axes()))

		full := Unslice(y, x.Axes(), AxisRange(1, 3), AxisRange())
		assert.True(t, full.Axes().Equal(x.Axes()))
	})

	t.Run("Elem", func(t *testing.T) {
		y := TensorSlice(x, AxisElem(-1), AxisRange())
		assert.True(t, y.Axes().Equal(axes.Make(feature)))
		params := y.Params().(*SliceParams)
		assert.Equal(t, 4, params.Entries[0].Range.Start)
		assert.True(t, params.Entries[0].Dropped)

		err := catch(func() { TensorSlice(x, AxisElem(5), AxisRange()) })
		assert.True(t, errors.Is(err, errs.ErrShape))
	})

	t.Run("NegativeStride", func(t *testing.T) {
		y := TensorSlice(x, AxisRange().Stride(-1), AxisRange(0, 4).Stride(2))
		params := y.Params().(*SliceParams)
		assert.Equal(t, axes.Range{Start: 4, Stop: -1, Step: -1}, params.Entries[0].Range)
		assert.Equal(t, 5, y.Axes().At(0).Length())
		assert.Equal(t, 2, y.Axes().At(1).Length())
	})

	t.Run("Identity", func(t *testing.T) {
		assert.Same(t, x, TensorSlice(x, AxisRange(), AxisRange(0, 4)))
	})

	t.Run("WrongNumberOfSpecs", func(t *testing.T) {
		err := catch(func() { TensorSlice(x, AxisRange()) })
		assert.True(t, errors.Is(err, errs.ErrShape))
	})

	t.Run("Unbound", func(t *testing.T) {
		n := g.NewAxis("n", axes.Unbound)
		u := Placeholder(g, "u", axes.Make(n), dtypes.Float32)
		err := catch(func() { TensorSlice(u, AxisRange(1)) })
		assert.True(t, errors.Is(err, errs.ErrShape))
	})
}

func TestFlatten(t *testing.T) {
	g := NewGraph(t.Name())
	a, b, c := g.NewAxis("a", 2), g.NewAxis("b", 3), g.NewAxis("c", 4)
	x := Placeholder(g, "x", axes.Make(a, b, c), dtypes.Float32)

	flat := Flatten(x)
	require.Equal(t, 1, flat.Rank())
	assert.True(t, flat.Axes().At(0).IsFlattened())
	assert.Equal(t, 24, flat.Axes().At(0).Length())
	assert.True(t, Unflatten(flat).Axes().Equal(x.Axes()))

	// Flatten the leading axes only.
	partial := FlattenAt(x, 2)
	require.Equal(t, 2, partial.Rank())
	assert.Equal(t, 6, partial.Axes().At(0).Length())
	assert.Equal(t, c, partial.Axes().At(1))
	assert.True(t, Unflatten(partial).Axes().Equal(x.Axes()))

	// Gradient through flatten/unflatten has the axes of x.
	loss := ReduceSum(Square(Unflatten(Flatten(x))), a, b, c)
	assert.True(t, Deriv(loss, x, nil).Axes().Equal(x.Axes()))
}

func TestConcat(t *testing.T) {
	g := NewGraph(t.Name())
	batch := g.NewAxis("batch", 2)
	f1, f2 := g.NewAxis("f1", 3), g.NewAxis("f2", 5)
	out := g.NewAxis("f", 8)
	x1 := Placeholder(g, "x1", axes.Make(batch, f1), dtypes.Float32)
	x2 := Placeholder(g, "x2", axes.Make(f2, batch), dtypes.Float32)
	y := Concat(out, []axes.Axis{f1, f2}, x1, x2)
	assert.True(t, y.Axes().Equal(axes.Make(batch, out)))

	grads := Gradient(ReduceSum(y, batch, out), x1, x2)
	assert.True(t, grads[0].Axes().Equal(x1.Axes()))
	assert.True(t, grads[1].Axes().Equal(x2.Axes()))

	wrong := g.NewAxis("wrong", 7)
	err := catch(func() { Concat(wrong, []axes.Axis{f1, f2}, x1, x2) })
	assert.True(t, errors.Is(err, errs.ErrShape))
}
