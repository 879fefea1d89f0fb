// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego_test

import (
	"context"
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/backends/simplego"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/core/transformer"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTransformer returns a transformer using a simplego backend with small chunks, so the
// parallel code paths are exercised.
func newTransformer(t *testing.T) *transformer.Transformer {
	backend := must.M1(simplego.New("parallelism=4,chunk=2"))
	t.Cleanup(backend.Finalize)
	tr := must.M1(transformer.New(transformer.WithName(t.Name()), transformer.WithBackend(backend)))
	t.Cleanup(tr.Close)
	return tr
}

// call1 compiles a computation of y with the given placeholders and calls it with args.
func call1(t *testing.T, y *graph.Node, params []*graph.Node, args ...any) *tensors.Tensor {
	tr := newTransformer(t)
	fn, err := tr.Computation(y, params...)
	require.NoError(t, err)
	result, err := fn.Call1(args...)
	require.NoError(t, err)
	return result
}

func TestElementWise(t *testing.T) {
	t.Run("TransposedOperands", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		a, b := g.NewAxis("a", 2), g.NewAxis("b", 3)
		x := graph.Placeholder(g, "x", axes.Make(a, b), dtypes.Float32)
		y := graph.Placeholder(g, "y", axes.Make(b, a), dtypes.Float32)
		sum := graph.Add(x, y)
		require.True(t, sum.Axes().Equal(axes.Make(a, b)))
		result := call1(t, sum, []*graph.Node{x, y},
			[][]float32{{0, 1, 2}, {3, 4, 5}}, [][]float32{{10, 20}, {30, 40}, {50, 60}})
		assert.Equal(t, [][]float32{{10, 31, 52}, {23, 44, 65}}, result.Value())
	})

	t.Run("IntegerDivision", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		n := g.NewAxis("n", 2)
		x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Int32)
		y := graph.Placeholder(g, "y", axes.Make(n), dtypes.Int32)
		result := call1(t, graph.Div(x, y), []*graph.Node{x, y}, []int32{6, 5}, []int32{3, 0})
		assert.Equal(t, []int32{2, 0}, result.Value())
	})

	t.Run("Comparisons", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		n := g.NewAxis("n", 4)
		x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float64)
		y := graph.Add(graph.Greater(x, graph.Scalar(g, dtypes.Float64, 0)), graph.Abs(x))
		result := call1(t, y, []*graph.Node{x}, []float64{-2, 0, 0.5, 3})
		assert.Equal(t, []float64{2, 0, 1.5, 4}, result.Value())
	})
}

func TestReductions(t *testing.T) {
	g := graph.NewGraph(t.Name())
	a, b := g.NewAxis("a", 2), g.NewAxis("b", 3)
	x := graph.Placeholder(g, "x", axes.Make(a, b), dtypes.Float32)
	tr := newTransformer(t)
	fn := must.M1(tr.Computation([]*graph.Node{
		graph.ReduceSum(x, b),
		graph.ReduceMax(x, a),
		graph.ReduceMin(x, b),
		graph.ReduceProd(x, b),
		graph.ReduceSum(x),
	}, x))
	results, err := fn.CallOrError([][]float32{{1, 5, 3}, {4, 2, 6}})
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 12}, results[0].Value())
	assert.Equal(t, []float32{4, 5, 6}, results[1].Value())
	assert.Equal(t, []float32{1, 2}, results[2].Value())
	assert.Equal(t, []float32{15, 48}, results[3].Value())
	assert.Equal(t, float32(21), tensors.ToScalar[float32](results[4]))
}

func TestDot(t *testing.T) {
	g := graph.NewGraph(t.Name())
	rows, inner, cols := g.NewAxis("rows", 2), g.NewAxis("inner", 3), g.NewAxis("cols", 2)
	x := graph.Placeholder(g, "x", axes.Make(rows, inner), dtypes.Float64)
	y := graph.Placeholder(g, "y", axes.Make(inner.Dual(1), cols), dtypes.Float64)
	result := call1(t, graph.Dot(x, y), []*graph.Node{x, y},
		[][]float64{{1, 2, 3}, {4, 5, 6}}, [][]float64{{1, 0}, {0, 1}, {1, 1}})
	assert.Equal(t, [][]float64{{4, 5}, {10, 11}}, result.Value())
}

func TestSlicing(t *testing.T) {
	g := graph.NewGraph(t.Name())
	a, b := g.NewAxis("a", 3), g.NewAxis("b", 4)
	x := graph.Placeholder(g, "x", axes.Make(a, b), dtypes.Int64)
	tr := newTransformer(t)
	fn := must.M1(tr.Computation([]*graph.Node{
		graph.TensorSlice(x, graph.AxisRange(1, 3), graph.AxisElem(-1)),
		graph.TensorSlice(x, graph.AxisElem(0), graph.AxisRange().Stride(-1)),
	}, x))
	results, err := fn.CallOrError([][]int64{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9, 10, 11}})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 11}, results[0].Value())
	assert.Equal(t, []int64{3, 2, 1, 0}, results[1].Value())
}

func TestConcatAndOneHot(t *testing.T) {
	t.Run("Concat", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		rows := g.NewAxis("rows", 2)
		c1, c2, c := g.NewAxis("c1", 1), g.NewAxis("c2", 2), g.NewAxis("c", 3)
		x1 := graph.Placeholder(g, "x1", axes.Make(rows, c1), dtypes.Float32)
		x2 := graph.Placeholder(g, "x2", axes.Make(rows, c2), dtypes.Float32)
		result := call1(t, graph.Concat(c, []axes.Axis{c1, c2}, x1, x2), []*graph.Node{x1, x2},
			[][]float32{{1}, {2}}, [][]float32{{3, 4}, {5, 6}})
		assert.Equal(t, [][]float32{{1, 3, 4}, {2, 5, 6}}, result.Value())
	})

	t.Run("OneHot", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		n, depth := g.NewAxis("n", 3), g.NewAxis("depth", 3)
		x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Int32)
		result := call1(t, graph.OneHot(x, depth), []*graph.Node{x}, []int32{0, 2, 5})
		// Out of range values (5) yield all zeros.
		assert.Equal(t, [][]int32{{1, 0, 0}, {0, 0, 0}, {0, 1, 0}}, result.Value())
	})
}

func TestReluFusion(t *testing.T) {
	hasOp := func(fn *transformer.Computation, opType graph.OpType) bool {
		for _, op := range fn.Ops() {
			if op.Type() == opType {
				return true
			}
		}
		return false
	}
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 4)
	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
	zero := graph.Scalar(g, dtypes.Float32, 0)
	relu := graph.Maximum(x, zero)
	leaky := graph.Add(graph.Maximum(x, zero),
		graph.Mul(graph.Scalar(g, dtypes.Float32, 0.1), graph.Minimum(zero, x)))

	tr := newTransformer(t)
	reluFn := must.M1(tr.Computation(relu, x))
	leakyFn := must.M1(tr.Computation(leaky, x))
	require.NoError(t, tr.Finalize())
	for _, fn := range []*transformer.Computation{reluFn, leakyFn} {
		assert.True(t, hasOp(fn, graph.OpTypeRelu), "%s should be fused into a Relu", fn.Name())
		assert.False(t, hasOp(fn, graph.OpTypeMaximum), "%s should be fused into a Relu", fn.Name())
	}

	result, err := reluFn.Call1([]float32{-2, -1, 0, 3})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 3}, result.Value())
	result, err = leakyFn.Call1([]float32{-2, -1, 0, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-0.2, -0.1, 0, 3}, result.Value(), 1e-6)
}

func TestConvolutionAndPooling(t *testing.T) {
	g := graph.NewGraph(t.Name())
	channels, width, batch := g.NewAxis("channels", 1), g.NewAxis("width", 4), g.NewAxis("batch", 1)
	window, filters := g.NewAxis("window", 2), g.NewAxis("filters", 1)
	x := graph.Placeholder(g, "x", axes.Make(channels, width, batch), dtypes.Float32)
	filter := graph.Placeholder(g, "filter", axes.Make(channels, window, filters), dtypes.Float32)

	convOut := g.NewAxis("conv_out", axes.Unbound)
	conv := graph.Convolution(x, filter, graph.ConvParams{}, axes.Make(convOut))
	assert.Equal(t, 3, convOut.Length())

	maxOut, avgOut := g.NewAxis("max_out", axes.Unbound), g.NewAxis("avg_out", axes.Unbound)
	maxPool := graph.Pooling(x, graph.PoolParams{Op: graph.PoolMax, Window: []int{2}, Strides: []int{2}}, axes.Make(maxOut))
	avgPool := graph.Pooling(x, graph.PoolParams{Op: graph.PoolAvg, Window: []int{2}, Strides: []int{2}}, axes.Make(avgOut))

	tr := newTransformer(t)
	fn := must.M1(tr.Computation([]*graph.Node{conv, maxPool, avgPool}, x, filter))
	results, err := fn.CallOrError([][][]float32{{{1}, {3}, {2}, {5}}}, [][][]float32{{{1}, {-1}}})
	require.NoError(t, err)
	assert.Equal(t, []float32{-2, 1, -3}, tensors.CopyFlatData[float32](results[0]))
	assert.Equal(t, []float32{3, 5}, tensors.CopyFlatData[float32](results[1]))
	assert.Equal(t, []float32{2, 3.5}, tensors.CopyFlatData[float32](results[2]))
}

func TestSendRecv(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 3)
	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
	send := graph.Send(graph.Mul(x, graph.Scalar(g, dtypes.Float32, 2)))
	recv := graph.Recv(send)
	recv.AddControlDep(send)
	y := graph.Add(recv, graph.Scalar(g, dtypes.Float32, 1))

	tr := newTransformer(t)
	fn := must.M1(tr.Computation(y, x))
	for range 2 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		results, err := fn.CallContext(ctx, []float32{1, 2, 3})
		cancel()
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 5, 7}, results[0].Value())
	}
}

func TestUnsupportedDType(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 3)
	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float16)
	tr := newTransformer(t)
	fn := must.M1(tr.Computation(graph.Negative(x), x))
	_, err := fn.CallOrError([]float32{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrBackendCapability), "unexpected error: %+v", err)
}
