// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"math"
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	_ "github.com/gomlx/opgraph/backends/simplego"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/passes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransformer(t *testing.T, options ...Option) *Transformer {
	tr, err := New(append([]Option{WithName(t.Name())}, options...)...)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestLinear(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 4)
	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
	y := graph.Add(graph.Mul(x, graph.Scalar(g, dtypes.Float32, 2)), graph.Scalar(g, dtypes.Float32, 1))
	grad := graph.Gradient(graph.ReduceSum(y, n), x)[0]

	tr := newTransformer(t)
	fn := must.M1(tr.Computation(y, x))
	gradFn := must.M1(tr.Computation(grad, x))
	assert.Equal(t, StateDeclared, tr.State())

	result, err := fn.Call1([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 5, 7, 9}, tensors.CopyFlatData[float32](result))
	assert.Equal(t, StateInitialized, tr.State())

	result, err = gradFn.Call1([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2, 2, 2}, tensors.CopyFlatData[float32](result))

	// Arguments are converted to the placeholder dtype.
	result, err = fn.Call1([]float64{0, -1, 0.5, 10})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -1, 2, 21}, tensors.CopyFlatData[float32](result))
}

func TestFiniteDifferences(t *testing.T) {
	g := graph.NewGraph(t.Name())
	batch, in, hidden := g.NewAxis("batch", 2), g.NewAxis("in", 3), g.NewAxis("hidden", 2)
	x := graph.Placeholder(g, "x", axes.Make(batch, in), dtypes.Float64)
	w := graph.Variable(g, "w", axes.Make(in.Dual(1), hidden), dtypes.Float64,
		tensors.FromValue([][]float64{{0.1, -0.2}, {0.3, 0.4}, {-0.5, 0.6}}))
	b := graph.Variable(g, "b", axes.Make(hidden), dtypes.Float64, 0.1)
	loss := graph.ReduceSum(graph.Square(graph.Tanh(graph.Add(graph.Dot(x, w), b))), batch, hidden)
	grads := graph.Gradient(loss, x, w)

	tr := newTransformer(t)
	lossFn := must.M1(tr.Computation(loss, x))
	gradFn := must.M1(tr.Computation(grads, x))

	input := []float64{0.5, -1, 2, 0.1, 0.2, -0.3}
	results := gradFn.Call(tensors.FromFlatDataAndDimensions(input, 2, 3))
	require.Len(t, results, 2)
	analytic := tensors.CopyFlatData[float64](results[0])
	require.Len(t, analytic, len(input))

	const eps = 1e-6
	evalLoss := func(values []float64) float64 {
		result := must.M1(lossFn.Call1(tensors.FromFlatDataAndDimensions(values, 2, 3)))
		return tensors.ToScalar[float64](result)
	}
	for ii := range input {
		plus, minus := append([]float64(nil), input...), append([]float64(nil), input...)
		plus[ii] += eps
		minus[ii] -= eps
		numeric := (evalLoss(plus) - evalLoss(minus)) / (2 * eps)
		assert.InDeltaf(t, numeric, analytic[ii], 1e-5, "gradient of element #%d", ii)
	}
	assert.Equal(t, []int{3, 2}, results[1].Shape().Dimensions)
}

func TestDerivLinearity(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 4)
	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float64)
	f, h := graph.Tanh(x), graph.Square(x)
	ofSum := graph.Deriv(graph.Add(f, h), x, nil)
	sumOf := graph.Add(graph.Deriv(f, x, nil), graph.Deriv(h, x, nil))

	tr := newTransformer(t)
	fn := must.M1(tr.Computation([]*graph.Node{ofSum, sumOf}, x))
	input := []float64{-1.5, 0, 0.3, 2}
	results := fn.Call(input)
	require.Len(t, results, 2)
	got, want := tensors.CopyFlatData[float64](results[0]), tensors.CopyFlatData[float64](results[1])
	assert.InDeltaSlice(t, want, got, 1e-12)
	for ii, v := range input {
		tanh := math.Tanh(v)
		assert.InDeltaf(t, 1-tanh*tanh+2*v, got[ii], 1e-12, "derivative at x=%g", v)
	}
}

func TestVariablesAndInitializers(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 3)
	v := graph.Variable(g, "v", axes.Make(n), dtypes.Float32, 1.0)
	w := graph.Variable(g, "w", axes.Make(n), dtypes.Float32, graph.Mul(v, graph.Scalar(g, dtypes.Float32, 3)))
	increment := graph.Sequential(graph.Assign(v, graph.Add(v, graph.Scalar(g, dtypes.Float32, 1)), false), v)

	t.Run("Order", func(t *testing.T) {
		ordered, err := orderedInitializers([]*graph.Node{w, v})
		require.NoError(t, err)
		// The constant 3 read by the initializer of w has its own initializer.
		require.Len(t, ordered, 3)
		vInit, wInit := slices.Index(ordered, v.Initializers()[0]), slices.Index(ordered, w.Initializers()[0])
		require.True(t, vInit >= 0 && wInit >= 0)
		assert.Less(t, vInit, wInit, "v must be initialized before w, which reads it")
		constInit := slices.IndexFunc(ordered, func(init *graph.Node) bool {
			return init != ordered[vInit] && init != ordered[wInit]
		})
		require.True(t, constInit >= 0)
		assert.Less(t, constInit, wInit, "the constant must be initialized before w reads it")
	})

	tr := newTransformer(t)
	incFn := must.M1(tr.Computation(increment))
	wFn := must.M1(tr.Computation(w))

	for _, want := range []float32{2, 3, 4} {
		result := must.M1(incFn.Call1())
		assert.Equal(t, []float32{want, want, want}, tensors.CopyFlatData[float32](result))
	}
	// Initializers run once: w keeps the value computed from the initial v.
	assert.Equal(t, []float32{3, 3, 3}, tensors.CopyFlatData[float32](must.M1(wFn.Call1())))
}

func TestBufferAssignment(t *testing.T) {
	build := func(t *testing.T) (*graph.Node, *graph.Node) {
		g := graph.NewGraph(t.Name())
		n := g.NewAxis("n", 5)
		x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float64)
		y := x
		for range 3 {
			y = graph.Exp(graph.Negative(graph.Tanh(y)))
		}
		return x, y
	}
	want := make([]float64, 5)
	input := []float64{-2, -1, 0, 1, 2}
	for ii, v := range input {
		for range 3 {
			v = math.Exp(-math.Tanh(v))
		}
		want[ii] = v
	}
	for _, reuse := range []bool{true, false} {
		t.Run(map[bool]string{true: "Reuse", false: "NoReuse"}[reuse], func(t *testing.T) {
			x, y := build(t)
			tr := newTransformer(t, WithBufferReuse(reuse))
			fn := must.M1(tr.Computation(y, x))
			require.NoError(t, tr.Finalize())

			// Simultaneously live tensors never share a buffer.
			s := fn.schedule
			def, last := make(map[*graph.Node]int), make(map[*graph.Node]int)
			for idx, node := range s.ops {
				for _, used := range append(node.Args(), node) {
					desc := used.TensorDescription()
					if desc == nil || desc.Persistent {
						continue
					}
					if _, found := def[desc.Base]; !found {
						def[desc.Base] = idx
					}
					last[desc.Base] = idx
				}
			}
			for _, result := range s.results {
				last[result.TensorDescription().Base] = len(s.ops)
			}
			owners := make([]*graph.Node, 0, len(def))
			for owner := range def {
				owners = append(owners, owner)
			}
			for ii, a := range owners {
				for _, b := range owners[ii+1:] {
					if s.buffers[a] != s.buffers[b] {
						continue
					}
					overlap := def[a] <= last[b] && def[b] <= last[a]
					assert.Falsef(t, overlap, "%s and %s are live at the same time, but share %s", a, b, s.buffers[a])
				}
			}

			var shared int
			for _, b := range tr.allocator.buffers {
				if b.owner == nil {
					shared++
				}
			}
			if reuse {
				assert.Equal(t, 2, shared, "a chain of unary ops needs only 2 alternating buffers")
			} else {
				assert.Equal(t, len(owners), shared)
			}

			result := must.M1(fn.Call1(input))
			assert.InDeltaSlice(t, want, tensors.CopyFlatData[float64](result), 1e-9)
		})
	}
}

func TestBufferAllocatorBestFit(t *testing.T) {
	a := newBufferAllocator(true)
	a.resetFreeLists()
	small, large := a.take(dtypes.Float32, 10), a.take(dtypes.Float32, 100)
	require.NotSame(t, small, large)
	other := a.take(dtypes.Int32, 10)
	a.release(small)
	a.release(large)
	a.release(other)

	assert.Same(t, large, a.take(dtypes.Float32, 50), "smallest free buffer large enough")
	grown := a.take(dtypes.Float32, 200)
	assert.Same(t, small, grown, "largest free buffer is grown if none is large enough")
	assert.Equal(t, 200, grown.numElements)
	assert.NotSame(t, other, a.take(dtypes.Float32, 1), "buffers are not shared across dtypes")
	assert.Same(t, other, a.take(dtypes.Int32, 5))
	assert.Len(t, a.buffers, 4)
}

func TestReturnKinds(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 2)
	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Int32)
	counter := graph.PersistentTensor(g, "counter", axes.Make(n), dtypes.Int32, 0)
	double := graph.Add(x, x)
	square := graph.Mul(x, x)
	update := graph.Assign(counter, graph.Add(counter, x), false)

	tr := newTransformer(t)
	tupleFn := must.M1(tr.Computation([]*graph.Node{double, update, square}, x))
	setFn := must.M1(tr.Computation(sets.MakeWith(double, square), x))
	counterFn := must.M1(tr.Computation(counter))

	results := tupleFn.Call([]int32{3, 4})
	require.Len(t, results, 3)
	assert.Equal(t, []int32{6, 8}, tensors.CopyFlatData[int32](results[0]))
	assert.Nil(t, results[1], "Assign has no value")
	assert.Equal(t, []int32{9, 16}, tensors.CopyFlatData[int32](results[2]))
	assert.Equal(t, []int32{3, 4}, tensors.CopyFlatData[int32](must.M1(counterFn.Call1())))

	m, err := setFn.CallMap([]int32{1, 2})
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, []int32{2, 4}, tensors.CopyFlatData[int32](m[double]))
	assert.Equal(t, []int32{1, 4}, tensors.CopyFlatData[int32](m[square]))

	_, err = tupleFn.Call1([]int32{1, 2})
	assert.Error(t, err)
}

func TestErrors(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 3)
	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
	y := graph.Negative(x)

	tr := newTransformer(t)
	_, err := tr.Computation(y, y)
	assert.True(t, errors.Is(err, errs.ErrShape), "parameters must be placeholders")
	_, err = tr.Computation("y", x)
	assert.Error(t, err)

	fn := must.M1(tr.Computation(y, x))
	_, err = fn.CallOrError()
	assert.True(t, errors.Is(err, errs.ErrArgumentCount))
	_, err = fn.CallOrError([]float32{1, 2}, []float32{1, 2})
	assert.True(t, errors.Is(err, errs.ErrArgumentCount))
	_, err = fn.CallOrError([]float32{1, 2})
	assert.True(t, errors.Is(err, errs.ErrShape), "argument dimensions must match the axes of the placeholder")

	// After finalization, no computation or pass can be added.
	_, err = tr.Computation(x, x)
	assert.True(t, errors.Is(err, errs.ErrIllegalMutation))
	err = tr.RegisterGraphPass(passes.SimplePrune())
	assert.True(t, errors.Is(err, errs.ErrIllegalMutation))

	// Nodes from another graph.
	tr2 := newTransformer(t)
	must.M1(tr2.Computation(y, x))
	other := graph.NewGraph("other")
	_, err = tr2.Computation(graph.Scalar(other, dtypes.Float32, 1))
	assert.Error(t, err)

	t.Run("UnboundAxis", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		u := g.NewAxis("u", axes.Unbound)
		x := graph.Placeholder(g, "x", axes.Make(u), dtypes.Float32)
		tr := newTransformer(t)
		must.M1(tr.Computation(graph.Tanh(x), x))
		err := tr.Finalize()
		assert.True(t, errors.Is(err, errs.ErrShape), "got %v", err)
		assert.Equal(t, StateDeclared, tr.State())
	})

	t.Run("Closed", func(t *testing.T) {
		tr := newTransformer(t)
		fn := must.M1(tr.Computation(y, x))
		tr.Close()
		_, err := fn.CallOrError([]float32{1, 2, 3})
		assert.Error(t, err)
	})
}

func TestStates(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 2)
	v := graph.Variable(g, "v", axes.Make(n), dtypes.Float32, 7)

	tr := newTransformer(t)
	fn := must.M1(tr.Computation(v))
	assert.Nil(t, fn.Ops())
	require.NoError(t, tr.Finalize())
	assert.Equal(t, StateFinalized, tr.State())
	assert.NotEmpty(t, fn.Ops())
	require.NoError(t, tr.Allocate())
	assert.Equal(t, StateAllocated, tr.State())
	require.NoError(t, tr.Initialize())
	assert.Equal(t, StateInitialized, tr.State())
	require.NoError(t, tr.Finalize(), "Finalize is a no-op once finalized")

	assert.Equal(t, []float32{7, 7}, tensors.CopyFlatData[float32](must.M1(fn.Call1())))

	state, err := StateString("allocated")
	require.NoError(t, err)
	assert.Equal(t, StateAllocated, state)
	assert.Equal(t, "Initialized", StateInitialized.String())
}
