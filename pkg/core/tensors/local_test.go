// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"strconv"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestShapeForValue(t *testing.T) {
	testCases := []struct {
		name  string
		value any
		want  shapes.Shape
	}{
		{"matrix", [][]float32{{0, 0}, {1, 1}, {2, 2}}, shapes.Make(dtypes.Float32, 3, 2)},
		{"rank3", [][][]float64{{{1}}}, shapes.Make(dtypes.Float64, 1, 1, 1)},
		{"bool", [][]bool{{true, false}, {false, false}}, shapes.Make(dtypes.Bool, 2, 2)},
		{"scalar", int64(5), shapes.Make(dtypes.Int64)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			shape, err := shapeForValue(tc.value)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(shape), "got %s, wanted %s", shape, tc.want)
		})
	}

	_, err := shapeForValue([][]string{{"blah"}})
	require.Error(t, err)
	_, err = shapeForValue([][][]int32{{{1}}, {{1, 2}}})
	require.Error(t, err, "irregular slices must fail")
	_, err = shapeForValue([]float32{})
	require.Error(t, err)
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())

	scalar := FromValue(int64(5))
	assert.Equal(t, int64(5), scalar.Value())
	assert.Equal(t, int64(5), ToScalar[int64](scalar))

	// Go `int` is stored in the platform's integer dtype.
	fromInt := FromValue([]int{1, 2})
	if strconv.IntSize == 64 {
		assert.Equal(t, dtypes.Int64, fromInt.DType())
		assert.Equal(t, []int64{1, 2}, fromInt.Value())
	}

	assert.Same(t, tensor, FromAnyValue(tensor))
	assert.Panics(t, func() { FromAnyValue([]string{"a"}) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, tensor.Value())
	assert.Panics(t, func() { FromFlatDataAndDimensions([]float64{1, 2, 3}, 2, 2) })

	filled := FromScalarAndDimensions(float32(7), 3)
	assert.Equal(t, []float32{7, 7, 7}, filled.Value())

	zeros := FromShape(shapes.Make(dtypes.Int32, 2, 0))
	assert.Equal(t, 0, zeros.Size())
}

func TestEqualAndInDelta(t *testing.T) {
	a := FromValue([]float32{1, 2, 3})
	b := FromValue([]float32{1, 2, 3.001})
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a.Clone()))
	assert.True(t, a.InDelta(b, 0.01))
	assert.False(t, a.InDelta(b, 1e-6))
	assert.False(t, a.InDelta(FromValue([]float64{1, 2, 3}), 1), "different dtypes are never in delta")
}

func TestConvertTo(t *testing.T) {
	a := FromValue([]float32{1.5, -2, 0})
	f16 := a.ConvertTo(dtypes.Float16)
	assert.Equal(t, dtypes.Float16, f16.DType())
	assert.Equal(t, float16.Fromfloat32(1.5), CopyFlatData[float16.Float16](f16)[0])
	back := f16.ConvertTo(dtypes.Float32)
	assert.True(t, a.Equal(back))

	asBool := a.ConvertTo(dtypes.Bool)
	assert.Equal(t, []bool{true, true, false}, asBool.Value())
	assert.Equal(t, []float64{1.5, -2, 0}, a.Float64s())
	assert.True(t, a.Equal(FromFloat64s(a.Shape(), []float64{1.5, -2, 0})))
}

func TestReshapeAndCopy(t *testing.T) {
	a := FromValue([]int32{1, 2, 3, 4, 5, 6})
	r := a.Reshape(2, 3)
	assert.Equal(t, [][]int32{{1, 2, 3}, {4, 5, 6}}, r.Value())
	MutableFlatData(r, func(flat []int32) { flat[0] = 10 })
	assert.Equal(t, int32(10), CopyFlatData[int32](a)[0], "Reshape shares the data")

	c := FromShape(r.Shape())
	c.CopyFrom(r)
	assert.True(t, c.Equal(r))
	assert.Panics(t, func() { c.CopyFrom(a) })
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "float32(1.5)", FromScalar(float32(1.5)).String())
	assert.Equal(t, "[2][2]int32{{1, 2}, {3, 4}}", FromValue([][]int32{{1, 2}, {3, 4}}).String())
	assert.Equal(t, "[8]int64{0, 1, 2, ..., 5, 6, 7}",
		FromValue([]int64{0, 1, 2, 3, 4, 5, 6, 7}).String())
}
