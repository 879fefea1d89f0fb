// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package axes

import (
	"testing"

	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAxisIdentity(t *testing.T) {
	reg := NewRegistry()
	h1 := reg.New("H", 4)
	h2 := reg.New("H", 4)
	assert.NotEqual(t, h1, h2, "axes with the same name and length must be distinct")
	assert.Equal(t, h1, h1.Dual(-1).Dual(1))
	assert.NotEqual(t, h1, h1.Dual(-1))
	assert.Equal(t, 4, h1.Dual(-1).Length())
	assert.Equal(t, h1, h1.Dual(3).Primary())
	assert.Equal(t, "H[4]", h1.String())
	assert.Equal(t, "H^-1[4]", h1.Dual(-1).String())
}

func TestBindLength(t *testing.T) {
	reg := NewRegistry()
	n := reg.New("N", Unbound, RoleBatch)
	dual := n.Dual(-1)
	assert.False(t, n.IsBound())
	require.NoError(t, reg.BindLength(n, 8))
	assert.Equal(t, 8, n.Length())
	assert.Equal(t, 8, dual.Length(), "binding is shared by every handle of the entry")
	require.NoError(t, reg.BindLength(dual, 8), "re-binding to the same length is a no-op")
	err := reg.BindLength(n, 16)
	require.ErrorIs(t, err, errs.ErrIllegalMutation)
	assert.Equal(t, 8, n.Length())

	// Axes from another registry are rejected.
	other := NewRegistry().New("N", Unbound)
	require.Error(t, reg.BindLength(other, 2))
}

func TestAxesAlgebra(t *testing.T) {
	reg := NewRegistry()
	c := reg.New("C", 3, RoleChannel)
	h := reg.New("H", 4)
	w := reg.New("W", 5)
	n := reg.New("N", 2, RoleBatch)

	chw := Make(c, h, w)
	hn := Make(h, n)
	assert.True(t, chw.Union(hn).Equal(Make(c, h, w, n)))
	assert.True(t, chw.Sub(hn).Equal(Make(c, w)))
	assert.True(t, chw.Intersect(hn).Equal(Make(h)))
	assert.True(t, hn.Union(chw).Equal(Make(h, n, c, w)))
	assert.True(t, Make(w, c, h).SameSet(chw))
	assert.False(t, Make(w, c, h).Equal(chw))
	assert.Equal(t, 60, chw.Size())
	assert.Equal(t, 1, Axes{}.Size())
	assert.Equal(t, []int{3, 4, 5}, chw.Lengths())

	_, err := MakeOrError(c, h, c)
	require.ErrorIs(t, err, errs.ErrShape)
	_, err = chw.ConcatOrError(hn)
	require.ErrorIs(t, err, errs.ErrShape)
	assert.True(t, chw.Concat(Make(n)).Equal(Make(c, h, w, n)))

	// Roles.
	all := Make(c, h, w, n)
	assert.True(t, all.BatchAxes().Equal(Make(n)))
	assert.True(t, all.SampleAxes().Equal(chw))
	_, found := all.RecurrentAxis()
	assert.False(t, found)

	perm, ok := chw.Permutation(Make(w, c, h))
	require.True(t, ok)
	assert.Equal(t, []int{2, 0, 1}, perm)
	_, ok = chw.Permutation(hn)
	assert.False(t, ok)

	// Duals.
	dualed := chw.Dual(-1)
	assert.Equal(t, 0, dualed.Intersect(chw).Len())
	assert.True(t, dualed.Dual(1).Equal(chw))
}

func TestFlattenUnflatten(t *testing.T) {
	reg := NewRegistry()
	c := reg.New("C", 3)
	h := reg.New("H", Unbound)
	n := reg.New("N", 2, RoleBatch)

	flat := reg.Flatten(Make(c, h))
	assert.True(t, flat.IsFlattened())
	assert.Equal(t, Unbound, flat.Length())
	require.NoError(t, reg.BindLength(h, 4))
	assert.Equal(t, 12, flat.Length(), "flattened length follows its sub-axes")
	assert.Equal(t, flat, reg.Flatten(Make(c, h)), "flattening the same group must be deterministic")
	assert.NotEqual(t, flat, reg.Flatten(Make(h, c)))

	flattened := Make(flat, n)
	assert.True(t, flattened.Unflatten().Equal(Make(c, h, n)))

	// Nested flattening.
	nested := reg.Flatten(Make(flat, n))
	assert.True(t, Make(nested).Unflatten().Equal(Make(c, h, n)))
	assert.Equal(t, 24, nested.Length())

	// A single axis is its own flattening.
	assert.Equal(t, c, reg.Flatten(Make(c)))
}

func TestSlicedAxis(t *testing.T) {
	reg := NewRegistry()
	h := reg.New("H", 10)
	s := reg.Slice(h, Range{Start: 1, Stop: 8, Step: 2})
	assert.Equal(t, 4, s.Length())
	assert.Equal(t, s, reg.Slice(h, Range{Start: 1, Stop: 8, Step: 2}))
	parent, rng, ok := s.SliceOf()
	require.True(t, ok)
	assert.Equal(t, h, parent)
	assert.Equal(t, 2, rng.Step)
	require.ErrorIs(t, reg.BindLength(s, 4), errs.ErrIllegalMutation)

	assert.Equal(t, 3, Range{Start: 9, Stop: 3, Step: -2}.Len())
	assert.Equal(t, 0, Range{Start: 3, Stop: 3, Step: 1}.Len())
}
