// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package axes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// Axes is an immutable ordered collection of distinct axes.
//
// The zero value is the empty collection (the axes of a scalar).
type Axes struct {
	list []Axis
}

// MakeOrError returns the Axes with the given axes, in order.
// It returns an error wrapping errs.ErrShape if an axis appears more than once.
func MakeOrError(list ...Axis) (Axes, error) {
	for i, axis := range list {
		if !axis.Ok() {
			return Axes{}, errors.Wrapf(errs.ErrShape, "invalid axis at position %d", i)
		}
		if slices.Index(list[:i], axis) >= 0 {
			return Axes{}, errors.Wrapf(errs.ErrShape, "duplicate axis %s in axes %v", axis, list)
		}
	}
	return Axes{list: slices.Clone(list)}, nil
}

// Make returns the Axes with the given axes, in order. It panics if an axis appears more than once.
func Make(list ...Axis) Axes {
	ax, err := MakeOrError(list...)
	if err != nil {
		panic(err)
	}
	return ax
}

// Len returns the number of axes.
func (ax Axes) Len() int { return len(ax.list) }

// IsScalar returns whether there are no axes.
func (ax Axes) IsScalar() bool { return len(ax.list) == 0 }

// At returns the i-th axis.
func (ax Axes) At(i int) Axis { return ax.list[i] }

// All returns a copy of the axes as a slice.
func (ax Axes) All() []Axis { return slices.Clone(ax.list) }

// Index returns the position of axis, or -1 if not present.
func (ax Axes) Index(axis Axis) int { return slices.Index(ax.list, axis) }

// Has returns whether axis is in the collection.
func (ax Axes) Has(axis Axis) bool { return ax.Index(axis) >= 0 }

// Union returns ax followed by the axes of other not in ax.
func (ax Axes) Union(other Axes) Axes {
	list := slices.Clone(ax.list)
	for _, axis := range other.list {
		if !ax.Has(axis) {
			list = append(list, axis)
		}
	}
	return Axes{list: list}
}

// Sub returns the axes of ax not in other, in ax's order.
func (ax Axes) Sub(other Axes) Axes {
	var list []Axis
	for _, axis := range ax.list {
		if !other.Has(axis) {
			list = append(list, axis)
		}
	}
	return Axes{list: list}
}

// Intersect returns the axes of ax also in other, in ax's order.
func (ax Axes) Intersect(other Axes) Axes {
	var list []Axis
	for _, axis := range ax.list {
		if other.Has(axis) {
			list = append(list, axis)
		}
	}
	return Axes{list: list}
}

// ConcatOrError returns ax followed by other. It fails if they have axes in common.
func (ax Axes) ConcatOrError(other Axes) (Axes, error) {
	return MakeOrError(slices.Concat(ax.list, other.list)...)
}

// Concat returns ax followed by other. It panics if they have axes in common.
func (ax Axes) Concat(other Axes) Axes {
	return Make(slices.Concat(ax.list, other.list)...)
}

// Insert returns a copy of ax with axis inserted at position pos.
func (ax Axes) Insert(pos int, axis Axis) Axes {
	return Make(slices.Insert(slices.Clone(ax.list), pos, axis)...)
}

// Equal returns whether ax and other have the same axes in the same order.
func (ax Axes) Equal(other Axes) bool { return slices.Equal(ax.list, other.list) }

// SameSet returns whether ax and other have the same axes, in any order.
func (ax Axes) SameSet(other Axes) bool {
	if ax.Len() != other.Len() {
		return false
	}
	for _, axis := range ax.list {
		if !other.Has(axis) {
			return false
		}
	}
	return true
}

// IsSubsetOf returns whether all axes of ax are in other.
func (ax Axes) IsSubsetOf(other Axes) bool {
	for _, axis := range ax.list {
		if !other.Has(axis) {
			return false
		}
	}
	return true
}

// Dual returns the axes with their dual offsets shifted by offset.
func (ax Axes) Dual(offset int) Axes {
	list := make([]Axis, len(ax.list))
	for i, axis := range ax.list {
		list[i] = axis.Dual(offset)
	}
	return Axes{list: list}
}

// Map returns the axes transformed by fn. It panics if the result has duplicates.
func (ax Axes) Map(fn func(Axis) Axis) Axes {
	list := make([]Axis, len(ax.list))
	for i, axis := range ax.list {
		list[i] = fn(axis)
	}
	return Make(list...)
}

// Lengths returns the length of each axis (Unbound for unbound axes).
func (ax Axes) Lengths() []int {
	lengths := make([]int, len(ax.list))
	for i, axis := range ax.list {
		lengths[i] = axis.Length()
	}
	return lengths
}

// AllBound returns whether every axis has a bound length.
func (ax Axes) AllBound() bool {
	for _, axis := range ax.list {
		if !axis.IsBound() {
			return false
		}
	}
	return true
}

// Size returns the product of the lengths, 1 for a scalar, or Unbound if any axis is unbound.
func (ax Axes) Size() int {
	size := 1
	for _, axis := range ax.list {
		l := axis.Length()
		if l == Unbound {
			return Unbound
		}
		size *= l
	}
	return size
}

// Unflatten expands every flattened axis into its sub-axes (recursively).
func (ax Axes) Unflatten() Axes {
	var list []Axis
	for _, axis := range ax.list {
		if axis.IsFlattened() {
			list = append(list, axis.SubAxes().Unflatten().list...)
		} else {
			list = append(list, axis)
		}
	}
	return Make(list...)
}

// ByRole returns the axes that have the given role, in order.
func (ax Axes) ByRole(role Role) Axes {
	var list []Axis
	for _, axis := range ax.list {
		if axis.HasRole(role) {
			list = append(list, axis)
		}
	}
	return Axes{list: list}
}

// BatchAxes returns the axes with the RoleBatch role.
func (ax Axes) BatchAxes() Axes { return ax.ByRole(RoleBatch) }

// SampleAxes returns the axes that are not batch axes.
func (ax Axes) SampleAxes() Axes { return ax.Sub(ax.BatchAxes()) }

// RecurrentAxis returns the first axis with the RoleRecurrent role, if any.
func (ax Axes) RecurrentAxis() (Axis, bool) {
	for _, axis := range ax.list {
		if axis.IsRecurrent() {
			return axis, true
		}
	}
	return Axis{}, false
}

// FindByName returns the first axis with the given name.
func (ax Axes) FindByName(name string) (Axis, bool) {
	for _, axis := range ax.list {
		if axis.Name() == name {
			return axis, true
		}
	}
	return Axis{}, false
}

// Names returns the names of the axes.
func (ax Axes) Names() []string {
	names := make([]string, len(ax.list))
	for i, axis := range ax.list {
		names[i] = axis.Name()
	}
	return names
}

// Permutation returns, for each axis of target, its position in ax.
// It returns false if the two collections are not the same set.
func (ax Axes) Permutation(target Axes) ([]int, bool) {
	if !ax.SameSet(target) {
		return nil, false
	}
	perm := make([]int, target.Len())
	for i, axis := range target.list {
		perm[i] = ax.Index(axis)
	}
	return perm, true
}

// String implements fmt.Stringer.
func (ax Axes) String() string {
	parts := make([]string, len(ax.list))
	for i, axis := range ax.list {
		parts[i] = axis.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// key uniquely identifies the ordered collection within its registry.
func (ax Axes) key() string {
	var sb strings.Builder
	for i, axis := range ax.list {
		if i > 0 {
			sb.WriteByte(',')
		}
		_, _ = fmt.Fprintf(&sb, "%d^%d", axis.id, axis.dual)
	}
	return sb.String()
}
