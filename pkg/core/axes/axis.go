// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package axes implements named, identity-bearing dimensions (Axis) and ordered collections of them (Axes).
//
// Axes are created in a Registry, an arena that owns every axis entry: an Axis value is just a handle
// (registry, id, dual offset), so it is comparable and cheap to copy. Binding an axis length is an explicit
// operation on the registry entry (Registry.BindLength), and it is visible from every handle sharing that
// id -- there is no hidden aliasing across registries.
//
// Two axes created with the same name are different axes. An axis and its "dual" (Axis.Dual) share the
// same entry (and length), but are different axes for set algebra: duals are used to mark which dimensions
// pair up in a tensor contraction (see graph.Dot).
package axes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/pkg/errors"
)

// AxisID indexes an entry in a Registry.
type AxisID int32

// Unbound is the length of an axis whose length hasn't been bound yet.
const Unbound = -1

// Role is a semantic tag attached to an axis.
type Role string

const (
	// RoleBatch marks batch axes. Axes without it are "sample" axes.
	RoleBatch Role = "batch"

	// RoleRecurrent marks the time axis of recurrent computations.
	RoleRecurrent Role = "recurrent"

	// RoleChannel marks feature/channel axes.
	RoleChannel Role = "channel"
)

type axisKind int

const (
	kindPlain axisKind = iota
	kindFlattened
	kindSliced
)

// Range is a normalized slice of an axis: indices Start, Start+Step, ... up to (excluding) Stop.
// Step can be negative, in which case Start > Stop.
type Range struct {
	Start, Stop, Step int
}

// Len returns the number of indices selected by the range.
func (r Range) Len() int {
	if r.Step > 0 && r.Stop > r.Start {
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Step < 0 && r.Start > r.Stop {
		return (r.Start - r.Stop - r.Step - 1) / (-r.Step)
	}
	return 0
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("%d:%d:%d", r.Start, r.Stop, r.Step)
}

type entry struct {
	name   string
	length int
	roles  sets.Set[Role]
	kind   axisKind

	// sub-axes of a flattened axis.
	sub Axes

	// parent and range of a sliced axis.
	parent Axis
	rng    Range
}

type sliceKey struct {
	parent Axis
	rng    Range
}

// Registry is the arena owning the axis entries.
//
// It is not safe for concurrent mutation: axes are created and bound while building a graph.
type Registry struct {
	entries   []entry
	flattened map[string]AxisID
	sliced    map[sliceKey]AxisID
}

// NewRegistry creates an empty axis Registry.
func NewRegistry() *Registry {
	return &Registry{
		flattened: make(map[string]AxisID),
		sliced:    make(map[sliceKey]AxisID),
	}
}

// Len returns the number of entries in the registry.
func (r *Registry) Len() int { return len(r.entries) }

func (r *Registry) add(e entry) Axis {
	id := AxisID(len(r.entries))
	r.entries = append(r.entries, e)
	return Axis{reg: r, id: id}
}

// New creates a new axis with a fresh identity.
//
// Length can be Unbound, in which case it must be bound with BindLength before the axis is used in a
// computation. It panics if length is negative (other than Unbound).
func (r *Registry) New(name string, length int, roles ...Role) Axis {
	if length < 0 && length != Unbound {
		panic(errors.Wrapf(errs.ErrShape, "axis %q: invalid length %d", name, length))
	}
	return r.add(entry{name: name, length: length, roles: sets.MakeWith(roles...)})
}

// BindLength binds the length of an unbound axis (and all its duals).
//
// Binding an axis to the length it already has is a no-op. It returns an error wrapping errs.ErrIllegalMutation
// if the length was already bound to a different value, or if the axis is a derived (flattened or sliced) axis.
func (r *Registry) BindLength(axis Axis, length int) error {
	if axis.reg != r {
		return errors.Errorf("axis %s doesn't belong to this registry", axis)
	}
	if length < 0 {
		return errors.Wrapf(errs.ErrShape, "cannot bind axis %s to negative length %d", axis, length)
	}
	e := &r.entries[axis.id]
	if e.kind != kindPlain {
		return errors.Wrapf(errs.ErrIllegalMutation, "cannot bind length of derived axis %s", axis)
	}
	if e.length == length {
		return nil
	}
	if e.length != Unbound {
		return errors.Wrapf(errs.ErrIllegalMutation, "axis %s already bound to length %d, cannot rebind to %d",
			axis, e.length, length)
	}
	e.length = length
	return nil
}

// Flatten returns the axis representing the contiguous group of axes collapsed into one.
//
// Flattening the same group twice returns the same axis. A group of one axis is returned unchanged.
func (r *Registry) Flatten(group Axes) Axis {
	if group.Len() == 0 {
		panic(errors.Wrapf(errs.ErrShape, "cannot flatten an empty group of axes"))
	}
	if group.Len() == 1 {
		return group.At(0)
	}
	key := group.key()
	if id, found := r.flattened[key]; found {
		return Axis{reg: r, id: id}
	}
	axis := r.add(entry{
		name:   strings.Join(group.Names(), "_"),
		length: Unbound,
		kind:   kindFlattened,
		sub:    group,
		roles:  sets.Make[Role](),
	})
	r.flattened[key] = axis.id
	return axis
}

// Slice returns the axis resulting from slicing parent with the given normalized range.
//
// Slicing the same axis with the same range twice returns the same axis.
func (r *Registry) Slice(parent Axis, rng Range) Axis {
	key := sliceKey{parent: parent, rng: rng}
	if id, found := r.sliced[key]; found {
		return Axis{reg: r, id: id}
	}
	axis := r.add(entry{
		name:   parent.Name(),
		length: rng.Len(),
		kind:   kindSliced,
		parent: parent,
		rng:    rng,
		roles:  sets.MakeWith(parent.Roles()...),
	})
	r.sliced[key] = axis.id
	return axis
}

// Axis is a handle to an axis entry in a Registry, plus a dual offset.
//
// Axis is comparable: two handles are the same axis iff they refer to the same entry with the same dual offset.
// The zero value is an invalid axis.
type Axis struct {
	reg  *Registry
	id   AxisID
	dual int
}

// Ok returns whether the axis is valid.
func (a Axis) Ok() bool { return a.reg != nil }

// Registry owning the axis.
func (a Axis) Registry() *Registry { return a.reg }

// ID of the axis entry. Duals share the same ID.
func (a Axis) ID() AxisID { return a.id }

// DualOffset returns the dual offset of the axis (0 for a primary axis).
func (a Axis) DualOffset() int { return a.dual }

// Dual returns the axis with its dual offset shifted by offset.
func (a Axis) Dual(offset int) Axis {
	a.dual += offset
	return a
}

// Primary returns the axis with a 0 dual offset.
func (a Axis) Primary() Axis {
	a.dual = 0
	return a
}

func (a Axis) entry() *entry {
	if a.reg == nil {
		panic(errors.New("invalid (zero) Axis used"))
	}
	return &a.reg.entries[a.id]
}

// Name of the axis. Not unique.
func (a Axis) Name() string { return a.entry().name }

// Length of the axis, or Unbound.
func (a Axis) Length() int {
	e := a.entry()
	if e.kind == kindFlattened {
		return e.sub.Size()
	}
	return e.length
}

// IsBound returns whether the length of the axis is known.
func (a Axis) IsBound() bool { return a.Length() != Unbound }

// Roles of the axis.
func (a Axis) Roles() []Role {
	roles := make([]Role, 0, len(a.entry().roles))
	for role := range a.entry().roles {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles
}

// HasRole returns whether the axis was created with the given role.
func (a Axis) HasRole(role Role) bool { return a.entry().roles.Has(role) }

// IsBatch returns whether the axis has the RoleBatch role.
func (a Axis) IsBatch() bool { return a.HasRole(RoleBatch) }

// IsRecurrent returns whether the axis has the RoleRecurrent role.
func (a Axis) IsRecurrent() bool { return a.HasRole(RoleRecurrent) }

// IsFlattened returns whether the axis was created by Registry.Flatten.
func (a Axis) IsFlattened() bool { return a.entry().kind == kindFlattened }

// SubAxes returns the axes collapsed into a flattened axis. It returns the axis itself for other axes.
func (a Axis) SubAxes() Axes {
	e := a.entry()
	if e.kind != kindFlattened {
		return Make(a)
	}
	return e.sub
}

// SliceOf returns the parent axis and range of a sliced axis, and false for other axes.
func (a Axis) SliceOf() (parent Axis, rng Range, ok bool) {
	e := a.entry()
	if e.kind != kindSliced {
		return
	}
	return e.parent, e.rng, true
}

// String returns "name[length]", with a "^offset" suffix for duals.
func (a Axis) String() string {
	if a.reg == nil {
		return "<invalid axis>"
	}
	name := a.Name()
	if name == "" {
		name = fmt.Sprintf("#%d", a.id)
	}
	var lengthStr string
	if l := a.Length(); l == Unbound {
		lengthStr = "?"
	} else {
		lengthStr = fmt.Sprint(l)
	}
	if a.dual != 0 {
		return fmt.Sprintf("%s^%d[%s]", name, a.dual, lengthStr)
	}
	return fmt.Sprintf("%s[%s]", name, lengthStr)
}
