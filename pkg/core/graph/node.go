// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Flags of a node.
type Flags uint8

const (
	// FlagConstant marks nodes whose value can't be assigned to (unless forced).
	FlagConstant Flags = 1 << iota

	// FlagPersistent marks storage that survives across calls of a computation: it gets a dedicated buffer.
	FlagPersistent

	// FlagTrainable marks variables that are updated by training.
	FlagTrainable

	// FlagInput marks placeholders, whose value is given at every call.
	FlagInput
)

// String implements fmt.Stringer.
func (f Flags) String() string {
	var parts []string
	for _, flag := range []struct {
		f    Flags
		name string
	}{{FlagConstant, "constant"}, {FlagPersistent, "persistent"}, {FlagTrainable, "trainable"}, {FlagInput, "input"}} {
		if f&flag.f != 0 {
			parts = append(parts, flag.name)
		}
	}
	return strings.Join(parts, "|")
}

// Node represents the result of an operation in the computation graph, and can be used as input to further
// operations. Nodes that are not tensors (Assign, Parallel, ...) represent side effects.
//
// All accessors resolve forwarding first (see Graph.Replace): calling them on a replaced node returns the
// values of its replacement.
type Node struct {
	graph  *Graph
	id     NodeId
	opType OpType

	// args are the data dependencies, as given at construction: they must be resolved before use.
	args []*Node

	// controlDeps are extra must-run-before dependencies, not carrying data.
	controlDeps []*Node

	axes   axes.Axes
	dtype  dtypes.DType
	flags  Flags
	value  *tensors.Tensor
	params any

	metadata     map[string]any
	initializers []*Node
	schemas      []Schema
	scale        *Node
	uuid         uuid.UUID
	name         string

	descGeneration uint64
	desc           *TensorDescription
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Id is the unique id of this node within the Graph. It is not resolved: a replaced node keeps its id.
func (n *Node) Id() NodeId { return n.id }

// Resolve returns the node that handles n: n itself, or the (last) replacement of n.
func (n *Node) Resolve() *Node {
	return n.graph.nodes[n.graph.resolve(n.id)]
}

// IsForwarded returns whether n was replaced by another node.
func (n *Node) IsForwarded() bool {
	return n.graph.resolve(n.id) != n.id
}

// Type of the operation.
func (n *Node) Type() OpType { return n.Resolve().opType }

// NumArgs returns the number of data arguments.
func (n *Node) NumArgs() int { return len(n.Resolve().args) }

// Arg returns the resolved i-th argument.
func (n *Node) Arg(i int) *Node { return n.Resolve().args[i].Resolve() }

// Args returns the resolved data arguments.
func (n *Node) Args() []*Node {
	r := n.Resolve()
	args := make([]*Node, len(r.args))
	for ii, arg := range r.args {
		args[ii] = arg.Resolve()
	}
	return args
}

// ControlDeps returns the resolved control dependencies, not including the arguments.
func (n *Node) ControlDeps() []*Node {
	r := n.Resolve()
	deps := make([]*Node, 0, len(r.controlDeps))
	for _, dep := range r.controlDeps {
		dep = dep.Resolve()
		if dep != r && !slices.Contains(deps, dep) {
			deps = append(deps, dep)
		}
	}
	return deps
}

// Deps returns all the nodes that must be executed before n: its control dependencies followed by its
// arguments, resolved and without duplicates.
func (n *Node) Deps() []*Node {
	r := n.Resolve()
	deps := r.ControlDeps()
	for _, arg := range r.args {
		arg = arg.Resolve()
		if !slices.Contains(deps, arg) {
			deps = append(deps, arg)
		}
	}
	return deps
}

// AddControlDep adds dep as a must-run-before dependency of n.
//
// It is a no-op if dep resolves to n itself, if it already is a dependency (an argument or a control
// dependency), or if n is an allocation site (Assignable nodes are not executed).
func (n *Node) AddControlDep(dep *Node) {
	r, dep := n.Resolve(), dep.Resolve()
	if dep == r || r.opType == OpTypeAssignable {
		return
	}
	if slices.Contains(r.Deps(), dep) {
		return
	}
	r.controlDeps = append(r.controlDeps, dep)
}

// RemoveControlDep removes dep from the control dependencies of n.
func (n *Node) RemoveControlDep(dep *Node) {
	r, dep := n.Resolve(), dep.Resolve()
	r.controlDeps = slices.DeleteFunc(r.controlDeps, func(d *Node) bool { return d.Resolve() == dep })
}

// Axes of the node's value. Empty for scalars and for non-tensor nodes.
func (n *Node) Axes() axes.Axes {
	r := n.Resolve()
	if (r.opType == OpTypeSequential || r.opType == OpTypeTensorValue) && len(r.args) > 0 {
		return r.Arg(0).Axes()
	}
	return r.axes
}

// DType of the node's value, or dtypes.InvalidDType for non-tensor nodes.
func (n *Node) DType() dtypes.DType {
	r := n.Resolve()
	if (r.opType == OpTypeSequential || r.opType == OpTypeTensorValue) && len(r.args) > 0 {
		return r.Arg(0).DType()
	}
	return r.dtype
}

// IsTensor returns whether the node has a tensor value. Nodes for side effects only (Assign, Parallel, ...)
// are not tensors.
func (n *Node) IsTensor() bool { return n.DType() != dtypes.InvalidDType }

// IsScalar returns whether the node is a tensor without axes.
func (n *Node) IsScalar() bool { return n.IsTensor() && n.Axes().IsScalar() }

// Rank returns the number of axes of the node.
func (n *Node) Rank() int { return n.Axes().Len() }

// ShapeOrError returns the dense shape of the node's value, with one dimension per axis.
// It fails with errs.ErrShape if any of the axes is not bound yet.
func (n *Node) ShapeOrError() (shapes.Shape, error) {
	ax := n.Axes()
	if !n.IsTensor() {
		return shapes.Shape{}, errors.Errorf("node %s is not a tensor, it has no shape", n)
	}
	if !ax.AllBound() {
		return shapes.Shape{}, errors.Wrapf(errs.ErrShape, "node %s has unbound axes %s", n, ax)
	}
	return shapes.Make(n.DType(), ax.Lengths()...), nil
}

// Shape returns the dense shape of the node's value. It panics if any of the axes is not bound yet.
func (n *Node) Shape() shapes.Shape {
	shape, err := n.ShapeOrError()
	if err != nil {
		panic(err)
	}
	return shape
}

// Flags of the node.
func (n *Node) Flags() Flags { return n.Resolve().flags }

// IsConstant returns whether the node can't be assigned to.
func (n *Node) IsConstant() bool { return n.Flags()&FlagConstant != 0 }

// IsPersistent returns whether the node's storage survives across computation calls.
func (n *Node) IsPersistent() bool { return n.Flags()&FlagPersistent != 0 }

// IsTrainable returns whether the node is a trainable variable.
func (n *Node) IsTrainable() bool { return n.Flags()&FlagTrainable != 0 }

// IsInput returns whether the node is fed at every call.
func (n *Node) IsInput() bool { return n.Flags()&FlagInput != 0 }

// IsPlaceholder returns whether the node is an input allocation site (see Placeholder).
func (n *Node) IsPlaceholder() bool { return n.Type() == OpTypeAssignable && n.IsInput() }

// IsDeviceOp returns whether the node is executed as an instruction by the backend.
func (n *Node) IsDeviceOp() bool { return n.Type().IsDeviceOp() }

// ConstValue returns the host value of a constant node, or nil if it is not a constant with a known value.
func (n *Node) ConstValue() *tensors.Tensor { return n.Resolve().value }

// ScalarValue returns the value of a constant whose elements all have the same value: either a scalar
// constant or a broadcast of one.
func (n *Node) ScalarValue() (float64, bool) {
	r := n.Resolve()
	if r.opType == OpTypeBroadcast || r.opType == OpTypeExpandDims {
		return r.Arg(0).ScalarValue()
	}
	if r.opType != OpTypeAssignable || r.value == nil || r.flags&FlagConstant == 0 {
		return 0, false
	}
	if r.value.Size() == 0 {
		return 0, false
	}
	values := r.value.Float64s()
	for _, v := range values[1:] {
		if v != values[0] {
			return 0, false
		}
	}
	return values[0], true
}

// Params returns the op-specific parameters of the node (e.g. *ReduceParams, *SliceParams), or nil.
func (n *Node) Params() any { return n.Resolve().params }

// Metadata returns a copy of the node's metadata.
func (n *Node) Metadata() map[string]any { return maps.Clone(n.Resolve().metadata) }

// GetMetadata returns the value of the metadata key.
func (n *Node) GetMetadata(key string) (value any, found bool) {
	value, found = n.Resolve().metadata[key]
	return
}

// SetMetadata sets the metadata key of the node.
func (n *Node) SetMetadata(key string, value any) {
	r := n.Resolve()
	if r.metadata == nil {
		r.metadata = make(map[string]any)
	}
	r.metadata[key] = value
}

// Initializers returns the resolved ops that must run once before n is first used.
func (n *Node) Initializers() []*Node {
	r := n.Resolve()
	inits := make([]*Node, len(r.initializers))
	for ii, init := range r.initializers {
		inits[ii] = init.Resolve()
	}
	return inits
}

// AddInitializer registers an op to be run once, before n is used.
func (n *Node) AddInitializer(init *Node) {
	r := n.Resolve()
	r.initializers = append(r.initializers, init)
}

// Schemas returns the schemas the node was annotated with. See Schema.
func (n *Node) Schemas() []Schema { return slices.Clone(n.Resolve().schemas) }

// AddSchema annotates the node with schema.
func (n *Node) AddSchema(schema Schema) {
	r := n.Resolve()
	r.schemas = append(r.schemas, schema)
}

// AdjointScale returns the factor applied to the node's adjoint during differentiation, or nil.
func (n *Node) AdjointScale() *Node {
	r := n.Resolve()
	if r.scale == nil {
		return nil
	}
	return r.scale.Resolve()
}

// SetAdjointScale sets a factor applied to the node's adjoint before it is propagated to its arguments.
// It must be a scalar.
func (n *Node) SetAdjointScale(scale *Node) {
	if !scale.IsScalar() {
		panic(errors.Wrapf(errs.ErrShape, "adjoint scale must be a scalar, got %s", scale.Axes()))
	}
	n.Resolve().scale = scale
}

// UUID of the node, unique across graphs and processes.
func (n *Node) UUID() uuid.UUID { return n.Resolve().uuid }

// Name of the node, if one was given.
func (n *Node) Name() string { return n.Resolve().name }

// SetName sets the name of the node.
func (n *Node) SetName(name string) { n.Resolve().name = name }

// String implements the `fmt.Stringer` interface.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	if n.graph == nil {
		return "Node(invalid)"
	}
	r := n.Resolve()
	var sb strings.Builder
	if r.name != "" {
		_, _ = fmt.Fprintf(&sb, "[%q] ", r.name)
	}
	_, _ = fmt.Fprintf(&sb, "#%d %s(", r.id, r.opType)
	for ii, arg := range r.args {
		if ii > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "#%d", arg.Resolve().id)
	}
	sb.WriteString(")")
	if r.flags != 0 {
		_, _ = fmt.Fprintf(&sb, " [%s]", r.flags)
	}
	if r.IsTensor() {
		_, _ = fmt.Fprintf(&sb, " -> (%s)%s", r.DType(), r.Axes())
		if ax := r.Axes(); ax.AllBound() {
			_, _ = fmt.Fprintf(&sb, " - mem: %s",
				humanize.Bytes(uint64(ax.Size())*uint64(r.DType().Size())))
		}
	}
	if r != n {
		_, _ = fmt.Fprintf(&sb, " (forwarded from #%d)", n.id)
	}
	return sb.String()
}

// AssertTensor panics if n is not a tensor node.
func (n *Node) AssertTensor() {
	if n == nil {
		exceptions.Panicf("Node is nil")
	}
	if !n.IsTensor() {
		panic(errors.Wrapf(errs.ErrShape, "node %s has no tensor value", n))
	}
}
