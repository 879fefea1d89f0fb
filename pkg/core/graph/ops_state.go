// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/pkg/errors"
)

// AssignParams are the parameters of an Assign node.
type AssignParams struct {
	// Force allows assigning to constant storage: it is used by initializers.
	Force bool
}

// FillParams are the parameters of a Fill node.
type FillParams struct {
	Value float64
}

// InitTensorParams are the parameters of an InitTensor node.
type InitTensorParams struct {
	Fn ValueFn
}

// SequentialParams are the parameters of a Sequential node.
type SequentialParams struct {
	ops      []*Node
	computed bool
}

// Ops returns the resolved ops of the sequence, in order.
func (p *SequentialParams) Ops() []*Node {
	ops := make([]*Node, len(p.ops))
	for ii, op := range p.ops {
		ops[ii] = op.Resolve()
	}
	return ops
}

// storageOf returns the allocation site (an Assignable node) backing the value of tensor.
func storageOf(opName string, tensor *Node) *Node {
	tensor.AssertTensor()
	base := tensor.TensorDescription().Base
	if base.Type() != OpTypeAssignable {
		exceptions.Panicf("%s: %s is not backed by storage (its value comes from %s)", opName, tensor, base)
	}
	return base
}

// Assign creates an op that copies value into the storage of tensor.
//
// The value is broadcast to the axes of tensor: its axes must be a subset of them (errs.ErrShape otherwise).
// Assigning to a constant storage fails with errs.ErrIllegalMutation, unless force is set.
//
// Assign has no value (it is not a tensor): use Sequential(Assign(t, v), t) to read the assigned storage.
func Assign(tensor, value *Node, force bool) *Node {
	target := storageOf("Assign", tensor)
	if target.IsConstant() && !force {
		panic(errors.Wrapf(errs.ErrIllegalMutation, "Assign: cannot assign to constant %s", target))
	}
	value.AssertTensor()
	if value.DType() != target.DType() {
		panic(errors.Wrapf(errs.ErrShape, "Assign: value dtype %s doesn't match tensor dtype %s",
			value.DType(), target.DType()))
	}
	value = Broadcast(value, target.Axes())
	g := target.graph
	return g.newNode(OpTypeAssign, []*Node{target, value}, axes.Axes{}, dtypes.InvalidDType,
		&AssignParams{Force: force})
}

// Fill creates an op that sets every element of the storage of tensor to value.
func Fill(tensor *Node, value float64) *Node {
	target := storageOf("Fill", tensor)
	if target.IsConstant() {
		panic(errors.Wrapf(errs.ErrIllegalMutation, "Fill: cannot fill constant %s", target))
	}
	return target.graph.newNode(OpTypeFill, []*Node{target}, axes.Axes{}, dtypes.InvalidDType,
		&FillParams{Value: value})
}

// InitTensor creates an op that initializes the storage of tensor with the host value returned by fn.
// The backend calls fn with the materialized shape of tensor.
//
// It is normally used as an initializer (see Node.AddInitializer), and it is allowed on constant storage.
func InitTensor(tensor *Node, fn ValueFn) *Node {
	target := storageOf("InitTensor", tensor)
	if fn == nil {
		exceptions.Panicf("InitTensor(%s): nil value function", target)
	}
	return target.graph.newNode(OpTypeInitTensor, []*Node{target}, axes.Axes{}, dtypes.InvalidDType,
		&InitTensorParams{Fn: fn})
}

// Sequential returns a node that executes the given ops, each at most once, before producing the value of
// the last one: to return the value of an earlier op, add it again at the end of the list.
//
// The ordering of ops that read and write the same storage is only guaranteed after the control
// dependencies are computed (see ComputeControlDependencies), which the transformer does after
// differentiation.
func Sequential(ops ...*Node) *Node {
	if len(ops) == 0 {
		exceptions.Panicf("Sequential requires at least one op")
	}
	g := ops[0].graph
	resolved := make([]*Node, len(ops))
	for ii, op := range ops {
		if op == nil {
			exceptions.Panicf("Sequential: op #%d is nil", ii)
		}
		resolved[ii] = op.Resolve()
	}
	last := resolved[len(resolved)-1]
	n := g.newNode(OpTypeSequential, []*Node{last}, axes.Axes{}, dtypes.InvalidDType,
		&SequentialParams{ops: resolved})
	for _, op := range resolved {
		n.AddControlDep(op)
	}
	return n
}

// Parallel returns a node, with no value, that executes all the given ops, in any order.
func Parallel(ops ...*Node) *Node {
	if len(ops) == 0 {
		exceptions.Panicf("Parallel requires at least one op")
	}
	g := ops[0].graph
	n := g.newNode(OpTypeParallel, nil, axes.Axes{}, dtypes.InvalidDType, nil)
	for ii, op := range ops {
		if op == nil {
			exceptions.Panicf("Parallel: op #%d is nil", ii)
		}
		if op.graph != g {
			exceptions.Panicf("Parallel: op #%d (%s) belongs to a different graph", ii, op)
		}
		n.AddControlDep(op)
	}
	return n
}

// TensorValue returns a node that reads the current value of the storage of tensor.
//
// It is a state read: when used in a Sequential, it is ordered after previous writes to the storage.
func TensorValue(tensor *Node) *Node {
	target := storageOf("TensorValue", tensor)
	n := target.graph.newNode(OpTypeTensorValue, []*Node{target}, axes.Axes{}, dtypes.InvalidDType, nil)
	for _, key := range []string{"device", "device_id", "transformer"} {
		if value, found := target.GetMetadata(key); found {
			n.SetMetadata(key, value)
		}
	}
	return n
}

// StatesRead returns the storage nodes whose values n reads: the non-constant storage arguments
// (the target of an assignment is not a read) and the storage of a TensorValue.
func (n *Node) StatesRead() []*Node {
	r := n.Resolve()
	var states []*Node
	for ii, arg := range r.Args() {
		if ii == 0 && r.opType.IsStateWrite() {
			continue
		}
		if arg.opType == OpTypeAssignable && !arg.IsConstant() {
			states = append(states, arg)
		}
	}
	return states
}

// StatesWritten returns the storage nodes n writes to: the target of Assign, Fill and InitTensor.
func (n *Node) StatesWritten() []*Node {
	r := n.Resolve()
	if !r.opType.IsStateWrite() {
		return nil
	}
	return []*Node{r.Arg(0)}
}
