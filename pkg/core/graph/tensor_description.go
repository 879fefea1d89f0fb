// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
)

// TensorDescription describes the storage of a tensor node's value: the transformer uses it to assign
// buffers and backends to lay out device tensors.
//
// Value ops (Sequential, TensorValue) don't own storage: their Base is the node whose storage they expose.
type TensorDescription struct {
	Node  *Node
	Axes  axes.Axes
	DType dtypes.DType

	// Base is the node owning the storage.
	Base *Node

	Persistent bool
	Constant   bool
}

// Shape returns the dense shape of the description, or an error if some axis length is not bound.
func (d *TensorDescription) Shape() (shapes.Shape, error) {
	return d.Node.ShapeOrError()
}

// String implements fmt.Stringer.
func (d *TensorDescription) String() string {
	return fmt.Sprintf("TensorDescription(#%d: (%s)%s, base=#%d)", d.Node.Id(), d.DType, d.Axes, d.Base.Id())
}

// TensorDescription returns the storage description of a tensor node, or nil for non-tensor nodes.
//
// The description is memoized, and recomputed after any replacement in the graph.
func (n *Node) TensorDescription() *TensorDescription {
	r := n.Resolve()
	if !r.IsTensor() {
		return nil
	}
	if r.desc != nil && r.descGeneration == r.graph.generation {
		return r.desc
	}
	base := r
	for base.opType == OpTypeSequential || base.opType == OpTypeTensorValue {
		base = base.Arg(0)
	}
	r.desc = &TensorDescription{
		Node:       r,
		Axes:       r.Axes(),
		DType:      r.DType(),
		Base:       base,
		Persistent: base.IsPersistent(),
		Constant:   base.IsConstant(),
	}
	r.descGeneration = r.graph.generation
	return r.desc
}
