// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
)

// CPUFusionName is the name of the CPUFusion pass.
const CPUFusionName = "CPUFusion"

// CPUFusion returns a pass that fuses the element-wise expressions of the (leaky) rectifier into the
// graph.Relu and graph.BpropRelu ops:
//
//	max(x, 0) + slope*min(0, x)                   → Relu(x, slope)
//	max(x, 0)                                     → Relu(x, 0)
//	greater(x, 0)*delta + less(x, 0)*(slope*delta) → BpropRelu(delta, x, slope)
//	greater(x, 0)*delta                           → BpropRelu(delta, x, 0)
//
// The slope must be a constant scalar. Any order of the operands of commutative ops is matched.
// The pass is idempotent: the fused ops are not matched again.
func CPUFusion() *GraphRewritePass {
	x := Label("x", nil)
	zero := ConstScalar(0)
	slope := Skip(Label("slope", IsConstScalar), IsBroadcast)
	reluForward := Op(graph.OpTypeAdd,
		Op(graph.OpTypeMaximum, x, zero),
		Op(graph.OpTypeMul, slope, Op(graph.OpTypeMinimum, zero, x)))

	xTensor := Label("x", IsNotScalar)
	delta := Label("delta", IsNotScalar)
	reluBackward := Op(graph.OpTypeAdd,
		Op(graph.OpTypeMul, Op(graph.OpTypeGreater, xTensor, zero), delta),
		Op(graph.OpTypeMul, Op(graph.OpTypeLess, xTensor, zero), Op(graph.OpTypeMul, slope, delta)))

	return NewGraphRewritePass(CPUFusionName,
		Rule{Name: "relu-forward", Pattern: reluForward, Callback: fuseReluForward},
		Rule{Name: "relu-forward-no-slope", Pattern: Op(graph.OpTypeMaximum, x, zero), Callback: fuseReluForward},
		Rule{Name: "relu-backward", Pattern: reluBackward, Callback: fuseReluBackward},
		Rule{Name: "relu-backward-no-slope", Pattern: Op(graph.OpTypeMul, Op(graph.OpTypeGreater, xTensor, zero), delta),
			Callback: fuseReluBackward},
	)
}

// slopeOf returns the value bound to the "slope" label, or 0 if it is not bound.
func slopeOf(b Bindings) float64 {
	node, found := b["slope"]
	if !found {
		return 0
	}
	value, _ := node.ScalarValue()
	return value
}

func fuseReluForward(node *graph.Node, b Bindings) *graph.Node {
	x := b["x"]
	if !x.Axes().SameSet(node.Axes()) {
		return nil
	}
	return graph.Relu(x, slopeOf(b))
}

func fuseReluBackward(node *graph.Node, b Bindings) *graph.Node {
	x, delta := b["x"], b["delta"]
	if !x.Axes().SameSet(node.Axes()) || !delta.Axes().SameSet(node.Axes()) {
		return nil
	}
	return graph.BpropRelu(delta, x, slopeOf(b))
}
