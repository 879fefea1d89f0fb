// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
)

// SimplePruneName is the name of the SimplePrune pass.
const SimplePruneName = "SimplePrune"

// SimplePrune returns a pass that applies algebraic simplifications:
//
//	x + 0 → x      x - 0 → x      0 - x → -x
//	x * 1 → x      x / 1 → x      x * 0 → 0
//	-c → (-c)      for constants c
//	-(-x) → x      log(exp(x)) → x
func SimplePrune() *GraphRewritePass {
	x := Label("x", nil)
	c := Label("c", IsConstScalar)
	identity := func(node *graph.Node, b Bindings) *graph.Node { return b["x"] }
	return NewGraphRewritePass(SimplePruneName,
		Rule{Name: "add-zero", Pattern: Op(graph.OpTypeAdd, x, ConstScalar(0)), Callback: identity},
		Rule{Name: "sub-zero", Pattern: Op(graph.OpTypeSub, x, ConstScalar(0)), Callback: identity},
		Rule{Name: "zero-sub", Pattern: Op(graph.OpTypeSub, ConstScalar(0), x),
			Callback: func(node *graph.Node, b Bindings) *graph.Node {
				return graph.Negative(b["x"])
			}},
		Rule{Name: "mul-one", Pattern: Op(graph.OpTypeMul, x, ConstScalar(1)), Callback: identity},
		Rule{Name: "div-one", Pattern: Op(graph.OpTypeDiv, x, ConstScalar(1)), Callback: identity},
		Rule{Name: "mul-zero", Pattern: Op(graph.OpTypeMul, x, ConstScalar(0)),
			Callback: func(node *graph.Node, b Bindings) *graph.Node {
				return graph.ZerosLike(node)
			}},
		Rule{Name: "negate-constant", Pattern: Op(graph.OpTypeNegative, c),
			Callback: func(node *graph.Node, b Bindings) *graph.Node {
				value, _ := b["c"].ScalarValue()
				return graph.ConstantAxesOfDType(node.Graph(), node.DType(), -value, node.Axes())
			}},
		Rule{Name: "double-negation", Pattern: Op(graph.OpTypeNegative, Op(graph.OpTypeNegative, x)),
			Callback: identity},
		Rule{Name: "log-exp", Pattern: Op(graph.OpTypeLog, Op(graph.OpTypeExp, x)), Callback: identity},
	)
}
