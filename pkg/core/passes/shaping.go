// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/pkg/errors"
)

// RequiredTensorShapingName is the name of the RequiredTensorShaping pass.
const RequiredTensorShapingName = "RequiredTensorShaping"

// RequiredTensorShaping materializes the tensor layouts backends rely on:
//
//   - The operands of Dot are reordered to the canonical layout: x as (XOut…, XReduced…) and y as
//     (YReduced…, YOut…), so the contraction is a plain matrix multiplication over the flattened axes.
//   - Every tensor computed on the device must have all its axis lengths bound: otherwise Run returns
//     an error wrapping errs.ErrShape.
type RequiredTensorShaping struct {
	dots *PeepholeGraphPass
}

// Assert RequiredTensorShaping is a GraphPass.
var _ GraphPass = (*RequiredTensorShaping)(nil)

// NewRequiredTensorShaping creates the RequiredTensorShaping pass.
func NewRequiredTensorShaping() *RequiredTensorShaping {
	return &RequiredTensorShaping{dots: NewPeepholeGraphPass(RequiredTensorShapingName, canonicalDot)}
}

// Name implements GraphPass.
func (p *RequiredTensorShaping) Name() string { return RequiredTensorShapingName }

// Run implements GraphPass.
func (p *RequiredTensorShaping) Run(roots []*graph.Node) error {
	if err := p.dots.Run(roots); err != nil {
		return err
	}
	ordered, err := graph.OrderedOpsOrError(roots...)
	if err != nil {
		return err
	}
	for _, node := range ordered {
		if !node.IsTensor() {
			continue
		}
		if !node.Axes().AllBound() {
			return errors.Wrapf(errs.ErrShape, "%s: axes %s of %s must have their lengths bound",
				RequiredTensorShapingName, node.Axes(), node)
		}
	}
	return nil
}

// canonicalDot replaces Dot nodes whose operands are not in the canonical layout.
func canonicalDot(node *graph.Node) *graph.Node {
	if node.Type() != graph.OpTypeDot {
		return nil
	}
	x, y := node.Arg(0), node.Arg(1)
	params := graph.DotParamsOf(node)
	xAxes := params.XOut.Concat(params.XReduced)
	yAxes := params.YReduced.Concat(params.YOut)
	if x.Axes().Equal(xAxes) && y.Axes().Equal(yAxes) {
		return nil
	}
	return graph.Dot(graph.ReorderAxes(x, xAxes), graph.ReorderAxes(y, yAxes))
}
