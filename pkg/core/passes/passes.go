// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements graph passes: transformations of the computation graph run by the transformer
// before it orders the ops and assigns storage.
//
// Passes rewrite the graph by replacing nodes (see graph.Graph.Replace): they never mutate a node in place,
// so every reference to a replaced node follows to its replacement.
//
// The package provides:
//
//   - GraphPass, the interface of all passes, and PeepholeGraphPass, a pass that visits every reachable
//     node and optionally replaces it, repeating until nothing changes.
//   - Pattern matching (Op, Label, Skip, ConstScalar) and GraphRewritePass, a peephole pass driven by a list
//     of pattern rules.
//   - The standard passes: SimplePrune (algebraic simplification), RequiredTensorShaping (axis lengths
//     and operand layouts required by backends) and CPUFusion (fused rectifier ops).
package passes

import (
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GraphPass transforms the graph reachable from a set of roots.
type GraphPass interface {
	// Name of the pass, used for logging and configuration.
	Name() string

	// Run the pass over the nodes reachable from roots. The roots themselves may be replaced: callers
	// should resolve them after the pass.
	Run(roots []*graph.Node) error
}

// DefaultMaxIterations is the default limit of iterations of a PeepholeGraphPass.
const DefaultMaxIterations = 50

// VisitFn is called by PeepholeGraphPass on every reachable node. It returns the node that should replace
// node, or nil if node should be kept.
type VisitFn func(node *graph.Node) (replacement *graph.Node)

// PeepholeGraphPass visits every node reachable from the roots and replaces the ones for which its VisitFn
// returns a replacement. Since replacements may enable other ones, it repeats until an iteration makes no
// replacement, up to MaxIterations.
type PeepholeGraphPass struct {
	name  string
	visit VisitFn

	// MaxIterations limits the number of times the graph is visited. If it is reached, the pass logs a
	// warning and returns without error.
	MaxIterations int

	// Reverse visits the nodes in reverse topological order: consumers before their inputs.
	Reverse bool
}

// Assert PeepholeGraphPass is a GraphPass.
var _ GraphPass = (*PeepholeGraphPass)(nil)

// NewPeepholeGraphPass creates a peephole pass with the given visit function.
func NewPeepholeGraphPass(name string, visit VisitFn) *PeepholeGraphPass {
	return &PeepholeGraphPass{name: name, visit: visit, MaxIterations: DefaultMaxIterations}
}

// Name implements GraphPass.
func (p *PeepholeGraphPass) Name() string { return p.name }

// Run implements GraphPass.
func (p *PeepholeGraphPass) Run(roots []*graph.Node) error {
	start := time.Now()
	maxIterations := p.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	var total int
	for iteration := range maxIterations {
		replaced, err := p.iterate(roots)
		if err != nil {
			return errors.WithMessagef(err, "graph pass %q, iteration #%d", p.name, iteration)
		}
		total += replaced
		if replaced == 0 {
			if klog.V(1).Enabled() {
				klog.Infof("graph pass %q: %d replacements in %d iterations, elapsed %s",
					p.name, total, iteration+1, time.Since(start))
			}
			return nil
		}
	}
	klog.Warningf("graph pass %q: stopped after reaching the limit of %d iterations (%d replacements)",
		p.name, maxIterations, total)
	return nil
}

// iterate visits the reachable nodes once and returns the number of replacements.
//
// In reverse order, nodes that became unreachable because a consumer was replaced are not visited.
func (p *PeepholeGraphPass) iterate(roots []*graph.Node) (replaced int, err error) {
	ordered, err := graph.OrderedOpsOrError(roots...)
	if err != nil {
		return 0, err
	}
	live := sets.Make[*graph.Node]()
	for _, root := range roots {
		if root != nil {
			live.Insert(root.Resolve())
		}
	}
	for ii := range ordered {
		node := ordered[ii]
		if p.Reverse {
			node = ordered[len(ordered)-1-ii]
			if !live.Has(node) {
				continue
			}
		}
		if node.IsForwarded() {
			continue
		}
		var replacement *graph.Node
		err = exceptions.TryCatch[error](func() { replacement = p.visit(node) })
		if err != nil {
			return replaced, errors.WithMessagef(err, "visiting %s", node)
		}
		if replacement != nil && replacement.Resolve() != node.Resolve() {
			if err = node.Graph().ReplaceOrError(node, replacement); err != nil {
				return replaced, err
			}
			if klog.V(2).Enabled() {
				klog.Infof("graph pass %q: replaced %s by %s", p.name, node, replacement)
			}
			replaced++
		}
		if p.Reverse {
			live.Insert(node.Resolve())
			live.Insert(node.Deps()...)
		}
	}
	return replaced, nil
}
