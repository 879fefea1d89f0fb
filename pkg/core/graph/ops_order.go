// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VisitInputClosure calls fn on every node reachable from roots (following arguments and control
// dependencies), each exactly once, in a topological order: every node is visited after all its
// dependencies.
//
// The order is deterministic for a given graph. It returns an error wrapping errs.ErrNotDAG if the
// reachable nodes have a dependency cycle: in that case fn is not called for the nodes in or after the cycle.
func VisitInputClosure(roots []*Node, fn func(node *Node)) error {
	available := sets.MakeOrdered[*Node]()
	counts := make(map[*Node]int)
	parents := make(map[*Node]*sets.Ordered[*Node])
	ready := sets.MakeOrdered[*Node]()

	for _, root := range roots {
		if root == nil {
			continue
		}
		available.Insert(root.Resolve())
	}
	for available.Len() > 0 {
		node, _ := available.PopLast()
		if _, found := counts[node]; found {
			continue
		}
		children := node.Deps()
		if len(children) == 0 {
			ready.Insert(node)
			continue
		}
		counts[node] = len(children)
		for _, child := range children {
			p, found := parents[child]
			if !found {
				p = sets.MakeOrdered[*Node]()
				parents[child] = p
			}
			p.Insert(node)
		}
		available.Insert(children...)
	}

	for ready.Len() > 0 {
		node, _ := ready.PopLast()
		fn(node)
		if p, found := parents[node]; found {
			for parent := range p.All() {
				count := counts[parent] - 1
				if count == 0 {
					ready.Insert(parent)
					delete(counts, parent)
				} else {
					counts[parent] = count
				}
			}
		}
	}
	if len(counts) > 0 {
		var example *Node
		for node := range counts {
			if example == nil || node.id < example.id {
				example = node
			}
		}
		return errors.Wrapf(errs.ErrNotDAG, "%d nodes with unresolved dependencies, e.g. %s", len(counts), example)
	}
	return nil
}

// OrderedOpsOrError returns the nodes reachable from roots in topological order (see VisitInputClosure).
func OrderedOpsOrError(roots ...*Node) ([]*Node, error) {
	var ordered []*Node
	err := VisitInputClosure(roots, func(node *Node) {
		ordered = append(ordered, node)
	})
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// OrderedOps returns the nodes reachable from roots in topological order (see VisitInputClosure).
// It panics with an error wrapping errs.ErrNotDAG if there is a cycle.
func OrderedOps(roots ...*Node) []*Node {
	ordered, err := OrderedOpsOrError(roots...)
	if err != nil {
		panic(err)
	}
	return ordered
}

// ComputeControlDependencies adds the control dependencies that order the state reads and writes of the
// ops of a Sequential node.
//
// For each op of the sequence (each "segment"), in order, the ops of its closure that were not executed
// by a previous segment are scanned: an op reading some storage gets a dependency on every earlier segment
// that wrote to it, and an op writing to some storage gets a dependency on every earlier segment that read
// or wrote it.
//
// It must be called after the graph is expanded (e.g. after differentiation), and only the first call
// has an effect.
func ComputeControlDependencies(seq *Node) error {
	seq = seq.Resolve()
	if seq.opType != OpTypeSequential {
		return errors.Errorf("ComputeControlDependencies: %s is not a Sequential node", seq)
	}
	params := seq.params.(*SequentialParams)
	if params.computed {
		return nil
	}
	done := sets.Make[*Node]()
	writers := make(map[*Node]*sets.Ordered[*Node])
	readers := make(map[*Node]*sets.Ordered[*Node])
	get := func(m map[*Node]*sets.Ordered[*Node], state *Node) *sets.Ordered[*Node] {
		s, found := m[state]
		if !found {
			s = sets.MakeOrdered[*Node]()
			m[state] = s
		}
		return s
	}
	for _, top := range params.Ops() {
		ordered, err := OrderedOpsOrError(top)
		if err != nil {
			return errors.WithMessagef(err, "ComputeControlDependencies(%s)", seq)
		}
		for _, op := range ordered {
			if done.Has(op) {
				continue
			}
			for _, state := range op.StatesRead() {
				for writer := range get(writers, state).All() {
					op.AddControlDep(writer)
				}
			}
			for _, state := range op.StatesWritten() {
				for reader := range get(readers, state).All() {
					op.AddControlDep(reader)
				}
				for writer := range get(writers, state).All() {
					op.AddControlDep(writer)
				}
			}
		}
		for _, op := range ordered {
			if done.Has(op) {
				continue
			}
			for _, state := range op.StatesWritten() {
				get(writers, state).Insert(top)
			}
			for _, state := range op.StatesRead() {
				get(readers, state).Insert(top)
			}
		}
		done.Insert(ordered...)
	}
	params.computed = true
	return nil
}

// ComputeAllControlDependencies calls ComputeControlDependencies for every Sequential node reachable from
// roots, in topological order.
func ComputeAllControlDependencies(roots ...*Node) error {
	ordered, err := OrderedOpsOrError(roots...)
	if err != nil {
		return err
	}
	var count int
	for _, node := range ordered {
		if node.opType != OpTypeSequential {
			continue
		}
		if err := ComputeControlDependencies(node); err != nil {
			return err
		}
		count++
	}
	if klog.V(1).Enabled() && count > 0 {
		klog.Infof("computed control dependencies of %d sequential nodes", count)
	}
	return nil
}
