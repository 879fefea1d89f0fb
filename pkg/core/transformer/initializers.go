// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/support/sets"
)

// collectInitializers returns the initializers of the tensors reachable from roots, and, transitively,
// of the tensors reachable from those initializers.
func collectInitializers(roots []*graph.Node) ([]*graph.Node, error) {
	found := sets.MakeOrdered[*graph.Node]()
	todo := roots
	for len(todo) > 0 {
		ordered, err := graph.OrderedOpsOrError(todo...)
		if err != nil {
			return nil, err
		}
		todo = nil
		for _, node := range ordered {
			for _, init := range node.Initializers() {
				if found.Insert(init) > 0 {
					todo = append(todo, init)
				}
			}
		}
	}
	return found.Slice(), nil
}

// orderedInitializers returns the initializers of the tensors in ordered (nodes in execution order),
// sorted so that an initializer runs after the initializers of the tensors it reads.
//
// The initializers of a tensor keep the order in which they were added.
func orderedInitializers(ordered []*graph.Node) ([]*graph.Node, error) {
	var result []*graph.Node
	done := sets.Make[*graph.Node]()
	visiting := sets.Make[*graph.Node]()
	var visit func(init *graph.Node) error
	visit = func(init *graph.Node) error {
		init = init.Resolve()
		if done.Has(init) || visiting.Has(init) {
			return nil
		}
		visiting.Insert(init)
		sub, err := graph.OrderedOpsOrError(init)
		if err != nil {
			return err
		}
		var target *graph.Node
		if init.NumArgs() > 0 {
			target = init.Arg(0)
		}
		for _, node := range sub {
			if node == target {
				continue
			}
			for _, dep := range node.Initializers() {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		done.Insert(init)
		result = append(result, init)
		return nil
	}
	for _, node := range ordered {
		for _, init := range node.Initializers() {
			if err := visit(init); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// initializationSchedule returns the nodes to execute to run the initializers in order: the initializers
// and the nodes they depend on, each once.
func initializationSchedule(initializers []*graph.Node) ([]*graph.Node, error) {
	var schedule []*graph.Node
	seen := sets.Make[*graph.Node]()
	for _, init := range initializers {
		ordered, err := graph.OrderedOpsOrError(init)
		if err != nil {
			return nil, err
		}
		for _, node := range ordered {
			if seen.Has(node) {
				continue
			}
			seen.Insert(node)
			schedule = append(schedule, node)
		}
	}
	return schedule, nil
}
