// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"cmp"
	"slices"

	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/pkg/errors"
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"k8s.io/klog/v2"
)

// commInputs returns the nodes whose value n reads: its arguments, or the Send paired with a Recv.
func commInputs(n *graph.Node) []*graph.Node {
	if n.Type() == graph.OpTypeRecv {
		return []*graph.Node{n.Params().(*graph.RecvParams).Send()}
	}
	return n.Args()
}

// commGraph is a directed graph of nodes and their dependencies, with an edge from each node to each of
// its inputs. It keeps the mapping from the gonum node ids back to the graph nodes.
type commGraph struct {
	*simple.DirectedGraph
	nodes map[int64]*graph.Node
}

func newCommGraph() *commGraph {
	return &commGraph{DirectedGraph: simple.NewDirectedGraph(), nodes: make(map[int64]*graph.Node)}
}

// add inserts node n, if not there yet, and returns its gonum node.
func (g *commGraph) add(n *graph.Node) gonumgraph.Node {
	id := int64(n.Id())
	if existing := g.Node(id); existing != nil {
		return existing
	}
	node := simple.Node(id)
	g.AddNode(node)
	g.nodes[id] = n
	return node
}

// build adds the nodes reachable from roots following inputs, and returns the nodes visited.
func (g *commGraph) build(roots []*graph.Node, inputs func(*graph.Node) []*graph.Node) []*graph.Node {
	var visited []*graph.Node
	seen := sets.Make[*graph.Node]()
	todo := make([]*graph.Node, 0, len(roots))
	for _, root := range roots {
		todo = append(todo, root.Resolve())
	}
	for len(todo) > 0 {
		n := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if seen.Has(n) {
			continue
		}
		seen.Insert(n)
		visited = append(visited, n)
		from := g.add(n)
		for _, input := range inputs(n) {
			if input == n {
				continue
			}
			g.SetEdge(g.NewEdge(from, g.add(input)))
			todo = append(todo, input)
		}
	}
	return visited
}

// sorted returns the nodes of the graph with each node before the nodes it has an edge to, breaking ties
// by node id. It fails with an error wrapping errs.ErrNotDAG if the graph has a cycle.
func (g *commGraph) sorted() ([]*graph.Node, error) {
	order, err := topo.SortStabilized(g, func(nodes []gonumgraph.Node) {
		slices.SortFunc(nodes, func(a, b gonumgraph.Node) int { return cmp.Compare(a.ID(), b.ID()) })
	})
	if err != nil {
		var unorderable topo.Unorderable
		if errors.As(err, &unorderable) && len(unorderable) > 0 {
			cycle := make([]*graph.Node, 0, len(unorderable[0]))
			for _, node := range unorderable[0] {
				cycle = append(cycle, g.nodes[node.ID()])
			}
			return nil, errors.Wrapf(errs.ErrNotDAG, "communication dependencies form a cycle: %v", cycle)
		}
		return nil, errors.Wrapf(errs.ErrNotDAG, "communication dependencies form a cycle: %v", err)
	}
	nodes := make([]*graph.Node, len(order))
	for ii, node := range order {
		nodes[ii] = g.nodes[node.ID()]
	}
	return nodes, nil
}

// CommPathExists returns whether the value of to can flow into from: whether there is a path from from to
// to following arguments, and also from each Recv to its Send, which a plain traversal doesn't cross.
//
// A node trivially reaches itself.
func CommPathExists(from, to *graph.Node) bool {
	from, to = from.Resolve(), to.Resolve()
	if from == to {
		return true
	}
	g := newCommGraph()
	g.build([]*graph.Node{from}, commInputs)
	target := g.Node(int64(to.Id()))
	if target == nil {
		return false
	}
	return topo.PathExistsIn(g, g.Node(int64(from.Id())), target)
}

// FindRecvs returns the Recv nodes that the value of op depends on, crossing Send/Recv pairs, sorted by
// node id. If op is a Recv, it is included.
func FindRecvs(op *graph.Node) []*graph.Node {
	g := newCommGraph()
	var recvs []*graph.Node
	for _, n := range g.build([]*graph.Node{op}, commInputs) {
		if n.Type() == graph.OpTypeRecv {
			recvs = append(recvs, n)
		}
	}
	slices.SortFunc(recvs, func(a, b *graph.Node) int { return int(a.Id()) - int(b.Id()) })
	return recvs
}

// UpdateCommDeps adds the control dependencies that keep the transformers executing ops from deadlocking.
//
// The ops are the roots of the computations of the transformers, and the placement of the Recv nodes
// (see Placement) tells which transformer runs them. For each op A, and each Recv R that another op
// depends on: if R runs on the same transformer as A, and the value sent to R depends on A, then R
// must run after A. Without the control dependency, the transformer could block waiting on R before
// executing A, while the peer waits for the value of A.
//
// It returns an error wrapping errs.ErrNotDAG if the dependencies (including the added ones) form a
// cycle: in that case no schedule can avoid the deadlock.
func UpdateCommDeps(ops ...*graph.Node) error {
	if len(ops) <= 1 {
		return nil
	}
	unique := sets.MakeOrdered[*graph.Node]()
	for _, op := range ops {
		unique.Insert(op.Resolve())
	}
	ops = unique.Slice()
	recvsOf := make(map[*graph.Node][]*graph.Node, len(ops))
	for _, op := range ops {
		recvsOf[op] = FindRecvs(op)
	}
	for _, op := range ops {
		transformer := PlacementOf(op).Transformer
		for _, other := range ops {
			if other == op {
				continue
			}
			for _, recv := range recvsOf[other] {
				if recv == op || PlacementOf(recv).Transformer != transformer {
					continue
				}
				send := recv.Params().(*graph.RecvParams).Send()
				if !CommPathExists(send, op) {
					continue
				}
				if klog.V(2).Enabled() && !slices.Contains(recv.ControlDeps(), op) {
					klog.Infof("distributed: %s must run after %s on transformer %q", recv, op, transformer)
				}
				recv.AddControlDep(op)
			}
		}
	}
	return CheckCommCycles(ops...)
}

// deps returns the nodes n must run after, including the Send paired with a Recv.
func deps(n *graph.Node) []*graph.Node {
	if n.Type() == graph.OpTypeRecv {
		return append(n.Deps(), n.Params().(*graph.RecvParams).Send())
	}
	return n.Deps()
}

// CheckCommCycles returns an error wrapping errs.ErrNotDAG if the nodes reachable from roots, following
// arguments, control dependencies and Send/Recv pairs, have a cycle.
func CheckCommCycles(roots ...*graph.Node) error {
	g := newCommGraph()
	g.build(roots, deps)
	_, err := g.sorted()
	return err
}
