// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the symbolic computation graph (the IR) of opgraph: nodes ("ops") over named
// axes, their construction API, node replacement ("forwarding"), topological ordering, stateful sequencing
// and reverse-mode automatic differentiation.
//
// The main elements in the package are:
//
//   - Graph is the builder session: it owns the nodes, the axes registry (see package axes), the forwarding
//     table, caches and the metadata scopes. There is no ambient state: every node belongs to one Graph.
//
//   - Node represents a symbolic value (or a side effect) in the computation. This can be an allocation site
//     (placeholder, constant, variable), or the result of an operation ("op" for short, e.g.: Add, Dot,
//     ReduceSum, Assign, etc.). Each node has its axes known at graph building time, but axis lengths can be
//     bound later (see axes.Registry.BindLength).
//
// Nodes are executed by a transformer (see package transformer), which runs the graph passes (see package
// passes), assigns storage and hands the ordered ops to a backend.
//
// # Error Handling
//
// Graph building functions "throw" errors with panic(), with errors wrapping one of the sentinels of package
// errs (e.g. errs.ErrShape). This prevents having to manage error returning for every operation (Add, Sub,
// Dot, etc.) and makes the code much more readable. The functions that are typically the boundary with
// user code have an "...OrError" variant (e.g. OrderedOpsOrError, Graph.ReplaceOrError) that returns the
// error instead. Use exceptions.TryCatch[error] to capture errors of a block of graph building code.
//
// # Forwarding
//
// A node can be replaced by another one (see Graph.Replace): all existing references to the old node
// transparently resolve to the replacement. Accessors of Node always resolve first, so users of the
// graph only need to care about it when comparing node pointers: use Node.Resolve in that case.
package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/internal/scoped"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Graph is the builder session of a computation graph.
//
// It is not safe for concurrent use: graph construction, passes and ordering are expected to execute on
// one goroutine.
type Graph struct {
	id   GraphId
	name string

	registry *axes.Registry

	// nodes include all nodes known to Graph, indexed by NodeId.
	nodes []*Node

	// forward[id] is the id of the node that replaced node id, or id itself if it was not replaced.
	forward []NodeId

	// generation is incremented at every replacement, and invalidates derived per-node caches.
	generation uint64

	// scalars maintains a cache of scalar values already created in the current Graph for re-use.
	scalars scalarCache

	// adjoints memoizes the adjoints generated for each (y, error) pair.
	adjoints map[adjointKey]map[*Node]*Node

	metadata  *scoped.Params
	scope     string
	numScopes int
}

// GraphId is globally unique.
type GraphId int

var (
	muGraphCount sync.Mutex
	graphCount   GraphId
)

// NodeId is a unique NodeId within a Graph.
type NodeId int

// InvalidNodeId indicates a node that failed to be created.
const InvalidNodeId = NodeId(-1)

// scalarCache provides a cache of a scalar value -- the key always use a float64 -- to
// its pre-created *Node. It helps avoid creating duplicate nodes for common values.
//
// It keeps a cache for each dtype of the scalar.
type scalarCache map[dtypes.DType]map[float64]*Node

// MetadataSeparator separates the names of nested metadata scopes.
const MetadataSeparator = "/"

// NewGraph constructs an empty Graph, with its own axes registry.
func NewGraph(name string) *Graph {
	return NewGraphWithRegistry(name, axes.NewRegistry())
}

// NewGraphWithRegistry constructs an empty Graph using the given axes registry.
//
// Graphs sharing a registry share the axes identities (and their length bindings).
func NewGraphWithRegistry(name string, registry *axes.Registry) *Graph {
	muGraphCount.Lock()
	defer muGraphCount.Unlock()
	if name == "" {
		name = fmt.Sprintf("graph_#%d", graphCount)
	}
	g := &Graph{
		id:       graphCount,
		name:     name,
		registry: registry,
		scalars:  make(scalarCache),
		adjoints: make(map[adjointKey]map[*Node]*Node),
		metadata: scoped.New(MetadataSeparator),
		scope:    MetadataSeparator,
	}
	graphCount++
	return g
}

// Id is a unique id of the Graph.
func (g *Graph) Id() GraphId { return g.id }

// Name of the Graph.
func (g *Graph) Name() string { return g.name }

// Registry returns the axes registry of the graph.
func (g *Graph) Registry() *axes.Registry { return g.registry }

// NewAxis creates a new axis in the graph's registry. See axes.Registry.New.
func (g *Graph) NewAxis(name string, length int, roles ...axes.Role) axes.Axis {
	return g.registry.New(name, length, roles...)
}

// NumNodes returns the number of nodes created in the graph, including replaced ones.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NodeById returns the node with the given id, without resolving forwarding.
func (g *Graph) NodeById(id NodeId) *Node { return g.nodes[id] }

// Generation is incremented every time a node is replaced.
func (g *Graph) Generation() uint64 { return g.generation }

// WithMetadata runs fn within a new metadata scope: every node created by fn gets the given metadata
// (along with the metadata of the enclosing scopes, which md overrides).
func (g *Graph) WithMetadata(md map[string]any, fn func()) {
	parent := g.scope
	g.numScopes++
	g.scope = g.metadata.Join(parent, fmt.Sprintf("%d", g.numScopes))
	for key, value := range md {
		g.metadata.Set(g.scope, key, value)
	}
	defer func() {
		g.metadata.Delete(g.scope)
		g.scope = parent
	}()
	fn()
}

// CurrentMetadata returns the value of the metadata key in the current scope.
func (g *Graph) CurrentMetadata(key string) (any, bool) {
	return g.metadata.Get(g.scope, key)
}

// newNode creates a node and registers it in the graph.
func (g *Graph) newNode(opType OpType, args []*Node, ax axes.Axes, dtype dtypes.DType, params any) *Node {
	for ii, arg := range args {
		if arg == nil {
			exceptions.Panicf("%s: argument #%d is nil", opType, ii)
		}
		if arg.graph != g {
			exceptions.Panicf("%s: argument #%d (%s) belongs to graph %q, not %q",
				opType, ii, arg, arg.graph.name, g.name)
		}
		args[ii] = arg.Resolve()
	}
	n := &Node{
		graph:    g,
		id:       NodeId(len(g.nodes)),
		opType:   opType,
		args:     args,
		axes:     ax,
		dtype:    dtype,
		params:   params,
		metadata: g.metadata.Collect(g.scope),
		uuid:     uuid.New(),
	}
	g.nodes = append(g.nodes, n)
	g.forward = append(g.forward, n.id)
	if klog.V(2).Enabled() {
		klog.Infof("graph %q: new node %s", g.name, n)
	}
	return n
}

// resolve returns the id of the node that handles id, following the forwarding links.
// It compresses the path so later resolutions are O(1).
func (g *Graph) resolve(id NodeId) NodeId {
	root := id
	for g.forward[root] != root {
		root = g.forward[root]
	}
	for id != root {
		next := g.forward[id]
		g.forward[id] = root
		id = next
	}
	return root
}

// Replace forwards node to replacement: every reference to node (as argument, control dependency,
// initializer, etc.) transparently resolves to replacement from now on.
//
// The control dependencies of node are migrated to replacement, and the metadata of node is merged into
// replacement's. Derived caches (tensor descriptions, adjoints) are invalidated.
//
// It panics with an error wrapping errs.ErrIllegalMutation if the replacement resolves to node itself or
// if it depends on node (it would create a cycle), and errs.ErrShape if the replacement has a different
// set of axes or dtype.
func (g *Graph) Replace(node, replacement *Node) {
	if err := g.ReplaceOrError(node, replacement); err != nil {
		panic(err)
	}
}

// ReplaceOrError is like Replace, but it returns an error instead of panicking.
func (g *Graph) ReplaceOrError(node, replacement *Node) error {
	if node == nil || replacement == nil {
		return errors.Errorf("Graph.Replace(%s, %s): nil node", node, replacement)
	}
	if node.graph != g || replacement.graph != g {
		return errors.Errorf("Graph.Replace(%s, %s): nodes from a different graph", node, replacement)
	}
	node, replacement = node.Resolve(), replacement.Resolve()
	if node == replacement {
		return errors.Wrapf(errs.ErrIllegalMutation, "cannot forward node %s to itself", node)
	}
	if node.IsTensor() || replacement.IsTensor() {
		if node.DType() != replacement.DType() || !node.Axes().SameSet(replacement.Axes()) {
			return errors.Wrapf(errs.ErrShape, "cannot replace %s (%s%s) by %s (%s%s)",
				node, node.DType(), node.Axes(), replacement, replacement.DType(), replacement.Axes())
		}
	}
	if dependsOn(replacement, node) {
		return errors.Wrapf(errs.ErrIllegalMutation,
			"cannot replace %s by %s: the replacement depends on it, it would create a cycle", node, replacement)
	}
	for _, dep := range node.controlDeps {
		replacement.AddControlDep(dep)
	}
	g.forward[node.id] = replacement.id
	g.generation++
	if len(node.metadata) > 0 {
		if replacement.metadata == nil {
			replacement.metadata = make(map[string]any, len(node.metadata))
		}
		maps.Copy(replacement.metadata, node.metadata)
	}
	if klog.V(2).Enabled() {
		klog.Infof("graph %q: replaced %s by %s", g.name, node, replacement)
	}
	return nil
}

// WithArgs returns a new node performing the same operation as node, but over args. It is used by
// passes that reroute the inputs of a node, followed by Graph.Replace.
//
// Each argument must have the dtype and set of axes of the argument it takes the place of, otherwise it
// panics with an error wrapping errs.ErrShape. The parameters, flags, name, metadata and initializers of
// node are copied; its control dependencies migrate with Graph.Replace. Schemas and the adjoint scale are
// not copied, so derivatives must be built before rerouting.
func WithArgs(node *Node, args ...*Node) *Node {
	node = node.Resolve()
	g := node.graph
	if len(args) != len(node.args) {
		panic(errors.Wrapf(errs.ErrArgumentCount, "WithArgs(%s): %d arguments given, %d expected",
			node, len(args), len(node.args)))
	}
	for ii, arg := range args {
		if arg == nil {
			exceptions.Panicf("WithArgs(%s): argument #%d is nil", node, ii)
		}
		old := node.args[ii].Resolve()
		if arg.DType() != old.DType() || !arg.Axes().SameSet(old.Axes()) {
			panic(errors.Wrapf(errs.ErrShape, "WithArgs(%s): argument #%d (%s%s) can't take the place of %s (%s%s)",
				node, ii, arg.DType(), arg.Axes(), old, old.DType(), old.Axes()))
		}
	}
	n := g.newNode(node.opType, slices.Clone(args), node.axes, node.dtype, node.params)
	n.flags = node.flags
	n.value = node.value
	n.name = node.name
	n.metadata = maps.Clone(node.metadata)
	n.initializers = slices.Clone(node.initializers)
	return n
}

// dependsOn returns whether target is in the transitive closure of dependencies of node.
func dependsOn(node, target *Node) bool {
	visited := sets.Make[*Node]()
	stack := []*Node{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited.Has(n) {
			continue
		}
		visited.Insert(n)
		stack = append(stack, n.Deps()...)
	}
	return false
}

// String lists all the (not replaced) nodes of the graph.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q:\n", g.name)
	for _, n := range g.nodes {
		if n.IsForwarded() {
			continue
		}
		_, _ = fmt.Fprintf(&sb, "\t%s\n", n)
	}
	return sb.String()
}
