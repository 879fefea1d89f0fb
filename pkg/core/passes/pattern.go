// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"fmt"
	"maps"
	"strings"

	"github.com/gomlx/opgraph/pkg/core/graph"
)

// patternKind enumerates the kinds of pattern nodes.
type patternKind int

const (
	patternOp patternKind = iota
	patternLabel
	patternSkip
	patternConstScalar
)

// Predicate filters the nodes a pattern can match.
type Predicate func(node *graph.Node) bool

// Pattern is a tree that matches a sub-graph, rooted at a node. Build it with Op, Label, Skip and
// ConstScalar.
type Pattern struct {
	kind      patternKind
	opType    graph.OpType
	args      []*Pattern
	name      string
	predicate Predicate
	value     float64
}

// Op matches a node of the given op type whose arguments match args, in order. For commutative op
// types (see graph.OpType.IsCommutative) both orders of the arguments are tried.
func Op(opType graph.OpType, args ...*Pattern) *Pattern {
	return &Pattern{kind: patternOp, opType: opType, args: args}
}

// Label matches any node accepted by the predicate (any node if predicate is nil), and binds it to name.
// If the label appears more than once in a pattern, all occurrences must match the same node.
func Label(name string, predicate Predicate) *Pattern {
	return &Pattern{kind: patternLabel, name: name, predicate: predicate}
}

// Skip matches pattern after skipping the nodes accepted by the predicate: while the node is accepted,
// matching continues with its first argument. It is used to look through nodes that don't change the
// values, like broadcasts. A nil predicate skips nothing.
func Skip(pattern *Pattern, predicate Predicate) *Pattern {
	return &Pattern{kind: patternSkip, args: []*Pattern{pattern}, predicate: predicate}
}

// ConstScalar matches constants whose elements are all equal to value: scalar constants and their
// broadcasts (see graph.Node.ScalarValue).
func ConstScalar(value float64) *Pattern {
	return &Pattern{kind: patternConstScalar, value: value}
}

// String implements fmt.Stringer.
func (p *Pattern) String() string {
	switch p.kind {
	case patternOp:
		parts := make([]string, len(p.args))
		for ii, arg := range p.args {
			parts[ii] = arg.String()
		}
		return fmt.Sprintf("%s(%s)", p.opType, strings.Join(parts, ", "))
	case patternLabel:
		return "$" + p.name
	case patternSkip:
		return fmt.Sprintf("Skip(%s)", p.args[0])
	case patternConstScalar:
		return fmt.Sprintf("Const(%g)", p.value)
	default:
		return fmt.Sprintf("Pattern(%d)", int(p.kind))
	}
}

// Bindings maps the label names of a pattern to the nodes they matched.
type Bindings map[string]*graph.Node

// Match returns whether the pattern matches the sub-graph rooted at node, and the bindings of its labels.
func (p *Pattern) Match(node *graph.Node) (Bindings, bool) {
	all := p.match(node.Resolve(), Bindings{})
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// match returns all the ways the pattern matches node, extending the given bindings: the given bindings
// are not modified.
func (p *Pattern) match(node *graph.Node, bindings Bindings) []Bindings {
	switch p.kind {
	case patternLabel:
		if p.predicate != nil && !p.predicate(node) {
			return nil
		}
		if bound, found := bindings[p.name]; found {
			if bound.Resolve() != node {
				return nil
			}
			return []Bindings{bindings}
		}
		extended := maps.Clone(bindings)
		extended[p.name] = node
		return []Bindings{extended}

	case patternSkip:
		for p.predicate != nil && p.predicate(node) && node.NumArgs() > 0 {
			node = node.Arg(0)
		}
		return p.args[0].match(node, bindings)

	case patternConstScalar:
		if value, ok := node.ScalarValue(); ok && value == p.value {
			return []Bindings{bindings}
		}
		return nil

	case patternOp:
		if node.Type() != p.opType || node.NumArgs() != len(p.args) {
			return nil
		}
		args := node.Args()
		results := matchArgs(p.args, args, bindings)
		if len(p.args) == 2 && p.opType.IsCommutative() {
			results = append(results, matchArgs(p.args, []*graph.Node{args[1], args[0]}, bindings)...)
		}
		return results
	}
	return nil
}

// matchArgs matches each pattern with the corresponding node, trying all combinations of bindings.
func matchArgs(patterns []*Pattern, nodes []*graph.Node, bindings Bindings) []Bindings {
	candidates := []Bindings{bindings}
	for ii, pattern := range patterns {
		var next []Bindings
		for _, candidate := range candidates {
			next = append(next, pattern.match(nodes[ii], candidate)...)
		}
		if len(next) == 0 {
			return nil
		}
		candidates = next
	}
	return candidates
}

// IsBroadcast is a Predicate that accepts broadcast nodes.
func IsBroadcast(node *graph.Node) bool {
	return node.Type() == graph.OpTypeBroadcast
}

// IsScalar is a Predicate that accepts scalar tensors.
func IsScalar(node *graph.Node) bool {
	return node.IsScalar()
}

// IsNotScalar is a Predicate that accepts tensors with at least one axis.
func IsNotScalar(node *graph.Node) bool {
	return node.IsTensor() && !node.IsScalar()
}

// IsConstScalar is a Predicate that accepts constants with all elements equal (see graph.Node.ScalarValue).
func IsConstScalar(node *graph.Node) bool {
	_, ok := node.ScalarValue()
	return ok
}
