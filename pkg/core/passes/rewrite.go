// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"k8s.io/klog/v2"
)

// RewriteFn builds the replacement for a node matched by a Rule, given the bindings of the pattern labels.
// It returns nil to leave the node unchanged (e.g. if some further condition doesn't hold).
type RewriteFn func(node *graph.Node, bindings Bindings) (replacement *graph.Node)

// Rule of a GraphRewritePass.
type Rule struct {
	Name     string
	Pattern  *Pattern
	Callback RewriteFn
}

// GraphRewritePass is a peephole pass driven by a list of rules: each visited node is matched against the
// rules in registration order, and the first rule that matches and returns a replacement wins.
//
// Nodes are visited in reverse topological order, so a rule matching a larger sub-graph is tried on its root
// before smaller rules can rewrite the nodes inside it.
type GraphRewritePass struct {
	*PeepholeGraphPass
	rules []Rule
}

// NewGraphRewritePass creates a rewrite pass with the given rules. More rules can be added with Register.
func NewGraphRewritePass(name string, rules ...Rule) *GraphRewritePass {
	p := &GraphRewritePass{rules: rules}
	p.PeepholeGraphPass = NewPeepholeGraphPass(name, p.rewrite)
	p.Reverse = true
	return p
}

// Register adds a rule to the pass. It returns the pass itself, so calls can be chained.
func (p *GraphRewritePass) Register(rule Rule) *GraphRewritePass {
	p.rules = append(p.rules, rule)
	return p
}

// Rules returns the registered rules.
func (p *GraphRewritePass) Rules() []Rule { return p.rules }

func (p *GraphRewritePass) rewrite(node *graph.Node) *graph.Node {
	for _, rule := range p.rules {
		bindings, found := rule.Pattern.Match(node)
		if !found {
			continue
		}
		replacement := rule.Callback(node, bindings)
		if replacement == nil {
			continue
		}
		if klog.V(2).Enabled() {
			klog.Infof("graph pass %q: rule %q matched %s", p.Name(), rule.Name, node)
		}
		return replacement
	}
	return nil
}
