// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped provides a mapping from a string to any data type that is "scoped".
package scoped

import (
	"maps"
	"strings"
)

// Params provides a mapping from string to any data type that is "scoped":
//
//   - For every scope there is a map of string to data.
//   - Accessing a key triggers a search from the current scope up to the root scope, the
//     first result found is returned.
//
// Example: let's say the current Params hold:
//
//	Scope: "/": { "x":10, "y": 20, "z": 40 }
//	Scope: "/a": { "y": 30 }
//	Scope: "/a/b": { "x": 100 }
//
//	Params.Get("/a/b", "x") -> 100
//	Params.Get("/a/b", "y") -> 30
//	Params.Get("/a/b", "z") -> 40
//	Params.Get("/a/b", "w") -> Not found.
//
// The root scope is referred to by the separator alone ("/"), and every scope name starts with the separator.
//
// The graph builder uses it for metadata scopes: every node created inside a scope gets the metadata
// visible from that scope (see Params.Collect).
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New creates an empty Params.
func New(scopeSeparator string) *Params {
	return &Params{
		Separator:  scopeSeparator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Set sets the value for the given key, in the given scope.
func (p *Params) Set(scope, key string, value any) {
	dataMap, found := p.scopeToMap[scope]
	if !found {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// Join returns the child scope name of scope.
func (p *Params) Join(scope, name string) string {
	if scope == p.Separator {
		return scope + name
	}
	return scope + p.Separator + name
}

// lineage returns the scope and its parents, from the root to the scope itself.
func (p *Params) lineage(scope string) []string {
	lineage := []string{p.Separator}
	if scope == p.Separator || scope == "" {
		return lineage
	}
	parts := strings.Split(strings.TrimPrefix(scope, p.Separator), p.Separator)
	current := p.Separator
	for _, part := range parts {
		current = p.Join(current, part)
		lineage = append(lineage, current)
	}
	return lineage
}

// Get retrieves the value for the given key in the given scope or any parent scope.
// E.g: Get("/a/b", "myKey") will search for "myKey" in scopes "/a/b", "/a" and "/"
// consecutively until "myKey" is found.
//
// It returns the first value found if any, and whether some value was found.
func (p *Params) Get(scope, key string) (value any, found bool) {
	lineage := p.lineage(scope)
	for ii := len(lineage) - 1; ii >= 0; ii-- {
		if value, found = p.scopeToMap[lineage[ii]][key]; found {
			return
		}
	}
	return nil, false
}

// Collect returns all the key/values visible from scope: values set in inner scopes override
// the ones of their parents. It returns nil if there are none.
func (p *Params) Collect(scope string) map[string]any {
	var collected map[string]any
	for _, s := range p.lineage(scope) {
		dataMap := p.scopeToMap[s]
		if len(dataMap) == 0 {
			continue
		}
		if collected == nil {
			collected = make(map[string]any, len(dataMap))
		}
		maps.Copy(collected, dataMap)
	}
	return collected
}

// Delete removes all values set in scope (not its parents or children).
func (p *Params) Delete(scope string) {
	delete(p.scopeToMap, scope)
}
