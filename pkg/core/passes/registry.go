// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Constructor creates a new instance of a graph pass.
type Constructor func() GraphPass

var (
	muRegistry   sync.Mutex
	constructors = map[string]Constructor{
		SimplePruneName:           func() GraphPass { return SimplePrune() },
		RequiredTensorShapingName: func() GraphPass { return NewRequiredTensorShaping() },
		CPUFusionName:             func() GraphPass { return CPUFusion() },
	}
)

// Register a graph pass constructor, so it can be selected by name in a configuration (see New).
// Registering an existing name replaces it.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	constructors[name] = constructor
}

// New creates a new instance of the pass registered with the given name.
func New(name string) (GraphPass, error) {
	muRegistry.Lock()
	constructor, found := constructors[name]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("unknown graph pass %q, registered passes: %q", name, List())
	}
	return constructor(), nil
}

// List returns the sorted names of the registered passes.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := maps.Keys(constructors)
	slices.Sort(names)
	return names
}

// Defaults returns new instances of the passes every transformer runs: SimplePrune and
// RequiredTensorShaping.
func Defaults() []GraphPass {
	return []GraphPass{SimplePrune(), NewRequiredTensorShaping()}
}
