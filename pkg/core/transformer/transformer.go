// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transformer executes computation graphs: it declares computations (results and parameters of a
// graph), runs the graph passes, orders the ops, assigns buffers to the tensors and hands the resulting
// programs to a backend.
//
// Example:
//
//	g := graph.NewGraph("linear")
//	n := g.NewAxis("n", 4)
//	x := graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
//	y := graph.Add(graph.Mul(x, graph.Scalar(g, dtypes.Float32, 2)), graph.Scalar(g, dtypes.Float32, 1))
//
//	t := must.M1(transformer.New())
//	defer t.Close()
//	fn := must.M1(t.Computation(y, x))
//	result := must.M1(fn.Call1([]float32{1, 2, 3, 4}))  // [3, 5, 7, 9]
//
// A Transformer goes through the states Declared, Finalized, Allocated and Initialized (see State): the
// first call to a computation moves it through all of them.
package transformer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/passes"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Transformer compiles and executes the computations declared on the nodes of a graph.
//
// All the computations of a Transformer share the storage of the persistent tensors (variables,
// constants and placeholders), which is initialized once before the first call.
//
// It is safe for concurrent use, but calls are serialized: the computations share the buffers of
// temporary tensors.
type Transformer struct {
	mu     sync.Mutex
	id     uuid.UUID
	config Config

	backend     backends.Backend
	ownsBackend bool

	graph        *graph.Graph
	computations []*Computation
	extraPasses  []passes.GraphPass
	state        State
	closed       bool

	allocator *bufferAllocator
	init      *schedule
}

// New creates a Transformer configured by the options. If no backend is given (see WithBackend), one is
// created from Config.Backend, or with backends.New.
func New(options ...Option) (*Transformer, error) {
	t := &Transformer{id: uuid.New()}
	for _, option := range options {
		if err := option(t); err != nil {
			return nil, errors.WithMessage(err, "transformer.New")
		}
	}
	if t.config.Name == "" {
		t.config.Name = "transformer-" + t.id.String()[:8]
	}
	if t.backend == nil {
		var err error
		if t.config.Backend != "" {
			t.backend, err = backends.NewWithConfig(t.config.Backend)
		} else {
			t.backend, err = backends.New()
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "transformer %q", t.config.Name)
		}
		t.ownsBackend = true
	}
	return t, nil
}

// MustNew creates a Transformer with New, and panics on error.
func MustNew(options ...Option) *Transformer {
	t, err := New(options...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name of the transformer.
func (t *Transformer) Name() string { return t.config.Name }

// String implements fmt.Stringer.
func (t *Transformer) String() string {
	return fmt.Sprintf("Transformer(%q, %s, %s)", t.config.Name, t.backend.Name(), t.State())
}

// Backend used by the transformer.
func (t *Transformer) Backend() backends.Backend { return t.backend }

// State returns the current state of the transformer.
func (t *Transformer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RegisterGraphPass adds a graph pass to run, after the configured passes and before the backend passes.
// It fails with errs.ErrIllegalMutation if the transformer is already finalized.
func (t *Transformer) RegisterGraphPass(pass passes.GraphPass) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateDeclared {
		return errors.Wrapf(errs.ErrIllegalMutation, "cannot register graph pass %q on %s transformer %q",
			pass.Name(), t.state, t.config.Name)
	}
	t.extraPasses = append(t.extraPasses, pass)
	return nil
}

// Computation declares a computation that returns the values of returns, given the values of params.
//
// The returns can be a single *graph.Node, a slice []*graph.Node or a set sets.Set[*graph.Node], and they
// determine the results of Computation.Call (see there). Returned nodes that are not tensors (e.g. an
// Assign) are executed, and yield nil results. The params must be placeholders (see graph.Placeholder),
// and they are the arguments of the call, in order.
//
// It fails with errs.ErrIllegalMutation if the transformer is already finalized, and with errs.ErrShape if
// a param is not a placeholder.
func (t *Transformer) Computation(returns any, params ...*graph.Node) (*Computation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateDeclared {
		return nil, errors.Wrapf(errs.ErrIllegalMutation, "cannot declare a computation on %s transformer %q",
			t.state, t.config.Name)
	}
	c := &Computation{transformer: t, id: len(t.computations)}
	switch r := returns.(type) {
	case *graph.Node:
		c.kind, c.returns = returnsSingle, []*graph.Node{r}
	case []*graph.Node:
		c.kind, c.returns = returnsTuple, slices.Clone(r)
	case sets.Set[*graph.Node]:
		c.kind, c.returns = returnsSet, make([]*graph.Node, 0, len(r))
		for node := range r {
			c.returns = append(c.returns, node)
		}
		slices.SortFunc(c.returns, func(a, b *graph.Node) int { return int(a.Id()) - int(b.Id()) })
	default:
		return nil, errors.Errorf("Computation: returns must be *graph.Node, []*graph.Node or "+
			"sets.Set[*graph.Node], got %T", returns)
	}
	for ii, node := range c.returns {
		if node == nil {
			return nil, errors.Errorf("Computation: returned node #%d is nil", ii)
		}
		if err := t.checkGraph(node); err != nil {
			return nil, err
		}
	}
	for ii, param := range params {
		if param == nil || !param.IsPlaceholder() {
			return nil, errors.Wrapf(errs.ErrShape, "Computation: parameter #%d (%v) is not a placeholder", ii, param)
		}
		if err := t.checkGraph(param); err != nil {
			return nil, err
		}
	}
	c.params = slices.Clone(params)
	c.name = fmt.Sprintf("%s/computation#%d", t.config.Name, c.id)
	t.computations = append(t.computations, c)
	return c, nil
}

// checkGraph checks that all computations are defined on the same graph.
func (t *Transformer) checkGraph(node *graph.Node) error {
	if t.graph == nil {
		t.graph = node.Graph()
		return nil
	}
	if node.Graph() != t.graph {
		return errors.Errorf("transformer %q: node %s belongs to graph %q, but the transformer computations "+
			"are defined on graph %q", t.config.Name, node, node.Graph().Name(), t.graph.Name())
	}
	return nil
}

// graphPasses returns the passes to run during Finalize, in order.
func (t *Transformer) graphPasses() ([]passes.GraphPass, error) {
	var list []passes.GraphPass
	if t.config.Passes == nil {
		list = append(list, passes.SimplePrune())
	} else {
		for _, name := range t.config.Passes {
			pass, err := passes.New(name)
			if err != nil {
				return nil, err
			}
			list = append(list, pass)
		}
	}
	list = append(list, t.extraPasses...)
	if provider, ok := t.backend.(backends.GraphPassProvider); ok {
		list = append(list, provider.GraphPasses()...)
	}
	list = append(list, passes.NewRequiredTensorShaping())
	if t.config.MaxIterations > 0 {
		for _, pass := range list {
			switch p := pass.(type) {
			case *passes.PeepholeGraphPass:
				p.MaxIterations = t.config.MaxIterations
			case *passes.GraphRewritePass:
				p.MaxIterations = t.config.MaxIterations
			}
		}
	}
	return list, nil
}

// Finalize runs the graph passes over all the declared computations, orders their ops and assigns a
// buffer to each of their tensors. Afterwards no computation can be declared.
//
// It is called implicitly by the first Computation.Call, and it is a no-op if already finalized.
func (t *Transformer) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizeLocked()
}

func (t *Transformer) finalizeLocked() error {
	if t.state >= StateFinalized {
		return nil
	}
	if len(t.computations) == 0 {
		return errors.Errorf("transformer %q: no computations declared", t.config.Name)
	}
	start := time.Now()
	err := exceptions.TryCatch[error](func() {
		if err := t.finalizeGraph(); err != nil {
			panic(err)
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "finalizing transformer %q", t.config.Name)
	}
	t.state = StateFinalized
	if klog.V(1).Enabled() {
		persistent, shared := t.allocator.totalMemory()
		klog.Infof("transformer %q finalized %d computations (%d initialization ops) in %s: %d buffers "+
			"(%s persistent, %s shared)", t.config.Name, len(t.computations), len(t.init.ops),
			time.Since(start), len(t.allocator.buffers), humanize.Bytes(persistent), humanize.Bytes(shared))
	}
	return nil
}

// roots returns the resolved results and parameters of all the computations.
func (t *Transformer) roots() []*graph.Node {
	var roots []*graph.Node
	for _, c := range t.computations {
		for _, node := range c.returns {
			roots = append(roots, node.Resolve())
		}
		for _, node := range c.params {
			roots = append(roots, node.Resolve())
		}
	}
	return roots
}

func (t *Transformer) finalizeGraph() error {
	// Graph passes, over the computations and the initializers of the tensors they use.
	list, err := t.graphPasses()
	if err != nil {
		return err
	}
	initializers, err := collectInitializers(t.roots())
	if err != nil {
		return err
	}
	passRoots := append(t.roots(), initializers...)
	for _, pass := range list {
		if err := pass.Run(passRoots); err != nil {
			return errors.WithMessagef(err, "graph pass %q", pass.Name())
		}
		for ii, node := range passRoots {
			passRoots[ii] = node.Resolve()
		}
	}
	if err := graph.ComputeAllControlDependencies(passRoots...); err != nil {
		return err
	}

	// Schedules of the computations.
	var allOrdered []*graph.Node
	for _, c := range t.computations {
		c.results = make([]*graph.Node, len(c.returns))
		for ii, node := range c.returns {
			c.results[ii] = node.Resolve()
		}
		c.placeholders = make([]*graph.Node, len(c.params))
		for ii, node := range c.params {
			c.placeholders[ii] = node.Resolve()
		}
		ordered, err := graph.OrderedOpsOrError(append(slices.Clone(c.results), c.placeholders...)...)
		if err != nil {
			return errors.WithMessagef(err, "ordering %s", c.name)
		}
		c.schedule = &schedule{name: c.name, ops: ordered, results: c.results}
		allOrdered = append(allOrdered, ordered...)
	}

	// Initialization schedule: initializers are collected again, since passes may have created constants.
	ordered, err := orderedInitializers(allOrdered)
	if err != nil {
		return errors.WithMessage(err, "ordering initializers")
	}
	initOps, err := initializationSchedule(ordered)
	if err != nil {
		return errors.WithMessage(err, "ordering initializers")
	}
	t.init = &schedule{name: t.config.Name + "/init", ops: initOps}

	// Buffers.
	t.allocator = newBufferAllocator(t.config.bufferReuse())
	for _, s := range t.schedules() {
		s.buffers, err = t.allocator.assign(s.ops, s.results)
		if err != nil {
			return errors.WithMessagef(err, "schedule %q", s.name)
		}
	}
	return nil
}

// schedules returns the initialization schedule followed by the schedules of the computations.
func (t *Transformer) schedules() []*schedule {
	list := []*schedule{t.init}
	for _, c := range t.computations {
		list = append(list, c.schedule)
	}
	return list
}

// Allocate finalizes the transformer if needed, allocates the device buffers and compiles the programs.
// It is a no-op if already allocated.
func (t *Transformer) Allocate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocateLocked()
}

func (t *Transformer) allocateLocked() error {
	if t.state >= StateAllocated {
		return nil
	}
	if err := t.finalizeLocked(); err != nil {
		return err
	}
	if err := t.allocator.allocate(t.backend); err != nil {
		return errors.WithMessagef(err, "transformer %q", t.config.Name)
	}
	deviceTensors := make(map[*virtualBuffer]map[*graph.Node]backends.DeviceTensor)
	for _, s := range t.schedules() {
		if err := s.compile(t.backend, deviceTensors); err != nil {
			return errors.WithMessagef(err, "transformer %q", t.config.Name)
		}
	}
	t.state = StateAllocated
	return nil
}

// Initialize allocates the transformer if needed and runs the initializers of the persistent tensors.
// It is a no-op if already initialized.
func (t *Transformer) Initialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initializeLocked()
}

func (t *Transformer) initializeLocked() error {
	if t.closed {
		return errors.Errorf("transformer %q is closed", t.config.Name)
	}
	if t.state >= StateInitialized {
		return nil
	}
	if err := t.allocateLocked(); err != nil {
		return err
	}
	if err := t.init.run(context.Background()); err != nil {
		return errors.WithMessagef(err, "initializing transformer %q", t.config.Name)
	}
	t.state = StateInitialized
	return nil
}

// Close releases the compiled programs, and the backend if it was created by the transformer.
// The computations can no longer be called.
func (t *Transformer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.state >= StateAllocated {
		for _, s := range t.schedules() {
			s.exec.Finalize()
		}
	}
	if t.ownsBackend {
		t.backend.Finalize()
	}
}
