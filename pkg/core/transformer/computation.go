// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"context"
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// returnsKind is how the results of a computation were declared.
type returnsKind int

const (
	returnsSingle returnsKind = iota
	returnsTuple
	returnsSet
)

// Computation is a callable function of a graph: its arguments are the values of placeholders, and its
// results the values of the returned nodes. It is created with Transformer.Computation.
//
// Example:
//
//	fn := must.M1(t.Computation([]*graph.Node{loss, update}, x, labels))
//	results := fn.Call(xBatch, labelsBatch)  // results[1] is nil: update is an Assign.
type Computation struct {
	transformer *Transformer
	id          int
	name        string
	kind        returnsKind

	// returns and params as declared: they may be replaced by the graph passes.
	returns, params []*graph.Node

	// results and placeholders are the resolved returns and params, after Finalize.
	results, placeholders []*graph.Node

	schedule *schedule
}

// Name of the computation, used in logs.
func (c *Computation) Name() string { return c.name }

// Transformer that owns the computation.
func (c *Computation) Transformer() *Transformer { return c.transformer }

// NumParams returns the number of arguments the computation takes.
func (c *Computation) NumParams() int { return len(c.params) }

// Ops returns the ordered ops of the computation, available after the transformer is finalized.
func (c *Computation) Ops() []*graph.Node {
	if c.schedule == nil {
		return nil
	}
	return slices.Clone(c.schedule.ops)
}

// CallContext executes the computation with the given arguments, one per parameter, and returns the value
// of each returned node, in the order they were declared (for a set of returns, in the order of their
// node ids). Returned nodes that are not tensors yield nil.
//
// The arguments can be *tensors.Tensor or Go values accepted by tensors.FromAnyValue (scalars and
// multidimensional slices). Their dimensions must match the lengths of the axes of the corresponding
// placeholder (errs.ErrShape otherwise), and they are converted to the placeholder dtype.
//
// On the first call, the transformer is finalized, allocated and initialized. Calls are serialized.
// It fails with errs.ErrArgumentCount if the number of arguments doesn't match the parameters.
func (c *Computation) CallContext(ctx context.Context, args ...any) ([]*tensors.Tensor, error) {
	if len(args) != len(c.params) {
		return nil, errors.Wrapf(errs.ErrArgumentCount, "%s: expected %d arguments, got %d",
			c.name, len(c.params), len(args))
	}
	t := c.transformer
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.initializeLocked(); err != nil {
		return nil, err
	}
	var start time.Time
	if klog.V(1).Enabled() {
		start = time.Now()
	}
	for ii, arg := range args {
		if err := c.setArgument(ii, arg); err != nil {
			return nil, err
		}
	}
	if err := c.schedule.run(ctx); err != nil {
		return nil, err
	}
	results := make([]*tensors.Tensor, len(c.results))
	for ii, node := range c.results {
		if !node.IsTensor() {
			continue
		}
		value, err := c.schedule.tensors[node].Get()
		if err != nil {
			return nil, errors.WithMessagef(err, "%s: reading result #%d", c.name, ii)
		}
		results[ii] = value
	}
	if klog.V(1).Enabled() {
		klog.Infof("%s: called in %s", c.name, time.Since(start))
	}
	return results, nil
}

// setArgument copies the argument to the storage of the ii-th placeholder.
func (c *Computation) setArgument(ii int, arg any) error {
	var value *tensors.Tensor
	err := exceptions.TryCatch[error](func() { value = tensors.FromAnyValue(arg) })
	if err != nil {
		return errors.WithMessagef(err, "%s: argument #%d", c.name, ii)
	}
	placeholder := c.placeholders[ii]
	shape := placeholder.Shape()
	if !slices.Equal(value.Shape().Dimensions, shape.Dimensions) {
		return errors.Wrapf(errs.ErrShape, "%s: argument #%d has dimensions %v, but placeholder %s requires %v",
			c.name, ii, value.Shape().Dimensions, placeholder, shape.Dimensions)
	}
	if err := c.schedule.tensors[placeholder].Set(value); err != nil {
		return errors.WithMessagef(err, "%s: argument #%d", c.name, ii)
	}
	return nil
}

// CallOrError executes the computation with a background context. See CallContext.
func (c *Computation) CallOrError(args ...any) ([]*tensors.Tensor, error) {
	return c.CallContext(context.Background(), args...)
}

// Call executes the computation, like CallOrError, but panics on errors.
func (c *Computation) Call(args ...any) []*tensors.Tensor {
	results, err := c.CallOrError(args...)
	if err != nil {
		panic(err)
	}
	return results
}

// Call1 executes a computation declared with a single returned node, and returns its value.
func (c *Computation) Call1(args ...any) (*tensors.Tensor, error) {
	if c.kind != returnsSingle {
		return nil, errors.Errorf("%s: Call1 requires a computation with a single returned node", c.name)
	}
	results, err := c.CallOrError(args...)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// CallMap executes the computation and returns the results keyed by the returned nodes, as they were
// given to Transformer.Computation. Non-tensor nodes are mapped to nil.
func (c *Computation) CallMap(args ...any) (map[*graph.Node]*tensors.Tensor, error) {
	results, err := c.CallOrError(args...)
	if err != nil {
		return nil, err
	}
	m := make(map[*graph.Node]*tensors.Tensor, len(results))
	for ii, node := range c.returns {
		m[node] = results[ii]
	}
	return m, nil
}

// schedule is a program of the transformer: the ordered nodes of a computation, or the initializers.
type schedule struct {
	name    string
	ops     []*graph.Node
	results []*graph.Node

	// buffers of the storage owners, planned by Finalize.
	buffers map[*graph.Node]*virtualBuffer

	// tensors of every tensor node in ops, created by Allocate.
	tensors map[*graph.Node]backends.DeviceTensor
	exec    backends.Executable
}

// compile creates the device tensors of the schedule and compiles its program. Device tensors are
// created once per buffer and storage owner: the cache is shared by all the schedules of a transformer.
func (s *schedule) compile(backend backends.Backend, cache map[*virtualBuffer]map[*graph.Node]backends.DeviceTensor) error {
	s.tensors = make(map[*graph.Node]backends.DeviceTensor)
	var deviceOps []*graph.Node
	for _, node := range s.ops {
		if node.IsDeviceOp() {
			deviceOps = append(deviceOps, node)
		}
		desc := node.TensorDescription()
		if desc == nil {
			continue
		}
		buffer, found := s.buffers[desc.Base]
		if !found {
			return errors.Errorf("%s: no buffer planned for %s", s.name, desc.Base)
		}
		byOwner := cache[buffer]
		if byOwner == nil {
			byOwner = make(map[*graph.Node]backends.DeviceTensor)
			cache[buffer] = byOwner
		}
		deviceTensor, found := byOwner[desc.Base]
		if !found {
			shape, err := desc.Base.ShapeOrError()
			if err != nil {
				return errors.WithMessagef(err, "%s", s.name)
			}
			deviceTensor, err = backend.DeviceTensor(buffer.buffer, backends.Layout{Shape: shape})
			if err != nil {
				return errors.WithMessagef(err, "%s: creating device tensor of %s in %s", s.name, desc.Base, buffer)
			}
			byOwner[desc.Base] = deviceTensor
		}
		s.tensors[node] = deviceTensor
	}
	exec, err := backend.Compile(&backends.Program{Name: s.name, Ops: deviceOps, Tensors: s.tensors})
	if err != nil {
		return errors.WithMessagef(err, "compiling %s", s.name)
	}
	s.exec = exec
	return nil
}

func (s *schedule) run(ctx context.Context) error {
	if err := s.exec.Run(ctx); err != nil {
		return errors.WithMessagef(err, "running %s", s.name)
	}
	return nil
}
