// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/pkg/errors"
)

// Capabilities holds mappings of what is supported by a backend.
type Capabilities struct {
	// OpTypes supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	OpTypes map[graph.OpType]bool

	// DTypes list the data types supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool

	// AsymmetricPadding is set if convolutions and poolings accept different low and high paddings.
	AsymmetricPadding bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	c2 := c
	c2.OpTypes = make(map[graph.OpType]bool, len(c.OpTypes))
	maps.Copy(c2.OpTypes, c.OpTypes)
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// Check returns an error wrapping errs.ErrBackendCapability for the first op of the program the backend
// can't execute: because of its type, the dtype of its output or inputs, or its padding.
func (c Capabilities) Check(program *Program) error {
	for _, op := range program.Ops {
		if !c.OpTypes[op.Type()] {
			return errors.Wrapf(errs.ErrBackendCapability, "program %q: op type %s not supported, used by %s",
				program.Name, op.Type(), op)
		}
		if op.IsTensor() && !c.DTypes[op.DType()] {
			return errors.Wrapf(errs.ErrBackendCapability, "program %q: dtype %s not supported, used by %s",
				program.Name, op.DType(), op)
		}
		for _, arg := range op.Args() {
			if arg.IsTensor() && !c.DTypes[arg.DType()] {
				return errors.Wrapf(errs.ErrBackendCapability, "program %q: dtype %s not supported, used by %s",
					program.Name, arg.DType(), arg)
			}
		}
		if c.AsymmetricPadding {
			continue
		}
		var padding *graph.ConvParams
		switch params := op.Params().(type) {
		case *graph.ConvolutionParams:
			padding = &params.ConvParams
		case *graph.PoolingParams:
			padding = &params.ConvParams
		}
		if padding != nil && !padding.IsSymmetricPadding() {
			return errors.Wrapf(errs.ErrBackendCapability, "program %q: asymmetric padding %v not supported, used by %s",
				program.Name, padding.Padding, op)
		}
	}
	return nil
}
