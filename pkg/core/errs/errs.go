// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package errs defines the error taxonomy shared by the graph IR, the passes, the transformer and the backends.
//
// Graph construction functions panic with errors wrapping one of these sentinels (see errors.Wrapf), and
// the "...OrError" variants and Computation calls return them. Use errors.Is to test for a category:
//
//	err := exceptions.TryCatch[error](func() { graph.Dot(x, y) })
//	if errors.Is(err, errs.ErrShape) { ... }
package errs

import "github.com/pkg/errors"

var (
	// ErrShape is returned when an operator's axis-compatibility precondition fails: contraction axes
	// that don't pair via dual offsets, a slice spec whose length differs from the rank, mismatched dtypes, etc.
	ErrShape = errors.New("shape error")

	// ErrNotDAG is returned by the topological ordering when a cycle is detected.
	ErrNotDAG = errors.New("graph not a DAG")

	// ErrArgumentCount is returned when a computation is called with the wrong number of arguments.
	ErrArgumentCount = errors.New("wrong number of arguments")

	// ErrIllegalMutation is returned when assigning into a constant tensor, declaring a computation on a
	// finalized transformer, re-binding an axis length or installing an invalid forward link.
	ErrIllegalMutation = errors.New("illegal mutation")

	// ErrBackendCapability is returned when the active backend doesn't implement a requested op,
	// dtype or parameter combination.
	ErrBackendCapability = errors.New("not supported by backend")
)
