// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"time"

	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/core/transformer"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Call of a computation with its arguments, see RunParallel.
type Call struct {
	Computation *transformer.Computation
	Args        []any
}

// RunParallel executes the calls concurrently and returns the results of each, in order.
//
// Calls exchanging values through Send/Recv nodes must run in parallel. They must also be computations
// of different transformers, since the calls of a transformer are serialized. If any call fails, the
// context of the others is cancelled, which unblocks their pending Recv nodes, and the first error is
// returned.
func RunParallel(ctx context.Context, calls ...Call) ([][]*tensors.Tensor, error) {
	var start time.Time
	if klog.V(1).Enabled() {
		start = time.Now()
	}
	for ii, call := range calls {
		if call.Computation == nil {
			return nil, errors.Errorf("RunParallel: call #%d has no computation", ii)
		}
	}
	results := make([][]*tensors.Tensor, len(calls))
	g, gCtx := errgroup.WithContext(ctx)
	for ii, call := range calls {
		g.Go(func() error {
			callResults, err := call.Computation.CallContext(gCtx, call.Args...)
			if err != nil {
				return errors.WithMessagef(err, "RunParallel: call #%d (%s)", ii, call.Computation.Name())
			}
			results[ii] = callResults
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("RunParallel: %d calls executed in %s", len(calls), time.Since(start))
	}
	return results, nil
}
