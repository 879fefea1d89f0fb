// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable CPU backend.
//
// Buffers are Go slices, and every op is executed by a Go kernel, in the order given by the transformer.
// Large element-wise kernels are split among a pool of workers.
//
// Configuration (the part after "simplego:" in the backend configuration) is a comma-separated list of:
//
//   - parallelism=N: soft limit of goroutines used by kernels. 0 disables parallelism, -1 makes it unlimited.
//     The default is the number of CPUs.
//   - chunk=N: minimum number of elements processed by each worker. Default is 4096.
package simplego

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/internal/workerspool"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/passes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in OPGRAPH_BACKEND to specify this backend.
const BackendName = "simplego"

// DefaultMinChunk is the default minimum number of elements processed by each worker of a kernel.
const DefaultMinChunk = 4096

// Registers New() as the constructor for the "simplego" backend.
func init() {
	backends.Register(BackendName, func(config string) (backends.Backend, error) { return New(config) })
}

// Backend implements the backends.Backend interface.
type Backend struct {
	workers  *workerspool.Pool
	minChunk int

	// allocated is the number of bytes allocated by AllocateBuffer.
	allocated atomic.Int64
	finalized atomic.Bool
}

// Compile-time checks that simplego.Backend implements backends.Backend and backends.GraphPassProvider.
var (
	_ backends.Backend           = &Backend{}
	_ backends.GraphPassProvider = &Backend{}
)

// New constructs a new SimpleGo Backend with the given configuration. See package documentation
// for the configuration format.
func New(config string) (*Backend, error) {
	b := &Backend{
		workers:  workerspool.New(),
		minChunk: DefaultMinChunk,
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("simplego: invalid configuration %q, expected key=value", part)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Wrapf(err, "simplego: invalid value for %q", key)
		}
		switch key {
		case "parallelism":
			b.workers.SetMaxParallelism(n)
		case "chunk":
			if n < 1 {
				return nil, errors.Errorf("simplego: chunk must be positive, got %d", n)
			}
			b.minChunk = n
		default:
			return nil, errors.Errorf("simplego: unknown configuration key %q in %q", key, config)
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("simplego backend created: parallelism=%d, chunk=%d", b.workers.MaxParallelism(), b.minChunk)
	}
	return b, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}

// Parallelism returns the soft limit of goroutines used by kernels.
func (b *Backend) Parallelism() int { return b.workers.MaxParallelism() }

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities
}

// GraphPasses implements backends.GraphPassProvider: the CPU backend has fused kernels for the rectifier.
func (b *Backend) GraphPasses() []passes.GraphPass {
	return []passes.GraphPass{passes.CPUFusion()}
}

// AllocatedBytes returns the total number of bytes allocated for buffers by the backend.
func (b *Backend) AllocatedBytes() int64 { return b.allocated.Load() }

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.finalized.Store(true)
}

// checkOk returns an error if the backend was finalized.
func (b *Backend) checkOk() error {
	if b.finalized.Load() {
		return errors.New("simplego: backend already finalized")
	}
	return nil
}

// Capabilities of the SimpleGo backend: the set of supported operations and data types.
var Capabilities = backends.Capabilities{
	OpTypes: func() map[graph.OpType]bool {
		ops := make(map[graph.OpType]bool)
		for opType, executor := range executors {
			if executor != nil {
				ops[graph.OpType(opType)] = true
			}
		}
		return ops
	}(),
	DTypes: map[dtypes.DType]bool{
		dtypes.Int8:    true,
		dtypes.Int16:   true,
		dtypes.Int32:   true,
		dtypes.Int64:   true,
		dtypes.Float32: true,
		dtypes.Float64: true,
	},
}
