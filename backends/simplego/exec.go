// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// numeric are the Go types of the dtypes supported by the kernels.
type numeric interface {
	constraints.Float | constraints.Signed
}

// kernels implements kernelSet for the Go type T.
type kernels[T numeric] struct{}

// kernelSet are the kernels that depend on the dtype of the data: there is one instance per supported dtype,
// see kernelSets.
type kernelSet interface {
	unary(e *execution, node *graph.Node)
	binary(e *execution, node *graph.Node)
	reduce(e *execution, node *graph.Node)
	tensorSize(e *execution, node *graph.Node)
	align(e *execution, node *graph.Node)
	tensorSlice(e *execution, node *graph.Node)
	unslice(e *execution, node *graph.Node)
	concat(e *execution, node *graph.Node)
	oneHot(e *execution, node *graph.Node)
	dot(e *execution, node *graph.Node)
	assign(e *execution, node *graph.Node)
	fill(e *execution, node *graph.Node)
	relu(e *execution, node *graph.Node)
	bpropRelu(e *execution, node *graph.Node)
	convolution(e *execution, node *graph.Node)
	convolutionBpropData(e *execution, node *graph.Node)
	convolutionBpropFilter(e *execution, node *graph.Node)
	pooling(e *execution, node *graph.Node)
	poolingBprop(e *execution, node *graph.Node)
}

// kernelSets maps the supported dtypes to their kernels.
var kernelSets = map[dtypes.DType]kernelSet{
	dtypes.Int8:    kernels[int8]{},
	dtypes.Int16:   kernels[int16]{},
	dtypes.Int32:   kernels[int32]{},
	dtypes.Int64:   kernels[int64]{},
	dtypes.Float32: kernels[float32]{},
	dtypes.Float64: kernels[float64]{},
}

// executor executes one op. It panics with an error if it fails.
type executor func(k kernelSet, e *execution, node *graph.Node)

// executors maps each op type to its executor. Op types with a nil executor are not supported.
var executors = [graph.OpTypeLast]executor{
	graph.OpTypeNegative:     kernelSet.unary,
	graph.OpTypeAbs:          kernelSet.unary,
	graph.OpTypeSign:         kernelSet.unary,
	graph.OpTypeReciprocal:   kernelSet.unary,
	graph.OpTypeSquare:       kernelSet.unary,
	graph.OpTypeSqrt:         kernelSet.unary,
	graph.OpTypeExp:          kernelSet.unary,
	graph.OpTypeLog:          kernelSet.unary,
	graph.OpTypeTanh:         kernelSet.unary,
	graph.OpTypeSin:          kernelSet.unary,
	graph.OpTypeCos:          kernelSet.unary,
	graph.OpTypeStopGradient: kernelSet.unary,

	graph.OpTypeAdd:          kernelSet.binary,
	graph.OpTypeSub:          kernelSet.binary,
	graph.OpTypeMul:          kernelSet.binary,
	graph.OpTypeDiv:          kernelSet.binary,
	graph.OpTypePow:          kernelSet.binary,
	graph.OpTypeMaximum:      kernelSet.binary,
	graph.OpTypeMinimum:      kernelSet.binary,
	graph.OpTypeEqual:        kernelSet.binary,
	graph.OpTypeNotEqual:     kernelSet.binary,
	graph.OpTypeGreater:      kernelSet.binary,
	graph.OpTypeGreaterEqual: kernelSet.binary,
	graph.OpTypeLess:         kernelSet.binary,
	graph.OpTypeLessEqual:    kernelSet.binary,

	graph.OpTypeReduceSum:  kernelSet.reduce,
	graph.OpTypeReduceMax:  kernelSet.reduce,
	graph.OpTypeReduceMin:  kernelSet.reduce,
	graph.OpTypeReduceProd: kernelSet.reduce,
	graph.OpTypeTensorSize: kernelSet.tensorSize,

	graph.OpTypeBroadcast:   kernelSet.align,
	graph.OpTypeExpandDims:  kernelSet.align,
	graph.OpTypeReorderAxes: kernelSet.align,
	graph.OpTypeAxesCast:    execCopy,
	graph.OpTypeFlatten:     execCopy,
	graph.OpTypeUnflatten:   execCopy,
	graph.OpTypeTensorSlice: kernelSet.tensorSlice,
	graph.OpTypeUnslice:     kernelSet.unslice,
	graph.OpTypeConcat:      kernelSet.concat,
	graph.OpTypeOneHot:      kernelSet.oneHot,
	graph.OpTypeDot:         kernelSet.dot,

	graph.OpTypeAssign:     kernelSet.assign,
	graph.OpTypeFill:       kernelSet.fill,
	graph.OpTypeInitTensor: execInitTensor,

	graph.OpTypeRelu:                   kernelSet.relu,
	graph.OpTypeBpropRelu:              kernelSet.bpropRelu,
	graph.OpTypeConvolution:            kernelSet.convolution,
	graph.OpTypeConvolutionBpropData:   kernelSet.convolutionBpropData,
	graph.OpTypeConvolutionBpropFilter: kernelSet.convolutionBpropFilter,
	graph.OpTypePooling:                kernelSet.pooling,
	graph.OpTypePoolingBprop:           kernelSet.poolingBprop,

	graph.OpTypeSend: execSend,
	graph.OpTypeRecv: execRecv,
}

// opDType returns the dtype used to select the kernels of the op: the dtype of its value, or of the storage
// it writes to for state ops.
func opDType(node *graph.Node) dtypes.DType {
	if node.IsTensor() || node.NumArgs() == 0 {
		return node.DType()
	}
	return node.Arg(0).DType()
}

// step is one compiled op of an Executable.
type step struct {
	node     *graph.Node
	kernels  kernelSet
	executor executor
}

// Executable implements backends.Executable for SimpleGo.
type Executable struct {
	backend *Backend
	name    string
	steps   []step
	tensors map[*graph.Node]*Tensor

	// mu serializes runs: they share the same storage.
	mu        sync.Mutex
	finalized atomic.Bool
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

// Compile implements backends.Backend.
func (b *Backend) Compile(program *backends.Program) (backends.Executable, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	if err := Capabilities.Check(program); err != nil {
		return nil, err
	}
	exec := &Executable{
		backend: b,
		name:    program.Name,
		steps:   make([]step, 0, len(program.Ops)),
		tensors: make(map[*graph.Node]*Tensor, len(program.Tensors)),
	}
	for node, deviceTensor := range program.Tensors {
		t, ok := deviceTensor.(*Tensor)
		if !ok {
			return nil, errors.Errorf("simplego: program %q: device tensor of type %T for %s was not created by simplego",
				program.Name, deviceTensor, node)
		}
		exec.tensors[node] = t
	}
	for _, op := range program.Ops {
		if !op.IsDeviceOp() {
			return nil, errors.Errorf("simplego: program %q: %s is not a device op", program.Name, op)
		}
		for _, n := range append(op.Args(), op) {
			if !n.IsTensor() {
				continue
			}
			t, found := exec.tensors[n]
			if !found {
				return nil, errors.Errorf("simplego: program %q: no storage given for %s, used by %s",
					program.Name, n, op)
			}
			if !t.layout.Shape.Equal(n.Shape()) {
				return nil, errors.Wrapf(errs.ErrShape, "simplego: program %q: storage of shape %s given for %s",
					program.Name, t.layout.Shape, n)
			}
		}
		exec.steps = append(exec.steps, step{
			node:     op,
			kernels:  kernelSets[opDType(op)],
			executor: executors[op.Type()],
		})
	}
	if klog.V(1).Enabled() {
		klog.Infof("simplego: compiled program %q with %d ops", program.Name, len(exec.steps))
	}
	return exec, nil
}

// Finalize implements backends.Executable.
func (exec *Executable) Finalize() {
	exec.finalized.Store(true)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	exec.steps = nil
	exec.tensors = nil
}

// execution holds the state of one run of an Executable.
type execution struct {
	ctx     context.Context
	backend *Backend
	tensors map[*graph.Node]*Tensor
}

// Run implements backends.Executable.
func (exec *Executable) Run(ctx context.Context) error {
	if exec.finalized.Load() {
		return errors.Errorf("simplego: program %q already finalized", exec.name)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if err := exec.backend.checkOk(); err != nil {
		return err
	}
	var start time.Time
	if klog.V(1).Enabled() {
		start = time.Now()
	}
	e := &execution{ctx: ctx, backend: exec.backend, tensors: exec.tensors}
	for ii, s := range exec.steps {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "simplego: program %q interrupted at op #%d", exec.name, ii)
		}
		if klog.V(2).Enabled() {
			klog.Infof("simplego: program %q, op #%d: %s", exec.name, ii, s.node)
		}
		err := exceptions.TryCatch[error](func() { s.executor(s.kernels, e, s.node) })
		if err != nil {
			return errors.WithMessagef(err, "simplego: program %q, executing op #%d %s", exec.name, ii, s.node)
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("simplego: program %q ran %d ops in %s", exec.name, len(exec.steps), time.Since(start))
	}
	return nil
}

// tensorOf returns the storage of the node.
func (e *execution) tensorOf(node *graph.Node) *Tensor {
	t, found := e.tensors[node.Resolve()]
	if !found {
		exceptions.Panicf("no storage for %s", node)
	}
	return t
}

// parallelFor splits the range [0, n) among the backend workers.
func (e *execution) parallelFor(n int, fn func(start, end int)) {
	e.backend.workers.ParallelFor(n, e.backend.minChunk, fn)
}

// execCopy copies the data of the argument unchanged: used by ops that only change the axes.
func execCopy(_ kernelSet, e *execution, node *graph.Node) {
	src, dst := e.tensorOf(node.Arg(0)), e.tensorOf(node)
	if src.buffer == dst.buffer && src.layout.Offset == dst.layout.Offset {
		return
	}
	reflect.Copy(dst.flatValue(), src.flatValue())
}

// execInitTensor sets the storage with the value returned by the host function.
func execInitTensor(_ kernelSet, e *execution, node *graph.Node) {
	params := node.Params().(*graph.InitTensorParams)
	if err := e.backend.Initialize(e.tensorOf(node.Arg(0)), params.Fn); err != nil {
		panic(err)
	}
}
