// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// virtualBuffer is a buffer planned during Finalize, and allocated by the backend during Allocate.
type virtualBuffer struct {
	id          int
	dtype       dtypes.DType
	numElements int

	// owner is the persistent tensor owning the buffer, or nil for buffers shared by non-persistent tensors.
	owner *graph.Node

	buffer backends.Buffer
}

func (b *virtualBuffer) String() string {
	if b.owner != nil {
		return fmt.Sprintf("buffer#%d(%s[%d] for %s)", b.id, b.dtype, b.numElements, b.owner)
	}
	return fmt.Sprintf("buffer#%d(%s[%d])", b.id, b.dtype, b.numElements)
}

// memory in bytes of the buffer.
func (b *virtualBuffer) memory() uint64 {
	return uint64(b.numElements) * uint64(b.dtype.Size())
}

// freeList holds, for one dtype, the non-persistent buffers not in use, indexed by their number of elements.
type freeList = redblacktree.Tree[int, []*virtualBuffer]

// bufferAllocator plans the buffers of all the schedules of a transformer.
//
// Persistent tensors (placeholders, variables, constants) have a dedicated buffer shared by all schedules.
// Non-persistent tensors get a buffer from a pool shared by all schedules: within a schedule, a buffer is
// held from the op that defines the tensor to its last use, and tensors that are not simultaneously live
// can share it.
type bufferAllocator struct {
	reuse      bool
	buffers    []*virtualBuffer
	persistent map[*graph.Node]*virtualBuffer
	free       map[dtypes.DType]*freeList
}

func newBufferAllocator(reuse bool) *bufferAllocator {
	return &bufferAllocator{
		reuse:      reuse,
		persistent: make(map[*graph.Node]*virtualBuffer),
	}
}

func (a *bufferAllocator) newBuffer(dtype dtypes.DType, numElements int, owner *graph.Node) *virtualBuffer {
	b := &virtualBuffer{id: len(a.buffers), dtype: dtype, numElements: numElements, owner: owner}
	a.buffers = append(a.buffers, b)
	return b
}

// persistentBuffer returns the dedicated buffer of the persistent tensor base.
func (a *bufferAllocator) persistentBuffer(base *graph.Node, numElements int) *virtualBuffer {
	if b, found := a.persistent[base]; found {
		return b
	}
	b := a.newBuffer(base.DType(), numElements, base)
	a.persistent[base] = b
	return b
}

// take returns the best fitting free buffer for numElements of dtype: the smallest one large enough, or
// else the largest one, grown to numElements. A new buffer is created if none is free.
func (a *bufferAllocator) take(dtype dtypes.DType, numElements int) *virtualBuffer {
	if !a.reuse {
		return a.newBuffer(dtype, numElements, nil)
	}
	tree := a.free[dtype]
	if tree == nil || tree.Empty() {
		return a.newBuffer(dtype, numElements, nil)
	}
	node, found := tree.Ceiling(numElements)
	if !found {
		node = tree.Right()
	}
	list := node.Value
	b := list[len(list)-1]
	if len(list) == 1 {
		tree.Remove(node.Key)
	} else {
		tree.Put(node.Key, list[:len(list)-1])
	}
	b.numElements = max(b.numElements, numElements)
	return b
}

// release returns the non-persistent buffer to the free lists.
func (a *bufferAllocator) release(b *virtualBuffer) {
	if !a.reuse {
		return
	}
	tree := a.free[b.dtype]
	if tree == nil {
		tree = redblacktree.New[int, []*virtualBuffer]()
		a.free[b.dtype] = tree
	}
	list, _ := tree.Get(b.numElements)
	tree.Put(b.numElements, append(list, b))
}

// resetFreeLists marks every non-persistent buffer as free: used at the start of each schedule.
func (a *bufferAllocator) resetFreeLists() {
	a.free = make(map[dtypes.DType]*freeList)
	for _, b := range a.buffers {
		if b.owner == nil {
			a.release(b)
		}
	}
}

// assign plans the buffers of the tensors of a schedule: ordered are the nodes in execution order, and
// results are the nodes whose values are read after the schedule runs.
//
// It returns the buffer of the storage owner (see graph.TensorDescription.Base) of every tensor in ordered.
func (a *bufferAllocator) assign(ordered []*graph.Node, results []*graph.Node) (map[*graph.Node]*virtualBuffer, error) {
	a.resetFreeLists()

	// Liveness: index of the last use of the storage of each non-persistent owner.
	lastUse := make(map[*graph.Node]int)
	use := func(node *graph.Node, idx int) {
		if desc := node.TensorDescription(); desc != nil && !desc.Persistent {
			lastUse[desc.Base] = max(lastUse[desc.Base], idx)
		}
	}
	for idx, node := range ordered {
		use(node, idx)
		for _, arg := range node.Args() {
			use(arg, idx)
		}
	}
	for _, result := range results {
		use(result, len(ordered))
	}
	releaseAt := make(map[int][]*graph.Node, len(lastUse))
	for base, idx := range lastUse {
		releaseAt[idx] = append(releaseAt[idx], base)
	}

	assignment := make(map[*graph.Node]*virtualBuffer)
	for idx, node := range ordered {
		desc := node.TensorDescription()
		if desc != nil && desc.Base == node {
			shape, err := desc.Shape()
			if err != nil {
				return nil, errors.WithMessagef(err, "assigning storage to %s", node)
			}
			if desc.Persistent {
				assignment[node] = a.persistentBuffer(node, shape.Size())
			} else {
				assignment[node] = a.take(desc.DType, shape.Size())
			}
		}
		// Released after the op's own buffer is taken: an op never writes over its inputs.
		for _, base := range releaseAt[idx] {
			if b, found := assignment[base]; found {
				a.release(b)
			}
		}
	}
	return assignment, nil
}

// totalMemory returns the total memory in bytes of the planned buffers, persistent and shared.
func (a *bufferAllocator) totalMemory() (persistent, shared uint64) {
	for _, b := range a.buffers {
		if b.owner != nil {
			persistent += b.memory()
		} else {
			shared += b.memory()
		}
	}
	return
}

// allocate creates the device buffers of every planned buffer.
func (a *bufferAllocator) allocate(backend backends.Backend) error {
	for _, b := range a.buffers {
		if b.buffer != nil {
			continue
		}
		buffer, err := backend.AllocateBuffer(b.dtype, b.numElements)
		if err != nil {
			return errors.WithMessagef(err, "allocating %s", b)
		}
		b.buffer = buffer
	}
	if klog.V(1).Enabled() {
		persistent, shared := a.totalMemory()
		klog.Infof("allocated %d buffers: %s persistent, %s shared by temporary tensors",
			len(a.buffers), humanize.Bytes(persistent), humanize.Bytes(shared))
	}
	return nil
}
