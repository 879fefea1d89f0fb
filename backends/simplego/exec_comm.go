// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// mailboxes connect Send and Recv ops, possibly executed by different backends of the same process.
// They are keyed by the UUID of the Send node, and each holds at most one value in transit: a Send
// blocks until the previous value was received.
var mailboxes sync.Map

func mailboxFor(sendUUID uuid.UUID) chan *tensors.Tensor {
	mailbox, _ := mailboxes.LoadOrStore(sendUUID, make(chan *tensors.Tensor, 1))
	return mailbox.(chan *tensors.Tensor)
}

// execSend copies its argument to its own storage, and posts a host copy of it to the mailbox of the send.
func execSend(_ kernelSet, e *execution, node *graph.Node) {
	src, dst := e.tensorOf(node.Arg(0)), e.tensorOf(node)
	value, err := src.Get()
	if err != nil {
		panic(err)
	}
	if err = dst.Set(value); err != nil {
		panic(err)
	}
	e.backend.workers.WorkerIsAsleep()
	defer e.backend.workers.WorkerRestarted()
	select {
	case mailboxFor(node.UUID()) <- value:
	case <-e.ctx.Done():
		panic(errors.Wrapf(e.ctx.Err(), "sending value of %s", node))
	}
}

// execRecv waits for the value posted by the matching Send op, and copies it to its storage.
// While it waits, the pool may start another worker in its place.
func execRecv(_ kernelSet, e *execution, node *graph.Node) {
	send := node.Params().(*graph.RecvParams).Send()
	e.backend.workers.WorkerIsAsleep()
	defer e.backend.workers.WorkerRestarted()
	select {
	case value := <-mailboxFor(send.UUID()):
		if err := e.tensorOf(node).Set(value); err != nil {
			panic(err)
		}
	case <-e.ctx.Done():
		panic(errors.Wrapf(e.ctx.Err(), "waiting for value of %s", send))
	}
}
