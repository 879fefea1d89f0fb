// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/pkg/errors"

// RecvParams are the parameters of a Recv node.
type RecvParams struct {
	send *Node
}

// Send returns the resolved Send node paired with the Recv.
func (p *RecvParams) Send() *Node { return p.send.Resolve() }

// Send returns a communication node that makes the value of x available to the matching Recv nodes,
// possibly executed by another transformer. Its value is x.
//
// See package distributed for the placement of communication nodes.
func Send(x *Node) *Node {
	x.AssertTensor()
	return x.graph.newNode(OpTypeSend, []*Node{x}, x.Axes(), x.DType(), nil)
}

// Recv returns a communication node that receives the value sent by send. It has no arguments: within
// a computation, it blocks until the matching send is executed.
func Recv(send *Node) *Node {
	send = send.Resolve()
	if send.Type() != OpTypeSend {
		panic(errors.Errorf("Recv: %s is not a Send node", send))
	}
	return send.graph.newNode(OpTypeRecv, nil, send.Axes(), send.DType(), &RecvParams{send: send})
}
