// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed places the nodes of one graph on several transformers, and coordinates them with
// communication nodes (graph.Send and graph.Recv).
//
// Each transformer compiles the computations of its part of the graph. A Recv node has no arguments: the
// data dependency on its Send crosses transformers, and the order in which a transformer runs its Recv
// nodes relative to its other ops can deadlock the peers. UpdateCommDeps adds the control dependencies
// that prevent it, and it must run before the transformers are finalized: register CommDepsPass in each
// transformer to run it as a graph pass.
//
// Alternatively the graph can be placed by device only: DeviceAssignPass names the transformers, and
// CommunicationPass inserts the Send/Recv pairs where values cross placements.
//
// Example:
//
//	var send *graph.Node
//	distributed.WithPlacement(g, distributed.Placement{Transformer: "t0"}, func() {
//		send = graph.Send(graph.Mul(x, two))
//	})
//	recv := distributed.Recv(send, distributed.Placement{Transformer: "t1"})
//	...
//	err := distributed.UpdateCommDeps(send, result)
package distributed

import (
	"fmt"

	"github.com/gomlx/opgraph/pkg/core/graph"
)

// Metadata keys of the placement of a node.
const (
	MetadataTransformer = "transformer"
	MetadataDevice      = "device"
	MetadataDeviceID    = "device_id"
)

// Placement of a node: the transformer that executes it, and the device it runs on within that
// transformer.
type Placement struct {
	Transformer string
	Device      string
	DeviceID    int
}

// String implements fmt.Stringer.
func (p Placement) String() string {
	if p.Device == "" {
		return p.Transformer
	}
	return fmt.Sprintf("%s/%s:%d", p.Transformer, p.Device, p.DeviceID)
}

// metadata returns the placement as node metadata.
func (p Placement) metadata() map[string]any {
	return map[string]any{
		MetadataTransformer: p.Transformer,
		MetadataDevice:      p.Device,
		MetadataDeviceID:    p.DeviceID,
	}
}

// Place sets the placement of node.
func Place(node *graph.Node, p Placement) {
	for key, value := range p.metadata() {
		node.SetMetadata(key, value)
	}
}

// WithPlacement runs fn with every node it creates in g placed as p.
func WithPlacement(g *graph.Graph, p Placement, fn func()) {
	g.WithMetadata(p.metadata(), fn)
}

// PlacementOf returns the placement of node. Missing keys take the zero value.
func PlacementOf(node *graph.Node) Placement {
	var p Placement
	if value, found := node.GetMetadata(MetadataTransformer); found {
		p.Transformer, _ = value.(string)
	}
	if value, found := node.GetMetadata(MetadataDevice); found {
		p.Device, _ = value.(string)
	}
	if value, found := node.GetMetadata(MetadataDeviceID); found {
		p.DeviceID, _ = value.(int)
	}
	return p
}

// Send creates a graph.Send of x placed as p.
func Send(x *graph.Node, p Placement) *graph.Node {
	send := graph.Send(x)
	Place(send, p)
	return send
}

// Recv creates a graph.Recv of send placed as p: the transformer that receives the value.
func Recv(send *graph.Node, p Placement) *graph.Node {
	recv := graph.Recv(send)
	Place(recv, p)
	return recv
}
