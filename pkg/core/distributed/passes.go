// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/passes"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"k8s.io/klog/v2"
)

// Names of the distributed graph passes.
const (
	DeviceAssignName  = "DeviceAssign"
	CommunicationName = "Communication"
	CommDepsName      = "CommDeps"
)

// reachable returns the nodes reachable from roots following the arguments, and from each Recv to its Send.
func reachable(roots []*graph.Node) []*graph.Node {
	return newCommGraph().build(roots, commInputs)
}

// inputsFirst returns the nodes reachable from roots, as reachable does, with every node after its inputs.
func inputsFirst(roots []*graph.Node) ([]*graph.Node, error) {
	g := newCommGraph()
	g.build(roots, commInputs)
	nodes, err := g.sorted()
	if err != nil {
		return nil, err
	}
	slices.Reverse(nodes)
	return nodes, nil
}

// DeviceAssignPass completes the placement of every node reachable from the roots, crossing Send/Recv
// pairs: nodes without a device get the default one, and nodes without a transformer get one named after
// their device and device id (e.g. "cpu1").
//
// It should run over the roots of all transformers sharing a graph, before CommunicationPass.
type DeviceAssignPass struct {
	DefaultDevice   string
	DefaultDeviceID int

	transformers *sets.Ordered[string]
}

var _ passes.GraphPass = (*DeviceAssignPass)(nil)

// NewDeviceAssignPass creates a DeviceAssignPass with the given defaults.
func NewDeviceAssignPass(defaultDevice string, defaultDeviceID int) *DeviceAssignPass {
	return &DeviceAssignPass{
		DefaultDevice:   defaultDevice,
		DefaultDeviceID: defaultDeviceID,
		transformers:    sets.MakeOrdered[string](),
	}
}

// Name implements passes.GraphPass.
func (p *DeviceAssignPass) Name() string { return DeviceAssignName }

// Run implements passes.GraphPass.
func (p *DeviceAssignPass) Run(roots []*graph.Node) error {
	for _, node := range reachable(roots) {
		if device, _ := node.GetMetadata(MetadataDevice); device == nil || device == "" {
			node.SetMetadata(MetadataDevice, p.DefaultDevice)
		}
		if _, found := node.GetMetadata(MetadataDeviceID); !found {
			node.SetMetadata(MetadataDeviceID, p.DefaultDeviceID)
		}
		placement := PlacementOf(node)
		if placement.Transformer == "" {
			placement.Transformer = fmt.Sprintf("%s%d", placement.Device, placement.DeviceID)
			node.SetMetadata(MetadataTransformer, placement.Transformer)
		}
		p.transformers.Insert(placement.Transformer)
	}
	return nil
}

// Transformers returns the names of the transformers the nodes visited so far are placed on, sorted.
func (p *DeviceAssignPass) Transformers() []string {
	names := p.transformers.Slice()
	slices.Sort(names)
	return names
}

// CommunicationPass inserts the communication nodes between nodes placed on different transformers or
// devices: each argument placed elsewhere than its consumer is sent from its own placement (graph.Send)
// and received at the consumer's (graph.Recv), and the consumer is replaced by one reading the Recv.
//
// Constants are not communicated: each transformer initializes its own copy.
//
// The Send nodes created must be executed by the transformers they are placed on: see Sends. Since they
// are new roots, the pass should run over the roots of all the transformers sharing the graph before
// their computations are declared, after DeviceAssignPass.
type CommunicationPass struct {
	sends map[string][]*graph.Node

	// recvs caches the Recv of each argument at each placement, so consumers share them. Arguments are
	// rerouted before their consumers, so the cached ones stay resolved.
	recvs map[commKey]*graph.Node
}

type commKey struct {
	arg       *graph.Node
	placement Placement
}

var _ passes.GraphPass = (*CommunicationPass)(nil)

// NewCommunicationPass creates a CommunicationPass.
func NewCommunicationPass() *CommunicationPass {
	return &CommunicationPass{
		sends: make(map[string][]*graph.Node),
		recvs: make(map[commKey]*graph.Node),
	}
}

// Name implements passes.GraphPass.
func (p *CommunicationPass) Name() string { return CommunicationName }

// Sends returns the Send nodes inserted so far placed on the transformer, in order of creation.
func (p *CommunicationPass) Sends(transformer string) []*graph.Node {
	return slices.Clone(p.sends[transformer])
}

// Run implements passes.GraphPass.
func (p *CommunicationPass) Run(roots []*graph.Node) error {
	start := time.Now()
	nodes, err := inputsFirst(roots)
	if err != nil {
		return err
	}
	var count int
	err = exceptions.TryCatch[error](func() {
		for _, node := range nodes {
			if node.IsForwarded() {
				continue
			}
			placement := PlacementOf(node)
			args := node.Args()
			var crossing bool
			for ii, arg := range args {
				if arg.IsConstant() || PlacementOf(arg) == placement {
					continue
				}
				args[ii] = p.recvOf(arg, placement)
				crossing = true
				count++
			}
			if crossing {
				rerouted := graph.WithArgs(node, args...)
				node.Graph().Replace(node, rerouted)
			}
		}
	})
	if klog.V(1).Enabled() {
		klog.Infof("graph pass %q: %d arguments communicated in %s", p.Name(), count, time.Since(start))
	}
	return err
}

// recvOf returns the Recv of arg at placement, creating the Send/Recv pair the first time.
func (p *CommunicationPass) recvOf(arg *graph.Node, placement Placement) *graph.Node {
	key := commKey{arg: arg, placement: placement}
	if recv, found := p.recvs[key]; found {
		return recv
	}
	from := PlacementOf(arg)
	send := Send(arg, from)
	recv := Recv(send, placement)
	p.sends[from.Transformer] = append(p.sends[from.Transformer], send)
	p.recvs[key] = recv
	if klog.V(2).Enabled() {
		klog.Infof("distributed: %s sent from %s to %s", arg, from, placement)
	}
	return recv
}

// CommDepsPass runs UpdateCommDeps over the roots it is given. Registered in each of the transformers
// sharing a graph (see transformer.Transformer.RegisterGraphPass), it orders their Recv nodes before the
// ops are scheduled.
type CommDepsPass struct{}

var _ passes.GraphPass = CommDepsPass{}

// NewCommDepsPass creates a CommDepsPass.
func NewCommDepsPass() CommDepsPass { return CommDepsPass{} }

// Name implements passes.GraphPass.
func (CommDepsPass) Name() string { return CommDepsName }

// Run implements passes.GraphPass.
func (CommDepsPass) Run(roots []*graph.Node) error {
	return UpdateCommDeps(roots...)
}
