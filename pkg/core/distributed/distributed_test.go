// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	_ "github.com/gomlx/opgraph/backends/simplego"
	"github.com/gomlx/opgraph/pkg/core/axes"
	"github.com/gomlx/opgraph/pkg/core/errs"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/transformer"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain is a graph where a value crosses two Send/Recv pairs:
//
//	x → sendX ⇢ recvX → xPlusOne → sendXPlusOne ⇢ recvXPlusOne → z
type chain struct {
	x, sendX, recvX, xPlusOne, sendXPlusOne, recvXPlusOne, z *graph.Node
}

func newChain(g *graph.Graph, p Placement) *chain {
	c := &chain{}
	n := g.NewAxis("n", 3)
	WithPlacement(g, p, func() {
		c.x = graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
		c.sendX = graph.Send(c.x)
		c.recvX = graph.Recv(c.sendX)
		c.xPlusOne = c.recvX.Add(1)
		c.sendXPlusOne = graph.Send(c.xPlusOne)
		c.recvXPlusOne = graph.Recv(c.sendXPlusOne)
		c.z = c.recvXPlusOne.Add(2)
	})
	return c
}

func TestPlacement(t *testing.T) {
	g := graph.NewGraph(t.Name())
	p := Placement{Transformer: "t0", Device: "cpu", DeviceID: 1}
	c := newChain(g, p)
	assert.Equal(t, p, PlacementOf(c.z))
	assert.Equal(t, "t0/cpu:1", p.String())
	assert.Equal(t, "t1", Placement{Transformer: "t1"}.String())

	recv := Recv(c.sendX, Placement{Transformer: "t1"})
	assert.Equal(t, graph.OpTypeRecv, recv.Type())
	assert.Equal(t, "t1", PlacementOf(recv).Transformer)
	assert.Equal(t, Placement{}, PlacementOf(graph.Scalar(g, dtypes.Float32, 7)))
}

func TestFindRecvs(t *testing.T) {
	g := graph.NewGraph(t.Name())
	c := newChain(g, Placement{})
	assert.Equal(t, []*graph.Node{c.recvX}, FindRecvs(c.xPlusOne))
	assert.Equal(t, []*graph.Node{c.recvX}, FindRecvs(c.recvX))
	assert.Empty(t, FindRecvs(c.x))
	assert.Equal(t, []*graph.Node{c.recvX}, FindRecvs(c.sendXPlusOne))
	assert.Equal(t, []*graph.Node{c.recvX, c.recvXPlusOne}, FindRecvs(c.recvXPlusOne))
	assert.Equal(t, []*graph.Node{c.recvX, c.recvXPlusOne}, FindRecvs(c.z))
}

func TestCommPathExists(t *testing.T) {
	g := graph.NewGraph(t.Name())
	c := newChain(g, Placement{})
	assert.True(t, CommPathExists(c.recvX, c.sendX))
	assert.True(t, CommPathExists(c.xPlusOne, c.sendX))
	assert.True(t, CommPathExists(c.z, c.x))
	assert.True(t, CommPathExists(c.z, c.z))
	assert.False(t, CommPathExists(c.sendX, c.z))
	assert.False(t, CommPathExists(c.x, c.recvX))
}

func TestUpdateCommDeps(t *testing.T) {
	g := graph.NewGraph(t.Name())
	c := newChain(g, Placement{Transformer: "t0"})
	require.NoError(t, UpdateCommDeps(c.z, c.sendX))
	assert.Contains(t, c.recvXPlusOne.ControlDeps(), c.sendX)
	assert.Contains(t, c.recvX.ControlDeps(), c.sendX)

	// Idempotent.
	require.NoError(t, UpdateCommDeps(c.z, c.sendX))
	assert.Len(t, c.recvXPlusOne.ControlDeps(), 1)

	t.Run("OtherTransformer", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		c := newChain(g, Placement{Transformer: "t0"})
		Place(c.recvXPlusOne, Placement{Transformer: "t1"})
		Place(c.recvX, Placement{Transformer: "t1"})
		require.NoError(t, UpdateCommDeps(c.z, c.sendX))
		assert.Empty(t, c.recvXPlusOne.ControlDeps())
		assert.Empty(t, c.recvX.ControlDeps())
	})

	t.Run("SingleOp", func(t *testing.T) {
		g := graph.NewGraph(t.Name())
		c := newChain(g, Placement{Transformer: "t0"})
		require.NoError(t, UpdateCommDeps(c.z))
		assert.Empty(t, c.recvXPlusOne.ControlDeps())
	})
}

func TestCheckCommCycles(t *testing.T) {
	g := graph.NewGraph(t.Name())
	c := newChain(g, Placement{})
	require.NoError(t, CheckCommCycles(c.z, c.sendX))

	// recvX waiting for a value computed from itself can never run.
	c.recvX.AddControlDep(c.sendXPlusOne)
	err := CheckCommCycles(c.z)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotDAG))
}

// TestTwoTransformers runs a ping-pong between two transformers sharing one graph: t0 sends 2x to t1,
// that sends back 2x+1, and t0 returns 10*(2x+1). The result of t0 is declared before the send, so
// without the communication dependencies t0 could block on the receive first.
func TestTwoTransformers(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 3)
	t0, t1 := Placement{Transformer: "t0"}, Placement{Transformer: "t1"}

	var x, ping, pong, z *graph.Node
	WithPlacement(g, t0, func() {
		x = graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
		ping = graph.Send(x.Mul(2))
	})
	WithPlacement(g, t1, func() {
		y := graph.Recv(ping).Add(1)
		pong = graph.Send(y)
	})
	var pongRecv *graph.Node
	WithPlacement(g, t0, func() {
		pongRecv = graph.Recv(pong)
		z = pongRecv.Mul(10)
	})
	require.NoError(t, UpdateCommDeps(z, ping))
	require.NoError(t, UpdateCommDeps(pong))
	assert.Contains(t, pongRecv.ControlDeps(), ping)

	tr0 := must.M1(transformer.New(transformer.WithName("t0")))
	defer tr0.Close()
	tr1 := must.M1(transformer.New(transformer.WithName("t1")))
	defer tr1.Close()
	fn0 := must.M1(tr0.Computation([]*graph.Node{z, ping}, x))
	fn1 := must.M1(tr1.Computation(pong))
	require.NoError(t, tr0.Finalize())
	require.NoError(t, tr1.Finalize())

	ops := fn0.Ops()
	pingIdx, recvIdx := slices.Index(ops, ping.Resolve()), slices.Index(ops, pongRecv.Resolve())
	require.True(t, pingIdx >= 0 && recvIdx >= 0)
	assert.Less(t, pingIdx, recvIdx, "the send must be scheduled before the receive")

	for _, values := range [][]float32{{1, 2, 3}, {0, -1, 0.5}} {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		results, err := RunParallel(ctx,
			Call{Computation: fn0, Args: []any{values}},
			Call{Computation: fn1})
		cancel()
		require.NoError(t, err)
		want0, want1 := make([]float32, len(values)), make([]float32, len(values))
		for ii, v := range values {
			want1[ii] = 2*v + 1
			want0[ii] = 10 * want1[ii]
		}
		assert.Equal(t, want0, results[0][0].Value())
		assert.Equal(t, []float32{2 * values[0], 2 * values[1], 2 * values[2]}, results[0][1].Value())
		assert.Equal(t, want1, results[1][0].Value())
	}

	t.Run("Errors", func(t *testing.T) {
		_, err := RunParallel(context.Background(), Call{})
		assert.Error(t, err)

		// A wrong argument fails t0, which cancels t1 blocked on its Recv.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err = RunParallel(ctx,
			Call{Computation: fn0, Args: []any{[]float32{1, 2}}},
			Call{Computation: fn1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrShape), "unexpected error: %+v", err)
	})
}

// TestCommunicationPasses places a ping-pong by device only: the passes name the transformers, insert the
// Send/Recv pairs and order the receives.
func TestCommunicationPasses(t *testing.T) {
	g := graph.NewGraph(t.Name())
	n := g.NewAxis("n", 3)
	dev0, dev1 := Placement{Device: "cpu", DeviceID: 0}, Placement{Device: "cpu", DeviceID: 1}

	var x, y, z, w *graph.Node
	WithPlacement(g, dev0, func() {
		x = graph.Placeholder(g, "x", axes.Make(n), dtypes.Float32)
		y = x.Mul(2)
	})
	WithPlacement(g, dev1, func() {
		// The constant 2 is cached: it is the one placed on dev0.
		z = y.Add(2)
	})
	WithPlacement(g, dev0, func() {
		w = z.Mul(10)
	})
	roots := []*graph.Node{w}

	assign := NewDeviceAssignPass("cpu", 0)
	require.NoError(t, assign.Run(roots))
	assert.Equal(t, []string{"cpu0", "cpu1"}, assign.Transformers())
	assert.Equal(t, "cpu1", PlacementOf(z).Transformer)
	assert.Equal(t, "cpu0", PlacementOf(x).Transformer)

	comm := NewCommunicationPass()
	require.NoError(t, comm.Run(roots))
	require.Equal(t, graph.OpTypeRecv, w.Arg(0).Type())
	assert.Equal(t, "cpu0", PlacementOf(w.Arg(0)).Transformer)
	require.Equal(t, graph.OpTypeRecv, z.Arg(0).Type())
	assert.Equal(t, "cpu1", PlacementOf(z.Arg(0)).Transformer)
	constant := z.Arg(1).Arg(0)
	require.True(t, constant.IsConstant())
	assert.Equal(t, "cpu0", PlacementOf(constant).Transformer, "constants are not communicated")

	sends0, sends1 := comm.Sends("cpu0"), comm.Sends("cpu1")
	require.Len(t, sends0, 1)
	require.Len(t, sends1, 1)
	assert.Same(t, y.Resolve(), sends0[0].Arg(0))
	assert.Same(t, z.Resolve(), sends1[0].Arg(0))

	// Running again finds nothing left to communicate.
	require.NoError(t, comm.Run(append(roots, sends1...)))
	assert.Len(t, comm.Sends("cpu0"), 1)
	assert.Len(t, comm.Sends("cpu1"), 1)

	tr0 := must.M1(transformer.New(transformer.WithName("cpu0")))
	defer tr0.Close()
	tr1 := must.M1(transformer.New(transformer.WithName("cpu1")))
	defer tr1.Close()
	for _, tr := range []*transformer.Transformer{tr0, tr1} {
		require.NoError(t, tr.RegisterGraphPass(assign))
		require.NoError(t, tr.RegisterGraphPass(NewCommDepsPass()))
	}
	fn0 := must.M1(tr0.Computation(append([]*graph.Node{w}, sends0...), x))
	fn1 := must.M1(tr1.Computation(sends1))
	require.NoError(t, tr0.Finalize())
	require.NoError(t, tr1.Finalize())

	// The receive of z on cpu0 waits for cpu0 to send y, that z depends on.
	assert.Contains(t, w.Arg(0).ControlDeps(), sends0[0].Resolve())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := RunParallel(ctx,
		Call{Computation: fn0, Args: []any{[]float32{1, 2, 3}}},
		Call{Computation: fn1})
	require.NoError(t, err)
	assert.Equal(t, []float32{40, 60, 80}, results[0][0].Value())
	assert.Equal(t, []float32{2, 4, 6}, results[0][1].Value())
	assert.Equal(t, []float32{4, 6, 8}, results[1][0].Value())
}
