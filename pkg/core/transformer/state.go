// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transformer

// State of a Transformer. A transformer only moves forward through the states, in order.
type State int

//go:generate go tool enumer -type=State -trimprefix=State -output=gen_state_enumer.go state.go

const (
	// StateDeclared accepts new computations and graph passes.
	StateDeclared State = iota

	// StateFinalized: the graph passes ran, the ops of every computation are ordered and their tensors
	// are assigned to buffers. The graph can no longer change.
	StateFinalized

	// StateAllocated: the device buffers are allocated and the programs compiled by the backend.
	StateAllocated

	// StateInitialized: the initializers of the persistent tensors ran. Computations can be called.
	StateInitialized
)
