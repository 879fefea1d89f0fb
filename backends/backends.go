// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface to a backend: the engine that holds the storage of the tensors
// and executes the ordered ops of a graph.
//
// The transformer (see package transformer) owns everything that is backend-independent: it runs the graph
// passes, orders the ops, and assigns a buffer to every tensor. A backend only provides:
//
//   - Buffers: device memory for a number of elements of a dtype.
//   - DeviceTensors: views of a buffer with a shape, that can be copied from and to host tensors.
//   - Compile: converts an ordered list of ops, with the device tensor of each of them, into an Executable.
//
// Backends register themselves (usually in an init function) with Register, and are created with New or
// NewWithConfig.
package backends

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/passes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Backend is the API that needs to be implemented by an execution engine.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "simplego".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities returns the op types and dtypes the backend supports.
	Capabilities() Capabilities

	// AllocateBuffer returns a new buffer with storage for numElements of the given dtype.
	AllocateBuffer(dtype dtypes.DType, numElements int) (Buffer, error)

	// DeviceTensor returns a view of the buffer laid out as described: the elements from layout.Offset on,
	// in row-major order.
	DeviceTensor(buffer Buffer, layout Layout) (DeviceTensor, error)

	// Initialize sets the value of tensor to the host value returned by fn, called with the tensor shape.
	Initialize(tensor DeviceTensor, fn graph.ValueFn) error

	// Compile converts the program into an executable. It returns an error wrapping
	// errs.ErrBackendCapability if the program uses an op or dtype not supported by the backend.
	Compile(program *Program) (Executable, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// GraphPassProvider is implemented by backends that require extra graph passes: the transformer runs them
// before its own shaping pass (see passes.RequiredTensorShaping).
type GraphPassProvider interface {
	GraphPasses() []passes.GraphPass
}

// Buffer is the device storage for a number of elements of a dtype. It is opaque to the transformer.
type Buffer interface {
	DType() dtypes.DType
	NumElements() int
}

// Layout of a DeviceTensor inside its buffer.
type Layout struct {
	Shape shapes.Shape

	// Offset in elements (not bytes) of the first element in the buffer.
	Offset int
}

// DeviceTensor is a view of a Buffer as a tensor with a shape.
type DeviceTensor interface {
	// Shape of the tensor.
	Shape() shapes.Shape

	// Buffer holding the tensor.
	Buffer() Buffer

	// Layout of the tensor in its buffer.
	Layout() Layout

	// Get copies the value of the tensor to a new host tensor.
	Get() (*tensors.Tensor, error)

	// Set copies the value of the host tensor t to the device tensor. The shapes must match, except for
	// the dtype: values are converted.
	Set(t *tensors.Tensor) error

	// Slice returns a view of the elements [start, stop) of the first axis of the tensor.
	Slice(start, stop int) (DeviceTensor, error)
}

// Program is what the transformer asks a backend to compile: an ordered list of ops and the storage of
// every tensor they use.
type Program struct {
	// Name of the program, for logging and error messages.
	Name string

	// Ops are the device ops (see graph.OpType.IsDeviceOp) to execute, in order. They are resolved nodes.
	Ops []*graph.Node

	// Tensors maps every resolved tensor node used by Ops (the ops themselves and their arguments)
	// to its device tensor. Nodes that share storage (see graph.TensorDescription) map to the same
	// DeviceTensor.
	Tensors map[*graph.Node]DeviceTensor
}

// Executable is a compiled program ready to execute.
type Executable interface {
	// Run executes the ops of the program in order. It may block on communication ops (Recv) until their
	// value is sent, or until ctx is cancelled.
	Run(ctx context.Context) error

	// Finalize immediately frees resources associated to the executable.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
)

// DefaultBackendName is the backend used when no name is configured.
const DefaultBackendName = "simplego"

// Register backend with the given name, and a default constructor that takes as input a configuration string
// that is passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := maps.Keys(registeredConstructors)
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the name of the environment variable with the default backend configuration to use.
// It takes precedence over DefaultConfig.
//
// The format of the configuration is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "simplego") and
// "<backend_configuration>" is backend specific (e.g.: "parallelism=4").
const ConfigEnvVar = "OPGRAPH_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment variable $OPGRAPH_BACKEND (ConfigEnvVar) is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The backend named DefaultBackendName with an empty configuration.
func New() (Backend, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found && config != "" {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// MustNew returns a new default Backend or panics if it fails.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig creates the backend selected by config.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "simplego") and
// "<backend_configuration>" is backend specific (e.g.: "parallelism=4").
//
// If the backend name is empty, DefaultBackendName is used.
func NewWithConfig(config string) (Backend, error) {
	backendName, backendConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = DefaultBackendName
	}
	muRegistry.Lock()
	constructor, found := registeredConstructors[backendName]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q "+
			"(maybe import _ \"github.com/gomlx/opgraph/backends/simplego\"?)", backendName, config, List())
	}
	var backend Backend
	err := exceptions.TryCatch[error](func() {
		var err error
		backend, err = constructor(backendConfig)
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend %q with config %q", backendName, backendConfig)
	}
	return backend, nil
}
