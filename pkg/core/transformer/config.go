// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"bytes"
	"io"
	"os"

	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/pkg/core/passes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of a Transformer. The zero value is valid: it uses the default backend (see backends.New) and
// the default passes.
//
// It can be loaded from YAML (see ParseConfig and LoadConfig), e.g.:
//
//	name: training
//	backend: "simplego:parallelism=4"
//	passes: [SimplePrune, CPUFusion]
//	max_iterations: 20
//	buffer_reuse: false
type Config struct {
	// Name of the transformer, used in logs and as the prefix of the program names.
	Name string `yaml:"name,omitempty"`

	// Backend configuration, in the format "<backend_name>:<backend_configuration>" (see
	// backends.NewWithConfig). If empty, backends.New is used.
	Backend string `yaml:"backend,omitempty"`

	// Passes are the names of the graph passes (see passes.New) run before the backend passes and the
	// final passes.RequiredTensorShaping. If nil, SimplePrune is used.
	Passes []string `yaml:"passes,omitempty"`

	// MaxIterations overrides the iteration limit of the peephole passes, if > 0.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// BufferReuse allows tensors that are not simultaneously live to share a buffer. If nil, it defaults
	// to true.
	BufferReuse *bool `yaml:"buffer_reuse,omitempty"`
}

// ParseConfig parses a YAML configuration. Unknown fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "failed to parse transformer configuration")
	}
	for _, name := range config.Passes {
		if _, err := passes.New(name); err != nil {
			return Config{}, errors.WithMessage(err, "invalid transformer configuration")
		}
	}
	return config, nil
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read transformer configuration")
	}
	config, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "configuration file %q", path)
	}
	return config, nil
}

// bufferReuse returns whether buffer reuse is enabled.
func (c *Config) bufferReuse() bool {
	return c.BufferReuse == nil || *c.BufferReuse
}

// Option configures a Transformer created with New.
type Option func(t *Transformer) error

// WithConfig sets the configuration of the transformer. Options after it can override it.
func WithConfig(config Config) Option {
	return func(t *Transformer) error {
		t.config = config
		return nil
	}
}

// WithBackend sets the backend of the transformer. The transformer doesn't take ownership of it: closing
// the transformer doesn't finalize the backend.
func WithBackend(backend backends.Backend) Option {
	return func(t *Transformer) error {
		if backend == nil {
			return errors.New("WithBackend: nil backend")
		}
		t.backend = backend
		return nil
	}
}

// WithName sets the name of the transformer.
func WithName(name string) Option {
	return func(t *Transformer) error {
		t.config.Name = name
		return nil
	}
}

// WithPasses sets the names of the graph passes to run before the backend passes. See Config.Passes.
func WithPasses(names ...string) Option {
	return func(t *Transformer) error {
		for _, name := range names {
			if _, err := passes.New(name); err != nil {
				return err
			}
		}
		t.config.Passes = names
		return nil
	}
}

// WithMaxIterations sets the iteration limit of the peephole passes.
func WithMaxIterations(maxIterations int) Option {
	return func(t *Transformer) error {
		t.config.MaxIterations = maxIterations
		return nil
	}
}

// WithBufferReuse enables or disables the sharing of buffers among tensors that are not simultaneously live.
func WithBufferReuse(reuse bool) Option {
	return func(t *Transformer) error {
		t.config.BufferReuse = &reuse
		return nil
	}
}
