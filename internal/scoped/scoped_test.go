// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoped_test

import (
	"testing"

	"github.com/gomlx/opgraph/internal/scoped"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedParams(t *testing.T) {
	p := scoped.New("/")

	//	Scope: "/": { "x":10, "y": 20, "z": 40 }
	//	Scope: "/a": { "y": 30 }
	//	Scope: "/a/b": { "x": 100 }
	p.Set("/", "x", 10)
	p.Set("/", "y", 20)
	p.Set("/", "z", 40)
	p.Set("/a", "y", 30)
	p.Set("/a/b", "x", 100)

	value, found := p.Get("/a/b", "x")
	require.True(t, found)
	assert.Equal(t, 100, value)

	value, found = p.Get("/a/b", "y")
	require.True(t, found)
	assert.Equal(t, 30, value)

	value, found = p.Get("/a/b", "z")
	require.True(t, found)
	assert.Equal(t, 40, value)

	_, found = p.Get("/a/b", "w")
	assert.False(t, found)

	value, found = p.Get("/d/e/f", "z")
	require.True(t, found)
	assert.Equal(t, 40, value)

	assert.Equal(t, map[string]any{"x": 100, "y": 30, "z": 40}, p.Collect("/a/b"))
	assert.Equal(t, map[string]any{"x": 10, "y": 30, "z": 40}, p.Collect("/a"))
	assert.Equal(t, "/a/b", p.Join(p.Join("/", "a"), "b"))

	p.Delete("/a")
	assert.Equal(t, map[string]any{"x": 100, "y": 20, "z": 40}, p.Collect("/a/b"))
	assert.Nil(t, scoped.New("/").Collect("/a"))
}
