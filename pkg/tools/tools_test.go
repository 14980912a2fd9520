// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

type fakeHandler struct {
	category tools.Category
	names    []string
}

func (f *fakeHandler) Category() tools.Category { return f.category }

func (f *fakeHandler) Tools() []federation.ToolDef {
	defs := make([]federation.ToolDef, 0, len(f.names))
	for _, name := range f.names {
		defs = append(defs, federation.ToolDef{
			Name:        name,
			Description: "fake " + name,
			InputSchema: tools.ObjectSchema(nil),
		})
	}
	return defs
}

func (f *fakeHandler) Call(_ context.Context, name string, args map[string]any) (any, error) {
	return fmt.Sprintf("%s/%s(%d args)", f.category, name, len(args)), nil
}

func TestDispatcherRouting(t *testing.T) {
	t.Parallel()

	d, err := tools.NewDispatcher(
		&fakeHandler{category: tools.CategoryCache, names: []string{"cache_get", "cache_set"}},
		&fakeHandler{category: tools.CategoryVCS, names: []string{"git_status"}},
	)
	require.NoError(t, err)

	got, err := d.Call(context.Background(), "git_status", map[string]any{"repo": "hub"})
	require.NoError(t, err)
	assert.Equal(t, "vcs/git_status(1 args)", got)

	assert.True(t, d.Has("cache_set"))
	assert.False(t, d.Has("cache_purge"))
}

func TestDispatcherUnknownTool(t *testing.T) {
	t.Parallel()

	d, err := tools.NewDispatcher(
		&fakeHandler{category: tools.CategoryCache, names: []string{"cache_get"}},
	)
	require.NoError(t, err)

	_, err = d.Call(context.Background(), "cache_purge", nil)
	require.ErrorIs(t, err, tools.ErrUnknownTool)
	assert.Contains(t, err.Error(), "cache_purge")
}

func TestDispatcherToolsOrder(t *testing.T) {
	t.Parallel()

	d, err := tools.NewDispatcher(
		&fakeHandler{category: tools.CategoryVCS, names: []string{"git_clone", "git_log"}},
		&fakeHandler{category: tools.CategoryCache, names: []string{"cache_get"}},
	)
	require.NoError(t, err)

	defs := d.Tools()
	require.Len(t, defs, 3)
	names := []string{defs[0].Name, defs[1].Name, defs[2].Name}
	assert.Equal(t, []string{"git_clone", "git_log", "cache_get"}, names)
}

func TestDispatcherConstructionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handlers []tools.Handler
		wantErr  string
	}{
		{
			name: "invalid category",
			handlers: []tools.Handler{
				&fakeHandler{category: tools.Category("telemetry"), names: []string{"emit"}},
			},
			wantErr: "unrecognized tool category",
		},
		{
			name: "duplicate category",
			handlers: []tools.Handler{
				&fakeHandler{category: tools.CategoryCache, names: []string{"cache_get"}},
				&fakeHandler{category: tools.CategoryCache, names: []string{"cache_set"}},
			},
			wantErr: "duplicate handler for category",
		},
		{
			name: "duplicate tool name",
			handlers: []tools.Handler{
				&fakeHandler{category: tools.CategoryCache, names: []string{"status"}},
				&fakeHandler{category: tools.CategoryVCS, names: []string{"status"}},
			},
			wantErr: `tool "status" registered by both`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tools.NewDispatcher(tt.handlers...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestArgumentHelpers(t *testing.T) {
	t.Parallel()

	args := map[string]any{
		"key":   "alpha",
		"limit": float64(5),
		"frac":  float64(2.5),
		"extra": map[string]any{"a": 1},
		"wrong": true,
	}

	s, err := tools.StringArg(args, "key")
	require.NoError(t, err)
	assert.Equal(t, "alpha", s)

	_, err = tools.StringArg(args, "absent")
	require.ErrorIs(t, err, tools.ErrInvalidArguments)

	_, err = tools.StringArg(args, "wrong")
	require.ErrorIs(t, err, tools.ErrInvalidArguments)

	s, err = tools.OptionalStringArg(args, "absent", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)

	n, err := tools.IntArg(args, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = tools.IntArg(args, "absent", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = tools.IntArg(args, "frac", 10)
	require.ErrorIs(t, err, tools.ErrInvalidArguments)

	m, err := tools.ObjectArg(args, "extra")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, m)

	m, err = tools.ObjectArg(args, "absent")
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = tools.ObjectArg(args, "wrong")
	require.ErrorIs(t, err, tools.ErrInvalidArguments)
}

func TestObjectSchemaShape(t *testing.T) {
	t.Parallel()

	schema := tools.ObjectSchema(map[string]tools.Property{
		"key":   {Type: "string", Description: "cache key"},
		"count": {Type: "integer"},
	}, "key")

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"key"}, schema["required"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "key")
	require.Contains(t, props, "count")

	keyProp, ok := props["key"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cache key", keyProp["description"])
}
