// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package workflow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools/workflow"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLocal struct {
	mu      sync.Mutex
	calls   []string
	args    map[string]map[string]any
	outputs map[string]any
	fail    map[string]error
}

func (f *fakeLocal) Call(_ context.Context, name string, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.args == nil {
		f.args = make(map[string]map[string]any)
	}
	f.args[name] = args
	if err, ok := f.fail[name]; ok {
		return nil, err
	}
	if out, ok := f.outputs[name]; ok {
		return out, nil
	}
	return "done", nil
}

func (f *fakeLocal) Has(string) bool { return true }

func (f *fakeLocal) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeRouter struct {
	mu    sync.Mutex
	calls []string
	raw   json.RawMessage
	err   error
}

func (f *fakeRouter) CallTool(_ context.Context, name string, _ map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.raw, nil
}

// sequentialIDs returns an ID generator yielding id-1, id-2, ...
func sequentialIDs() func() string {
	var n int
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newHandler(t *testing.T, rtr workflow.ToolRouter, seeds []config.WorkflowConfig) *workflow.Handler {
	t.Helper()
	h, err := workflow.NewHandler(rtr, seeds,
		workflow.WithClock(func() time.Time { return testTime }),
		workflow.WithIDGenerator(sequentialIDs()),
	)
	require.NoError(t, err)
	return h
}

func TestHandlerSurface(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &fakeRouter{}, nil)
	assert.Equal(t, tools.CategoryWorkflow, h.Category())

	var names []string
	for _, def := range h.Tools() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"create_workflow", "execute_workflow", "get_workflow"}, names)
}

func TestSeedWorkflowsLoad(t *testing.T) {
	t.Parallel()

	seeds := []config.WorkflowConfig{{
		Name:        "nightly-sweep",
		Description: "refresh all backends",
		Steps: []config.WorkflowStepConfig{
			{ID: "check", Tool: "health_check_all"},
		},
	}}
	h := newHandler(t, &fakeRouter{}, seeds)

	got, err := h.Call(context.Background(), "get_workflow", map[string]any{"name": "nightly-sweep"})
	require.NoError(t, err)
	result, ok := got.(map[string]any)
	require.True(t, ok)

	def, ok := result["workflow"].(*workflow.Definition)
	require.True(t, ok)
	assert.Equal(t, "nightly-sweep", def.Name)
	require.Len(t, def.Steps, 1)
	assert.Equal(t, "health_check_all", def.Steps[0].Tool)
	assert.NotContains(t, result, "lastRun")
}

func TestSeedValidationFails(t *testing.T) {
	t.Parallel()

	seeds := []config.WorkflowConfig{{
		Name: "recursive",
		Steps: []config.WorkflowStepConfig{
			{ID: "loop", Tool: "execute_workflow", Arguments: map[string]any{"name": "recursive"}},
		},
	}}

	_, err := workflow.NewHandler(&fakeRouter{}, seeds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot invoke workflow tools")
}

func TestCreateWorkflow(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &fakeRouter{}, nil)

	got, err := h.Call(context.Background(), "create_workflow", map[string]any{
		"name":        "audit-cache",
		"description": "read a key and log the access",
		"steps": []any{
			map[string]any{"id": "read", "tool": "cache_get", "arguments": map[string]any{"key": "greeting"}},
			map[string]any{"id": "log", "tool": "db_record", "arguments": map[string]any{"tool": "cache_get"}},
		},
	})
	require.NoError(t, err)

	def, ok := got.(*workflow.Definition)
	require.True(t, ok)
	assert.Equal(t, "id-1", def.ID)
	assert.Equal(t, testTime, def.CreatedAt)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, "cache_get", def.Steps[0].Tool)

	_, err = h.Call(context.Background(), "create_workflow", map[string]any{
		"name":  "audit-cache",
		"steps": []any{map[string]any{"id": "x", "tool": "cache_get"}},
	})
	require.ErrorIs(t, err, tools.ErrInvalidArguments)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreateWorkflowValidation(t *testing.T) {
	t.Parallel()

	step := func(id, tool string) map[string]any {
		return map[string]any{"id": id, "tool": tool}
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{
			name:    "missing steps",
			args:    map[string]any{"name": "w"},
			wantErr: `missing required argument "steps"`,
		},
		{
			name:    "steps not an array",
			args:    map[string]any{"name": "w", "steps": "all of them"},
			wantErr: "must be an array",
		},
		{
			name:    "empty steps",
			args:    map[string]any{"name": "w", "steps": []any{}},
			wantErr: "at least one step",
		},
		{
			name:    "duplicate step ids",
			args:    map[string]any{"name": "w", "steps": []any{step("a", "cache_get"), step("a", "db_record")}},
			wantErr: `duplicate step id "a"`,
		},
		{
			name:    "step without tool",
			args:    map[string]any{"name": "w", "steps": []any{step("a", "")}},
			wantErr: "has no tool",
		},
		{
			name:    "workflow tool in steps",
			args:    map[string]any{"name": "w", "steps": []any{step("a", "execute_workflow")}},
			wantErr: "cannot invoke workflow tools",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHandler(t, &fakeRouter{}, nil)
			_, err := h.Call(context.Background(), "create_workflow", tt.args)
			require.ErrorIs(t, err, tools.ErrInvalidArguments)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExecuteWorkflowLocalSteps(t *testing.T) {
	t.Parallel()

	seeds := []config.WorkflowConfig{{
		Name: "cache-roundtrip",
		Steps: []config.WorkflowStepConfig{
			{ID: "put", Tool: "cache_set", Arguments: map[string]any{"key": "k", "value": "v"}},
			{ID: "get", Tool: "cache_get", Arguments: map[string]any{"key": "k"}},
		},
	}}
	h := newHandler(t, &fakeRouter{}, seeds)

	local := &fakeLocal{outputs: map[string]any{
		"cache_get": map[string]any{"found": true, "value": "v"},
	}}
	h.SetLocalCaller(local)

	got, err := h.Call(context.Background(), "execute_workflow", map[string]any{"name": "cache-roundtrip"})
	require.NoError(t, err)

	result, ok := got.(*workflow.Result)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Empty(t, result.Error)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, workflow.StatusCompleted, result.Steps[0].Status)
	assert.Equal(t, map[string]any{"found": true, "value": "v"}, result.Steps[1].Output)

	assert.Equal(t, []string{"cache_set", "cache_get"}, local.called())
	assert.Equal(t, map[string]any{"key": "k"}, local.args["cache_get"])

	// The run is visible as lastRun afterwards.
	got, err = h.Call(context.Background(), "get_workflow", map[string]any{"name": "cache-roundtrip"})
	require.NoError(t, err)
	info, ok := got.(map[string]any)
	require.True(t, ok)
	last, ok := info["lastRun"].(*workflow.Result)
	require.True(t, ok)
	assert.Equal(t, result.RunID, last.RunID)
}

func TestExecuteWorkflowFederatedStep(t *testing.T) {
	t.Parallel()

	rtr := &fakeRouter{raw: json.RawMessage(`{"content":"pong"}`)}
	seeds := []config.WorkflowConfig{{
		Name: "ping-alpha",
		Steps: []config.WorkflowStepConfig{
			{ID: "ping", Tool: "alpha.ping"},
		},
	}}
	h := newHandler(t, rtr, seeds)
	h.SetLocalCaller(&fakeLocal{})

	got, err := h.Call(context.Background(), "execute_workflow", map[string]any{"name": "ping-alpha"})
	require.NoError(t, err)

	result, ok := got.(*workflow.Result)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, map[string]any{"content": "pong"}, result.Steps[0].Output)
	assert.Equal(t, []string{"alpha.ping"}, rtr.calls)
}

func TestExecuteFailureAbortsRemaining(t *testing.T) {
	t.Parallel()

	seeds := []config.WorkflowConfig{{
		Name: "fragile",
		Steps: []config.WorkflowStepConfig{
			{ID: "one", Tool: "cache_get", Arguments: map[string]any{"key": "k"}},
			{ID: "two", Tool: "db_record"},
			{ID: "three", Tool: "cache_delete", Arguments: map[string]any{"key": "k"}},
		},
	}}
	h := newHandler(t, &fakeRouter{}, seeds)

	local := &fakeLocal{fail: map[string]error{"db_record": fmt.Errorf("disk full")}}
	h.SetLocalCaller(local)

	got, err := h.Call(context.Background(), "execute_workflow", map[string]any{"name": "fragile"})
	require.NoError(t, err)

	result, ok := got.(*workflow.Result)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "step two failed")
	require.Len(t, result.Steps, 2)
	assert.Equal(t, workflow.StatusFailed, result.Steps[1].Status)
	assert.Contains(t, result.Steps[1].Error, "disk full")

	// The third step never ran.
	assert.Equal(t, []string{"cache_get", "db_record"}, local.called())
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &fakeRouter{}, nil)

	_, err := h.Call(context.Background(), "execute_workflow", map[string]any{"name": "ghost"})
	require.ErrorIs(t, err, tools.ErrInvalidArguments)
	assert.Contains(t, err.Error(), "unknown workflow")
}

func TestExecuteWithoutLocalCaller(t *testing.T) {
	t.Parallel()

	seeds := []config.WorkflowConfig{{
		Name: "orphan",
		Steps: []config.WorkflowStepConfig{
			{ID: "a", Tool: "cache_get", Arguments: map[string]any{"key": "k"}},
		},
	}}
	h := newHandler(t, &fakeRouter{}, seeds)

	got, err := h.Call(context.Background(), "execute_workflow", map[string]any{"name": "orphan"})
	require.NoError(t, err)

	result, ok := got.(*workflow.Result)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusFailed, result.Status)
	require.Len(t, result.Steps, 1)
	assert.Contains(t, result.Steps[0].Error, "not configured")
}

func TestExecuteRouterError(t *testing.T) {
	t.Parallel()

	rtr := &fakeRouter{err: fmt.Errorf("backend unreachable")}
	seeds := []config.WorkflowConfig{{
		Name: "remote",
		Steps: []config.WorkflowStepConfig{
			{ID: "call", Tool: "alpha.ping"},
		},
	}}
	h := newHandler(t, rtr, seeds)

	got, err := h.Call(context.Background(), "execute_workflow", map[string]any{"name": "remote"})
	require.NoError(t, err)

	result, ok := got.(*workflow.Result)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Contains(t, result.Steps[0].Error, "backend unreachable")
}

func TestUnknownTool(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &fakeRouter{}, nil)

	_, err := h.Call(context.Background(), "delete_workflow", nil)
	require.ErrorIs(t, err, tools.ErrUnknownTool)
}
