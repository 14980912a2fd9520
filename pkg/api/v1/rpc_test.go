// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/mocks"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/router"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/jsonrpc"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// echoHandler is a minimal local tool handler for facade tests.
type echoHandler struct{}

func (*echoHandler) Category() tools.Category { return tools.CategoryService }

func (*echoHandler) Tools() []federation.ToolDef {
	return []federation.ToolDef{{Name: "echo", Description: "Echo the message argument"}}
}

func (*echoHandler) Call(_ context.Context, name string, args map[string]any) (any, error) {
	if name != "echo" {
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
	msg, ok := args["message"]
	if !ok {
		return nil, fmt.Errorf("%w: missing required argument %q", tools.ErrInvalidArguments, "message")
	}
	return map[string]any{"echo": msg}, nil
}

type rpcFixture struct {
	registry  *registry.Registry
	connector *mocks.MockConnector
	handler   http.Handler
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	logger.Initialize()

	ctrl := gomock.NewController(t)
	conn := mocks.NewMockConnector(ctrl)

	reg := registry.New()
	agg := aggregator.New(reg)
	rtr := router.New(reg, conn)
	disp, err := tools.NewDispatcher(&echoHandler{})
	require.NoError(t, err)

	return &rpcFixture{
		registry:  reg,
		connector: conn,
		handler:   RPCRouter("test-hub", agg, rtr, disp),
	}
}

func (f *rpcFixture) post(t *testing.T, body string) rpcResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func TestRPCInitialize(t *testing.T) {
	t.Parallel()

	f := newRPCFixture(t)
	resp := f.post(t, `{"jsonrpc":"2.0","method":"initialize","id":1}`)

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])

	serverInfo, ok := result["serverInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test-hub", serverInfo["name"])
	assert.EqualValues(t, 1, resp.ID)
}

func TestRPCToolsListMergesLocalAndFederated(t *testing.T) {
	t.Parallel()

	f := newRPCFixture(t)
	seedBackend(t, f.registry, "alpha", true, true)

	resp := f.post(t, `{"jsonrpc":"2.0","method":"tools/list","id":2}`)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	toolsList, ok := result["tools"].([]any)
	require.True(t, ok)

	var names []string
	for _, item := range toolsList {
		entry, ok := item.(map[string]any)
		require.True(t, ok)
		names = append(names, entry["name"].(string))
	}
	assert.Equal(t, []string{"alpha.ping", "echo"}, names)
}

func TestRPCCallLocalTool(t *testing.T) {
	t.Parallel()

	f := newRPCFixture(t)
	resp := f.post(t, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}},"id":3}`)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	content, ok := result["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)

	block, ok := content[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "text", block["type"])
	assert.JSONEq(t, `{"echo":"hi"}`, block["text"].(string))
}

func TestRPCCallFederatedTool(t *testing.T) {
	t.Parallel()

	f := newRPCFixture(t)
	seedBackend(t, f.registry, "alpha", true, true)

	f.connector.EXPECT().
		Call(gomock.Any(), gomock.Any(), "tools/call", map[string]any{
			"name":      "ping",
			"arguments": map[string]any{"target": "db"},
		}).
		Return(json.RawMessage(`{"content":[{"type":"text","text":"pong"}]}`), nil)

	resp := f.post(t, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"alpha.ping","arguments":{"target":"db"}},"id":4}`)
	require.Nil(t, resp.Error)

	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"pong"}]}`, string(encoded))
}

func TestRPCErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		seed     bool
		wantCode int
		wantMsg  string
	}{
		{
			name:     "unknown method",
			body:     `{"jsonrpc":"2.0","method":"prompts/list","id":1}`,
			wantCode: jsonrpc.CodeMethodNotFound,
			wantMsg:  "method not found",
		},
		{
			name:     "call without tool name",
			body:     `{"jsonrpc":"2.0","method":"tools/call","params":{},"id":1}`,
			wantCode: jsonrpc.CodeInvalidParams,
			wantMsg:  "needs a tool name",
		},
		{
			name:     "unknown local tool",
			body:     `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"nope"},"id":1}`,
			wantCode: jsonrpc.CodeInvalidParams,
			wantMsg:  "unknown tool",
		},
		{
			name:     "unknown backend",
			body:     `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"ghost.ping"},"id":1}`,
			wantCode: jsonrpc.CodeInvalidParams,
			wantMsg:  "unknown backend",
		},
		{
			name:     "unhealthy backend",
			body:     `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"alpha.ping"},"id":1}`,
			seed:     true,
			wantCode: jsonrpc.CodeInternalError,
			wantMsg:  "unhealthy",
		},
		{
			name:     "read without uri",
			body:     `{"jsonrpc":"2.0","method":"resources/read","params":{},"id":1}`,
			wantCode: jsonrpc.CodeInvalidParams,
			wantMsg:  "needs a uri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newRPCFixture(t)
			if tt.seed {
				seedBackend(t, f.registry, "alpha", true, false)
			}

			resp := f.post(t, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.wantMsg)
		})
	}
}

func TestRPCParseError(t *testing.T) {
	t.Parallel()

	f := newRPCFixture(t)
	resp := f.post(t, `{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeParseError, resp.Error.Code)
}

func TestRPCReadResource(t *testing.T) {
	t.Parallel()

	f := newRPCFixture(t)
	// Resource reads are allowed against unhealthy backends.
	seedBackend(t, f.registry, "alpha", true, false)

	f.connector.EXPECT().
		Call(gomock.Any(), gomock.Any(), "resources/read", map[string]any{"uri": "project/info"}).
		Return(json.RawMessage(`{"contents":[{"uri":"project/info","text":"{}"}]}`), nil)

	resp := f.post(t, `{"jsonrpc":"2.0","method":"resources/read","params":{"uri":"alpha://project/info"},"id":5}`)
	require.Nil(t, resp.Error)

	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "project/info")
}
