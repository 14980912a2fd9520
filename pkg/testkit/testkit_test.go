package testkit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	toolsListRequest     = `{"jsonrpc": "2.0", "id": 1, "method": "tools/list", "params": {}}`
	toolsCallRequest     = `{"jsonrpc": "2.0", "id": 1, "method": "tools/call", "params": {"name": "test"}}`
	resourcesListRequest = `{"jsonrpc": "2.0", "id": 1, "method": "resources/list", "params": {}}`
	resourcesReadRequest = `{"jsonrpc": "2.0", "id": 1, "method": "resources/read", "params": {"uri": "docs/readme"}}`
)

func postJSON(t *testing.T, url, body string) map[string]any {
	t.Helper()

	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(payload, &result), "body: %s", payload)
	return result
}

func TestBackendToolsList(t *testing.T) {
	t.Parallel()

	backend, err := NewBackend(
		WithTool("test", "A test tool", func() string { return "Tool call executed successfully" }),
		WithSchemaTool("echo", "Echoes input", map[string]any{"type": "object"}, func() string { return "echo" }),
	)
	require.NoError(t, err)
	defer backend.Close()

	result := postJSON(t, backend.URL(), toolsListRequest)
	assert.Equal(t, "2.0", result["jsonrpc"])
	assert.Equal(t, float64(1), result["id"])

	inner, ok := result["result"].(map[string]any)
	require.True(t, ok)
	tools, ok := inner["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 2)

	first, ok := tools[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test", first["name"])
	second, ok := tools[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "echo", second["name"])
	assert.NotNil(t, second["inputSchema"])
}

func TestBackendToolCall(t *testing.T) {
	t.Parallel()

	backend, err := NewBackend(
		WithTool("test", "A test tool", func() string { return "Tool call executed successfully" }),
	)
	require.NoError(t, err)
	defer backend.Close()

	result := postJSON(t, backend.URL(), toolsCallRequest)
	inner, ok := result["result"].(map[string]any)
	require.True(t, ok)
	content, ok := inner["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	block, ok := content[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Tool call executed successfully", block["text"])

	// Unknown tools answer with a JSON-RPC error object.
	errResult := postJSON(t, backend.URL(), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`)
	assert.NotNil(t, errResult["error"])
}

func TestBackendResources(t *testing.T) {
	t.Parallel()

	backend, err := NewBackend(
		WithResource("docs/readme", "readme", "text/markdown", "# hello"),
	)
	require.NoError(t, err)
	defer backend.Close()

	listed := postJSON(t, backend.URL(), resourcesListRequest)
	inner, ok := listed["result"].(map[string]any)
	require.True(t, ok)
	resources, ok := inner["resources"].([]any)
	require.True(t, ok)
	require.Len(t, resources, 1)

	read := postJSON(t, backend.URL(), resourcesReadRequest)
	inner, ok = read["result"].(map[string]any)
	require.True(t, ok)
	contents, ok := inner["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
	block, ok := contents[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "# hello", block["text"])
}

func TestBackendFailureInjection(t *testing.T) {
	t.Parallel()

	t.Run("status failure", func(t *testing.T) {
		t.Parallel()

		backend, err := NewBackend()
		require.NoError(t, err)
		defer backend.Close()
		backend.SetFailure(FailStatus)

		resp, err := http.Post(backend.URL(), "application/json", bytes.NewBufferString(toolsListRequest))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("jsonrpc failure", func(t *testing.T) {
		t.Parallel()

		backend, err := NewBackend()
		require.NoError(t, err)
		defer backend.Close()
		backend.SetFailure(FailJSONRPC)

		result := postJSON(t, backend.URL(), toolsListRequest)
		assert.NotNil(t, result["error"])
	})

	t.Run("per-method failure leaves other methods working", func(t *testing.T) {
		t.Parallel()

		backend, err := NewBackend(
			WithTool("test", "A test tool", func() string { return "ok" }),
		)
		require.NoError(t, err)
		defer backend.Close()
		backend.SetMethodFailure(resourcesListMethod, FailStatus)

		result := postJSON(t, backend.URL(), toolsListRequest)
		assert.NotNil(t, result["result"])

		resp, err := http.Post(backend.URL(), "application/json", bytes.NewBufferString(resourcesListRequest))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestBackendRecordsRequests(t *testing.T) {
	t.Parallel()

	backend, err := NewBackend(
		WithTool("test", "A test tool", func() string { return "ok" }),
	)
	require.NoError(t, err)
	defer backend.Close()

	req, err := http.NewRequest(http.MethodPost, backend.URL(), bytes.NewBufferString(toolsListRequest))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	postJSON(t, backend.URL(), toolsCallRequest)

	requests := backend.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "tools/list", requests[0].Method)
	assert.Equal(t, "Bearer s3cret", requests[0].Header.Get("Authorization"))
	assert.Equal(t, "tools/call", requests[1].Method)
	assert.JSONEq(t, `{"name": "test"}`, string(requests[1].Params))

	assert.Equal(t, 1, backend.CallCount(toolsListMethod))
	assert.Equal(t, 1, backend.CallCount(toolsCallMethod))
	assert.Equal(t, 0, backend.CallCount(resourcesReadMethod))
}
