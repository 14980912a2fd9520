// Package testkit provides testing utilities for the MCP hub.
//
// Its sole purpose is
//
//   - providing utilities to quickly spin up an HTTP test server behaving
//     like a federated JSON-RPC backend (tools/list, resources/list,
//     tools/call, resources/read)
//   - providing failure injection and request recording so tests can assert
//     exactly how the hub drives its backends
//
// The file `pkg/testkit/testkit_test.go` contains a few tests that exemplify
// how to use the framework.
package testkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/jsonrpc"
)

const (
	toolsListMethod     = "tools/list"
	toolsCallMethod     = "tools/call"
	resourcesListMethod = "resources/list"
	resourcesReadMethod = "resources/read"
)

// FailureMode selects how an injected failure presents on the wire.
type FailureMode int

const (
	// FailNone answers normally.
	FailNone FailureMode = iota
	// FailStatus answers with HTTP 500 and no JSON-RPC envelope.
	FailStatus
	// FailJSONRPC answers 200 with a JSON-RPC error object.
	FailJSONRPC
	// FailMalformed answers 200 with a body that is not JSON.
	FailMalformed
)

// RecordedRequest captures one JSON-RPC request as the backend saw it.
type RecordedRequest struct {
	Method string
	Params json.RawMessage
	Header http.Header
}

type toolSpec struct {
	name        string
	description string
	inputSchema map[string]any
	handler     func() string
}

type resourceSpec struct {
	uri      string
	name     string
	mimeType string
	text     string
}

// Backend is a fake federated JSON-RPC backend wrapped in an
// httptest.Server. Its zero failure mode answers every supported method;
// failure injection can be global or per method.
type Backend struct {
	server *httptest.Server

	mu           sync.Mutex
	tools        []toolSpec
	toolsByName  map[string]toolSpec
	resources    []resourceSpec
	rawResults   map[string]string
	failAll      FailureMode
	failByMethod map[string]FailureMode
	requests     []RecordedRequest
}

// BackendOption configures a test backend before it starts serving.
type BackendOption func(*Backend) error

// WithTool registers a tool returned by tools/list and served by tools/call.
// The handler's string is wrapped in the usual MCP text content envelope.
func WithTool(name string, description string, handler func() string) BackendOption {
	return WithSchemaTool(name, description, nil, handler)
}

// WithSchemaTool is WithTool plus an explicit inputSchema for the listing.
func WithSchemaTool(name string, description string, inputSchema map[string]any, handler func() string) BackendOption {
	return func(b *Backend) error {
		if _, ok := b.toolsByName[name]; ok {
			return fmt.Errorf("tool %s already exists", name)
		}
		spec := toolSpec{
			name:        name,
			description: description,
			inputSchema: inputSchema,
			handler:     handler,
		}
		b.tools = append(b.tools, spec)
		b.toolsByName[name] = spec
		return nil
	}
}

// WithResource registers a resource returned by resources/list; its text is
// served by resources/read.
func WithResource(uri, name, mimeType, text string) BackendOption {
	return func(b *Backend) error {
		b.resources = append(b.resources, resourceSpec{
			uri:      uri,
			name:     name,
			mimeType: mimeType,
			text:     text,
		})
		return nil
	}
}

// WithRawResult makes the backend answer the given method with a canned raw
// body, bypassing the normal handlers. Useful for malformed-shape tests.
func WithRawResult(method string, raw string) BackendOption {
	return func(b *Backend) error {
		b.rawResults[method] = raw
		return nil
	}
}

// NewBackend creates and starts a fake backend.
func NewBackend(options ...BackendOption) (*Backend, error) {
	b := &Backend{
		toolsByName:  make(map[string]toolSpec),
		rawResults:   make(map[string]string),
		failByMethod: make(map[string]FailureMode),
	}
	for _, option := range options {
		if err := option(b); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Post("/", b.handle)
	b.server = httptest.NewServer(router)
	return b, nil
}

// URL returns the backend's endpoint, suitable for registration.
func (b *Backend) URL() string {
	return b.server.URL
}

// Close shuts the backend down. Calls made afterwards fail at the transport
// layer, which is exactly what connection-failure tests want.
func (b *Backend) Close() {
	b.server.Close()
}

// SetFailure injects a failure mode for every method.
func (b *Backend) SetFailure(mode FailureMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAll = mode
}

// SetMethodFailure injects a failure mode for one method only.
func (b *Backend) SetMethodFailure(method string, mode FailureMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failByMethod[method] = mode
}

// Requests returns a copy of every recorded request, in arrival order.
func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// CallCount returns how many times the given method was requested.
func (b *Backend) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusInternalServerError)
		return
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	method, ok := req["method"].(string)
	if !ok {
		http.Error(w, "missing or invalid method", http.StatusBadRequest)
		return
	}
	var params json.RawMessage
	if raw, ok := req["params"]; ok {
		params, _ = json.Marshal(raw)
	}

	b.mu.Lock()
	b.requests = append(b.requests, RecordedRequest{
		Method: method,
		Params: params,
		Header: r.Header.Clone(),
	})
	mode := b.failAll
	if m, ok := b.failByMethod[method]; ok && m != FailNone {
		mode = m
	}
	raw, hasRaw := b.rawResults[method]
	b.mu.Unlock()

	id := req["id"]

	switch mode {
	case FailStatus:
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	case FailJSONRPC:
		writeJSON(w, simpleError(id, "injected failure"))
		return
	case FailMalformed:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "this is not json")
		return
	case FailNone:
	}

	if hasRaw {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, raw)
		return
	}

	switch method {
	case toolsListMethod:
		writeJSON(w, b.makeToolsList(id))
	case resourcesListMethod:
		writeJSON(w, b.makeResourcesList(id))
	case toolsCallMethod:
		writeJSON(w, b.runToolCall(id, req))
	case resourcesReadMethod:
		writeJSON(w, b.runResourceRead(id, req))
	default:
		writeJSON(w, simpleError(id, "unsupported method: "+method))
	}
}

func writeJSON(w http.ResponseWriter, payload string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, payload)
}

func (b *Backend) makeToolsList(id any) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	toolsList := make([]map[string]any, 0, len(b.tools))
	for _, tool := range b.tools {
		entry := map[string]any{
			"name":        tool.name,
			"description": tool.description,
		}
		if tool.inputSchema != nil {
			entry["inputSchema"] = tool.inputSchema
		}
		toolsList = append(toolsList, entry)
	}

	return marshalResult(id, map[string]any{"tools": toolsList})
}

func (b *Backend) makeResourcesList(id any) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	resourceList := make([]map[string]any, 0, len(b.resources))
	for _, res := range b.resources {
		resourceList = append(resourceList, map[string]any{
			"uri":      res.uri,
			"name":     res.name,
			"mimeType": res.mimeType,
		})
	}

	return marshalResult(id, map[string]any{"resources": resourceList})
}

func (b *Backend) runToolCall(id any, req map[string]any) string {
	params, ok := req["params"].(map[string]any)
	if !ok {
		return simpleError(id, fmt.Sprintf("failed to get tool params: %v", req))
	}
	toolName, ok := params["name"].(string)
	if !ok {
		return simpleError(id, fmt.Sprintf("failed to get tool name: %v", req))
	}

	b.mu.Lock()
	tool, found := b.toolsByName[toolName]
	b.mu.Unlock()
	if !found {
		return simpleError(id, fmt.Sprintf("tool %s not found", toolName))
	}

	text := tool.handler()
	return marshalResult(id, map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
}

func (b *Backend) runResourceRead(id any, req map[string]any) string {
	params, ok := req["params"].(map[string]any)
	if !ok {
		return simpleError(id, fmt.Sprintf("failed to get resource params: %v", req))
	}
	uri, ok := params["uri"].(string)
	if !ok {
		return simpleError(id, fmt.Sprintf("failed to get resource uri: %v", req))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, res := range b.resources {
		if res.uri == uri {
			return marshalResult(id, map[string]any{
				"contents": []map[string]any{{
					"uri":      res.uri,
					"mimeType": res.mimeType,
					"text":     res.text,
				}},
			})
		}
	}
	return simpleError(id, fmt.Sprintf("resource %s not found", uri))
}

// errServerError is the generic implementation-defined JSON-RPC error code.
const errServerError = -32000

func simpleError(id any, message string) string {
	msg, err := jsonrpc.NewError(id, errServerError, message, nil)
	if err != nil {
		return fmt.Sprintf("failed to build error response: %v", err)
	}
	return marshalMessage(msg)
}

func marshalResult(id any, result any) string {
	msg, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		return fmt.Sprintf("failed to build response: %v", err)
	}
	return marshalMessage(msg)
}

func marshalMessage(msg *jsonrpc.Message) string {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Sprintf("failed to marshal response: %v", err)
	}
	return string(payload)
}
