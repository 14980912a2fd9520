// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/router"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/jsonrpc"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/versions"
)

// protocolVersion is the MCP protocol revision the facade reports in the
// initialize handshake.
const protocolVersion = "2024-11-05"

// RPCRouter serves the inbound JSON-RPC 2.0 facade. Clients that speak plain
// JSON-RPC instead of streamable MCP post here: namespaced tool names route
// to the owning backend, bare names to the hub's local handlers.
func RPCRouter(hubName string, agg *aggregator.Aggregator, rtr *router.Router, disp *tools.Dispatcher) http.Handler {
	routes := &rpcRoutes{
		hubName:    hubName,
		aggregator: agg,
		router:     rtr,
		dispatcher: disp,
	}
	r := chi.NewRouter()
	r.Post("/", routes.handle)
	return r
}

type rpcRoutes struct {
	hubName    string
	aggregator *aggregator.Aggregator
	router     *router.Router
	dispatcher *tools.Dispatcher
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *rpcRoutes) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, errorResponse(nil, jsonrpc.CodeParseError, "parse error: "+err.Error()))
		return
	}

	logger.Debugw("rpc request", "method", req.Method)

	var resp rpcResponse
	switch req.Method {
	case "initialize":
		resp = s.initialize(req)
	case "tools/list":
		resp = s.listTools(req)
	case "tools/call":
		resp = s.callTool(r, req)
	case "resources/list":
		resp = s.listResources(req)
	case "resources/read":
		resp = s.readResource(r, req)
	default:
		resp = errorResponse(req.ID, jsonrpc.CodeMethodNotFound, "method not found: "+req.Method)
	}

	writeRPC(w, resp)
}

func (s *rpcRoutes) initialize(req rpcRequest) rpcResponse {
	return resultResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    s.hubName,
			"version": versions.GetVersionInfo().Version,
		},
	})
}

// listTools merges the federated catalog with the hub's local tools into one
// flat MCP tool listing.
func (s *rpcRoutes) listTools(req rpcRequest) rpcResponse {
	var defs []federation.ToolDef
	for _, tool := range s.aggregator.Tools() {
		defs = append(defs, federation.ToolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	if s.dispatcher != nil {
		defs = append(defs, s.dispatcher.Tools()...)
	}
	return resultResponse(req.ID, map[string]any{"tools": defs})
}

func (s *rpcRoutes) callTool(r *http.Request, req rpcRequest) rpcResponse {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, jsonrpc.CodeInvalidParams, "tools/call needs a tool name")
	}

	// A dot marks a namespaced federated tool; bare names are local.
	if strings.Contains(params.Name, ".") {
		raw, err := s.router.CallTool(r.Context(), params.Name, params.Arguments)
		if err != nil {
			return errorResponse(req.ID, rpcCode(err), err.Error())
		}
		return resultResponse(req.ID, json.RawMessage(raw))
	}

	if s.dispatcher == nil {
		return errorResponse(req.ID, jsonrpc.CodeInvalidParams, "unknown tool: "+params.Name)
	}
	result, err := s.dispatcher.Call(r.Context(), params.Name, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, rpcCode(err), err.Error())
	}
	return resultResponse(req.ID, contentEnvelope(result))
}

func (s *rpcRoutes) listResources(req rpcRequest) rpcResponse {
	return resultResponse(req.ID, map[string]any{"resources": s.aggregator.Resources()})
}

func (s *rpcRoutes) readResource(r *http.Request, req rpcRequest) rpcResponse {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return errorResponse(req.ID, jsonrpc.CodeInvalidParams, "resources/read needs a uri")
	}

	raw, err := s.router.ReadResource(r.Context(), params.URI)
	if err != nil {
		return errorResponse(req.ID, rpcCode(err), err.Error())
	}
	return resultResponse(req.ID, json.RawMessage(raw))
}

// rpcCode maps hub errors onto JSON-RPC codes: caller mistakes are invalid
// params, everything else is internal.
func rpcCode(err error) int {
	switch {
	case errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, tools.ErrInvalidArguments),
		errors.Is(err, federation.ErrUnknownBackend):
		return jsonrpc.CodeInvalidParams
	default:
		return jsonrpc.CodeInternalError
	}
}

// contentEnvelope wraps a local tool result in the MCP text content shape the
// federated backends already use, so facade callers see one result format.
func contentEnvelope(result any) map[string]any {
	text, ok := result.(string)
	if !ok {
		encoded, err := json.Marshal(result)
		if err != nil {
			text = "unencodable tool result"
		} else {
			text = string(encoded)
		}
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}

func resultResponse(id, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id any, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Failed to marshal rpc response: %v", err)
	}
}
