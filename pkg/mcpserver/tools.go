// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
)

// emptyObjectSchema stands in for tools whose backend did not declare an
// input schema. The protocol wants an object, not null.
var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)

// federatedSDKTool converts an aggregated tool into its SDK shape. The
// discovered schema is passed through raw so nothing is lost in translation.
func federatedSDKTool(tool aggregator.FederatedTool) mcp.Tool {
	schemaJSON := emptyObjectSchema
	if len(tool.InputSchema) > 0 {
		encoded, err := json.Marshal(tool.InputSchema)
		if err == nil {
			schemaJSON = encoded
		} else {
			logger.Warnw("failed to marshal tool schema", "tool", tool.Name, "error", err)
		}
	}
	return mcp.Tool{
		Name:           tool.Name,
		Description:    tool.Description,
		RawInputSchema: schemaJSON,
	}
}

// toolSignature identifies a federated tool definition for change
// detection. Two definitions with the same signature render the same
// SDK tool.
func toolSignature(tool aggregator.FederatedTool) string {
	schemaJSON, _ := json.Marshal(tool.InputSchema)
	return tool.Description + "\x00" + string(schemaJSON)
}

// federatedToolHandler routes a namespaced tool call through the
// federation router and hands the backend's result to the client as-is.
func (s *Server) federatedToolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := s.router.CallTool(ctx, name, request.GetArguments())
		if err != nil {
			logger.Warnf("Federated tool call failed for %s: %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := mcp.ParseCallToolResult(&raw)
		if err != nil {
			// The backend answered with something that is not a tool
			// result. Surface it as text rather than dropping it.
			return mcp.NewToolResultText(string(raw)), nil
		}
		return result, nil
	}
}

// localTools wraps every dispatcher tool in an SDK handler under its
// bare name.
func (s *Server) localTools() []server.ServerTool {
	defs := s.dispatcher.Tools()

	sdkTools := make([]server.ServerTool, 0, len(defs))
	for _, def := range defs {
		schemaJSON := emptyObjectSchema
		if len(def.InputSchema) > 0 {
			if encoded, err := json.Marshal(def.InputSchema); err == nil {
				schemaJSON = encoded
			}
		}
		sdkTools = append(sdkTools, server.ServerTool{
			Tool: mcp.Tool{
				Name:           def.Name,
				Description:    def.Description,
				RawInputSchema: schemaJSON,
			},
			Handler: s.localToolHandler(def.Name),
		})
	}
	return sdkTools
}

// localToolHandler dispatches a bare tool name to its local handler.
// String results pass through; anything else is encoded as JSON text,
// the same framing the JSON-RPC facade uses.
func (s *Server) localToolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.dispatcher.Call(ctx, name, request.GetArguments())
		if err != nil {
			logger.Warnf("Local tool call failed for %s: %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		if text, ok := result.(string); ok {
			return mcp.NewToolResultText(text), nil
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode tool result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}

// metaTools builds the federation management tools. They mirror the
// management REST API so MCP-only clients can drive the hub.
func (s *Server) metaTools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("federation_status",
				mcp.WithDescription("Summarize the federation: backend, tool and resource counts"),
			),
			Handler: s.handleFederationStatus,
		},
		{
			Tool: mcp.NewTool("list_backends",
				mcp.WithDescription("List every registered backend with its health and capability counts"),
			),
			Handler: s.handleListBackends,
		},
		{
			Tool: mcp.NewTool("register_backend",
				mcp.WithDescription("Register a backend MCP server and discover its capabilities"),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Unique name for the backend"),
				),
				mcp.WithString("endpoint",
					mcp.Required(),
					mcp.Description("Base URL of the backend's JSON-RPC entrypoint"),
				),
				mcp.WithString("description",
					mcp.Description("Free text shown in listings"),
				),
				mcp.WithString("authMode",
					mcp.Description("Outbound authentication: none, bearer or apiKey"),
				),
				mcp.WithString("authToken",
					mcp.Description("Credential for the chosen auth mode"),
				),
				mcp.WithObject("metadata",
					mcp.Description("Free-form labels (string values only)"),
				),
			),
			Handler: s.handleRegisterBackend,
		},
		{
			Tool: mcp.NewTool("unregister_backend",
				mcp.WithDescription("Remove a backend and its tools from the federation"),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Name of the backend to remove"),
				),
			),
			Handler: s.handleUnregisterBackend,
		},
		{
			Tool: mcp.NewTool("refresh_backend",
				mcp.WithDescription("Re-discover a backend's capabilities right now"),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Name of the backend to refresh"),
				),
			),
			Handler: s.handleRefreshBackend,
		},
	}
}

func (s *Server) handleFederationStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonToolResult(s.registry.Stats())
}

func (s *Server) handleListBackends(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonToolResult(s.registry.ListInfo())
}

func (s *Server) handleRegisterBackend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	endpoint, err := request.RequireString("endpoint")
	if err != nil {
		return mcp.NewToolResultError("endpoint argument is required"), nil
	}

	req := federation.RegisterRequest{
		Name:        name,
		Endpoint:    endpoint,
		Description: request.GetString("description", ""),
		AuthMode:    request.GetString("authMode", ""),
		AuthToken:   request.GetString("authToken", ""),
	}
	if raw := request.GetArguments()["metadata"]; raw != nil {
		fields, ok := raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("metadata must be a JSON object"), nil
		}
		req.Metadata = make(map[string]string, len(fields))
		for k, v := range fields {
			value, ok := v.(string)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("metadata value for %q must be a string", k)), nil
			}
			req.Metadata[k] = value
		}
	}

	cfg, err := s.manager.Register(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("registration failed: %v", err)), nil
	}
	return jsonToolResult(federation.InfoFromConfig(&cfg))
}

func (s *Server) handleUnregisterBackend(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}

	if !s.manager.Unregister(name) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown backend: %s", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("backend %q unregistered", name)), nil
}

func (s *Server) handleRefreshBackend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}

	if err := s.manager.Refresh(ctx, name); err != nil {
		if errors.Is(err, federation.ErrUnknownBackend) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown backend: %s", name)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("refresh failed: %v", err)), nil
	}

	info, _ := s.registry.Info(name)
	return jsonToolResult(info)
}

// jsonToolResult encodes a value as indented JSON text content.
func jsonToolResult(v any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
