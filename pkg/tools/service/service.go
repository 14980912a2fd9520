// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package service exposes the hub's own federation state as local tools:
// backend listings, per-backend detail and an on-demand health sweep.
package service

import (
	"context"
	"fmt"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/manager"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// Tool names owned by this handler.
const (
	ToolListServices   = "list_services"
	ToolServiceInfo    = "service_info"
	ToolHealthCheckAll = "health_check_all"
)

// Handler serves the service tools over the registry and manager.
type Handler struct {
	reg *registry.Registry
	mgr *manager.Manager
}

var _ tools.Handler = (*Handler)(nil)

// NewHandler creates the service tool handler.
func NewHandler(reg *registry.Registry, mgr *manager.Manager) *Handler {
	return &Handler{reg: reg, mgr: mgr}
}

// Category implements tools.Handler.
func (*Handler) Category() tools.Category { return tools.CategoryService }

// Tools implements tools.Handler.
func (*Handler) Tools() []federation.ToolDef {
	return []federation.ToolDef{
		{
			Name:        ToolListServices,
			Description: "List all registered backends with their health and capability counts",
			InputSchema: tools.ObjectSchema(nil),
		},
		{
			Name:        ToolServiceInfo,
			Description: "Show the full status record for one registered backend",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"name": {Type: "string", Description: "Backend name"},
			}, "name"),
		},
		{
			Name:        ToolHealthCheckAll,
			Description: "Run capability discovery against every enabled backend right now",
			InputSchema: tools.ObjectSchema(nil),
		},
	}
}

// Call implements tools.Handler.
func (h *Handler) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolListServices:
		return h.listServices(), nil
	case ToolServiceInfo:
		return h.serviceInfo(args)
	case ToolHealthCheckAll:
		return h.healthCheckAll(ctx), nil
	default:
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
}

func (h *Handler) listServices() any {
	return map[string]any{
		"services": h.reg.ListInfo(),
		"stats":    h.reg.Stats(),
	}
}

func (h *Handler) serviceInfo(args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "name")
	if err != nil {
		return nil, err
	}
	info, ok := h.reg.Info(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", federation.ErrUnknownBackend, name)
	}
	return info, nil
}

// checkResult is one backend's outcome in a health sweep.
type checkResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// healthCheckAll refreshes every enabled backend sequentially, mirroring one
// monitor cycle. Disabled backends are reported as skipped, not contacted.
func (h *Handler) healthCheckAll(ctx context.Context) any {
	var results []checkResult
	var skipped []string

	for _, backend := range h.reg.List() {
		if !backend.Enabled {
			skipped = append(skipped, backend.Name)
			continue
		}
		res := checkResult{Name: backend.Name, Healthy: true}
		if err := h.mgr.Refresh(ctx, backend.Name); err != nil {
			res.Healthy = false
			res.Error = err.Error()
			logger.Warnw("on-demand health check failed", "backend", backend.Name, "error", err)
		}
		results = append(results, res)
	}

	return map[string]any{
		"checked": len(results),
		"skipped": skipped,
		"results": results,
		"stats":   h.reg.Stats(),
	}
}
