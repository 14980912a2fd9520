// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// ToolsRouter serves the aggregated tool catalog: every namespaced tool of
// every enabled, healthy backend plus the hub's own local tools.
func ToolsRouter(agg *aggregator.Aggregator, disp *tools.Dispatcher) http.Handler {
	routes := &catalogRoutes{aggregator: agg, dispatcher: disp}
	r := chi.NewRouter()
	r.Get("/", routes.listTools)
	return r
}

// ResourcesRouter serves the aggregated resource catalog.
func ResourcesRouter(agg *aggregator.Aggregator) http.Handler {
	routes := &catalogRoutes{aggregator: agg}
	r := chi.NewRouter()
	r.Get("/", routes.listResources)
	return r
}

// StatsRouter serves the registry summary with per-backend details.
func StatsRouter(reg *registry.Registry) http.Handler {
	routes := &catalogRoutes{registry: reg}
	r := chi.NewRouter()
	r.Get("/", routes.getStats)
	return r
}

type catalogRoutes struct {
	aggregator *aggregator.Aggregator
	dispatcher *tools.Dispatcher
	registry   *registry.Registry
}

func (s *catalogRoutes) listTools(w http.ResponseWriter, _ *http.Request) {
	resp := toolListResponse{
		Tools: s.aggregator.Tools(),
	}
	if s.dispatcher != nil {
		resp.LocalTools = s.dispatcher.Tools()
	}
	resp.Count = len(resp.Tools) + len(resp.LocalTools)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Failed to marshal tool list: %v", err)
		http.Error(w, "Failed to marshal tool list", http.StatusInternalServerError)
		return
	}
}

func (s *catalogRoutes) listResources(w http.ResponseWriter, _ *http.Request) {
	resources := s.aggregator.Resources()

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(resourceListResponse{Resources: resources, Count: len(resources)})
	if err != nil {
		logger.Errorf("Failed to marshal resource list: %v", err)
		http.Error(w, "Failed to marshal resource list", http.StatusInternalServerError)
		return
	}
}

func (s *catalogRoutes) getStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Stats:    s.registry.Stats(),
		Backends: s.registry.ListInfo(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Failed to marshal stats: %v", err)
		http.Error(w, "Failed to marshal stats", http.StatusInternalServerError)
		return
	}
}

// Response types

type toolListResponse struct {
	// Namespaced tools of enabled, healthy backends
	Tools []aggregator.FederatedTool `json:"tools"`
	// Tools served by the hub itself
	LocalTools []federation.ToolDef `json:"localTools,omitempty"`
	// Total number of callable tools
	Count int `json:"count"`
}

type resourceListResponse struct {
	// Namespaced resources of enabled, healthy backends
	Resources []aggregator.FederatedResource `json:"resources"`
	// Number of resources
	Count int `json:"count"`
}

type statsResponse struct {
	federation.Stats
	// Per-backend details in registration order
	Backends []federation.BackendInfo `json:"backends"`
}
