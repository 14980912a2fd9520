// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package v1 contains the MCP hub's versioned API routes.
package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/manager"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
)

// BackendsRoutes defines the routes for backend management.
type BackendsRoutes struct {
	manager  *manager.Manager
	registry *registry.Registry
}

// BackendsRouter creates a new router for backend management.
func BackendsRouter(mgr *manager.Manager, reg *registry.Registry) http.Handler {
	routes := BackendsRoutes{
		manager:  mgr,
		registry: reg,
	}

	r := chi.NewRouter()
	r.Get("/", routes.listBackends)
	r.Post("/", routes.registerBackend)
	r.Get("/{name}", routes.getBackend)
	r.Delete("/{name}", routes.unregisterBackend)
	r.Put("/{name}/enabled", routes.setBackendEnabled)
	r.Post("/{name}/refresh", routes.refreshBackend)

	return r
}

// listBackends returns every registered backend in registration order.
func (s *BackendsRoutes) listBackends(w http.ResponseWriter, _ *http.Request) {
	backends := s.registry.ListInfo()

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(backendListResponse{Backends: backends, Count: len(backends)})
	if err != nil {
		logger.Errorf("Failed to marshal backend list: %v", err)
		http.Error(w, "Failed to marshal backend list", http.StatusInternalServerError)
		return
	}
}

// registerBackend registers a new backend. Registration succeeds even when
// the backend is unreachable; it is then listed as unhealthy until the health
// monitor gets through to it.
func (s *BackendsRoutes) registerBackend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req federation.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Errorf("Failed to decode register request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := s.manager.Register(ctx, req); err != nil {
		if errors.Is(err, federation.ErrInvalidConfig) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Errorf("Failed to register backend %s: %v", req.Name, err)
		http.Error(w, "Failed to register backend", http.StatusInternalServerError)
		return
	}

	info, _ := s.registry.Info(req.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Errorf("Failed to marshal backend info: %v", err)
		http.Error(w, "Failed to marshal backend info", http.StatusInternalServerError)
		return
	}
}

// getBackend returns one backend's details.
func (s *BackendsRoutes) getBackend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, ok := s.registry.Info(name)
	if !ok {
		http.Error(w, "Backend not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Errorf("Failed to marshal backend info: %v", err)
		http.Error(w, "Failed to marshal backend info", http.StatusInternalServerError)
		return
	}
}

// unregisterBackend removes a backend.
func (s *BackendsRoutes) unregisterBackend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if !s.manager.Unregister(name) {
		http.Error(w, "Backend not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// setBackendEnabled flips the operator gate on a backend. Disabled backends
// are skipped by the health monitor and hidden from aggregation.
func (s *BackendsRoutes) setBackendEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Errorf("Failed to decode enabled request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		http.Error(w, "Field 'enabled' is required", http.StatusBadRequest)
		return
	}

	if !s.registry.SetEnabled(name, *req.Enabled) {
		http.Error(w, "Backend not found", http.StatusNotFound)
		return
	}

	info, _ := s.registry.Info(name)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Errorf("Failed to marshal backend info: %v", err)
		http.Error(w, "Failed to marshal backend info", http.StatusInternalServerError)
		return
	}
}

// refreshBackend re-runs capability discovery for one backend on demand.
func (s *BackendsRoutes) refreshBackend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	if err := s.manager.Refresh(ctx, name); err != nil {
		if errors.Is(err, federation.ErrUnknownBackend) {
			http.Error(w, "Backend not found", http.StatusNotFound)
			return
		}
		// The backend exists but could not be discovered; it is now marked
		// unhealthy. The gateway is fine, the upstream is not.
		logger.Warnf("Refresh failed for backend %s: %v", name, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	info, _ := s.registry.Info(name)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Errorf("Failed to marshal backend info: %v", err)
		http.Error(w, "Failed to marshal backend info", http.StatusInternalServerError)
		return
	}
}

// Request and response types

type backendListResponse struct {
	// Registered backends in registration order
	Backends []federation.BackendInfo `json:"backends"`
	// Number of registered backends
	Count int `json:"count"`
}

type setEnabledRequest struct {
	// Desired enabled state; required
	Enabled *bool `json:"enabled"`
}
