// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
)

// HealthcheckRouter sets up the healthcheck route.
func HealthcheckRouter(reg *registry.Registry) http.Handler {
	routes := &healthcheckRoutes{registry: reg}
	r := chi.NewRouter()
	r.Get("/", routes.getHealthcheck)
	return r
}

type healthcheckRoutes struct {
	registry *registry.Registry
}

// getHealthcheck reports hub liveness. The hub is healthy as long as it can
// answer; backend health is reported alongside, not folded into the status.
func (h *healthcheckRoutes) getHealthcheck(w http.ResponseWriter, _ *http.Request) {
	resp := healthcheckResponse{
		Status: "ok",
		Stats:  h.registry.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Failed to marshal healthcheck: %v", err)
		http.Error(w, "Failed to marshal healthcheck", http.StatusInternalServerError)
		return
	}
}

type healthcheckResponse struct {
	// Liveness verdict for the hub process itself
	Status string `json:"status"`
	// Backend registry summary
	Stats federation.Stats `json:"stats"`
}
