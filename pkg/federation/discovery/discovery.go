// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discovery fetches backend capability catalogs over the federation
// connector. The tools listing decides discovery success; the resources
// listing is opportunistic.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
)

const (
	toolsListMethod     = "tools/list"
	resourcesListMethod = "resources/list"
)

// CapabilityDiscoverer implements federation.Discoverer against live
// backends.
type CapabilityDiscoverer struct {
	conn federation.Connector
}

var _ federation.Discoverer = (*CapabilityDiscoverer)(nil)

// New creates a discoverer that calls backends through conn.
func New(conn federation.Connector) *CapabilityDiscoverer {
	return &CapabilityDiscoverer{conn: conn}
}

// Discover fetches the backend's catalogs.
//
// tools/list must answer: a failed call fails discovery. A successful answer
// that does not carry a well-formed tools array yields an empty catalog
// rather than an error, so a backend with no tools is still healthy.
//
// resources/list may fail in any way; the backend's previously known
// resources are kept and the problem is not surfaced.
func (d *CapabilityDiscoverer) Discover(ctx context.Context, backend *federation.BackendConfig) ([]federation.ToolDef, []federation.ResourceDef, error) {
	rawTools, err := d.conn.Call(ctx, backend, toolsListMethod, map[string]any{})
	if err != nil {
		return nil, nil, fmt.Errorf("discovering %s: %w", backend.Name, err)
	}

	var toolListing struct {
		Tools []federation.ToolDef `json:"tools"`
	}
	if err := json.Unmarshal(rawTools, &toolListing); err != nil {
		logger.Debugw("backend tools listing malformed, treating as empty",
			"backend", backend.Name, "error", err)
		toolListing.Tools = nil
	}

	resources := backend.Resources
	rawResources, err := d.conn.Call(ctx, backend, resourcesListMethod, map[string]any{})
	if err != nil {
		logger.Debugw("backend resources listing unavailable, keeping previous",
			"backend", backend.Name, "error", err)
		return toolListing.Tools, resources, nil
	}
	var resourceListing struct {
		Resources []federation.ResourceDef `json:"resources"`
	}
	if err := json.Unmarshal(rawResources, &resourceListing); err != nil {
		logger.Debugw("backend resources listing malformed, keeping previous",
			"backend", backend.Name, "error", err)
		return toolListing.Tools, resources, nil
	}

	return toolListing.Tools, resourceListing.Resources, nil
}
