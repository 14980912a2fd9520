// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package aggregator projects the registry into federated capability
// listings. Tool and resource names are prefixed with their backend so
// callers can address any backend through one flat namespace.
package aggregator

import (
	"fmt"
	"strings"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
)

// DefaultMimeType is assumed for resources whose backend did not declare one.
const DefaultMimeType = "application/json"

// FederatedTool is a backend tool as exposed through the hub.
type FederatedTool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Backend      string         `json:"backend"`
	OriginalName string         `json:"originalName"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
}

// FederatedResource is a backend resource as exposed through the hub.
type FederatedResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	Backend     string `json:"backend"`
	OriginalURI string `json:"originalUri"`
}

// ToolName builds the federated name for a backend tool.
func ToolName(backend, tool string) string {
	return backend + "." + tool
}

// ParseToolName splits a federated tool name back into backend and original
// tool. The backend segment is everything before the first dot, so original
// names may themselves contain dots.
func ParseToolName(name string) (backend, tool string, err error) {
	backend, tool, found := strings.Cut(name, ".")
	if !found || backend == "" || tool == "" {
		return "", "", fmt.Errorf("%w: %q is not a namespaced tool name", federation.ErrUnknownBackend, name)
	}
	return backend, tool, nil
}

// ResourceURI builds the federated URI for a backend resource.
func ResourceURI(backend, uri string) string {
	return backend + "://" + uri
}

// ParseResourceURI splits a federated resource URI back into backend and
// original URI.
func ParseResourceURI(uri string) (backend, original string, err error) {
	backend, original, found := strings.Cut(uri, "://")
	if !found || backend == "" || original == "" {
		return "", "", fmt.Errorf("%w: %q is not a namespaced resource URI", federation.ErrUnknownBackend, uri)
	}
	return backend, original, nil
}

// Aggregator builds federated views over the registry.
type Aggregator struct {
	reg *registry.Registry
}

// New creates an aggregator over the given registry.
func New(reg *registry.Registry) *Aggregator {
	return &Aggregator{reg: reg}
}

// Tools lists every tool of every enabled, healthy backend. Backends appear
// in registration order and each backend's tools keep their listed order.
func (a *Aggregator) Tools() []FederatedTool {
	var out []FederatedTool
	for _, backend := range a.reg.List() {
		if !backend.Enabled || !backend.Healthy {
			continue
		}
		for _, tool := range backend.Tools {
			out = append(out, FederatedTool{
				Name:         ToolName(backend.Name, tool.Name),
				Description:  fmt.Sprintf("[%s] %s", backend.Name, tool.Description),
				Backend:      backend.Name,
				OriginalName: tool.Name,
				InputSchema:  tool.InputSchema,
			})
		}
	}
	return out
}

// Resources lists every resource of every enabled, healthy backend, in the
// same order Tools uses.
func (a *Aggregator) Resources() []FederatedResource {
	var out []FederatedResource
	for _, backend := range a.reg.List() {
		if !backend.Enabled || !backend.Healthy {
			continue
		}
		for _, res := range backend.Resources {
			mimeType := res.MimeType
			if mimeType == "" {
				mimeType = DefaultMimeType
			}
			out = append(out, FederatedResource{
				URI:         ResourceURI(backend.Name, res.URI),
				Name:        fmt.Sprintf("[%s] %s", backend.Name, res.Name),
				MimeType:    mimeType,
				Backend:     backend.Name,
				OriginalURI: res.URI,
			})
		}
	}
	return out
}
