// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package federation defines the shared domain types for the MCP hub's
// backend federation: backend records, capability descriptors, and the
// interfaces that connect the registry, connector, discovery, health and
// routing subpackages.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AuthMode selects how the connector authenticates against a backend.
type AuthMode string

const (
	// AuthNone sends no credentials.
	AuthNone AuthMode = "none"

	// AuthBearer sends the token as an Authorization: Bearer header.
	AuthBearer AuthMode = "bearer"

	// AuthAPIKey sends the token as an X-API-Key header.
	AuthAPIKey AuthMode = "apiKey"
)

// ParseAuthMode validates a textual auth mode. The empty string maps to
// AuthNone so registrations may omit the field.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case AuthNone, AuthBearer, AuthAPIKey:
		return AuthMode(s), nil
	case "":
		return AuthNone, nil
	default:
		return "", fmt.Errorf("%w: unsupported auth mode %q", ErrInvalidConfig, s)
	}
}

// ToolDef describes one tool advertised by a backend, as returned by the
// backend's tools/list. Names here are the backend's own; namespacing is
// applied only when aggregating.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ResourceDef describes one resource advertised by a backend, as returned by
// the backend's resources/list.
type ResourceDef struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// BackendConfig is the authoritative record for one federated backend. The
// registry owns these; callers only ever see copies.
type BackendConfig struct {
	// Name uniquely identifies the backend. Immutable after registration.
	Name string

	// Endpoint is the base URL of the backend's JSON-RPC entrypoint.
	Endpoint string

	// Description is free text shown in listings.
	Description string

	// AuthMode and AuthToken configure outbound authentication.
	AuthMode  AuthMode
	AuthToken string

	// Enabled gates health checking and aggregation. Cleared by the health
	// monitor after repeated failures; only an operator sets it back.
	Enabled bool

	// Metadata carries free-form operator labels.
	Metadata map[string]string

	// Healthy reports the verdict of the most recent capability discovery.
	Healthy bool

	// LastHealthCheck is the time of the most recent discovery attempt,
	// successful or not. Zero until the first attempt.
	LastHealthCheck time.Time

	// Tools and Resources hold the most recently discovered capabilities.
	Tools     []ToolDef
	Resources []ResourceDef

	// ErrorCount counts consecutive failed backend calls. Reset to zero on
	// every successful discovery.
	ErrorCount int
}

// Clone returns a deep copy so registry internals never leak to callers.
func (c *BackendConfig) Clone() BackendConfig {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.Tools != nil {
		out.Tools = make([]ToolDef, len(c.Tools))
		copy(out.Tools, c.Tools)
	}
	if c.Resources != nil {
		out.Resources = make([]ResourceDef, len(c.Resources))
		copy(out.Resources, c.Resources)
	}
	return out
}

// RegisterRequest carries the operator-supplied fields for a new backend.
type RegisterRequest struct {
	Name        string            `json:"name"`
	Endpoint    string            `json:"endpoint"`
	Description string            `json:"description,omitempty"`
	AuthMode    string            `json:"authMode,omitempty"`
	AuthToken   string            `json:"authToken,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewBackendConfig validates a registration request and builds the fresh
// record: enabled, unhealthy, empty capability lists, zero error count.
func NewBackendConfig(req RegisterRequest) (*BackendConfig, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: backend name is required", ErrInvalidConfig)
	}
	mode, err := ParseAuthMode(req.AuthMode)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(req.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q is not an absolute URL", ErrInvalidConfig, req.Endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: endpoint scheme %q is not supported", ErrInvalidConfig, u.Scheme)
	}

	cfg := &BackendConfig{
		Name:        req.Name,
		Endpoint:    req.Endpoint,
		Description: req.Description,
		AuthMode:    mode,
		AuthToken:   req.AuthToken,
		Enabled:     true,
	}
	if len(req.Metadata) > 0 {
		cfg.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			cfg.Metadata[k] = v
		}
	}
	return cfg, nil
}

// BackendInfo is the read-only projection of a backend record exposed over
// the management API and the MCP meta-tools.
type BackendInfo struct {
	Name            string            `json:"name"`
	Endpoint        string            `json:"endpoint"`
	Description     string            `json:"description,omitempty"`
	Enabled         bool              `json:"enabled"`
	Healthy         bool              `json:"isHealthy"`
	LastHealthCheck *time.Time        `json:"lastHealthCheck,omitempty"`
	ToolsCount      int               `json:"toolsCount"`
	ResourcesCount  int               `json:"resourcesCount"`
	ErrorCount      int               `json:"errorCount"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// InfoFromConfig projects a record into its API shape. LastHealthCheck is
// omitted until the first discovery attempt has stamped it.
func InfoFromConfig(cfg *BackendConfig) BackendInfo {
	info := BackendInfo{
		Name:           cfg.Name,
		Endpoint:       cfg.Endpoint,
		Description:    cfg.Description,
		Enabled:        cfg.Enabled,
		Healthy:        cfg.Healthy,
		ToolsCount:     len(cfg.Tools),
		ResourcesCount: len(cfg.Resources),
		ErrorCount:     cfg.ErrorCount,
		Metadata:       cfg.Metadata,
	}
	if !cfg.LastHealthCheck.IsZero() {
		at := cfg.LastHealthCheck
		info.LastHealthCheck = &at
	}
	return info
}

// Stats summarizes the registry. TotalBackends counts every record;
// the remaining counters only consider backends whose last check succeeded,
// whether or not they are enabled.
type Stats struct {
	TotalBackends   int `json:"totalBackends"`
	HealthyBackends int `json:"healthyBackends"`
	TotalTools      int `json:"totalTools"`
	TotalResources  int `json:"totalResources"`
}

//go:generate mockgen -destination=mocks/mock_types.go -package=mocks -source=types.go Connector,Discoverer,FailureRecorder

// Connector issues a single JSON-RPC 2.0 call against one backend. A failed
// call, whatever the failure class, increments the backend's error count
// through the FailureRecorder the implementation was built with. Connectors
// never retry.
type Connector interface {
	// Call posts the method and params to the backend and returns the raw
	// JSON-RPC result member. Errors wrap ErrTransport or ErrProtocol.
	Call(ctx context.Context, backend *BackendConfig, method string, params any) (json.RawMessage, error)
}

// Discoverer fetches a backend's capability catalogs. The tools listing is
// mandatory and its failure fails discovery; the resources listing is
// best-effort and keeps the backend's previous resources on any problem.
type Discoverer interface {
	Discover(ctx context.Context, backend *BackendConfig) (tools []ToolDef, resources []ResourceDef, err error)
}

// FailureRecorder tracks consecutive backend call failures. Implemented by
// the registry; recording an unknown name is a no-op that returns zero.
type FailureRecorder interface {
	// RecordFailure increments the named backend's consecutive error count
	// and returns the new value.
	RecordFailure(name string) int
}
