// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package router resolves federated names to their backend and proxies the
// call. Results come back verbatim; the hub adds no framing of its own.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/telemetry"
)

// Router proxies tool calls and resource reads to the owning backend.
type Router struct {
	reg     *registry.Registry
	conn    federation.Connector
	metrics *telemetry.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics wires the router's call counters. Nil is a valid no-op sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(r *Router) { r.metrics = metrics }
}

// New creates a router over the given registry and connector.
func New(reg *registry.Registry, conn federation.Connector, opts ...Option) *Router {
	r := &Router{reg: reg, conn: conn}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CallTool invokes a federated tool and returns the backend's result as-is.
// The backend must exist and be healthy. The enabled flag is an operator
// gate, not a routing gate, so it is not consulted here.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	backendName, toolName, err := aggregator.ParseToolName(name)
	if err != nil {
		return nil, err
	}

	cfg, ok := r.reg.Get(backendName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", federation.ErrUnknownBackend, backendName)
	}
	if !cfg.Healthy {
		return nil, fmt.Errorf("%w: %s", federation.ErrBackendUnhealthy, backendName)
	}

	logger.Debugw("routing tool call", "backend", backendName, "tool", toolName)
	result, err := r.conn.Call(ctx, &cfg, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	})
	r.metrics.RecordRouterCall(backendName, err)
	return result, err
}

// ReadResource fetches a federated resource and returns the backend's result
// as-is. Only existence is checked; reads are allowed even while a backend
// is marked unhealthy.
func (r *Router) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	backendName, originalURI, err := aggregator.ParseResourceURI(uri)
	if err != nil {
		return nil, err
	}

	cfg, ok := r.reg.Get(backendName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", federation.ErrUnknownBackend, backendName)
	}

	logger.Debugw("routing resource read", "backend", backendName, "uri", originalURI)
	result, err := r.conn.Call(ctx, &cfg, "resources/read", map[string]any{
		"uri": originalURI,
	})
	r.metrics.RecordRouterCall(backendName, err)
	return result, err
}
