// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client implements the federation.Connector interface: single-shot
// JSON-RPC 2.0 calls over HTTP POST against one backend endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/jsonrpc"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
)

const (
	// defaultTimeout bounds every backend call. Backends that need longer
	// must answer asynchronously; the hub never waits past this.
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps response bodies so a misbehaving backend cannot
	// exhaust hub memory during decoding.
	maxResponseBytes = 100 * 1024 * 1024 // 100 MB

	// requestID is the fixed JSON-RPC id for hub-originated calls. The hub
	// never pipelines requests on one connection, so a constant is enough.
	requestID = 1
)

// HTTPConnector posts JSON-RPC requests to backend endpoints. Every failed
// call, whatever the failure class, is reported to the failure recorder
// exactly once. The connector never retries; repeated-failure policy lives
// in the health monitor.
type HTTPConnector struct {
	httpClient *http.Client
	recorder   federation.FailureRecorder
}

var _ federation.Connector = (*HTTPConnector)(nil)

// Option configures an HTTPConnector.
type Option func(*HTTPConnector)

// WithHTTPClient replaces the underlying HTTP client. Used by tests; the
// default client carries the fixed call timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPConnector) {
		h.httpClient = c
	}
}

// New creates a connector that reports failures to rec.
func New(rec federation.FailureRecorder, opts ...Option) *HTTPConnector {
	h := &HTTPConnector{
		httpClient: &http.Client{Timeout: defaultTimeout},
		recorder:   rec,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Call posts {"jsonrpc":"2.0","method":...,"params":...,"id":1} to the
// backend endpoint and returns the raw result member. Transport failures,
// non-2xx statuses, undecodable bodies and JSON-RPC error objects all count
// as one failure against the backend.
func (h *HTTPConnector) Call(ctx context.Context, backend *federation.BackendConfig, method string, params any) (json.RawMessage, error) {
	msg, err := jsonrpc.NewRequest(method, params, requestID)
	if err != nil {
		return nil, h.fail(backend, fmt.Errorf("%w: %s: %w", federation.ErrProtocol, method, err))
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, h.fail(backend, fmt.Errorf("%w: %s: %w", federation.ErrProtocol, method, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, h.fail(backend, fmt.Errorf("%w: %s: %w", federation.ErrTransport, method, err))
	}
	req.Header.Set("Content-Type", "application/json")
	switch backend.AuthMode {
	case federation.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+backend.AuthToken)
	case federation.AuthAPIKey:
		req.Header.Set("X-API-Key", backend.AuthToken)
	case federation.AuthNone:
	}

	logger.Debugw("calling backend", "backend", backend.Name, "method", method)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, h.fail(backend, fmt.Errorf("%w: %s %s: %w", federation.ErrTransport, method, backend.Endpoint, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, h.fail(backend, fmt.Errorf("%w: %s: reading response: %w", federation.ErrTransport, method, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, h.fail(backend, fmt.Errorf("%w: %s: backend returned status %d", federation.ErrTransport, method, resp.StatusCode))
	}

	var out jsonrpc.Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, h.fail(backend, fmt.Errorf("%w: %s: decoding response: %w", federation.ErrProtocol, method, err))
	}
	if out.Error != nil {
		return nil, h.fail(backend, fmt.Errorf("%w: %s: %w", federation.ErrProtocol, method, out.Error))
	}

	return out.Result, nil
}

// fail records one failure against the backend and passes the error through.
func (h *HTTPConnector) fail(backend *federation.BackendConfig, err error) error {
	count := h.recorder.RecordFailure(backend.Name)
	logger.Debugw("backend call failed", "backend", backend.Name, "errorCount", count, "error", err)
	return err
}
