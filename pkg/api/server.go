// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api contains the management REST API for the MCP hub: backend
// CRUD, the aggregated capability catalogs and an inbound JSON-RPC facade
// under /mcp for clients that speak plain JSON-RPC instead of MCP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/klogins-hash/northflank-mcp-hub/pkg/api/v1"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/manager"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/router"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/telemetry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/versions"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config wires the API server to the federation stack.
type Config struct {
	// Address is the TCP listen address as host:port.
	Address string

	// HubName identifies this hub in the banner and the JSON-RPC handshake.
	HubName string

	// AuthToken is the static API key clients must present in the X-API-Key
	// header. Empty disables authentication.
	AuthToken string

	Registry   *registry.Registry
	Manager    *manager.Manager
	Aggregator *aggregator.Aggregator
	Router     *router.Router
	Dispatcher *tools.Dispatcher

	// Metrics serves /metrics. Nil leaves the endpoint returning 404.
	Metrics *telemetry.Metrics
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// authExempt lists the paths reachable without an API key: the banner, the
// liveness probe and the metrics scrape.
func authExempt(path string) bool {
	switch path {
	case "/", "/health", "/metrics":
		return true
	default:
		return false
	}
}

func apiKeyMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(token)) != 1 {
				http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler assembles the full API router. Split from Serve so tests can drive
// the routes without a listener.
func Handler(cfg *Config) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
	)
	if cfg.AuthToken != "" {
		r.Use(apiKeyMiddleware(cfg.AuthToken))
	}

	r.Get("/", bannerHandler(cfg.HubName))
	r.Handle("/metrics", cfg.Metrics.Handler())

	routers := map[string]http.Handler{
		"/health":           v1.HealthcheckRouter(cfg.Registry),
		"/api/v1/backends":  v1.BackendsRouter(cfg.Manager, cfg.Registry),
		"/api/v1/tools":     v1.ToolsRouter(cfg.Aggregator, cfg.Dispatcher),
		"/api/v1/resources": v1.ResourcesRouter(cfg.Aggregator),
		"/api/v1/stats":     v1.StatsRouter(cfg.Registry),
		"/mcp":              v1.RPCRouter(cfg.HubName, cfg.Aggregator, cfg.Router, cfg.Dispatcher),
	}
	for prefix, router := range routers {
		r.Mount(prefix, router)
	}

	return r
}

func bannerHandler(hubName string) http.HandlerFunc {
	banner := map[string]string{
		"name":     hubName,
		"version":  versions.GetVersionInfo().Version,
		"protocol": "MCP federation hub",
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(banner); err != nil {
			logger.Errorf("Failed to marshal banner: %v", err)
		}
	}
}

// Serve starts the API server on the configured address and blocks until the
// context is cancelled, then shuts down gracefully. It is assumed that the
// caller sets up appropriate signal handling.
func Serve(ctx context.Context, cfg *Config) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              cfg.Address,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to create API listener: %w", err)
	}

	logger.Infow("starting API server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}

	logger.Infow("API server stopped")
	return nil
}
