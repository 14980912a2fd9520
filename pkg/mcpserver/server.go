// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver exposes the federation hub as an MCP server over
// streamable HTTP.
//
// The server presents three kinds of tools through one catalog: the
// aggregated, namespaced tools of every healthy backend, the hub's own
// local tools under their bare names, and a small set of meta-tools for
// inspecting and changing the federation itself.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/manager"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/router"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/versions"
)

const (
	// defaultReadHeaderTimeout prevents slowloris attacks by limiting time to read request headers.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultShutdownTimeout is the maximum time to wait for graceful shutdown.
	defaultShutdownTimeout = 10 * time.Second

	// defaultEndpointPath is the MCP endpoint path.
	defaultEndpointPath = "/mcp"
)

// Config holds the MCP server configuration.
type Config struct {
	// Name is the server name exposed in the MCP initialize handshake.
	Name string

	// Version is the server version. Defaults to the build version.
	Version string

	// Host is the bind address (default: "127.0.0.1").
	Host string

	// Port is the bind port. Port 0 binds a random available port.
	Port int

	// EndpointPath is the MCP endpoint path (default: "/mcp").
	EndpointPath string
}

// Server serves the hub's tool catalog over the MCP protocol.
type Server struct {
	config *Config

	// MCP protocol server (mark3labs/mcp-go)
	mcpServer *server.MCPServer

	// HTTP server for Streamable HTTP transport
	httpServer *http.Server

	// Network listener (tracks actual bound port when using port 0)
	listener   net.Listener
	listenerMu sync.RWMutex

	registry   *registry.Registry
	manager    *manager.Manager
	aggregator *aggregator.Aggregator
	router     *router.Router
	dispatcher *tools.Dispatcher

	// applied maps each federated tool currently registered with the SDK
	// to a signature of its definition. Guarded by syncMu.
	applied map[string]string
	syncMu  sync.Mutex
}

// New creates a new MCP server instance over the given federation
// components. Meta-tools and local tools are registered once here;
// federated tools are synced from the registry before every listing
// and call, so registrations and health changes show up without a
// restart.
func New(
	cfg *Config,
	reg *registry.Registry,
	mgr *manager.Manager,
	agg *aggregator.Aggregator,
	rtr *router.Router,
	disp *tools.Dispatcher,
) *Server {
	// Apply defaults
	if cfg.Name == "" {
		cfg.Name = "mcp-hub"
	}
	if cfg.Version == "" {
		cfg.Version = versions.GetVersionInfo().Version
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	// Note: Port 0 means "let OS assign random port" - intentionally no default applied here.
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = defaultEndpointPath
	}

	hooks := &server.Hooks{}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithHooks(hooks),
	)

	srv := &Server{
		config:     cfg,
		mcpServer:  mcpServer,
		registry:   reg,
		manager:    mgr,
		aggregator: agg,
		router:     rtr,
		dispatcher: disp,
		applied:    make(map[string]string),
	}

	mcpServer.AddTools(srv.metaTools()...)
	mcpServer.AddTools(srv.localTools()...)
	srv.syncFederatedTools()

	// Re-sync before listings and calls so the SDK's tool map tracks the
	// registry. The sync is a no-op when nothing changed, so no spurious
	// listChanged notifications go out.
	hooks.AddBeforeListTools(func(_ context.Context, _ any, _ *mcp.ListToolsRequest) {
		srv.syncFederatedTools()
	})
	hooks.AddBeforeCallTool(func(_ context.Context, _ any, _ *mcp.CallToolRequest) {
		srv.syncFederatedTools()
	})

	return srv
}

// syncFederatedTools reconciles the SDK's tool map with the aggregator's
// current view: stale federated tools are deleted, new or changed ones
// added. Meta-tools and local tools are never touched.
func (s *Server) syncFederatedTools() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	desired := make(map[string]server.ServerTool)
	signatures := make(map[string]string)
	for _, tool := range s.aggregator.Tools() {
		desired[tool.Name] = server.ServerTool{
			Tool:    federatedSDKTool(tool),
			Handler: s.federatedToolHandler(tool.Name),
		}
		signatures[tool.Name] = toolSignature(tool)
	}

	var stale []string
	for name := range s.applied {
		if _, ok := desired[name]; !ok {
			stale = append(stale, name)
		}
	}

	var fresh []server.ServerTool
	for name, tool := range desired {
		if s.applied[name] != signatures[name] {
			fresh = append(fresh, tool)
		}
	}

	if len(stale) > 0 {
		s.mcpServer.DeleteTools(stale...)
	}
	if len(fresh) > 0 {
		s.mcpServer.AddTools(fresh...)
	}
	s.applied = signatures
}

// Start starts the MCP server and blocks until the context is cancelled
// or the server fails.
func (s *Server) Start(ctx context.Context) error {
	streamableServer := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(s.config.EndpointPath),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", streamableServer)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	// Create listener (allows port 0 to bind to random available port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	logger.Infof("Starting MCP server at %s%s", listener.Addr().String(), s.config.EndpointPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down MCP server")
		return s.Stop(context.Background())
	case err := <-errCh:
		logger.Errorf("HTTP server error: %v", err)
		if stopErr := s.Stop(context.Background()); stopErr != nil {
			return fmt.Errorf("server error: %w; stop error: %v", err, stopErr)
		}
		return err
	}
}

// Stop gracefully stops the MCP server.
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Stopping MCP server")

	var errs []error

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown HTTP server: %w", err))
		}
	}

	// Clear listener reference (already closed by httpServer.Shutdown)
	s.listenerMu.Lock()
	s.listener = nil
	s.listenerMu.Unlock()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("MCP server stopped")
	return nil
}

// Address returns the server's actual listen address.
// If the server is started with port 0, this returns the actual bound port.
func (s *Server) Address() string {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// handleHealth returns 200 OK if the server is running and able to
// respond. Intentionally minimal: no version or federation state is
// exposed here.
func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logger.Errorf("Failed to encode health response: %v", err)
	}
}
