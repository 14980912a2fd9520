package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/api"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/aggregator"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/client"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/discovery"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/health"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/manager"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/router"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/mcpserver"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/telemetry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools/cache"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools/db"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools/execution"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools/service"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools/vcs"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools/workflow"
)

// runServe implements the serve command logic.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Infof("Starting MCP hub %q", cfg.Name)

	metrics := telemetry.New()

	// Federation core. The connector reports call failures straight into
	// the registry's error counters; everything else reads the registry.
	reg := registry.New()
	conn := client.New(reg)
	disc := discovery.New(conn)
	mgr := manager.New(reg, disc)
	agg := aggregator.New(reg)
	rtr := router.New(reg, conn, router.WithMetrics(metrics))
	mon := health.New(reg, disc,
		health.WithInterval(time.Duration(cfg.Health.CheckInterval)),
		health.WithDisableThreshold(cfg.Health.DisableThreshold),
		health.WithMetrics(metrics),
	)

	dispatcher, cleanup, err := buildDispatcher(ctx, cfg, reg, mgr, rtr)
	if err != nil {
		return err
	}
	defer cleanup()

	registerSeedBackends(ctx, mgr, cfg.Backends)

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	defer func() {
		if err := mon.Stop(); err != nil {
			logger.Errorf("Failed to stop health monitor: %v", err)
		}
	}()

	apiCfg := &api.Config{
		Address:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		HubName:    cfg.Name,
		AuthToken:  resolveAPIToken(cfg.API),
		Registry:   reg,
		Manager:    mgr,
		Aggregator: agg,
		Router:     rtr,
		Dispatcher: dispatcher,
		Metrics:    metrics,
	}

	mcpSrv := mcpserver.New(&mcpserver.Config{
		Name: cfg.Name,
		Host: cfg.MCP.Host,
		Port: cfg.MCP.Port,
	}, reg, mgr, agg, rtr, dispatcher)

	// Both surfaces run until the first error or the shutdown signal.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.Serve(groupCtx, apiCfg)
	})
	group.Go(func() error {
		return mcpSrv.Start(groupCtx)
	})

	return group.Wait()
}

// loadConfig reads the configured file, or falls back to defaults when no
// file was given. The result is always validated.
func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		logger.Info("No configuration file specified, using defaults")
		cfg := config.Default()
		if err := config.NewValidator().Validate(cfg); err != nil {
			return nil, fmt.Errorf("default configuration invalid: %w", err)
		}
		return cfg, nil
	}

	logger.Infof("Loading configuration from: %s", configPath)

	cfg, err := config.NewYAMLLoader(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// resolveAPIToken reads the API key from the configured environment
// variable. An unset variable disables API authentication, loudly.
func resolveAPIToken(apiCfg *config.APIConfig) string {
	if apiCfg.AuthTokenEnv == "" {
		return ""
	}
	token := os.Getenv(apiCfg.AuthTokenEnv)
	if token == "" {
		logger.Warnw("API authentication disabled: environment variable is unset or empty",
			"env", apiCfg.AuthTokenEnv)
	}
	return token
}

// buildDispatcher constructs the enabled local tool handlers and wires them
// into a dispatcher. The returned cleanup closes every handler that holds a
// connection; it is safe to call exactly once.
func buildDispatcher(
	ctx context.Context,
	cfg *config.Config,
	reg *registry.Registry,
	mgr *manager.Manager,
	rtr *router.Router,
) (*tools.Dispatcher, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Errorf("Failed to close tool handler: %v", err)
			}
		}
	}

	toolsCfg := cfg.Tools
	if toolsCfg == nil {
		toolsCfg = &config.ToolsConfig{}
	}

	// The service and workflow handlers have no external dependencies and
	// are always on; the rest follow their config sections.
	handlers := []tools.Handler{service.NewHandler(reg, mgr)}

	if toolsCfg.Cache != nil {
		h, err := cache.NewHandler(ctx, toolsCfg.Cache)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create cache handler: %w", err)
		}
		handlers = append(handlers, h)
		closers = append(closers, h)
	}

	if toolsCfg.Database != nil {
		h, err := db.NewHandler(ctx, toolsCfg.Database)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create database handler: %w", err)
		}
		handlers = append(handlers, h)
		closers = append(closers, h)
	}

	if toolsCfg.VCS != nil {
		h, err := vcs.NewHandler(toolsCfg.VCS)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create vcs handler: %w", err)
		}
		handlers = append(handlers, h)
	}

	if toolsCfg.Execution != nil {
		h, err := execution.NewHandler(ctx, toolsCfg.Execution)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create execution handler: %w", err)
		}
		handlers = append(handlers, h)
		closers = append(closers, h)
	}

	wf, err := workflow.NewHandler(rtr, toolsCfg.Workflows)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to create workflow handler: %w", err)
	}
	handlers = append(handlers, wf)

	dispatcher, err := tools.NewDispatcher(handlers...)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to create tool dispatcher: %w", err)
	}

	// Workflow steps that name local tools dispatch back through the
	// dispatcher itself.
	wf.SetLocalCaller(dispatcher)

	logger.Infow("local tools ready", "tools", len(dispatcher.Tools()), "handlers", len(handlers))
	return dispatcher, closeAll, nil
}

// registerSeedBackends registers the configured backends. Registration is
// best-effort: invalid entries are skipped with a warning and unreachable
// backends are registered unhealthy for the monitor to pick up.
func registerSeedBackends(ctx context.Context, mgr *manager.Manager, seeds []config.SeedBackend) {
	for _, seed := range seeds {
		req := federation.RegisterRequest{
			Name:        seed.Name,
			Endpoint:    seed.Endpoint,
			Description: seed.Description,
			AuthMode:    seed.AuthMode,
			Metadata:    seed.Metadata,
		}
		if seed.AuthTokenEnv != "" {
			req.AuthToken = os.Getenv(seed.AuthTokenEnv)
			if req.AuthToken == "" {
				logger.Warnw("auth token environment variable is unset or empty",
					"backend", seed.Name, "env", seed.AuthTokenEnv)
			}
		}

		cfg, err := mgr.Register(ctx, req)
		if err != nil {
			logger.Warnw("skipping seed backend", "backend", seed.Name, "error", err)
			continue
		}
		logger.Infow("seed backend registered",
			"backend", cfg.Name, "endpoint", cfg.Endpoint, "healthy", cfg.Healthy)
	}
}
