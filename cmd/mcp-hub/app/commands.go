// Package app provides the entry point for the mcp-hub command-line application.
package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "mcp-hub",
	DisableAutoGenTag: true,
	Short:             "MCP hub - federate multiple MCP servers behind one endpoint",
	Long: `MCP hub federates multiple MCP (Model Context Protocol) servers behind a
single endpoint. It provides:

- A backend registry with capability discovery and periodic health checks
- One flat tool namespace ("backend.tool") routed to the owning backend
- Local tools for services, caching, database audit, git and sandboxed execution
- A management REST API and an MCP server surface over streamable HTTP

Backends that keep failing are disabled rather than retried forever; an
operator re-enables them through the API once they recover.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the mcp-hub CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to hub configuration file")
	err = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// newServeCmd creates the serve command for starting the hub
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP hub",
		Long: `Start the MCP hub and serve both of its surfaces.

Without --config the hub starts with defaults: no seed backends, no optional
tool handlers, management API on 127.0.0.1:8080 and MCP on 127.0.0.1:4483.
With --config it registers the listed backends (best-effort), switches on the
configured tool handlers and starts health checking.`,
		RunE: runServe,
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of the MCP hub",
		Long:  "Display version information for mcp-hub, including version number, git commit, build date, and Go version.",
		RunE: func(_ *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()

			if jsonOutput {
				encoded, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode version info: %w", err)
				}
				fmt.Println(string(encoded))
				return nil
			}

			fmt.Printf("mcp-hub %s\n", info.Version)
			fmt.Printf("Commit: %s\n", info.Commit)
			fmt.Printf("Built: %s\n", info.BuildDate)
			fmt.Printf("Go version: %s\n", info.GoVersion)
			fmt.Printf("Platform: %s\n", info.Platform)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")

	return cmd
}

// newValidateCmd creates the validate command for checking configuration
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the hub configuration file for syntax and semantic errors.

This command checks:
- YAML syntax validity
- Listener addresses and ports
- Health monitor settings
- Seed backend entries and their auth configuration
- Local tool handler sections and workflow definitions`,
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			logger.Infof("Validating configuration: %s", configPath)

			cfg, err := config.NewYAMLLoader(configPath).Load()
			if err != nil {
				logger.Errorf("Failed to load configuration: %v", err)
				return fmt.Errorf("configuration loading failed: %w", err)
			}

			if err := config.NewValidator().Validate(cfg); err != nil {
				logger.Errorf("Configuration validation failed: %v", err)
				return fmt.Errorf("validation failed: %w", err)
			}

			logger.Infof("✓ Configuration is valid")
			logger.Infof("  Name: %s", cfg.Name)
			logger.Infof("  API: %s:%d", cfg.API.Host, cfg.API.Port)
			logger.Infof("  MCP: %s:%d", cfg.MCP.Host, cfg.MCP.Port)
			logger.Infof("  Health: check every %s, disable after %d failures",
				time.Duration(cfg.Health.CheckInterval), cfg.Health.DisableThreshold)
			logger.Infof("  Seed backends: %d", len(cfg.Backends))

			if cfg.Tools != nil {
				logger.Infof("  Local tools: cache=%t database=%t vcs=%t execution=%t workflows=%d",
					cfg.Tools.Cache != nil,
					cfg.Tools.Database != nil,
					cfg.Tools.VCS != nil,
					cfg.Tools.Execution != nil,
					len(cfg.Tools.Workflows))
			}

			return nil
		},
	}
}
