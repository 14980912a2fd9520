// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config provides the configuration model for the MCP hub.
//
// A single YAML document configures the hub: where its HTTP surfaces listen,
// which backends to register at startup, how aggressive health checking is
// and which local tool handlers are switched on. Secrets never live in the
// file itself; fields ending in Env name the environment variable that holds
// the real value.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a wrapper around time.Duration that marshals/unmarshals as a
// duration string such as "30s" or "1m" instead of a nanosecond integer.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the top-level configuration model for the MCP hub.
type Config struct {
	// Name identifies this hub instance in logs and the MCP handshake.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// API configures the management REST API.
	API *APIConfig `json:"api,omitempty" yaml:"api,omitempty"`

	// MCP configures the hub's own MCP server surface.
	MCP *MCPConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"`

	// Health configures the backend health monitor.
	Health *HealthConfig `json:"health,omitempty" yaml:"health,omitempty"`

	// Backends lists backend servers to register at startup. Registration is
	// best-effort: a backend that cannot be reached is still registered and
	// picked up by the next health cycle.
	Backends []SeedBackend `json:"backends,omitempty" yaml:"backends,omitempty"`

	// Tools configures the hub's local tool handlers. A nil section disables
	// the corresponding handler entirely.
	Tools *ToolsConfig `json:"tools,omitempty" yaml:"tools,omitempty"`

	// Metadata stores additional free-form configuration metadata.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// APIConfig configures the management REST API listener.
type APIConfig struct {
	// Host is the listen address.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Port is the listen port.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// AuthTokenEnv names the environment variable holding the API key that
	// clients must present in the X-API-Key header. Empty disables API
	// authentication.
	AuthTokenEnv string `json:"authTokenEnv,omitempty" yaml:"authTokenEnv,omitempty"`
}

// MCPConfig configures the hub's MCP server listener.
type MCPConfig struct {
	// Host is the listen address.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Port is the listen port.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
}

// HealthConfig configures the backend health monitor.
type HealthConfig struct {
	// CheckInterval is the interval between health cycles.
	CheckInterval Duration `json:"checkInterval,omitempty" yaml:"checkInterval,omitempty"`

	// DisableThreshold is the consecutive-failure count a backend may reach
	// before the next failure disables it.
	DisableThreshold int `json:"disableThreshold,omitempty" yaml:"disableThreshold,omitempty"`
}

// SeedBackend describes a backend to register when the hub starts.
type SeedBackend struct {
	// Name is the unique backend identifier.
	Name string `json:"name" yaml:"name"`

	// Endpoint is the backend's MCP server base URL.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// AuthMode is the backend auth scheme: "none", "bearer" or "apiKey".
	AuthMode string `json:"authMode,omitempty" yaml:"authMode,omitempty"`

	// AuthTokenEnv names the environment variable holding the credential for
	// AuthMode. The token itself never appears in the configuration file.
	AuthTokenEnv string `json:"authTokenEnv,omitempty" yaml:"authTokenEnv,omitempty"`

	// Metadata is a custom key-value map for labels such as env or region.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ToolsConfig configures the hub's local tool handlers.
type ToolsConfig struct {
	// Cache configures the Redis-backed cache handler.
	Cache *CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Database configures the SQLite-backed audit and query handler.
	Database *DatabaseConfig `json:"database,omitempty" yaml:"database,omitempty"`

	// VCS configures the Git repository handler.
	VCS *VCSConfig `json:"vcs,omitempty" yaml:"vcs,omitempty"`

	// Execution configures the container execution handler.
	Execution *ExecutionConfig `json:"execution,omitempty" yaml:"execution,omitempty"`

	// Workflows defines named multi-step tool sequences runnable through the
	// workflow handler.
	Workflows []WorkflowConfig `json:"workflows,omitempty" yaml:"workflows,omitempty"`
}

// CacheConfig configures the Redis cache handler.
type CacheConfig struct {
	// Addr is the Redis server address as host:port.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// DB is the Redis logical database number.
	DB int `json:"db,omitempty" yaml:"db,omitempty"`

	// PasswordEnv names the environment variable holding the Redis password.
	PasswordEnv string `json:"passwordEnv,omitempty" yaml:"passwordEnv,omitempty"`

	// DialTimeout bounds the startup wait for the Redis server.
	DialTimeout Duration `json:"dialTimeout,omitempty" yaml:"dialTimeout,omitempty"`
}

// DatabaseConfig configures the SQLite handler.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" keeps it in memory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// VCSConfig configures the Git handler.
type VCSConfig struct {
	// WorkDir is where repositories are cloned. Empty means a fresh
	// temporary directory is created at startup.
	WorkDir string `json:"workDir,omitempty" yaml:"workDir,omitempty"`
}

// ExecutionConfig configures the container execution handler.
type ExecutionConfig struct {
	// SocketPath is the container runtime socket. Empty uses the runtime's
	// standard environment discovery.
	SocketPath string `json:"socketPath,omitempty" yaml:"socketPath,omitempty"`

	// Image is the image one-shot commands run in.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// Timeout bounds a single command execution.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WorkflowConfig defines a named sequence of tool calls.
type WorkflowConfig struct {
	// Name is the workflow identifier, unique among workflows.
	Name string `json:"name" yaml:"name"`

	// Description describes what the workflow does.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Steps are executed in order. A failing step aborts the workflow.
	Steps []WorkflowStepConfig `json:"steps" yaml:"steps"`
}

// WorkflowStepConfig defines a single workflow step.
type WorkflowStepConfig struct {
	// ID identifies the step within its workflow.
	ID string `json:"id" yaml:"id"`

	// Tool is the tool to call. Federated names ("backend.tool") route to a
	// backend, anything else to a local handler.
	Tool string `json:"tool" yaml:"tool"`

	// Arguments are passed to the tool as-is.
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Loader loads configuration from a source.
type Loader interface {
	// Load loads configuration from the source.
	Load() (*Config, error)
}

// Validator validates configuration.
type Validator interface {
	// Validate checks if the configuration is valid.
	Validate(cfg *Config) error
}
