// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
)

func TestDurationUnmarshal(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, time.Duration(d))

	require.Error(t, yaml.Unmarshal([]byte(`"not-a-duration"`), &d))

	require.NoError(t, d.UnmarshalJSON([]byte(`"2m"`)))
	assert.Equal(t, 2*time.Minute, time.Duration(d))
}

func TestEnsureDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.EnsureDefaults()

	assert.Equal(t, "mcp-hub", cfg.Name)
	require.NotNil(t, cfg.API)
	assert.Equal(t, 8080, cfg.API.Port)
	require.NotNil(t, cfg.MCP)
	assert.Equal(t, 4483, cfg.MCP.Port)
	require.NotNil(t, cfg.Health)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Health.CheckInterval))
	assert.Equal(t, 5, cfg.Health.DisableThreshold)
	assert.Nil(t, cfg.Tools, "tool handlers stay off unless configured")
}

func TestEnsureDefaultsPreservesUserValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Name:   "edge-hub",
		Health: &HealthConfig{CheckInterval: Duration(5 * time.Second)},
		Tools: &ToolsConfig{
			Cache:     &CacheConfig{Addr: "redis.internal:6379"},
			Execution: &ExecutionConfig{Image: "alpine:3.20"},
		},
	}
	cfg.EnsureDefaults()

	assert.Equal(t, "edge-hub", cfg.Name)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Health.CheckInterval))
	assert.Equal(t, 5, cfg.Health.DisableThreshold)
	assert.Equal(t, "redis.internal:6379", cfg.Tools.Cache.Addr)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Tools.Cache.DialTimeout))
	assert.Equal(t, "alpine:3.20", cfg.Tools.Execution.Image)
	assert.Equal(t, 60*time.Second, time.Duration(cfg.Tools.Execution.Timeout))
}

func TestYAMLLoader(t *testing.T) {
	t.Parallel()

	doc := `
name: prod-hub
api:
  host: 0.0.0.0
  port: 9090
  authTokenEnv: HUB_API_KEY
health:
  checkInterval: 10s
  disableThreshold: 3
backends:
  - name: github
    endpoint: http://github-mcp.internal:8081
    description: GitHub tools
    authMode: bearer
    authTokenEnv: GITHUB_MCP_TOKEN
    metadata:
      env: prod
tools:
  database:
    path: /var/lib/mcp-hub/hub.db
  workflows:
    - name: triage
      description: Collect context for an incident
      steps:
        - id: fetch
          tool: github.get_issue
          arguments:
            number: 42
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := NewYAMLLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "prod-hub", cfg.Name)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "HUB_API_KEY", cfg.API.AuthTokenEnv)

	// Unset sections still get defaults.
	require.NotNil(t, cfg.MCP)
	assert.Equal(t, 4483, cfg.MCP.Port)

	assert.Equal(t, 10*time.Second, time.Duration(cfg.Health.CheckInterval))
	assert.Equal(t, 3, cfg.Health.DisableThreshold)

	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "github", cfg.Backends[0].Name)
	assert.Equal(t, "bearer", cfg.Backends[0].AuthMode)
	assert.Equal(t, "prod", cfg.Backends[0].Metadata["env"])

	require.NotNil(t, cfg.Tools)
	require.NotNil(t, cfg.Tools.Database)
	assert.Nil(t, cfg.Tools.Cache)
	require.Len(t, cfg.Tools.Workflows, 1)
	require.Len(t, cfg.Tools.Workflows[0].Steps, 1)
	assert.Equal(t, "github.get_issue", cfg.Tools.Workflows[0].Steps[0].Tool)

	require.NoError(t, NewValidator().Validate(cfg))
}

func TestYAMLLoaderErrors(t *testing.T) {
	t.Parallel()

	_, err := NewYAMLLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))
	_, err = NewYAMLLoader(path).Load()
	require.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{
		Backends: []SeedBackend{
			{Name: "alpha", Endpoint: "http://alpha.internal:8080"},
			{Name: "beta", Endpoint: "http://beta.internal:8080", AuthMode: "bearer", AuthTokenEnv: "BETA_TOKEN"},
		},
		Tools: &ToolsConfig{
			Cache:    &CacheConfig{Addr: "localhost:6379"},
			Database: &DatabaseConfig{Path: ":memory:"},
			Workflows: []WorkflowConfig{
				{Name: "wf", Steps: []WorkflowStepConfig{{ID: "s1", Tool: "alpha.ping"}}},
			},
		},
	}
	cfg.EnsureDefaults()
	return cfg
}

func TestValidator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "shared listener",
			mutate: func(c *Config) {
				c.MCP.Host = c.API.Host
				c.MCP.Port = c.API.Port
			},
			wantErr: "must not share",
		},
		{
			name:    "zero check interval",
			mutate:  func(c *Config) { c.Health.CheckInterval = 0 },
			wantErr: "checkInterval",
		},
		{
			name:    "threshold below one",
			mutate:  func(c *Config) { c.Health.DisableThreshold = 0 },
			wantErr: "disableThreshold",
		},
		{
			name:    "duplicate backend name",
			mutate:  func(c *Config) { c.Backends[1].Name = "alpha" },
			wantErr: "duplicate name",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.Backends[0].AuthMode = "kerberos" },
			wantErr: "auth mode",
		},
		{
			name:    "bearer without token env",
			mutate:  func(c *Config) { c.Backends[1].AuthTokenEnv = "" },
			wantErr: "authTokenEnv",
		},
		{
			name:    "cache without addr",
			mutate:  func(c *Config) { c.Tools.Cache.Addr = "" },
			wantErr: "tools.cache.addr",
		},
		{
			name:    "workflow without steps",
			mutate:  func(c *Config) { c.Tools.Workflows[0].Steps = nil },
			wantErr: "at least one step",
		},
		{
			name: "duplicate step id",
			mutate: func(c *Config) {
				c.Tools.Workflows[0].Steps = append(c.Tools.Workflows[0].Steps, WorkflowStepConfig{ID: "s1", Tool: "x.y"})
			},
			wantErr: "duplicate step id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator().Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.ErrorIs(t, err, federation.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatorNilConfig(t *testing.T) {
	t.Parallel()

	err := NewValidator().Validate(nil)
	require.ErrorIs(t, err, federation.ErrInvalidConfig)
}
