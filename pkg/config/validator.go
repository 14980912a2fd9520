// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
)

// DefaultValidator implements configuration validation.
type DefaultValidator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *DefaultValidator {
	return &DefaultValidator{}
}

// Validate performs validation of the configuration. It assumes defaults
// have already been applied.
func (v *DefaultValidator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", federation.ErrInvalidConfig)
	}

	var errs []string

	if err := v.validateListeners(cfg); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validateHealth(cfg.Health); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validateBackends(cfg.Backends); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validateTools(cfg.Tools); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", federation.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (*DefaultValidator) validateListeners(cfg *Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.API == nil || cfg.MCP == nil {
		return fmt.Errorf("api and mcp sections are required")
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", cfg.API.Port)
	}
	if cfg.MCP.Port < 1 || cfg.MCP.Port > 65535 {
		return fmt.Errorf("mcp.port must be between 1 and 65535, got %d", cfg.MCP.Port)
	}
	if cfg.API.Port == cfg.MCP.Port && cfg.API.Host == cfg.MCP.Host {
		return fmt.Errorf("api and mcp listeners must not share %s:%d", cfg.API.Host, cfg.API.Port)
	}
	return nil
}

func (*DefaultValidator) validateHealth(health *HealthConfig) error {
	if health == nil {
		return fmt.Errorf("health section is required")
	}
	if health.CheckInterval <= 0 {
		return fmt.Errorf("health.checkInterval must be > 0")
	}
	if health.DisableThreshold < 1 {
		return fmt.Errorf("health.disableThreshold must be >= 1, got %d", health.DisableThreshold)
	}
	return nil
}

func (*DefaultValidator) validateBackends(backends []SeedBackend) error {
	seen := make(map[string]bool, len(backends))
	for i, b := range backends {
		if b.Name == "" {
			return fmt.Errorf("backends[%d].name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
		if b.Endpoint == "" {
			return fmt.Errorf("backend %s: endpoint is required", b.Name)
		}
		if _, err := federation.ParseAuthMode(b.AuthMode); err != nil {
			return fmt.Errorf("backend %s: %v", b.Name, err)
		}
		if mode, _ := federation.ParseAuthMode(b.AuthMode); mode != federation.AuthNone && b.AuthTokenEnv == "" {
			return fmt.Errorf("backend %s: authTokenEnv is required for authMode %q", b.Name, b.AuthMode)
		}
	}
	return nil
}

func (v *DefaultValidator) validateTools(tools *ToolsConfig) error {
	if tools == nil {
		return nil
	}
	if tools.Cache != nil && tools.Cache.Addr == "" {
		return fmt.Errorf("tools.cache.addr is required when the cache handler is enabled")
	}
	if tools.Database != nil && tools.Database.Path == "" {
		return fmt.Errorf("tools.database.path is required when the database handler is enabled")
	}
	if tools.Execution != nil && tools.Execution.Image == "" {
		return fmt.Errorf("tools.execution.image is required when the execution handler is enabled")
	}
	return v.validateWorkflows(tools.Workflows)
}

func (*DefaultValidator) validateWorkflows(workflows []WorkflowConfig) error {
	seen := make(map[string]bool, len(workflows))
	for i, wf := range workflows {
		if wf.Name == "" {
			return fmt.Errorf("tools.workflows[%d].name is required", i)
		}
		if seen[wf.Name] {
			return fmt.Errorf("tools.workflows[%d]: duplicate name %q", i, wf.Name)
		}
		seen[wf.Name] = true
		if len(wf.Steps) == 0 {
			return fmt.Errorf("workflow %s: at least one step is required", wf.Name)
		}
		stepIDs := make(map[string]bool, len(wf.Steps))
		for j, step := range wf.Steps {
			if step.ID == "" {
				return fmt.Errorf("workflow %s: steps[%d].id is required", wf.Name, j)
			}
			if stepIDs[step.ID] {
				return fmt.Errorf("workflow %s: duplicate step id %q", wf.Name, step.ID)
			}
			stepIDs[step.ID] = true
			if step.Tool == "" {
				return fmt.Errorf("workflow %s: step %s: tool is required", wf.Name, step.ID)
			}
		}
	}
	return nil
}
