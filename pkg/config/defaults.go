// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"dario.cat/mergo"
)

// Default constants for hub configuration.
const (
	// defaultName identifies the hub when the configuration does not.
	defaultName = "mcp-hub"

	// defaultAPIHost is the default management API listen address.
	defaultAPIHost = "127.0.0.1"

	// defaultAPIPort is the default management API listen port.
	defaultAPIPort = 8080

	// defaultMCPHost is the default MCP server listen address.
	defaultMCPHost = "127.0.0.1"

	// defaultMCPPort is the default MCP server listen port.
	defaultMCPPort = 4483

	// defaultCheckInterval is the default interval between health cycles.
	defaultCheckInterval = 30 * time.Second

	// defaultDisableThreshold is the default consecutive-failure count past
	// which a backend is disabled.
	defaultDisableThreshold = 5

	// defaultCacheDialTimeout is the default startup wait for Redis.
	defaultCacheDialTimeout = 10 * time.Second

	// defaultExecutionImage is the default image for one-shot commands.
	defaultExecutionImage = "busybox:stable"

	// defaultExecutionTimeout is the default bound on a single command.
	defaultExecutionTimeout = 60 * time.Second
)

// Default returns a configuration populated with every default value. It is
// the single source of truth for hub defaults.
func Default() *Config {
	return &Config{
		Name: defaultName,
		API: &APIConfig{
			Host: defaultAPIHost,
			Port: defaultAPIPort,
		},
		MCP: &MCPConfig{
			Host: defaultMCPHost,
			Port: defaultMCPPort,
		},
		Health: &HealthConfig{
			CheckInterval:    Duration(defaultCheckInterval),
			DisableThreshold: defaultDisableThreshold,
		},
	}
}

// EnsureDefaults fills any missing fields with defaults while preserving
// user-provided values. Tool handler sections are left alone: a section the
// user did not write stays nil and its handler stays off, except that a
// present section gets its own zero fields defaulted.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}

	// Merge only fills zero and nil fields, so user values survive.
	_ = mergo.Merge(c, Default())

	if c.Tools == nil {
		return
	}
	if cache := c.Tools.Cache; cache != nil && cache.DialTimeout == 0 {
		cache.DialTimeout = Duration(defaultCacheDialTimeout)
	}
	if exec := c.Tools.Execution; exec != nil {
		if exec.Image == "" {
			exec.Image = defaultExecutionImage
		}
		if exec.Timeout == 0 {
			exec.Timeout = Duration(defaultExecutionTimeout)
		}
	}
}
