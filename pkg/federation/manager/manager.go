// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package manager orchestrates backend registration: it validates operator
// input, runs the initial capability discovery and hands the record to the
// registry. It also serves on-demand re-discovery for single backends.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
)

// Manager wires the registry to the capability discoverer.
type Manager struct {
	reg  *registry.Registry
	disc federation.Discoverer
	now  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a manager over the given registry and discoverer.
func New(reg *registry.Registry, disc federation.Discoverer, opts ...Option) *Manager {
	m := &Manager{
		reg:  reg,
		disc: disc,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register validates the request, attempts the initial discovery and inserts
// the record with last-write-wins semantics. Only malformed input fails the
// registration: an unreachable backend is registered unhealthy and left to
// the health monitor. The discovery runs before insertion, so a failing
// first contact never accrues error counts against the fresh record.
func (m *Manager) Register(ctx context.Context, req federation.RegisterRequest) (federation.BackendConfig, error) {
	cfg, err := federation.NewBackendConfig(req)
	if err != nil {
		return federation.BackendConfig{}, err
	}

	tools, resources, err := m.disc.Discover(ctx, cfg)
	if err != nil {
		logger.Warnw("initial discovery failed, registering backend as unhealthy",
			"backend", cfg.Name, "endpoint", cfg.Endpoint, "error", err)
	} else {
		cfg.Tools = tools
		cfg.Resources = resources
		cfg.Healthy = true
		cfg.LastHealthCheck = m.now()
		logger.Infow("backend registered",
			"backend", cfg.Name, "tools", len(tools), "resources", len(resources))
	}

	m.reg.Insert(cfg)
	return cfg.Clone(), nil
}

// Unregister removes the backend. Removing an unknown name is not an error;
// the return value reports whether a record existed.
func (m *Manager) Unregister(name string) bool {
	removed := m.reg.Remove(name)
	if removed {
		logger.Infow("backend unregistered", "backend", name)
	}
	return removed
}

// Refresh re-runs capability discovery for one registered backend and
// applies the outcome exactly like a monitor cycle would: catalogs and a
// healthy verdict on success, an unhealthy mark on failure.
func (m *Manager) Refresh(ctx context.Context, name string) error {
	cfg, ok := m.reg.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", federation.ErrUnknownBackend, name)
	}

	tools, resources, err := m.disc.Discover(ctx, &cfg)
	if err != nil {
		m.reg.MarkUnhealthy(name, m.now())
		return err
	}
	m.reg.ApplyDiscovery(name, tools, resources, m.now())
	return nil
}
