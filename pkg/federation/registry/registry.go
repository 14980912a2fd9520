// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry provides thread-safe storage for federated backend
// records. It is the single source of truth for backend state: capability
// catalogs, health verdicts and failure counters all live here and are
// updated atomically so readers never observe a half-applied check result.
package registry

import (
	"sync"
	"time"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
)

// Registry stores backend records keyed by name, preserving registration
// order for deterministic listings. All methods are safe for concurrent use.
// Registry implements federation.FailureRecorder.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*federation.BackendConfig
	// order holds names in first-registration order. Re-registering a name
	// keeps its original position; unregistering frees it.
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		backends: make(map[string]*federation.BackendConfig),
	}
}

// Insert stores the record under its name with last-write-wins semantics:
// an existing record is replaced wholesale and keeps its listing position.
func (r *Registry) Insert(cfg *federation.BackendConfig) {
	clone := cfg.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[clone.Name]; !exists {
		r.order = append(r.order, clone.Name)
	}
	r.backends[clone.Name] = &clone
}

// Remove deletes the named record. It reports whether a record existed, so
// repeated removals are not errors.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; !exists {
		return false
	}
	delete(r.backends, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (federation.BackendConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.backends[name]
	if !ok {
		return federation.BackendConfig{}, false
	}
	return cfg.Clone(), true
}

// List returns a point-in-time snapshot of every record in registration
// order. The snapshot is taken under one lock acquisition, so it is
// internally consistent even while checks are being applied concurrently.
func (r *Registry) List() []federation.BackendConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]federation.BackendConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name].Clone())
	}
	return out
}

// Info returns the API projection of the named record.
func (r *Registry) Info(name string) (federation.BackendInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.backends[name]
	if !ok {
		return federation.BackendInfo{}, false
	}
	return federation.InfoFromConfig(cfg), true
}

// ListInfo returns the API projection of every record in registration order.
func (r *Registry) ListInfo() []federation.BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]federation.BackendInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, federation.InfoFromConfig(r.backends[name]))
	}
	return out
}

// Stats summarizes the registry. Capability totals consider only backends
// whose last check succeeded; the enabled flag deliberately plays no part.
func (r *Registry) Stats() federation.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := federation.Stats{TotalBackends: len(r.backends)}
	for _, cfg := range r.backends {
		if !cfg.Healthy {
			continue
		}
		stats.HealthyBackends++
		stats.TotalTools += len(cfg.Tools)
		stats.TotalResources += len(cfg.Resources)
	}
	return stats
}

// ApplyDiscovery installs a successful check result as one atomic update:
// capability catalogs, the healthy verdict, the check timestamp and the
// failure counter reset all land together.
func (r *Registry) ApplyDiscovery(name string, tools []federation.ToolDef, resources []federation.ResourceDef, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.backends[name]
	if !ok {
		return false
	}
	cfg.Tools = append([]federation.ToolDef(nil), tools...)
	cfg.Resources = append([]federation.ResourceDef(nil), resources...)
	cfg.Healthy = true
	cfg.LastHealthCheck = at
	cfg.ErrorCount = 0
	return true
}

// MarkUnhealthy records a failed check: the healthy flag drops and the
// timestamp is stamped, but catalogs and the failure counter are untouched.
func (r *Registry) MarkUnhealthy(name string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.backends[name]
	if !ok {
		return false
	}
	cfg.Healthy = false
	cfg.LastHealthCheck = at
	return true
}

// RecordFailure increments the named backend's consecutive failure counter
// and returns the new value. Unknown names return zero; a backend removed
// mid-call must not resurrect.
func (r *Registry) RecordFailure(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.backends[name]
	if !ok {
		return 0
	}
	cfg.ErrorCount++
	return cfg.ErrorCount
}

// SetEnabled flips the operator gate on the named record.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.backends[name]
	if !ok {
		return false
	}
	cfg.Enabled = enabled
	return true
}
