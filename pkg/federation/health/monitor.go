// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package health periodically re-checks every enabled backend and keeps the
// registry's health verdicts current. A single loop walks the backends in
// registration order; backends that keep failing are disabled rather than
// retried forever.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/telemetry"
)

const (
	// DefaultInterval is how often the monitor walks the registry. The first
	// cycle runs one interval after Start; registration-time discovery covers
	// the gap.
	DefaultInterval = 30 * time.Second

	// DefaultDisableThreshold is the consecutive-failure count a backend may
	// reach before the next failure disables it.
	DefaultDisableThreshold = 5
)

// Monitor drives periodic health checks. A check is a full capability
// discovery round trip: success refreshes the backend's catalogs and resets
// its failure counter, failure marks it unhealthy. Once the counter passes
// the threshold the backend is disabled and stays disabled until an operator
// re-enables it.
type Monitor struct {
	reg       *registry.Registry
	disc      federation.Discoverer
	interval  time.Duration
	threshold int
	metrics   *telemetry.Metrics
	now       func() time.Time

	// mu protects the started and stopped flags.
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the check interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithDisableThreshold overrides the failure count past which a backend is
// disabled.
func WithDisableThreshold(n int) Option {
	return func(m *Monitor) { m.threshold = n }
}

// WithMetrics wires the monitor's counters. Nil is a valid no-op sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor over the given registry and discoverer.
func New(reg *registry.Registry, disc federation.Discoverer, opts ...Option) *Monitor {
	m := &Monitor{
		reg:       reg,
		disc:      disc,
		interval:  DefaultInterval,
		threshold: DefaultDisableThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the monitoring loop. The loop runs until the given context
// is cancelled or Stop is called. A monitor cannot be restarted after it has
// been stopped; create a new one instead.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return fmt.Errorf("monitor has been stopped and cannot be restarted")
	}
	if m.started {
		return fmt.Errorf("monitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	logger.Infow("starting health monitor",
		"interval", m.interval,
		"disable_threshold", m.threshold)

	m.wg.Add(1)
	go m.run(runCtx)

	return nil
}

// Stop cancels the loop and waits for it to finish. A check already in
// flight completes its round trip before the loop exits.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor not started")
	}
	m.cancel()
	m.started = false
	m.stopped = true
	m.mu.Unlock()

	m.wg.Wait()
	logger.Info("health monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle checks every enabled backend once, in registration order. The
// backend set is snapshotted up front so registrations and removals during
// the walk do not perturb it. Nothing a single check does may kill the loop.
func (m *Monitor) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("health cycle panicked", "panic", r)
		}
	}()

	for _, backend := range m.reg.List() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !backend.Enabled {
			continue
		}
		m.checkBackend(ctx, &backend)
	}

	m.metrics.RecordHealthCycle(m.reg.Stats())
}

func (m *Monitor) checkBackend(ctx context.Context, backend *federation.BackendConfig) {
	// Detach from the loop context so an in-flight round trip finishes even
	// when shutdown begins mid-check. The connector's own timeout bounds it.
	checkCtx := context.WithoutCancel(ctx)

	tools, resources, err := m.disc.Discover(checkCtx, backend)
	if err != nil {
		m.handleFailure(backend.Name, err)
		return
	}

	m.reg.ApplyDiscovery(backend.Name, tools, resources, m.now())
	m.metrics.RecordHealthCheck(backend.Name, true)
	logger.Debugw("health check succeeded",
		"backend", backend.Name,
		"tools", len(tools),
		"resources", len(resources))
}

// handleFailure demotes the backend and, once its failure counter passes the
// threshold, disables it. The counter itself was already incremented by the
// connector when the check's call failed; it is only read back here.
func (m *Monitor) handleFailure(name string, err error) {
	m.reg.MarkUnhealthy(name, m.now())
	m.metrics.RecordHealthCheck(name, false)

	current, ok := m.reg.Get(name)
	if !ok {
		// Unregistered while the check was in flight.
		return
	}

	logger.Warnw("health check failed",
		"backend", name,
		"error", err,
		"error_count", current.ErrorCount)

	if current.ErrorCount > m.threshold {
		m.reg.SetEnabled(name, false)
		m.metrics.RecordDisable(name)
		logger.Errorw("backend disabled after repeated failures",
			"backend", name,
			"error_count", current.ErrorCount)
	}
}
