// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/client"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/discovery"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/manager"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation/registry"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/testkit"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubDiscoverer stands in for the discovery pipeline. On failure it records
// the failure against the registry first, the way a failed connector call
// does in production.
type stubDiscoverer struct {
	reg *registry.Registry

	mu    sync.Mutex
	calls int
	fail  bool
	tools []federation.ToolDef
}

func (s *stubDiscoverer) Discover(_ context.Context, backend *federation.BackendConfig) ([]federation.ToolDef, []federation.ResourceDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		s.reg.RecordFailure(backend.Name)
		return nil, nil, fmt.Errorf("%w: connection refused", federation.ErrTransport)
	}
	return s.tools, nil, nil
}

func (s *stubDiscoverer) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *stubDiscoverer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func registerBackend(t *testing.T, reg *registry.Registry, name string) {
	t.Helper()
	cfg, err := federation.NewBackendConfig(federation.RegisterRequest{
		Name:     name,
		Endpoint: "http://" + name + ".internal:8080",
	})
	require.NoError(t, err)
	reg.Insert(cfg)
}

func TestMonitorCycleSuccess(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registerBackend(t, reg, "alpha")

	disc := &stubDiscoverer{
		reg:   reg,
		tools: []federation.ToolDef{{Name: "ping", Description: "liveness probe"}},
	}
	m := New(reg, disc, WithClock(func() time.Time { return testTime }))

	m.runCycle(context.Background())

	got, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.True(t, got.Healthy)
	assert.True(t, got.Enabled)
	assert.Equal(t, testTime, got.LastHealthCheck)
	assert.Equal(t, 0, got.ErrorCount)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "ping", got.Tools[0].Name)
}

func TestMonitorCycleSkipsDisabled(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registerBackend(t, reg, "alpha")
	require.True(t, reg.SetEnabled("alpha", false))

	disc := &stubDiscoverer{reg: reg}
	m := New(reg, disc)

	m.runCycle(context.Background())

	assert.Zero(t, disc.callCount(), "disabled backends must not be checked")
}

func TestMonitorAutoDisable(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registerBackend(t, reg, "alpha")

	disc := &stubDiscoverer{reg: reg, fail: true}
	m := New(reg, disc, WithClock(func() time.Time { return testTime }))

	// Five failing cycles: unhealthy with a climbing counter, still enabled.
	for i := 1; i <= 5; i++ {
		m.runCycle(context.Background())

		got, ok := reg.Get("alpha")
		require.True(t, ok)
		assert.False(t, got.Healthy, "cycle %d", i)
		assert.True(t, got.Enabled, "cycle %d", i)
		assert.Equal(t, i, got.ErrorCount, "cycle %d", i)
	}

	// The sixth failure crosses the threshold and disables the backend.
	m.runCycle(context.Background())

	got, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.False(t, got.Enabled)
	assert.Equal(t, 6, got.ErrorCount)

	// Disabled backends are skipped outright: the next cycle makes no
	// discovery attempt at all.
	before := disc.callCount()
	m.runCycle(context.Background())
	assert.Equal(t, before, disc.callCount())
}

func TestMonitorRecoveryResetsCounter(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registerBackend(t, reg, "alpha")

	disc := &stubDiscoverer{reg: reg, fail: true}
	m := New(reg, disc, WithClock(func() time.Time { return testTime }))

	for i := 0; i < 3; i++ {
		m.runCycle(context.Background())
	}
	got, ok := reg.Get("alpha")
	require.True(t, ok)
	require.Equal(t, 3, got.ErrorCount)
	require.False(t, got.Healthy)

	disc.setFail(false)
	m.runCycle(context.Background())

	got, ok = reg.Get("alpha")
	require.True(t, ok)
	assert.True(t, got.Healthy)
	assert.True(t, got.Enabled)
	assert.Equal(t, 0, got.ErrorCount)
}

type panickyDiscoverer struct{}

func (panickyDiscoverer) Discover(context.Context, *federation.BackendConfig) ([]federation.ToolDef, []federation.ResourceDef, error) {
	panic("discovery exploded")
}

func TestMonitorCycleRecoversFromPanic(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registerBackend(t, reg, "alpha")

	m := New(reg, panickyDiscoverer{})

	require.NotPanics(t, func() { m.runCycle(context.Background()) })
}

func TestMonitorStartStopLifecycle(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	disc := &stubDiscoverer{reg: reg}
	m := New(reg, disc, WithInterval(10*time.Millisecond))

	require.Error(t, m.Stop(), "stop before start must fail")

	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()), "double start must fail")

	require.NoError(t, m.Stop())
	require.Error(t, m.Start(context.Background()), "a stopped monitor must not restart")
	require.Error(t, m.Stop(), "double stop must fail")
}

// blockingDiscoverer parks inside Discover until released, signalling entry.
type blockingDiscoverer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingDiscoverer) Discover(context.Context, *federation.BackendConfig) ([]federation.ToolDef, []federation.ResourceDef, error) {
	b.entered <- struct{}{}
	<-b.release
	return []federation.ToolDef{{Name: "ping"}}, nil, nil
}

func TestMonitorStopWaitsForInFlightCheck(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registerBackend(t, reg, "alpha")

	disc := &blockingDiscoverer{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	m := New(reg, disc, WithInterval(5*time.Millisecond))

	require.NoError(t, m.Start(context.Background()))

	select {
	case <-disc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("health check never started")
	}

	stopDone := make(chan error, 1)
	go func() { stopDone <- m.Stop() }()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while a check was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(disc.release)
	select {
	case err := <-stopDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the check completed")
	}

	// The in-flight check ran to completion and its result was applied.
	got, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.True(t, got.Healthy)
}

// TestMonitorFullScenario walks one backend through its whole life against a
// real connector and discoverer: registration with a live catalog, a string
// of outages, automatic disablement and the silence that follows.
func TestMonitorFullScenario(t *testing.T) {
	t.Parallel()

	tb, err := testkit.NewBackend(testkit.WithTool("ping", "liveness probe", func() string { return "pong" }))
	require.NoError(t, err)
	defer tb.Close()

	reg := registry.New()
	conn := client.New(reg)
	disc := discovery.New(conn)
	mgr := manager.New(reg, disc, manager.WithClock(func() time.Time { return testTime }))
	mon := New(reg, disc, WithClock(func() time.Time { return testTime }))

	ctx := context.Background()
	cfg, err := mgr.Register(ctx, federation.RegisterRequest{Name: "alpha", Endpoint: tb.URL()})
	require.NoError(t, err)
	require.True(t, cfg.Healthy)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "ping", cfg.Tools[0].Name)

	// The backend goes dark. One failing cycle: unhealthy, one failure on
	// the books, still enabled.
	tb.SetFailure(testkit.FailStatus)
	mon.runCycle(ctx)

	got, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.False(t, got.Healthy)
	assert.True(t, got.Enabled)
	assert.Equal(t, 1, got.ErrorCount)

	// Five more failing cycles cross the threshold.
	for i := 0; i < 5; i++ {
		mon.runCycle(ctx)
	}
	got, ok = reg.Get("alpha")
	require.True(t, ok)
	assert.False(t, got.Enabled)
	assert.Equal(t, 6, got.ErrorCount)

	// Once disabled, no more traffic reaches the backend.
	before := len(tb.Requests())
	mon.runCycle(ctx)
	assert.Equal(t, before, len(tb.Requests()))
}
