// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the hub's Prometheus collectors: health cycle
// outcomes, per-backend health gauges and router call counters.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
)

const namespace = "mcphub"

// Outcome label values for check and call counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the hub's collectors on a dedicated registry. All recording
// methods are safe on a nil receiver, so components can treat metrics as
// optional wiring.
type Metrics struct {
	registry *prometheus.Registry

	healthCycles  prometheus.Counter
	healthChecks  *prometheus.CounterVec
	disables      *prometheus.CounterVec
	routerCalls   *prometheus.CounterVec
	backends      prometheus.Gauge
	backendsUp    prometheus.Gauge
	backendHealth *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		healthCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_cycles_total",
			Help:      "Completed health monitor cycles.",
		}),
		healthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Backend health checks by outcome.",
		}, []string{"backend", "outcome"}),
		disables: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_disables_total",
			Help:      "Backends disabled after repeated check failures.",
		}, []string{"backend"}),
		routerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_calls_total",
			Help:      "Federated tool calls and resource reads by outcome.",
		}, []string{"backend", "outcome"}),
		backends: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backends",
			Help:      "Registered backends.",
		}),
		backendsUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backends_healthy",
			Help:      "Backends whose last check succeeded.",
		}),
		backendHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "Per-backend health verdict (1 healthy, 0 unhealthy).",
		}, []string{"backend"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHealthCycle counts one completed monitor cycle and refreshes the
// registry-level gauges from the given stats.
func (m *Metrics) RecordHealthCycle(stats federation.Stats) {
	if m == nil {
		return
	}
	m.healthCycles.Inc()
	m.backends.Set(float64(stats.TotalBackends))
	m.backendsUp.Set(float64(stats.HealthyBackends))
}

// RecordHealthCheck counts one backend check and flips its health gauge.
func (m *Metrics) RecordHealthCheck(backend string, healthy bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	val := 1.0
	if !healthy {
		outcome = OutcomeFailure
		val = 0
	}
	m.healthChecks.WithLabelValues(backend, outcome).Inc()
	m.backendHealth.WithLabelValues(backend).Set(val)
}

// RecordDisable counts an automatic disable of the backend.
func (m *Metrics) RecordDisable(backend string) {
	if m == nil {
		return
	}
	m.disables.WithLabelValues(backend).Inc()
}

// RecordRouterCall counts one routed call against the backend.
func (m *Metrics) RecordRouterCall(backend string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.routerCalls.WithLabelValues(backend, outcome).Inc()
}

// RemoveBackend drops the per-backend series after unregistration.
func (m *Metrics) RemoveBackend(backend string) {
	if m == nil {
		return
	}
	m.backendHealth.DeleteLabelValues(backend)
}
