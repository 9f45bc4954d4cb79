// Copyright 2025 The Graphstore Authors
// This file is part of Graphstore.
//
// Graphstore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Graphstore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Graphstore. If not, see <http://www.gnu.org/licenses/>.

package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// engineMetrics carries the Prometheus collectors exposed by an Engine.
// Each Engine owns a private registry rather than registering against
// prometheus.DefaultRegisterer, so more than one Engine (e.g. in tests)
// can coexist in the same process.
type engineMetrics struct {
	registry *prometheus.Registry

	commandsApplied    *prometheus.CounterVec
	applyFailures       prometheus.Counter
	healthy             prometheus.Gauge
	checkpointSeconds   prometheus.Histogram
}

func newEngineMetrics() *engineMetrics {
	reg := prometheus.NewRegistry()
	m := &engineMetrics{
		registry: reg,
		commandsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphstore",
			Name:      "commands_applied_total",
			Help:      "Commands applied by the Applier Chain, by command kind.",
		}, []string{"kind"}),
		applyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphstore",
			Name:      "apply_failures_total",
			Help:      "Applier Chain batches that aborted with an error.",
		}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphstore",
			Name:      "healthy",
			Help:      "1 if the database health monitor is green, 0 once it has latched unhealthy.",
		}),
		checkpointSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graphstore",
			Name:      "checkpoint_seconds",
			Help:      "Wall-clock duration of flushAndForce checkpoints.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.commandsApplied, m.applyFailures, m.healthy, m.checkpointSeconds)
	m.healthy.Set(1)
	return m
}

// MetricsHandler exposes this engine's collectors for a Prometheus
// scrape target, independent of any process-wide registry.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.metrics.registry, promhttp.HandlerOpts{})
}
