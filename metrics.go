//go:build prometheus

// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet holds the Prometheus collectors exported for a Manager.
// Gated behind the "prometheus" build tag, matching arzzra-soft_phone's
// pkg/dialog/metrics.go: pulling in a metrics client is a decision an
// embedding program should opt into, not a mandatory dependency of the
// core multiplexer.
type metricsSet struct {
	registered   prometheus.Counter
	armed        prometheus.Counter
	fired        prometheus.Counter
	disabled     prometheus.Counter
	active       prometheus.Gauge
	fireDuration prometheus.Histogram
}

// MetricsConfig configures the Prometheus namespace/subsystem used for
// a Manager's exported metrics.
type MetricsConfig struct {
	Namespace string
	Subsystem string
}

// DefaultMetricsConfig returns the default namespace/subsystem.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "app", Subsystem: "timeout"}
}

func newMetricsSet(cfg MetricsConfig) *metricsSet {
	return &metricsSet{
		registered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "registered_total",
			Help:      "Total timeout reasons registered.",
		}),
		armed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "armed_total",
			Help:      "Total timeout reasons armed (enabled).",
		}),
		fired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fired_total",
			Help:      "Total timeout handlers invoked.",
		}),
		disabled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "disabled_total",
			Help:      "Total timeout reasons explicitly disabled.",
		}),
		active: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active",
			Help:      "Current number of armed timeout reasons.",
		}),
		fireDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fire_duration_seconds",
			Help:      "Time spent running a single fired timeout handler.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (s *metricsSet) incRegistered()        { s.registered.Inc() }
func (s *metricsSet) incArmed()             { s.armed.Inc() }
func (s *metricsSet) incFired()             { s.fired.Inc() }
func (s *metricsSet) incDisabled(n int)     { s.disabled.Add(float64(n)) }
func (s *metricsSet) setActive(n int)       { s.active.Set(float64(n)) }
func (s *metricsSet) observeFireDuration(d time.Duration) {
	s.fireDuration.Observe(d.Seconds())
}

// WithPrometheusMetrics enables Prometheus metrics collection for a
// Manager, registering collectors under cfg's namespace/subsystem.
func WithPrometheusMetrics(cfg MetricsConfig) Option {
	return func(m *Manager) { m.metrics = newMetricsSet(cfg) }
}
