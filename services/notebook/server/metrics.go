// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A Metrics value is
// shared by every session of a service; construct one per registry.
type Metrics struct {
	changesApplied   prometheus.Counter
	dispatchRounds   prometheus.Counter
	dispatchDuration prometheus.Histogram
	openNotebooks    prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		changesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mathtablet_changes_applied_total",
			Help: "Document changes applied across all notebooks.",
		}),
		dispatchRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mathtablet_dispatch_rounds_total",
			Help: "Observer dispatch rounds executed.",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mathtablet_dispatch_duration_seconds",
			Help:    "Wall time per change batch, dispatch loop included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		openNotebooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mathtablet_open_notebooks",
			Help: "Notebooks currently open.",
		}),
	}
	reg.MustRegister(m.changesApplied, m.dispatchRounds, m.dispatchDuration, m.openNotebooks)
	return m
}

func (m *Metrics) observe(changes, rounds int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.changesApplied.Add(float64(changes))
	m.dispatchRounds.Add(float64(rounds))
	m.dispatchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) notebookOpened() {
	if m != nil {
		m.openNotebooks.Inc()
	}
}

func (m *Metrics) notebookClosed() {
	if m != nil {
		m.openNotebooks.Dec()
	}
}
