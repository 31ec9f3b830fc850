// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/identity/internal/identity"
)

// Metrics contains the Prometheus metrics for identity operations.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec
	HashDuration    prometheus.Histogram
	TokensPurged    *prometheus.CounterVec
}

// NewMetrics creates and registers the identity metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_operations_total",
				Help: "Total number of identity operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		HashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "identity_hash_duration_seconds",
				Help:    "Time spent hashing passwords",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
			},
		),
		TokensPurged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_tokens_purged_total",
				Help: "Total number of expired tokens cleared by purpose",
			},
			[]string{"purpose"},
		),
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.HashDuration)
	reg.MustRegister(m.TokensPurged)

	return m
}

// RecordOperation counts one finished operation.
func (m *Metrics) RecordOperation(operation, outcome string) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveHashDuration records the time one password hash took.
func (m *Metrics) ObserveHashDuration(d time.Duration) {
	m.HashDuration.Observe(d.Seconds())
}

// RecordTokensPurged adds n cleared tokens of purpose p.
func (m *Metrics) RecordTokensPurged(p identity.Purpose, n int64) {
	m.TokensPurged.WithLabelValues(string(p)).Add(float64(n))
}

var _ identity.Recorder = (*Metrics)(nil)
