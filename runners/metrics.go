// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "playground_tester"

// Pair outcomes used as metric label values.
const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeError    = "error"
	outcomeTimeout  = "timeout"
	outcomeSkipped  = "skipped"
	outcomeRejected = "rejected"
)

// Metrics collects orchestration metrics. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	pairs         *prometheus.CounterVec
	pairDuration  *prometheus.HistogramVec
	confirmations *prometheus.CounterVec
	inFlightPairs prometheus.Gauge
}

// NewMetrics creates the orchestration metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Orchestration requests by result (ok, invalid).",
		}, []string{"result"}),
		pairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pairs_total",
			Help:      "Executed (model, test) pairs by provider, test and outcome.",
		}, []string{"provider", "test", "outcome"}),
		pairDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "pair_duration_seconds",
			Help:      "Wall-clock duration of pair executions including confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "confirmations_total",
			Help:      "Confirmer verdicts by outcome (success, rejected, error).",
		}, []string{"outcome"}),
		inFlightPairs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pairs_in_flight",
			Help:      "Pairs currently being executed.",
		}),
	}
}

func (m *Metrics) runFinished(result string) {
	if m != nil {
		m.runs.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) pairStarted() {
	if m != nil {
		m.inFlightPairs.Inc()
	}
}

func (m *Metrics) pairFinished(provider string, test string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pairs.WithLabelValues(provider, test, outcome).Inc()
	if outcome != outcomeSkipped {
		m.inFlightPairs.Dec()
		m.pairDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

func (m *Metrics) confirmationFinished(outcome string) {
	if m != nil {
		m.confirmations.WithLabelValues(outcome).Inc()
	}
}
