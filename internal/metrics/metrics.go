/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package metrics exposes the operator's own Prometheus collectors over
// /metrics, separate from the per-cluster mongodb-exporter sidecar running
// inside every stateful workload.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilesTotal counts reconcile attempts by outcome.
	ReconcilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mongodb_operator_reconciles_total",
		Help: "Total number of cluster reconcile attempts, by outcome.",
	}, []string{"outcome"})

	// SweepDurationSeconds observes the wall-clock duration of each
	// periodic sweeper tick.
	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mongodb_operator_sweep_duration_seconds",
		Help:    "Duration of a full periodic sweeper tick.",
		Buckets: prometheus.DefBuckets,
	})

	// BootstrapState reports the last-observed bootstrap outcome per
	// cluster as a gauge, for dashboards that want current state rather
	// than a counter of transitions.
	BootstrapState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mongodb_operator_bootstrap_state",
		Help: "Current bootstrap state per cluster (0=notInitiated, 1=initiated, 2=usersCreated).",
	}, []string{"cluster", "namespace"})
)
