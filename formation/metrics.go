// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package formation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quoratelab/quorate/app/promauto"
)

var (
	nodeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quorate_formation_node_state",
		Help: "Lifecycle state of each node, see NodeState for values",
	}, []string{"node"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quorate_formation_phase_duration_seconds",
		Help:    "Wall clock duration of formation phases",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"phase"})

	phaseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorate_formation_phase_errors_total",
		Help: "Total number of failed formation phases",
	}, []string{"phase"})
)
