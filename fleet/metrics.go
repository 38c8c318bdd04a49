// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package fleet

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quoratelab/quorate/app/promauto"
)

var (
	execTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorate_fleet_exec_total",
		Help: "Total number of commands executed per node",
	}, []string{"node"})

	bootDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quorate_fleet_boot_duration_seconds",
		Help:    "Node boot latency until ssh accepts commands",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
)
