// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package netconf

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quoratelab/quorate/app/promauto"
)

var stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quorate_netconf_steps_total",
	Help: "Total number of plan steps executed per node",
}, []string{"node"})
