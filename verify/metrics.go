// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package verify

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quoratelab/quorate/app/promauto"
)

// checkFailures resets each run so series from a previous verification do
// not linger.
var checkFailures = promauto.NewResetGaugeVec(prometheus.GaugeOpts{
	Name: "quorate_verify_check_failed",
	Help: "Set to 1 for each failed health check by node and check name",
}, []string{"node", "check"})
