// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package app

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	pb "github.com/prometheus/client_model/go"

	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/promauto"
	"github.com/quoratelab/quorate/app/version"
	"github.com/quoratelab/quorate/app/z"
)

var (
	versionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quorate",
		Name:      "version",
		Help:      "Constant gauge with label set to current app version",
	}, []string{"version"})

	startGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quorate",
		Name:      "start_time_secs",
		Help:      "Gauge set to the app start time of the binary in unix seconds",
	})

	nodesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quorate",
		Name:      "topology_nodes",
		Help:      "Constant gauge with the node count of the topology under test",
	}, []string{"topology"})
)

func initStartupMetrics(topology string, nodes int) {
	versionGauge.WithLabelValues(version.Version).Set(1)
	startGauge.SetToCurrentTime()
	nodesGauge.WithLabelValues(topology).Set(float64(nodes))
}

// logMetricsSummary logs the totals of all quorate counters and histograms
// at the end of a run.
func logMetricsSummary(ctx context.Context, registry *prometheus.Registry) {
	fams, err := registry.Gather()
	if err != nil {
		log.Warn(ctx, "Failed gathering metrics", err)
		return
	}

	for _, fam := range fams {
		if !strings.HasPrefix(fam.GetName(), "quorate_") {
			continue
		}

		var total float64

		for _, metric := range fam.GetMetric() {
			switch fam.GetType() {
			case pb.MetricType_COUNTER:
				total += metric.GetCounter().GetValue()
			case pb.MetricType_HISTOGRAM:
				total += metric.GetHistogram().GetSampleSum()
			default:
				continue
			}
		}

		if total == 0 {
			continue
		}

		log.Debug(ctx, "Run metric", z.Str("metric", fam.GetName()), z.F64("total", total))
	}
}
