// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package app wires a complete cluster validation run. A run boots a fleet
// of nodes, shapes their data network to a topology profile, forms the
// cluster and verifies the result. Runs are linear, they either end in a
// verified cluster or in an error with a diagnostics bundle on disk.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/quoratelab/quorate/app/featureset"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/promauto"
	"github.com/quoratelab/quorate/app/tracer"
	"github.com/quoratelab/quorate/app/version"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/diag"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/formation"
	"github.com/quoratelab/quorate/topo"
	"github.com/quoratelab/quorate/verify"
)

// Config configures a validation run.
type Config struct {
	// Topology is the name of a built in topology profile.
	Topology string
	// TopologyFile overrides Topology with a profile definition file.
	TopologyFile string
	// Servers and Agents size the node set when the profile does not embed one.
	Servers int
	Agents  int

	// Image is the qcow2 base image nodes boot from.
	Image string
	// RunDir holds per run state, overlay disks, logs and diagnostics.
	RunDir string
	// DataNet overrides the multicast group backing the shared data segment.
	DataNet string
	// QEMUBinary overrides the qemu system binary.
	QEMUBinary string
	NoKVM      bool

	CPUs      int
	MemoryMiB int

	SSHUser     string
	SSHPassword string
	// SSHKeyFile optionally authenticates fleet ssh with a private key
	// instead of the password.
	SSHKeyFile string

	MonitoringAddr string
	OTLPAddress    string

	// Timeout bounds the whole run, zero means unbounded.
	Timeout time.Duration

	BootTimeout    time.Duration
	NetconfTimeout time.Duration
	InitTimeout    time.Duration
	JoinTimeout    time.Duration
	SettleTimeout  time.Duration

	Log     log.Config
	Feature featureset.Config

	TestConfig TestConfig
}

// TestConfig defines test related config.
type TestConfig struct {
	// Fleet replaces the QEMU fleet with a test fleet.
	Fleet fleet.Fleet
	// MonitoringDisabled disables the monitoring API even when an address is set.
	MonitoringDisabled bool
}

// Run executes a validation run to completion. All steps are sequential,
// the monitoring API is the only process serving concurrently.
func Run(ctx context.Context, conf Config) (err error) {
	ctx = log.WithTopic(ctx, "app")

	defer func() {
		if err != nil {
			log.Error(ctx, "Fatal run error", err)
		}
	}()

	_, _ = maxprocs.Set()

	if conf.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Timeout)

		defer cancel()
	}

	if err := log.InitLogger(conf.Log); err != nil {
		return err
	}

	if err := featureset.Init(ctx, conf.Feature); err != nil {
		return err
	}

	version.LogVersion(ctx, "Quorate starting")

	stopTracer, err := tracer.Init(ctx, tracer.WithOTLPOrNoop(conf.OTLPAddress))
	if err != nil {
		return err
	}
	defer func() {
		if err := stopTracer(context.Background()); err != nil {
			log.Warn(ctx, "Failed stopping tracer", err)
		}
	}()

	profile, nodes, err := loadTopology(conf)
	if err != nil {
		return err
	}

	log.Info(ctx, "Topology loaded",
		z.Str("topology", profile.String()),
		z.Int("servers", countRole(nodes, topo.RoleServer)),
		z.Int("agents", countRole(nodes, topo.RoleAgent)),
	)

	promRegistry, err := promauto.NewRegistry(prometheus.Labels{
		"topology": profile.Name,
	})
	if err != nil {
		return err
	}

	initStartupMetrics(profile.Name, len(nodes))

	fl, err := newFleet(conf, profile)
	if err != nil {
		return err
	}
	defer func() {
		if err := fl.Close(); err != nil {
			log.Warn(ctx, "Failed releasing fleet", err)
		}
	}()

	collector := diag.New(diag.Config{
		Dir:   filepath.Join(conf.RunDir, "diag"),
		Nodes: nodes,
	})

	driver := formation.NewDriver(formation.Config{
		Profile:        profile,
		Nodes:          nodes,
		BootTimeout:    conf.BootTimeout,
		NetconfTimeout: conf.NetconfTimeout,
		InitTimeout:    conf.InitTimeout,
		JoinTimeout:    conf.JoinTimeout,
		SettleTimeout:  conf.SettleTimeout,
	}, fl, collector)

	if conf.MonitoringAddr != "" && !conf.TestConfig.MonitoringDisabled {
		stopMonitoring, err := serveMonitoring(ctx, conf.MonitoringAddr, promRegistry, driver.Tracker(), profile.Name)
		if err != nil {
			return err
		}
		defer stopMonitoring()
	}

	if err := driver.Run(ctx); err != nil {
		return err
	}

	checker := verify.NewChecker(verify.Config{
		Profile: profile,
		Nodes:   nodes,
	})

	report, err := checker.Run(ctx, driver.Nodes())
	if err != nil {
		// A formed but unhealthy cluster still yields a bundle.
		bundle, derr := collector.CollectAll(ctx, driver.Nodes(), driver.Transcripts(), err.Error())
		if derr != nil {
			log.Warn(ctx, "Diagnostics incomplete", derr, z.Str("bundle", bundle))
		} else {
			log.Info(ctx, "Diagnostics collected", z.Str("bundle", bundle))
		}

		return err
	}

	logMetricsSummary(ctx, promRegistry)
	log.Info(ctx, "Cluster validated", z.Str("checks", report.String()))

	return nil
}

// loadTopology resolves the topology profile and node set for the run.
// Profile files may embed their node set, the Servers and Agents counts
// apply otherwise.
func loadTopology(conf Config) (topo.Profile, []topo.NodeSpec, error) {
	if conf.TopologyFile != "" {
		profile, err := topo.LoadFile(conf.TopologyFile)
		if err != nil {
			return topo.Profile{}, nil, err
		}

		nodes := profile.Nodes
		if len(nodes) == 0 {
			nodes = topo.NewNodes(conf.Servers, conf.Agents)
		}

		if err := profile.Validate(nodes); err != nil {
			return topo.Profile{}, nil, err
		}

		return profile, nodes, nil
	}

	nodes := topo.NewNodes(conf.Servers, conf.Agents)

	profile, err := topo.ByName(conf.Topology, nodes)
	if err != nil {
		return topo.Profile{}, nil, err
	}

	return profile, nodes, nil
}

// newFleet returns the fleet for the run, the injected test fleet taking
// precedence over QEMU.
func newFleet(conf Config, profile topo.Profile) (fleet.Fleet, error) {
	if conf.TestConfig.Fleet != nil {
		return conf.TestConfig.Fleet, nil
	}

	return fleet.NewQEMUFleet(fleet.Config{
		Image:       conf.Image,
		RunDir:      filepath.Join(conf.RunDir, "fleet"),
		DataNICs:    dataNICs(profile),
		DataNet:     conf.DataNet,
		Binary:      conf.QEMUBinary,
		User:        conf.SSHUser,
		Password:    conf.SSHPassword,
		KeyFile:     conf.SSHKeyFile,
		CPUs:        conf.CPUs,
		MemoryMiB:   conf.MemoryMiB,
		NoKVM:       conf.NoKVM,
		BootTimeout: conf.BootTimeout,
	})
}

// dataNICs returns the number of data plane NICs the profile needs on every
// node, one per bond member or a single one for unbonded profiles.
func dataNICs(profile topo.Profile) int {
	if bond, ok := profile.BondSpec(); ok {
		return len(bond.Members)
	}

	return 1
}

func countRole(nodes []topo.NodeSpec, role topo.Role) int {
	var n int

	for _, node := range nodes {
		if node.Role == role {
			n++
		}
	}

	return n
}
