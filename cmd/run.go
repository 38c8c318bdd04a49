// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quoratelab/quorate/app"
	"github.com/quoratelab/quorate/app/log"
)

func newRunCmd(runFunc func(context.Context, app.Config) error) *cobra.Command {
	var config app.Config

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a cluster formation validation",
		Long: `Boot the fleet, apply the topology profile, form the cluster and verify the
result. A failing phase or health check aborts the run after writing a diagnostics bundle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := log.InitLogger(config.Log); err != nil {
				return err
			}

			printLicense(cmd.Context())
			printFlags(cmd.Context(), cmd.Flags())

			return runFunc(cmd.Context(), config)
		},
	}

	bindRunFlags(cmd.Flags(), &config)
	bindLogFlags(cmd.Flags(), &config.Log)
	bindFeatureFlags(cmd.Flags(), &config.Feature)

	return cmd
}

func bindRunFlags(flags *pflag.FlagSet, config *app.Config) {
	flags.StringVar(&config.Topology, "topology", "flat", "Built in topology profile to validate; flat, vlan or bonded-vlan.")
	flags.StringVar(&config.TopologyFile, "topology-file", "", "Path to a topology profile definition file, overrides --topology.")
	flags.IntVar(&config.Servers, "servers", 2, "Number of server nodes when the profile does not embed a node set.")
	flags.IntVar(&config.Agents, "agents", 1, "Number of agent nodes when the profile does not embed a node set.")
	flags.StringVar(&config.Image, "image", "", "Path to the qcow2 base image nodes boot from.")
	flags.StringVar(&config.RunDir, "run-dir", ".quorate", "Directory for per run state; overlay disks, logs and diagnostics.")
	flags.StringVar(&config.DataNet, "data-net", "", "Multicast group backing the shared data segment, host:port.")
	flags.StringVar(&config.QEMUBinary, "qemu-binary", "qemu-system-x86_64", "QEMU system binary booting the nodes.")
	flags.BoolVar(&config.NoKVM, "no-kvm", false, "Disable KVM acceleration, slow but works without /dev/kvm.")
	flags.IntVar(&config.CPUs, "cpus", 2, "Virtual CPUs per node unless the node overrides it.")
	flags.IntVar(&config.MemoryMiB, "memory-mib", 2048, "Memory per node in MiB unless the node overrides it.")
	bindSSHFlags(flags, &config.SSHUser, &config.SSHPassword, &config.SSHKeyFile)
	flags.StringVar(&config.MonitoringAddr, "monitoring-address", "", "Listen address for the monitoring API, disabled when empty.")
	flags.StringVar(&config.OTLPAddress, "otlp-address", "", "Address of an OTLP gRPC collector to export tracing spans to, disabled when empty.")
	flags.DurationVar(&config.Timeout, "timeout", 0, "Timeout for the whole run, 0 disables.")
	flags.DurationVar(&config.BootTimeout, "boot-timeout", 5*time.Minute, "Timeout for booting the whole fleet.")
	flags.DurationVar(&config.NetconfTimeout, "netconf-timeout", 3*time.Minute, "Timeout for shaping the data network of the whole fleet.")
	flags.DurationVar(&config.InitTimeout, "init-timeout", 5*time.Minute, "Timeout for the primary server initialising the cluster.")
	flags.DurationVar(&config.JoinTimeout, "join-timeout", 5*time.Minute, "Timeout for each node joining the cluster registry.")
	flags.DurationVar(&config.SettleTimeout, "settle-timeout", 2*time.Minute, "Timeout for the formed cluster settling into readiness.")
}

func bindSSHFlags(flags *pflag.FlagSet, user, password, keyFile *string) {
	flags.StringVar(user, "ssh-user", "root", "User for node ssh sessions.")
	flags.StringVar(password, "ssh-password", "", "Password for node ssh sessions; defaults to root when no key file is set.")
	flags.StringVar(keyFile, "ssh-key-file", "", "Path to a private key for node ssh sessions, replaces the password.")
}
