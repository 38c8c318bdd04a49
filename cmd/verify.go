// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quoratelab/quorate/app"
	"github.com/quoratelab/quorate/app/log"
)

func newVerifyCmd(runFunc func(context.Context, app.VerifyConfig) error) *cobra.Command {
	var config app.VerifyConfig

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the health of an already formed cluster",
		Long: `Attach to the nodes of an already formed cluster over ssh and run the post
formation health checks against the topology profile. Nothing is booted or formed.`,
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

	bindVerifyFlags(cmd.Flags(), &config)
	bindLogFlags(cmd.Flags(), &config.Log)
	bindFeatureFlags(cmd.Flags(), &config.Feature)

	return cmd
}

func bindVerifyFlags(flags *pflag.FlagSet, config *app.VerifyConfig) {
	flags.StringVar(&config.Topology, "topology", "flat", "Built in topology profile the cluster was formed on; flat, vlan or bonded-vlan.")
	flags.StringVar(&config.TopologyFile, "topology-file", "", "Path to a topology profile definition file, overrides --topology.")
	flags.IntVar(&config.Servers, "servers", 2, "Number of server nodes when the profile does not embed a node set.")
	flags.IntVar(&config.Agents, "agents", 1, "Number of agent nodes when the profile does not embed a node set.")
	flags.StringSliceVar(&config.NodeAddrs, "node-addresses", nil, "Comma-separated name=host:port ssh endpoints, one per node of the topology.")
	bindSSHFlags(flags, &config.SSHUser, &config.SSHPassword, &config.SSHKeyFile)
}
