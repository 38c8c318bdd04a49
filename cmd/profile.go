// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/topo"
)

type profileConfig struct {
	Topology     string
	TopologyFile string
	Servers      int
	Agents       int
	OutputFile   string
}

func newProfileCmd(runFunc func(io.Writer, profileConfig) error) *cobra.Command {
	var config profileConfig

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Render and validate a topology profile",
		Long: `Resolve a topology profile, validate it against its node set and render it as
YAML, the same definition a validation run accepts via --topology-file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFunc(cmd.OutOrStdout(), config)
		},
	}

	bindProfileFlags(cmd.Flags(), &config)

	return cmd
}

func bindProfileFlags(flags *pflag.FlagSet, config *profileConfig) {
	flags.StringVar(&config.Topology, "topology", "flat", "Built in topology profile to render; flat, vlan or bonded-vlan.")
	flags.StringVar(&config.TopologyFile, "topology-file", "", "Path to a topology profile definition file to validate, overrides --topology.")
	flags.IntVar(&config.Servers, "servers", 2, "Number of server nodes when the profile does not embed a node set.")
	flags.IntVar(&config.Agents, "agents", 1, "Number of agent nodes when the profile does not embed a node set.")
	flags.StringVar(&config.OutputFile, "output-file", "", "Write the profile to this file instead of stdout.")
}

func runProfileCmd(out io.Writer, config profileConfig) error {
	profile, err := resolveProfile(config)
	if err != nil {
		return err
	}

	if config.OutputFile != "" {
		return profile.WriteFile(config.OutputFile)
	}

	b, err := json.MarshalIndent(profile, "", " ")
	if err != nil {
		return errors.Wrap(err, "marshal profile")
	}

	b, err = yaml.JSONToYAML(b)
	if err != nil {
		return errors.Wrap(err, "yaml profile")
	}

	_, _ = fmt.Fprint(out, string(b))

	return nil
}

// resolveProfile returns the validated profile with its node set embedded so
// the rendered definition is self contained.
func resolveProfile(config profileConfig) (topo.Profile, error) {
	if config.TopologyFile != "" {
		profile, err := topo.LoadFile(config.TopologyFile)
		if err != nil {
			return topo.Profile{}, err
		}

		if len(profile.Nodes) == 0 {
			profile.Nodes = topo.NewNodes(config.Servers, config.Agents)
		}

		return profile, profile.Validate(profile.Nodes)
	}

	nodes := topo.NewNodes(config.Servers, config.Agents)

	return topo.ByName(config.Topology, nodes)
}
