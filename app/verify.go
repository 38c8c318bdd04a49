// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package app

import (
	"context"
	"strings"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/featureset"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/version"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/topo"
	"github.com/quoratelab/quorate/verify"
)

// VerifyConfig configures a standalone health verification of an already
// formed cluster.
type VerifyConfig struct {
	// Topology is the name of a built in topology profile.
	Topology string
	// TopologyFile overrides Topology with a profile definition file.
	TopologyFile string
	// Servers and Agents size the node set when the profile does not embed one.
	Servers int
	Agents  int

	// NodeAddrs maps node names to ssh endpoints, name=host:port pairs.
	// Every node of the topology needs one.
	NodeAddrs []string

	SSHUser     string
	SSHPassword string
	SSHKeyFile  string

	Log     log.Config
	Feature featureset.Config

	TestConfig VerifyTestConfig
}

// VerifyTestConfig defines test related config.
type VerifyTestConfig struct {
	// Nodes replaces the ssh attached nodes with test nodes.
	Nodes map[string]fleet.Node
}

// Verify attaches to the nodes of an already formed cluster and runs the
// post formation health checks against it. It boots and forms nothing, the
// cluster must exist before the call.
func Verify(ctx context.Context, conf VerifyConfig) (err error) {
	ctx = log.WithTopic(ctx, "app")

	defer func() {
		if err != nil {
			log.Error(ctx, "Fatal verify error", err)
		}
	}()

	_, _ = maxprocs.Set()

	if err := log.InitLogger(conf.Log); err != nil {
		return err
	}

	if err := featureset.Init(ctx, conf.Feature); err != nil {
		return err
	}

	version.LogVersion(ctx, "Quorate verifying")

	profile, nodes, err := loadTopology(Config{
		Topology:     conf.Topology,
		TopologyFile: conf.TopologyFile,
		Servers:      conf.Servers,
		Agents:       conf.Agents,
	})
	if err != nil {
		return err
	}

	log.Info(ctx, "Topology loaded",
		z.Str("topology", profile.String()),
		z.Int("servers", countRole(nodes, topo.RoleServer)),
		z.Int("agents", countRole(nodes, topo.RoleAgent)),
	)

	conns, err := connectNodes(ctx, conf, nodes)
	if err != nil {
		return err
	}
	defer func() {
		for _, node := range conns {
			if err := node.Close(); err != nil {
				log.Warn(ctx, "Failed closing node connection", err, z.Str("node", node.Name()))
			}
		}
	}()

	checker := verify.NewChecker(verify.Config{
		Profile: profile,
		Nodes:   nodes,
	})

	report, err := checker.Run(ctx, conns)
	if err != nil {
		return err
	}

	log.Info(ctx, "Cluster verified", z.Str("checks", report.String()))

	return nil
}

// connectNodes attaches to every node of the topology over ssh, the injected
// test nodes taking precedence.
func connectNodes(ctx context.Context, conf VerifyConfig, nodes []topo.NodeSpec) (map[string]fleet.Node, error) {
	if conf.TestConfig.Nodes != nil {
		return conf.TestConfig.Nodes, nil
	}

	addrs, err := parseNodeAddrs(conf.NodeAddrs, nodes)
	if err != nil {
		return nil, err
	}

	connConf := fleet.ConnectConfig{
		User:     conf.SSHUser,
		Password: conf.SSHPassword,
		KeyFile:  conf.SSHKeyFile,
	}

	conns := make(map[string]fleet.Node)

	for _, spec := range nodes {
		node, err := fleet.ConnectNode(ctx, spec.Name, addrs[spec.Name], connConf)
		if err != nil {
			for _, conn := range conns {
				_ = conn.Close()
			}

			return nil, err
		}

		conns[spec.Name] = node
	}

	return conns, nil
}

// parseNodeAddrs parses name=host:port pairs and requires an address for
// every node of the topology.
func parseNodeAddrs(pairs []string, nodes []topo.NodeSpec) (map[string]string, error) {
	addrs := make(map[string]string)

	for _, pair := range pairs {
		name, addr, ok := strings.Cut(pair, "=")
		if !ok || name == "" || addr == "" {
			return nil, errors.New("invalid node address, expect name=host:port", z.Str("pair", pair))
		}

		addrs[name] = addr
	}

	for _, node := range nodes {
		if _, ok := addrs[node.Name]; !ok {
			return nil, errors.New("missing node address", z.Str("node", node.Name))
		}
	}

	return addrs, nil
}
