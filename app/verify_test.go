// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quoratelab/quorate/app"
	"github.com/quoratelab/quorate/app/featureset"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/formation"
	"github.com/quoratelab/quorate/testutil/fleetmock"
	"github.com/quoratelab/quorate/topo"
	"github.com/quoratelab/quorate/verify"
)

func testVerifyConfig(t *testing.T, conns map[string]fleet.Node) app.VerifyConfig {
	t.Helper()

	return app.VerifyConfig{
		Topology: "flat",
		Servers:  2,
		Agents:   1,
		Log:      log.DefaultConfig(),
		Feature:  featureset.DefaultConfig(),
		TestConfig: app.VerifyTestConfig{
			Nodes: conns,
		},
	}
}

// formedNodes boots the mock fleet and starts the service unit on every
// node, the state a formed cluster leaves behind.
func formedNodes(t *testing.T, mock *fleetmock.Fleet, nodes []topo.NodeSpec) map[string]fleet.Node {
	t.Helper()

	ctx := context.Background()
	service := formation.DefaultServiceSpec()
	conns := make(map[string]fleet.Node)

	for _, spec := range nodes {
		node, err := mock.Boot(ctx, spec)
		require.NoError(t, err)

		res, err := node.Exec(ctx, service.StartCmd(spec.Role))
		require.NoError(t, err)
		require.True(t, res.Ok())

		conns[spec.Name] = node
	}

	return conns
}

func TestVerifyFormedCluster(t *testing.T) {
	defer goleak.VerifyNone(t)

	nodes := topo.NewNodes(2, 1)
	profile, err := topo.Flat(nodes)
	require.NoError(t, err)

	mock := fleetmock.New(fleetmock.WithTopology(profile))
	conns := formedNodes(t, mock, nodes)

	require.NoError(t, app.Verify(context.Background(), testVerifyConfig(t, conns)))
}

func TestVerifyUnformedNode(t *testing.T) {
	defer goleak.VerifyNone(t)

	nodes := topo.NewNodes(2, 1)
	profile, err := topo.Flat(nodes)
	require.NoError(t, err)

	mock := fleetmock.New(fleetmock.WithTopology(profile))

	// The agent never joined, it must fail the registry checks.
	conns := formedNodes(t, mock, nodes[:2])

	agent, err := mock.Boot(context.Background(), nodes[2])
	require.NoError(t, err)
	conns[nodes[2].Name] = agent

	err = app.Verify(context.Background(), testVerifyConfig(t, conns))
	require.ErrorIs(t, err, verify.ErrHealthCheck)
}

func TestVerifyNodeAddrs(t *testing.T) {
	defer goleak.VerifyNone(t)

	conf := testVerifyConfig(t, nil)
	conf.NodeAddrs = []string{"server-1"}

	err := app.Verify(context.Background(), conf)
	require.ErrorContains(t, err, "invalid node address")

	conf.NodeAddrs = []string{"server-1=10.0.0.1:22"}

	err = app.Verify(context.Background(), conf)
	require.ErrorContains(t, err, "missing node address")
}
