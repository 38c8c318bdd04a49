// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package formation_test

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/formation"
	"github.com/quoratelab/quorate/topo"
)

func TestServiceCommands(t *testing.T) {
	spec := formation.DefaultServiceSpec()

	require.Equal(t, "https://192.168.200.1:6443", spec.JoinURL(netip.MustParseAddr("192.168.200.1")))
	require.Equal(t, "curl -ksf https://127.0.0.1:6443/readyz", spec.ReadyCmd())
	require.Equal(t, "systemctl start k3s", spec.StartCmd(topo.RoleServer))
	require.Equal(t, "systemctl start k3s-agent", spec.StartCmd(topo.RoleAgent))
	require.Equal(t, "k3s", spec.UnitName(topo.RoleServer))
	require.Equal(t, "k3s-agent", spec.UnitName(topo.RoleAgent))
	require.Equal(t, "k3s kubectl get nodes --no-headers -o wide", spec.NodesCmd())
	require.Equal(t, "/var/lib/rancher/k3s/server/node-token", spec.TokenPath)
}

func TestServerConfigPrimary(t *testing.T) {
	nodes := topo.NewNodes(2, 1)
	profile, err := topo.VLAN(nodes)
	require.NoError(t, err)

	spec := formation.DefaultServiceSpec()

	b, err := spec.ServerConfig(nodes[0], profile, "", "")
	require.NoError(t, err)

	conf := parseConfig(t, b)
	require.Equal(t, "server-1", conf["node-name"])
	require.Equal(t, "192.168.200.1", conf["node-ip"])
	require.Equal(t, "eth1.200", conf["flannel-iface"])
	require.Equal(t, "192.168.200.1", conf["advertise-address"])
	require.Equal(t, []any{"192.168.200.1"}, conf["tls-san"])
	require.Equal(t, true, conf["cluster-init"])

	// The primary starts its own cluster, it joins nothing.
	require.NotContains(t, conf, "server")
	require.NotContains(t, conf, "token")
}

func TestServerConfigSecondary(t *testing.T) {
	nodes := topo.NewNodes(2, 1)
	profile, err := topo.VLAN(nodes)
	require.NoError(t, err)

	spec := formation.DefaultServiceSpec()
	joinURL := spec.JoinURL(netip.MustParseAddr("192.168.200.1"))

	b, err := spec.ServerConfig(nodes[1], profile, joinURL, "secret-token")
	require.NoError(t, err)

	conf := parseConfig(t, b)
	require.Equal(t, "server-2", conf["node-name"])
	require.Equal(t, "192.168.200.2", conf["node-ip"])
	require.Equal(t, "https://192.168.200.1:6443", conf["server"])
	require.Equal(t, "secret-token", conf["token"])
	require.NotContains(t, conf, "cluster-init")
}

func TestAgentConfig(t *testing.T) {
	nodes := topo.NewNodes(2, 1)
	profile, err := topo.VLAN(nodes)
	require.NoError(t, err)

	spec := formation.DefaultServiceSpec()
	joinURL := spec.JoinURL(netip.MustParseAddr("192.168.200.1"))

	b, err := spec.AgentConfig(nodes[2], profile, joinURL, "secret-token")
	require.NoError(t, err)

	conf := parseConfig(t, b)
	require.Equal(t, "agent-1", conf["node-name"])
	require.Equal(t, "192.168.200.3", conf["node-ip"])
	require.Equal(t, "eth1.200", conf["flannel-iface"])
	require.Equal(t, "https://192.168.200.1:6443", conf["server"])
	require.Equal(t, "secret-token", conf["token"])

	// Agents never advertise or serve the api.
	require.NotContains(t, conf, "advertise-address")
	require.NotContains(t, conf, "tls-san")
	require.NotContains(t, conf, "cluster-init")
}

func TestServerConfigMissingAddress(t *testing.T) {
	nodes := topo.NewNodes(1, 0)
	profile, err := topo.VLAN(nodes)
	require.NoError(t, err)

	_, err = formation.DefaultServiceSpec().ServerConfig(topo.NodeSpec{Name: "ghost", Role: topo.RoleServer}, profile, "", "")
	require.ErrorIs(t, err, topo.ErrMissingAddress)
}

// parseConfig converts the rendered yaml back to a map for assertions.
func parseConfig(t *testing.T, b []byte) map[string]any {
	t.Helper()

	j, err := yaml.YAMLToJSON(b)
	require.NoError(t, err)

	conf := make(map[string]any)
	require.NoError(t, json.Unmarshal(j, &conf))

	return conf
}
