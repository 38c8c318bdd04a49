// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package topo_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/topo"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) (topo.Profile, []topo.NodeSpec)
		err    error
		errMsg string
	}{
		{
			name: "valid vlan",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				return vlanProfile(t)
			},
		},
		{
			name: "valid bonded vlan",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				return bondedProfile(t)
			},
		},
		{
			name: "missing interface address",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				delete(p.Addresses["server-2"], topo.IfaceStorage)

				return p, nodes
			},
			err: topo.ErrMissingAddress,
		},
		{
			name: "missing node addresses",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				delete(p.Addresses, "agent-1")

				return p, nodes
			},
			err: topo.ErrMissingAddress,
		},
		{
			name: "duplicate vlan tag",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				p.VLANs[topo.IfaceStorage] = 200

				return p, nodes
			},
			err: topo.ErrDuplicateVLAN,
		},
		{
			name: "vlan tag out of range",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				p.VLANs[topo.IfaceCluster] = 5000

				return p, nodes
			},
			err: topo.ErrInvalidVLAN,
		},
		{
			name: "vlan device mismatch",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				p.Interfaces[topo.IfaceCluster] = "eth1.201"

				return p, nodes
			},
			err: topo.ErrInvalidVLAN,
		},
		{
			name: "no cluster network",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				delete(p.Interfaces, topo.IfaceCluster)

				return p, nodes
			},
			err: topo.ErrNoClusterNetwork,
		},
		{
			name: "mgmt reserved",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				p.Interfaces[topo.IfaceMgmt] = "eth0"

				return p, nodes
			},
			errMsg: "mgmt interface is fleet managed",
		},
		{
			name: "no primary",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				nodes[0].Primary = false

				return p, nodes
			},
			err: topo.ErrNoPrimary,
		},
		{
			name: "multiple primaries",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				nodes[1].Primary = true

				return p, nodes
			},
			err: topo.ErrMultiplePrimaries,
		},
		{
			name: "primary agent",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				nodes[0].Primary = false
				nodes[2].Primary = true

				return p, nodes
			},
			err: topo.ErrNoPrimary,
		},
		{
			name: "duplicate node name",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				nodes[1].Name = "server-1"

				return p, nodes
			},
			err: topo.ErrDuplicateNode,
		},
		{
			name: "duplicate address",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				p.Addresses["server-2"][topo.IfaceCluster] = p.Addresses["server-1"][topo.IfaceCluster]

				return p, nodes
			},
			err: topo.ErrDuplicateAddress,
		},
		{
			name: "subnet mismatch",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				p.Addresses["server-2"][topo.IfaceCluster] = netip.MustParsePrefix("192.168.201.2/24")

				return p, nodes
			},
			err: topo.ErrSubnetMismatch,
		},
		{
			name: "bond single member",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := bondedProfile(t)
				p.Bond.Members = []string{"eth1"}

				return p, nodes
			},
			err: topo.ErrInvalidBond,
		},
		{
			name: "bond unsupported mode",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := bondedProfile(t)
				p.Bond.Mode = "802.3ad"

				return p, nodes
			},
			err: topo.ErrInvalidBond,
		},
		{
			name: "bond without monitor",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := bondedProfile(t)
				p.Bond.Monitor = topo.Duration{}

				return p, nodes
			},
			err: topo.ErrInvalidBond,
		},
		{
			name: "trunk with bond",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := bondedProfile(t)
				p.Trunk = "eth1"

				return p, nodes
			},
			err: topo.ErrInvalidBond,
		},
		{
			name: "address for unknown node",
			setup: func(t *testing.T) (topo.Profile, []topo.NodeSpec) {
				t.Helper()
				p, nodes := vlanProfile(t)
				p.Addresses["server-9"] = p.Addresses["server-1"]

				return p, nodes
			},
			errMsg: "address for unknown node",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p, nodes := test.setup(t)

			err := p.Validate(nodes)
			if test.err == nil && test.errMsg == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
			}
			if test.errMsg != "" {
				require.ErrorContains(t, err, test.errMsg)
			}
		})
	}
}

func TestAddressFor(t *testing.T) {
	p, _ := vlanProfile(t)

	addr, err := p.AddressFor("server-1", topo.IfaceCluster)
	require.NoError(t, err)
	require.Equal(t, "192.168.200.1/24", addr.String())

	addr, err = p.AddressFor("agent-1", topo.IfaceStorage)
	require.NoError(t, err)
	require.Equal(t, "192.168.100.3/24", addr.String())

	_, err = p.AddressFor("server-1", "backup")
	require.ErrorIs(t, err, topo.ErrMissingAddress)

	_, err = p.AddressFor("server-9", topo.IfaceCluster)
	require.ErrorIs(t, err, topo.ErrMissingAddress)
}

func TestPhysicalDevices(t *testing.T) {
	flat, err := topo.Flat(topo.NewNodes(2, 1))
	require.NoError(t, err)
	require.Equal(t, []string{"eth1"}, flat.PhysicalDevices())

	vlan, _ := vlanProfile(t)
	require.Equal(t, []string{"eth1"}, vlan.PhysicalDevices())

	bonded, _ := bondedProfile(t)
	require.Equal(t, []string{"eth1", "eth2"}, bonded.PhysicalDevices())
}

func TestProfileString(t *testing.T) {
	p, _ := vlanProfile(t)
	require.Equal(t, "vlan[cluster=eth1.200(tag 200) storage=eth1.100(tag 100)]", p.String())

	flat, err := topo.Flat(topo.NewNodes(1, 0))
	require.NoError(t, err)
	require.Equal(t, "flat[cluster=eth1]", flat.String())
}

func TestPrimary(t *testing.T) {
	nodes := topo.NewNodes(2, 1)

	primary, err := topo.Primary(nodes)
	require.NoError(t, err)
	require.Equal(t, "server-1", primary.Name)

	nodes[0].Primary = false
	_, err = topo.Primary(nodes)
	require.ErrorIs(t, err, topo.ErrNoPrimary)

	nodes[0].Primary = true
	nodes[1].Primary = true
	_, err = topo.Primary(nodes)
	require.ErrorIs(t, err, topo.ErrMultiplePrimaries)
}

func vlanProfile(t *testing.T) (topo.Profile, []topo.NodeSpec) {
	t.Helper()

	nodes := topo.NewNodes(2, 1)
	p, err := topo.VLAN(nodes)
	require.NoError(t, err)

	return p, nodes
}

func bondedProfile(t *testing.T) (topo.Profile, []topo.NodeSpec) {
	t.Helper()

	nodes := topo.NewNodes(2, 1)
	p, err := topo.BondedVLAN(nodes)
	require.NoError(t, err)

	return p, nodes
}
