// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package topo

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/z"
)

const (
	flatDevice  = "eth1"
	trunkDevice = "eth1"
	bondDevice  = "bond0"

	clusterTag = 200
	storageTag = 100

	defaultBondMonitor = 100 * time.Millisecond
)

var (
	flatClusterSubnet = netip.MustParsePrefix("192.168.120.0/24")
	clusterSubnet     = netip.MustParsePrefix("192.168.200.0/24")
	storageSubnet     = netip.MustParsePrefix("192.168.100.0/24")
)

// Flat returns the flat profile, a single untagged cluster segment on the
// second NIC of every node.
func Flat(nodes []NodeSpec) (Profile, error) {
	addrs, err := assign(nodes, map[string]netip.Prefix{
		IfaceCluster: flatClusterSubnet,
	})
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Name: "flat",
		Interfaces: map[string]string{
			IfaceCluster: flatDevice,
		},
		Addresses: addrs,
		Nodes:     nodes,
	}

	return p, p.Validate(nodes)
}

// VLAN returns the vlan profile, a trunk NIC carrying a tagged cluster
// segment and a tagged storage segment.
func VLAN(nodes []NodeSpec) (Profile, error) {
	addrs, err := assign(nodes, map[string]netip.Prefix{
		IfaceCluster: clusterSubnet,
		IfaceStorage: storageSubnet,
	})
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Name: "vlan",
		Interfaces: map[string]string{
			IfaceCluster: fmt.Sprintf("%s.%d", trunkDevice, clusterTag),
			IfaceStorage: fmt.Sprintf("%s.%d", trunkDevice, storageTag),
		},
		Trunk: trunkDevice,
		VLANs: map[string]int{
			IfaceCluster: clusterTag,
			IfaceStorage: storageTag,
		},
		Addresses: addrs,
		Nodes:     nodes,
	}

	return p, p.Validate(nodes)
}

// BondedVLAN returns the bonded-vlan profile, an active-backup bond over two
// NICs with the tagged cluster and storage segments riding the bond.
func BondedVLAN(nodes []NodeSpec) (Profile, error) {
	addrs, err := assign(nodes, map[string]netip.Prefix{
		IfaceCluster: clusterSubnet,
		IfaceStorage: storageSubnet,
	})
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Name: "bonded-vlan",
		Interfaces: map[string]string{
			IfaceCluster: fmt.Sprintf("%s.%d", bondDevice, clusterTag),
			IfaceStorage: fmt.Sprintf("%s.%d", bondDevice, storageTag),
		},
		VLANs: map[string]int{
			IfaceCluster: clusterTag,
			IfaceStorage: storageTag,
		},
		Bond: &Bond{
			Device:  bondDevice,
			Mode:    BondModeActiveBackup,
			Members: []string{"eth1", "eth2"},
			Monitor: Duration{defaultBondMonitor},
		},
		Addresses: addrs,
		Nodes:     nodes,
	}

	return p, p.Validate(nodes)
}

// ByName constructs a built in profile by name.
func ByName(name string, nodes []NodeSpec) (Profile, error) {
	switch name {
	case "flat":
		return Flat(nodes)
	case "vlan":
		return VLAN(nodes)
	case "bonded-vlan":
		return BondedVLAN(nodes)
	default:
		return Profile{}, errors.New("unknown topology",
			z.Str("topology", name), z.Any("known", Names()))
	}
}

// Names returns the built in profile names.
func Names() []string {
	return []string{"flat", "vlan", "bonded-vlan"}
}

// NewNodes returns a default node set of servers and agents, the first
// server is primary.
func NewNodes(servers, agents int) []NodeSpec {
	var nodes []NodeSpec

	for i := 0; i < servers; i++ {
		nodes = append(nodes, NodeSpec{
			Name:    fmt.Sprintf("server-%d", i+1),
			Role:    RoleServer,
			Primary: i == 0,
		})
	}

	for i := 0; i < agents; i++ {
		nodes = append(nodes, NodeSpec{
			Name: fmt.Sprintf("agent-%d", i+1),
			Role: RoleAgent,
		})
	}

	return nodes
}

// assign allocates sequential host addresses per segment. The primary server
// gets the first host of every subnet so join URLs are stable.
func assign(nodes []NodeSpec, subnets map[string]netip.Prefix) (map[string]map[string]netip.Prefix, error) {
	ordered := make([]NodeSpec, 0, len(nodes))
	for _, node := range nodes {
		if node.Primary {
			ordered = append(ordered, node)
		}
	}
	for _, node := range nodes {
		if !node.Primary {
			ordered = append(ordered, node)
		}
	}

	addrs := make(map[string]map[string]netip.Prefix)

	for i, node := range ordered {
		m := make(map[string]netip.Prefix)

		for semantic, subnet := range subnets {
			addr, err := hostAddr(subnet, i+1)
			if err != nil {
				return nil, err
			}

			m[semantic] = netip.PrefixFrom(addr, subnet.Bits())
		}

		addrs[node.Name] = m
	}

	return addrs, nil
}

// hostAddr returns the nth host address in an ipv4 /24 subnet.
func hostAddr(subnet netip.Prefix, n int) (netip.Addr, error) {
	if subnet.Bits() != 24 || !subnet.Addr().Is4() {
		return netip.Addr{}, errors.New("built in profiles require ipv4 /24 subnets",
			z.Str("subnet", subnet.String()))
	}

	if n < 1 || n > 254 {
		return netip.Addr{}, errors.New("subnet exhausted", z.Int("host", n))
	}

	b := subnet.Addr().As4()
	b[3] = byte(n)

	return netip.AddrFrom4(b), nil
}
