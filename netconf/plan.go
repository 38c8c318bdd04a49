// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package netconf

import (
	"fmt"

	"github.com/quoratelab/quorate/topo"
)

// BuildPlan returns the ordered command plan configuring the node's data
// plane interfaces for the profile. Link additions are guarded and addresses
// use replace, so a plan can re-run after a partial apply.
func BuildPlan(conf Config, p topo.Profile, node string) ([]Step, error) {
	conf = conf.withDefaults()

	var steps []Step
	add := func(desc, format string, args ...any) {
		steps = append(steps, Step{Desc: desc, Cmd: fmt.Sprintf(format, args...)})
	}

	// The management daemon reverts manual link changes, mask it first.
	add("mask network daemon", "systemctl mask --now %s", conf.Daemon)

	if len(p.VLANs) > 0 {
		add("enable 8021q", "modprobe 8021q")
	}

	upped := make(map[string]bool)
	up := func(device string) {
		if upped[device] {
			return
		}
		upped[device] = true
		add("up "+device, "ip link set dev %s up", device)
	}

	bond, hasBond := p.BondSpec()
	if hasBond {
		add("enable bonding", "modprobe bonding")
		add("create "+bond.Device,
			"ip link show dev %s >/dev/null 2>&1 || ip link add %s type bond mode %s miimon %d",
			bond.Device, bond.Device, bond.Mode, bond.Monitor.Milliseconds())

		for _, member := range bond.Members {
			add("down "+member, "ip link set dev %s down", member)
			add("enslave "+member, "ip link set dev %s master %s", member, bond.Device)
		}

		up(bond.Device)
	} else if p.Trunk != "" {
		up(p.Trunk)
	}

	parent := p.Trunk
	if hasBond {
		parent = bond.Device
	}

	for _, semantic := range p.Semantics() {
		device, err := p.Device(semantic)
		if err != nil {
			return nil, err
		}

		if tag, tagged := p.VLANTag(semantic); tagged {
			add("create "+device,
				"ip link show dev %s >/dev/null 2>&1 || ip link add link %s name %s type vlan id %d",
				device, parent, device, tag)
		}

		up(device)

		addr, err := p.AddressFor(node, semantic)
		if err != nil {
			return nil, err
		}

		add("address "+semantic, "ip addr replace %s dev %s", addr, device)
	}

	return steps, nil
}
