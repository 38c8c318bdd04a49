// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package fleetmock

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"

	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/topo"
)

// iproute2 json shapes, mirroring `ip -j` output.
type (
	addrEntry struct {
		Ifname    string     `json:"ifname"`
		Operstate string     `json:"operstate"`
		AddrInfo  []addrInfo `json:"addr_info"`
	}

	addrInfo struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		Prefixlen int    `json:"prefixlen"`
	}

	linkEntry struct {
		Ifname    string    `json:"ifname"`
		Operstate string    `json:"operstate"`
		Link      string    `json:"link,omitempty"`
		Linkinfo  *linkInfo `json:"linkinfo,omitempty"`
	}

	linkInfo struct {
		InfoKind string   `json:"info_kind"`
		InfoData linkData `json:"info_data"`
	}

	linkData struct {
		Protocol string `json:"protocol,omitempty"`
		ID       int    `json:"id,omitempty"`
		Mode     string `json:"mode,omitempty"`
		Miimon   int    `json:"miimon,omitempty"`
	}
)

// addrJSON renders `ip -j addr show` for the named node from the profile.
// Must be called with fleet.mu held.
func (f *Fleet) addrJSON(name string, res fleet.ExecResult) fleet.ExecResult {
	if f.profile == nil {
		res.ExitCode = 1
		res.Stderr = "fleetmock: no topology configured"

		return res
	}

	entries := []addrEntry{
		{Ifname: "lo", Operstate: "UNKNOWN", AddrInfo: []addrInfo{{Family: "inet", Local: "127.0.0.1", Prefixlen: 8}}},
		{Ifname: "eth0", Operstate: "UP", AddrInfo: []addrInfo{{Family: "inet", Local: "10.0.2.15", Prefixlen: 24}}},
	}

	seen := map[string]bool{"lo": true, "eth0": true}

	for _, semantic := range f.profile.Semantics() {
		device := f.profile.Interfaces[semantic]

		prefix, err := f.profile.AddressFor(name, semantic)
		if err != nil {
			continue
		}

		entries = append(entries, addrEntry{
			Ifname:    device,
			Operstate: "UP",
			AddrInfo:  []addrInfo{{Family: "inet", Local: prefix.Addr().String(), Prefixlen: prefix.Bits()}},
		})
		seen[device] = true
	}

	extra := f.profile.PhysicalDevices()
	if bond, ok := f.profile.BondSpec(); ok {
		extra = append(extra, bond.Device)
	}

	for _, device := range extra {
		if seen[device] {
			continue
		}

		entries = append(entries, addrEntry{Ifname: device, Operstate: "UP"})
		seen[device] = true
	}

	b, err := json.Marshal(entries)
	if err != nil {
		res.ExitCode = 1
		res.Stderr = err.Error()

		return res
	}

	res.Stdout = string(b)

	return res
}

// linkJSON renders `ip -j -d link show` from the profile. Must be called
// with fleet.mu held.
func (f *Fleet) linkJSON(res fleet.ExecResult) fleet.ExecResult {
	if f.profile == nil {
		res.ExitCode = 1
		res.Stderr = "fleetmock: no topology configured"

		return res
	}

	entries := []linkEntry{
		{Ifname: "lo", Operstate: "UNKNOWN"},
		{Ifname: "eth0", Operstate: "UP"},
	}

	for _, device := range f.profile.PhysicalDevices() {
		entries = append(entries, linkEntry{Ifname: device, Operstate: "UP"})
	}

	vlanParent := f.profile.Trunk

	if bond, ok := f.profile.BondSpec(); ok {
		vlanParent = bond.Device
		entries = append(entries, linkEntry{
			Ifname:    bond.Device,
			Operstate: "UP",
			Linkinfo: &linkInfo{
				InfoKind: "bond",
				InfoData: linkData{Mode: bond.Mode, Miimon: int(bond.Monitor.Milliseconds())},
			},
		})
	}

	for _, semantic := range f.profile.Semantics() {
		tag, ok := f.profile.VLANTag(semantic)
		if !ok {
			continue
		}

		entries = append(entries, linkEntry{
			Ifname:    f.profile.Interfaces[semantic],
			Operstate: "UP",
			Link:      vlanParent,
			Linkinfo: &linkInfo{
				InfoKind: "vlan",
				InfoData: linkData{Protocol: "802.1Q", ID: tag},
			},
		})
	}

	b, err := json.Marshal(entries)
	if err != nil {
		res.ExitCode = 1
		res.Stderr = err.Error()

		return res
	}

	res.Stdout = string(b)

	return res
}

// pingResult models segment reachability: a target is reachable through a
// device only when it falls inside the subnet the profile assigns to that
// device on this node. Must be called with fleet.mu held.
func (f *Fleet) pingResult(name string, res fleet.ExecResult) fleet.ExecResult {
	if f.profile == nil {
		return res
	}

	fields := strings.Fields(res.Command)
	target := fields[len(fields)-1]

	var device string
	for i, field := range fields {
		if field == "-I" && i+1 < len(fields) {
			device = fields[i+1]
		}
	}

	addr, err := netip.ParseAddr(target)
	if err != nil {
		res.ExitCode = 2
		res.Stderr = "ping: " + target + ": Name or service not known"

		return res
	}

	for _, semantic := range f.profile.Semantics() {
		if f.profile.Interfaces[semantic] != device {
			continue
		}

		own, err := f.profile.AddressFor(name, semantic)
		if err != nil {
			break
		}

		if own.Masked().Contains(addr) {
			res.Stdout = "1 packets transmitted, 1 received, 0% packet loss"

			return res
		}
	}

	res.ExitCode = 1
	res.Stdout = "1 packets transmitted, 0 received, 100% packet loss"

	return res
}

// bondProc renders /proc/net/bonding/<device> for the bond spec.
func bondProc(bond topo.Bond) string {
	var sb strings.Builder

	sb.WriteString("Ethernet Channel Bonding Driver: v6.8.0\n\n")
	sb.WriteString(fmt.Sprintf("Bonding Mode: fault-tolerance (%s)\n", bond.Mode))
	sb.WriteString("Primary Slave: None\n")
	sb.WriteString(fmt.Sprintf("Currently Active Slave: %s\n", bond.Members[0]))
	sb.WriteString("MII Status: up\n")
	sb.WriteString(fmt.Sprintf("MII Polling Interval (ms): %d\n", bond.Monitor.Milliseconds()))

	for _, member := range bond.Members {
		sb.WriteString(fmt.Sprintf("\nSlave Interface: %s\nMII Status: up\nLink Failure Count: 0\n", member))
	}

	return sb.String()
}
