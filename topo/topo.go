// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package topo defines declarative network topologies for cluster validation runs.
// A topology names the semantic networks a cluster uses (cluster, storage), maps
// them to the concrete device carrying each one on every node, and assigns
// per-node addresses. Validation is eager so configuration defects surface
// before any node boots.
package topo

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/z"
)

// Semantic network names. Mgmt is implicit on every node and owned by the
// fleet provider, it never appears in a profile.
const (
	IfaceMgmt    = "mgmt"
	IfaceCluster = "cluster"
	IfaceStorage = "storage"
)

// BondModeActiveBackup is the only supported bond mode since the virtual
// switches the fleet attaches nodes to do not negotiate LACP.
const BondModeActiveBackup = "active-backup"

// Configuration errors returned by Validate. All of them abort a run before
// any node is booted.
var (
	ErrMissingAddress    = errors.NewSentinel("node missing address for interface")
	ErrDuplicateAddress  = errors.NewSentinel("duplicate address in segment")
	ErrDuplicateVLAN     = errors.NewSentinel("duplicate vlan tag")
	ErrInvalidVLAN       = errors.NewSentinel("invalid vlan")
	ErrInvalidBond       = errors.NewSentinel("invalid bond")
	ErrNoPrimary         = errors.NewSentinel("no primary server")
	ErrMultiplePrimaries = errors.NewSentinel("multiple primary servers")
	ErrDuplicateNode     = errors.NewSentinel("duplicate node name")
	ErrNoClusterNetwork  = errors.NewSentinel("no cluster network")
	ErrSubnetMismatch    = errors.NewSentinel("address outside segment subnet")
)

// Role defines the role a node plays in the cluster.
type Role string

const (
	RoleServer Role = "server"
	RoleAgent  Role = "agent"
)

// Valid returns true if the role is a known cluster role.
func (r Role) Valid() bool {
	return r == RoleServer || r == RoleAgent
}

// NodeSpec defines a single virtual machine in the fleet.
type NodeSpec struct {
	// Name is the unique node name, it doubles as the kubernetes node name.
	Name string `json:"name"`
	// Role is the cluster role, server or agent.
	Role Role `json:"role"`
	// Primary marks the server that initialises the cluster, exactly one node.
	Primary bool `json:"primary,omitempty"`
	// CPUs and MemoryMiB override the fleet defaults when non-zero.
	CPUs      int    `json:"cpus,omitempty"`
	MemoryMiB int    `json:"memory_mib,omitempty"`
	// Image overrides the fleet base image when non-empty.
	Image string `json:"image,omitempty"`
}

// Bond defines a bonded link aggregating multiple physical devices.
type Bond struct {
	Device  string   `json:"device"`
	Mode    string   `json:"mode"`
	Members []string `json:"members"`
	// Monitor is the MII link monitor interval.
	Monitor Duration `json:"monitor"`
}

// Profile is a declarative network topology. Profiles are plain data,
// construct one with Flat, VLAN, BondedVLAN or LoadFile.
type Profile struct {
	Name string `json:"name"`
	// Interfaces maps semantic network names to the device carrying them on every node.
	Interfaces map[string]string `json:"interfaces"`
	// Trunk is the physical device carrying tagged vlan subinterfaces.
	Trunk string `json:"trunk,omitempty"`
	// VLANs maps semantic network names to 802.1Q tags.
	VLANs map[string]int `json:"vlans,omitempty"`
	Bond  *Bond          `json:"bond,omitempty"`
	// Addresses maps node name to semantic network to the node's address on that segment.
	Addresses map[string]map[string]netip.Prefix `json:"addresses"`
	// Nodes optionally embeds the fleet definition alongside the topology.
	Nodes []NodeSpec `json:"nodes,omitempty"`
}

// Semantics returns the semantic network names in deterministic order.
func (p Profile) Semantics() []string {
	resp := make([]string, 0, len(p.Interfaces))
	for semantic := range p.Interfaces {
		resp = append(resp, semantic)
	}

	sort.Strings(resp)

	return resp
}

// Device returns the device carrying the semantic network on every node.
func (p Profile) Device(semantic string) (string, error) {
	device, ok := p.Interfaces[semantic]
	if !ok {
		return "", errors.New("unknown semantic network", z.Str("iface", semantic))
	}

	return device, nil
}

// AddressFor returns the address of the node on the given semantic network.
func (p Profile) AddressFor(node, semantic string) (netip.Prefix, error) {
	addr, ok := p.Addresses[node][semantic]
	if !ok {
		return netip.Prefix{}, errors.Wrap(ErrMissingAddress, "resolve address",
			z.Str("node", node), z.Str("iface", semantic))
	}

	return addr, nil
}

// VLANTag returns the 802.1Q tag of the semantic network.
func (p Profile) VLANTag(semantic string) (int, bool) {
	tag, ok := p.VLANs[semantic]

	return tag, ok
}

// BondSpec returns the bond definition if the profile defines one.
func (p Profile) BondSpec() (Bond, bool) {
	if p.Bond == nil {
		return Bond{}, false
	}

	return *p.Bond, true
}

// PhysicalDevices returns the data plane NIC devices every node requires,
// excluding the fleet managed mgmt device.
func (p Profile) PhysicalDevices() []string {
	devices := make(map[string]bool)

	if p.Bond != nil {
		for _, member := range p.Bond.Members {
			devices[member] = true
		}
	}

	if p.Trunk != "" {
		devices[p.Trunk] = true
	}

	for semantic, device := range p.Interfaces {
		if _, tagged := p.VLANs[semantic]; tagged {
			continue
		}
		if p.Bond != nil && device == p.Bond.Device {
			continue
		}
		devices[device] = true
	}

	resp := make([]string, 0, len(devices))
	for device := range devices {
		resp = append(resp, device)
	}

	sort.Strings(resp)

	return resp
}

// String returns a compact single line summary of the topology.
func (p Profile) String() string {
	var parts []string

	for _, semantic := range p.Semantics() {
		if tag, ok := p.VLANTag(semantic); ok {
			parts = append(parts, fmt.Sprintf("%s=%s(tag %d)", semantic, p.Interfaces[semantic], tag))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", semantic, p.Interfaces[semantic]))
		}
	}

	return fmt.Sprintf("%s[%s]", p.Name, strings.Join(parts, " "))
}

// Validate checks the profile against the node set and returns the first
// configuration error found. It must pass before any node is booted.
func (p Profile) Validate(nodes []NodeSpec) error {
	if p.Name == "" {
		return errors.New("topology name required")
	}

	if _, ok := p.Interfaces[IfaceCluster]; !ok {
		return errors.Wrap(ErrNoClusterNetwork, "topology must define a cluster network")
	}

	if _, ok := p.Interfaces[IfaceMgmt]; ok {
		return errors.New("mgmt interface is fleet managed and cannot appear in a topology")
	}

	if err := p.validateBond(); err != nil {
		return err
	}

	if err := p.validateVLANs(); err != nil {
		return err
	}

	if err := validateNodes(nodes); err != nil {
		return err
	}

	return p.validateAddresses(nodes)
}

func (p Profile) validateBond() error {
	if p.Bond == nil {
		return nil
	}

	b := *p.Bond

	if b.Device == "" {
		return errors.Wrap(ErrInvalidBond, "bond device required")
	}

	if b.Mode != BondModeActiveBackup {
		return errors.Wrap(ErrInvalidBond, "unsupported bond mode",
			z.Str("mode", b.Mode), z.Str("supported", BondModeActiveBackup))
	}

	if len(b.Members) < 2 {
		return errors.Wrap(ErrInvalidBond, "bond requires at least two members",
			z.Int("members", len(b.Members)))
	}

	seen := make(map[string]bool)
	for _, member := range b.Members {
		if member == "" {
			return errors.Wrap(ErrInvalidBond, "empty bond member")
		}
		if seen[member] {
			return errors.Wrap(ErrInvalidBond, "duplicate bond member", z.Str("member", member))
		}
		seen[member] = true
	}

	if b.Monitor.Duration <= 0 {
		return errors.Wrap(ErrInvalidBond, "bond link monitor interval required")
	}

	if p.Trunk != "" {
		return errors.Wrap(ErrInvalidBond, "trunk and bond are mutually exclusive, vlans ride the bond device")
	}

	return nil
}

func (p Profile) validateVLANs() error {
	parent := p.Trunk
	if p.Bond != nil {
		parent = p.Bond.Device
	}

	tags := make(map[int]string)

	for _, semantic := range sortedKeys(p.VLANs) {
		tag := p.VLANs[semantic]

		if tag < 1 || tag > 4094 {
			return errors.Wrap(ErrInvalidVLAN, "vlan tag out of range",
				z.Str("iface", semantic), z.Int("tag", tag))
		}

		if other, ok := tags[tag]; ok {
			return errors.Wrap(ErrDuplicateVLAN, "vlan tag already used",
				z.Int("tag", tag), z.Str("iface", semantic), z.Str("other", other))
		}
		tags[tag] = semantic

		device, ok := p.Interfaces[semantic]
		if !ok {
			return errors.Wrap(ErrInvalidVLAN, "vlan for unknown interface", z.Str("iface", semantic))
		}

		if parent == "" {
			return errors.Wrap(ErrInvalidVLAN, "vlans require a trunk or bond device", z.Str("iface", semantic))
		}

		if expect := fmt.Sprintf("%s.%d", parent, tag); device != expect {
			return errors.Wrap(ErrInvalidVLAN, "vlan device does not match parent and tag",
				z.Str("iface", semantic), z.Str("device", device), z.Str("expect", expect))
		}
	}

	return nil
}

func validateNodes(nodes []NodeSpec) error {
	if len(nodes) == 0 {
		return errors.New("no nodes defined")
	}

	names := make(map[string]bool)

	for _, node := range nodes {
		if node.Name == "" {
			return errors.New("empty node name")
		}

		if names[node.Name] {
			return errors.Wrap(ErrDuplicateNode, "node name already used", z.Str("node", node.Name))
		}
		names[node.Name] = true

		if !node.Role.Valid() {
			return errors.New("invalid node role",
				z.Str("node", node.Name), z.Str("role", string(node.Role)))
		}

		if node.Primary && node.Role != RoleServer {
			return errors.Wrap(ErrNoPrimary, "primary node is not a server", z.Str("node", node.Name))
		}
	}

	_, err := Primary(nodes)

	return err
}

func (p Profile) validateAddresses(nodes []NodeSpec) error {
	names := make(map[string]bool)
	for _, node := range nodes {
		names[node.Name] = true
	}

	for _, node := range sortedKeys(p.Addresses) {
		if !names[node] {
			return errors.New("address for unknown node", z.Str("node", node))
		}
	}

	type segment struct {
		addrs  map[netip.Addr]string
		subnet netip.Prefix
	}

	segments := make(map[string]*segment)

	for _, node := range nodes {
		for _, semantic := range p.Semantics() {
			addr, err := p.AddressFor(node.Name, semantic)
			if err != nil {
				return err
			}

			if !addr.IsValid() || !addr.Addr().IsValid() {
				return errors.New("invalid address",
					z.Str("node", node.Name), z.Str("iface", semantic))
			}

			seg, ok := segments[semantic]
			if !ok {
				seg = &segment{addrs: make(map[netip.Addr]string), subnet: addr.Masked()}
				segments[semantic] = seg
			}

			if other, ok := seg.addrs[addr.Addr()]; ok {
				return errors.Wrap(ErrDuplicateAddress, "address already assigned",
					z.Str("address", addr.Addr().String()), z.Str("node", node.Name), z.Str("other", other))
			}
			seg.addrs[addr.Addr()] = node.Name

			if addr.Masked() != seg.subnet {
				return errors.Wrap(ErrSubnetMismatch, "segment addresses must share one subnet",
					z.Str("node", node.Name), z.Str("iface", semantic),
					z.Str("address", addr.String()), z.Str("subnet", seg.subnet.String()))
			}
		}
	}

	return nil
}

// Primary returns the single node marked primary.
func Primary(nodes []NodeSpec) (NodeSpec, error) {
	var (
		found   bool
		primary NodeSpec
	)

	for _, node := range nodes {
		if !node.Primary {
			continue
		}

		if found {
			return NodeSpec{}, errors.Wrap(ErrMultiplePrimaries, "primary already defined",
				z.Str("node", node.Name), z.Str("other", primary.Name))
		}

		found, primary = true, node
	}

	if !found {
		return NodeSpec{}, errors.Wrap(ErrNoPrimary, "mark exactly one server node primary")
	}

	return primary, nil
}

func sortedKeys[V any](m map[string]V) []string {
	resp := make([]string, 0, len(m))
	for k := range m {
		resp = append(resp, k)
	}

	sort.Strings(resp)

	return resp
}
