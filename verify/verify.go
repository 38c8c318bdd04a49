// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package verify runs post formation health checks over the booted fleet.
// Checks accumulate, a failing node never stops verification of the rest,
// the full report is what makes a broken run diagnosable.
package verify

import (
	"context"
	"fmt"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/featureset"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/formation"
	"github.com/quoratelab/quorate/topo"
)

// ErrHealthCheck is returned when one or more health checks fail.
var ErrHealthCheck = errors.NewSentinel("health check failed")

// Config configures the health checker.
type Config struct {
	Profile topo.Profile
	Nodes   []topo.NodeSpec
	Service formation.ServiceSpec
}

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Node   string `json:"node"`
	Check  string `json:"check"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of a verification run.
type Report struct {
	Checks []CheckResult `json:"checks"`
}

// Failed returns the failed checks.
func (r Report) Failed() []CheckResult {
	var resp []CheckResult
	for _, check := range r.Checks {
		if !check.OK {
			resp = append(resp, check)
		}
	}

	return resp
}

func (r Report) String() string {
	return fmt.Sprintf("%d/%d checks passed", len(r.Checks)-len(r.Failed()), len(r.Checks))
}

// Checker verifies the formed cluster against its topology profile.
type Checker struct {
	conf Config
}

// NewChecker returns a new health checker.
func NewChecker(conf Config) *Checker {
	if conf.Service.APIPort == 0 {
		conf.Service = formation.DefaultServiceSpec()
	}

	return &Checker{conf: conf}
}

// Run verifies network state on every node and cluster membership on the
// primary. It always returns the full report, with ErrHealthCheck when any
// check failed.
func (c *Checker) Run(ctx context.Context, nodes map[string]fleet.Node) (Report, error) {
	ctx = log.WithTopic(ctx, "verify")

	checkFailures.Reset()

	var report Report

	add := func(node, check string, ok bool, detail string) {
		result := CheckResult{Node: node, Check: check, OK: ok}
		if !ok {
			result.Detail = detail
			checkFailures.WithLabelValues(node, check).Set(1)
			log.Warn(ctx, "Health check failed", nil,
				z.Str("node", node), z.Str("check", check), z.Str("detail", detail))
		}

		report.Checks = append(report.Checks, result)
	}

	for _, spec := range c.conf.Nodes {
		node, ok := nodes[spec.Name]
		if !ok {
			add(spec.Name, "node_present", false, "node not booted")
			continue
		}

		c.checkNode(ctx, node, spec.Name, add)
	}

	c.checkRegistry(ctx, nodes, add)

	if featureset.Enabled(featureset.SegmentIsolation) {
		c.checkSegments(ctx, nodes, add)
	}

	if failed := report.Failed(); len(failed) > 0 {
		return report, errors.Wrap(ErrHealthCheck, "cluster verification",
			z.Int("failed", len(failed)), z.Int("checks", len(report.Checks)))
	}

	log.Info(ctx, "Cluster health verified", z.Int("checks", len(report.Checks)))

	return report, nil
}

type addFunc func(node, check string, ok bool, detail string)

// checkNode verifies interfaces, addresses, vlan tags and bond state of a
// single node against the profile.
func (c *Checker) checkNode(ctx context.Context, node fleet.Node, name string, add addFunc) {
	addrs, err := c.queryAddrs(ctx, node)
	if err != nil {
		add(name, "ip_addr", false, err.Error())
		return
	}

	links, err := c.queryLinks(ctx, node)
	if err != nil {
		add(name, "ip_link", false, err.Error())
		return
	}

	for _, semantic := range c.conf.Profile.Semantics() {
		device := c.conf.Profile.Interfaces[semantic]

		state, ok := addrs[device]
		if !ok {
			add(name, semantic+"_device", false, fmt.Sprintf("interface %s missing", device))
			continue
		}

		add(name, semantic+"_device", state.up(), fmt.Sprintf("%s operstate %s", device, state.Operstate))

		want, err := c.conf.Profile.AddressFor(name, semantic)
		if err != nil {
			add(name, semantic+"_address", false, err.Error())
			continue
		}

		add(name, semantic+"_address", state.hasAddr(want),
			fmt.Sprintf("want %s on %s", want, device))

		if tag, ok := c.conf.Profile.VLANTag(semantic); ok {
			link := links[device]
			tagged := link.Linkinfo != nil &&
				link.Linkinfo.InfoKind == "vlan" &&
				link.Linkinfo.InfoData.ID == tag

			add(name, semantic+"_vlan", tagged, fmt.Sprintf("want 802.1Q tag %d on %s", tag, device))
		}
	}

	if bond, ok := c.conf.Profile.BondSpec(); ok {
		c.checkBond(ctx, node, name, bond, links, add)
	}
}

// checkBond verifies the bond device mode, monitor interval and member link
// health via the bonding driver proc file.
func (c *Checker) checkBond(ctx context.Context, node fleet.Node, name string, bond topo.Bond,
	links map[string]linkState, add addFunc,
) {
	link, ok := links[bond.Device]
	if !ok || link.Linkinfo == nil || link.Linkinfo.InfoKind != "bond" {
		add(name, "bond_device", false, fmt.Sprintf("%s is not a bond", bond.Device))
		return
	}

	add(name, "bond_mode", link.Linkinfo.InfoData.Mode == bond.Mode,
		fmt.Sprintf("want mode %s, got %s", bond.Mode, link.Linkinfo.InfoData.Mode))

	res, err := node.Exec(ctx, "cat /proc/net/bonding/"+bond.Device)
	if err != nil || !res.Ok() {
		add(name, "bond_proc", false, "bonding proc file unreadable")
		return
	}

	state, err := parseBondProc(res.Stdout)
	if err != nil {
		add(name, "bond_proc", false, err.Error())
		return
	}

	add(name, "bond_proc", state.Mode == bond.Mode,
		fmt.Sprintf("driver reports mode %s", state.Mode))
	add(name, "bond_miimon", state.Miimon == int(bond.Monitor.Milliseconds()),
		fmt.Sprintf("want miimon %dms, got %dms", bond.Monitor.Milliseconds(), state.Miimon))

	for _, member := range bond.Members {
		status, ok := state.Slaves[member]
		if !ok {
			add(name, "bond_member_"+member, false, "member not enslaved")
			continue
		}

		add(name, "bond_member_"+member, status == "up", "mii status "+status)
	}
}

// checkRegistry verifies cluster membership as reported by the primary.
func (c *Checker) checkRegistry(ctx context.Context, nodes map[string]fleet.Node, add addFunc) {
	primary, err := topo.Primary(c.conf.Nodes)
	if err != nil {
		add("cluster", "registry", false, err.Error())
		return
	}

	node, ok := nodes[primary.Name]
	if !ok {
		add("cluster", "registry", false, "primary not booted")
		return
	}

	res, err := node.Exec(ctx, c.conf.Service.NodesCmd())
	if err != nil || !res.Ok() {
		add("cluster", "registry", false, "registry query failed")
		return
	}

	members, err := formation.ParseNodes(res.Stdout)
	if err != nil {
		add("cluster", "registry", false, err.Error())
		return
	}

	add("cluster", "registry_size", len(members) == len(c.conf.Nodes),
		fmt.Sprintf("want %d members, got %d", len(c.conf.Nodes), len(members)))
	add("cluster", "registry_ready", formation.CountReady(members) == len(c.conf.Nodes),
		fmt.Sprintf("want %d ready, got %d", len(c.conf.Nodes), formation.CountReady(members)))

	for _, spec := range c.conf.Nodes {
		member, ok := formation.FindNode(members, spec.Name)
		if !ok {
			add(spec.Name, "registry_member", false, "not registered")
			continue
		}

		add(spec.Name, "registry_member", member.Ready, "registered but not ready")

		wantRole := spec.Role == topo.RoleServer
		hasRole := member.Roles != "<none>"
		add(spec.Name, "registry_role", wantRole == hasRole,
			fmt.Sprintf("role %s reported as %s", spec.Role, member.Roles))
	}
}

// checkSegments verifies that tagged segments are internally reachable and
// mutually isolated, by pinging peer addresses through specific devices.
func (c *Checker) checkSegments(ctx context.Context, nodes map[string]fleet.Node, add addFunc) {
	var tagged []string

	for _, semantic := range c.conf.Profile.Semantics() {
		if _, ok := c.conf.Profile.VLANTag(semantic); ok {
			tagged = append(tagged, semantic)
		}
	}

	if len(tagged) < 2 {
		return
	}

	for _, spec := range c.conf.Nodes {
		node, ok := nodes[spec.Name]
		if !ok {
			continue
		}

		for _, peer := range c.conf.Nodes {
			if peer.Name == spec.Name {
				continue
			}

			for _, semantic := range tagged {
				device := c.conf.Profile.Interfaces[semantic]

				addr, err := c.conf.Profile.AddressFor(peer.Name, semantic)
				if err != nil {
					continue
				}

				// Same segment must be reachable through its own device.
				ok := c.ping(ctx, node, device, addr.Addr().String())
				add(spec.Name, "segment_reach_"+semantic, ok,
					fmt.Sprintf("%s unreachable via %s", addr.Addr(), device))

				// Other segments must not be reachable through it.
				for _, other := range tagged {
					if other == semantic {
						continue
					}

					otherAddr, err := c.conf.Profile.AddressFor(peer.Name, other)
					if err != nil {
						continue
					}

					leak := c.ping(ctx, node, device, otherAddr.Addr().String())
					add(spec.Name, "segment_isolate_"+semantic, !leak,
						fmt.Sprintf("%s reachable via %s", otherAddr.Addr(), device))
				}
			}
		}
	}
}

func (c *Checker) ping(ctx context.Context, node fleet.Node, device, addr string) bool {
	res, err := node.Exec(ctx, fmt.Sprintf("ping -c 1 -W 1 -I %s %s", device, addr))

	return err == nil && res.Ok()
}

func (c *Checker) queryAddrs(ctx context.Context, node fleet.Node) (map[string]addrState, error) {
	res, err := node.Exec(ctx, "ip -j addr show")
	if err != nil {
		return nil, errors.Wrap(err, "query ip addr")
	} else if !res.Ok() {
		return nil, errors.New("ip addr show failed", z.Str("output", res.Output()))
	}

	return parseAddrs(res.Stdout)
}

func (c *Checker) queryLinks(ctx context.Context, node fleet.Node) (map[string]linkState, error) {
	res, err := node.Exec(ctx, "ip -j -d link show")
	if err != nil {
		return nil, errors.Wrap(err, "query ip link")
	} else if !res.Ok() {
		return nil, errors.New("ip link show failed", z.Str("output", res.Output()))
	}

	return parseLinks(res.Stdout)
}
