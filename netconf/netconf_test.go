// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package netconf_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/netconf"
	"github.com/quoratelab/quorate/testutil"
	"github.com/quoratelab/quorate/topo"
)

//go:generate go test . -update -clean

func TestBuildPlanFlat(t *testing.T) {
	p, err := topo.Flat(topo.NewNodes(2, 1))
	require.NoError(t, err)

	steps, err := netconf.BuildPlan(netconf.Config{}, p, "server-1")
	require.NoError(t, err)

	testutil.RequireGoldenJSON(t, steps)
}

func TestBuildPlanVLAN(t *testing.T) {
	p, err := topo.VLAN(topo.NewNodes(2, 1))
	require.NoError(t, err)

	steps, err := netconf.BuildPlan(netconf.Config{}, p, "server-1")
	require.NoError(t, err)

	testutil.RequireGoldenJSON(t, steps)
}

func TestBuildPlanBondedVLAN(t *testing.T) {
	p, err := topo.BondedVLAN(topo.NewNodes(2, 1))
	require.NoError(t, err)

	steps, err := netconf.BuildPlan(netconf.Config{}, p, "server-1")
	require.NoError(t, err)

	testutil.RequireGoldenJSON(t, steps)
}

// Re-running a plan must produce the identical command sequence since link
// additions are guarded and addresses use replace.
func TestBuildPlanDeterministic(t *testing.T) {
	p, err := topo.BondedVLAN(topo.NewNodes(2, 1))
	require.NoError(t, err)

	first, err := netconf.BuildPlan(netconf.Config{}, p, "agent-1")
	require.NoError(t, err)

	second, err := netconf.BuildPlan(netconf.Config{}, p, "agent-1")
	require.NoError(t, err)

	require.Equal(t, first, second)

	for _, step := range first {
		if strings.Contains(step.Cmd, "ip link add") {
			require.Contains(t, step.Cmd, "ip link show dev", "link add must be guarded")
		}
		if strings.Contains(step.Cmd, "ip addr") {
			require.Contains(t, step.Cmd, "replace")
		}
	}
}

func TestBuildPlanMissingAddress(t *testing.T) {
	p, err := topo.VLAN(topo.NewNodes(2, 1))
	require.NoError(t, err)

	delete(p.Addresses["server-2"], topo.IfaceStorage)

	_, err = netconf.BuildPlan(netconf.Config{}, p, "server-2")
	require.ErrorIs(t, err, topo.ErrMissingAddress)
}

func TestBuildPlanCustomDaemon(t *testing.T) {
	p, err := topo.Flat(topo.NewNodes(1, 0))
	require.NoError(t, err)

	steps, err := netconf.BuildPlan(netconf.Config{Daemon: "NetworkManager"}, p, "server-1")
	require.NoError(t, err)
	require.Equal(t, "systemctl mask --now NetworkManager", steps[0].Cmd)
}

type scriptedTarget struct {
	name     string
	fail     map[string]int
	commands []string
}

func (s *scriptedTarget) Name() string {
	return s.name
}

func (s *scriptedTarget) Exec(_ context.Context, command string) (fleet.ExecResult, error) {
	s.commands = append(s.commands, command)

	for substr, code := range s.fail {
		if strings.Contains(command, substr) {
			return fleet.ExecResult{
				Command:  command,
				ExitCode: code,
				Stderr:   "RTNETLINK answers: Operation not permitted\n",
			}, nil
		}
	}

	return fleet.ExecResult{Command: command}, nil
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	p, err := topo.VLAN(topo.NewNodes(2, 1))
	require.NoError(t, err)

	target := &scriptedTarget{name: "server-1"}

	transcript, err := netconf.NewConfigurator(netconf.Config{}).Apply(ctx, target, p)
	require.NoError(t, err)

	steps, err := netconf.BuildPlan(netconf.Config{}, p, "server-1")
	require.NoError(t, err)
	require.Len(t, transcript, len(steps))

	for i, res := range transcript {
		require.Equal(t, steps[i], res.Step)
		require.Equal(t, steps[i].Cmd, target.commands[i])
		require.Zero(t, res.ExitCode)
	}
}

func TestApplyStepFailure(t *testing.T) {
	ctx := context.Background()

	p, err := topo.VLAN(topo.NewNodes(2, 1))
	require.NoError(t, err)

	target := &scriptedTarget{
		name: "server-1",
		fail: map[string]int{"modprobe 8021q": 1},
	}

	transcript, err := netconf.NewConfigurator(netconf.Config{}).Apply(ctx, target, p)
	require.ErrorIs(t, err, netconf.ErrApplyFailed)
	require.ErrorContains(t, err, "step exited non-zero")

	// Mask step succeeded, modprobe failed, nothing after ran.
	require.Len(t, transcript, 2)
	require.Equal(t, 1, transcript[1].ExitCode)
	require.Contains(t, transcript[1].Output, "RTNETLINK")
}

func TestTranscriptString(t *testing.T) {
	transcript := netconf.Transcript{
		{
			Step:     netconf.Step{Desc: "mask network daemon", Cmd: "systemctl mask --now systemd-networkd"},
			ExitCode: 0,
		},
		{
			Step:     netconf.Step{Desc: "enable 8021q", Cmd: "modprobe 8021q"},
			ExitCode: 1,
			Output:   "modprobe: module 8021q not found",
		},
	}

	out := transcript.String()
	require.Contains(t, out, "# mask network daemon")
	require.Contains(t, out, "$ systemctl mask --now systemd-networkd")
	require.Contains(t, out, "(exit 1)")
	require.Contains(t, out, "module 8021q not found")
}
