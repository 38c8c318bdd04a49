// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package diag_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/diag"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/formation"
	"github.com/quoratelab/quorate/netconf"
	"github.com/quoratelab/quorate/testutil/fleetmock"
	"github.com/quoratelab/quorate/topo"
)

func setupNodes(t *testing.T, mock *fleetmock.Fleet, specs []topo.NodeSpec) map[string]fleet.Node {
	t.Helper()

	ctx := context.Background()
	service := formation.DefaultServiceSpec()
	nodes := make(map[string]fleet.Node)

	for _, spec := range specs {
		node, err := mock.Boot(ctx, spec)
		require.NoError(t, err)

		_, err = node.Exec(ctx, service.StartCmd(spec.Role))
		require.NoError(t, err)

		nodes[spec.Name] = node
	}

	return nodes
}

func TestCollectAll(t *testing.T) {
	specs := topo.NewNodes(1, 1)
	mock := fleetmock.New()
	nodes := setupNodes(t, mock, specs)

	transcripts := map[string]netconf.Transcript{
		"server-1": {
			{Step: netconf.Step{Desc: "up eth1", Cmd: "ip link set dev eth1 up"}, ExitCode: 0},
		},
	}

	collector := diag.New(diag.Config{Dir: t.TempDir(), Nodes: specs})

	dir, err := collector.CollectAll(context.Background(), nodes, transcripts, "settle phase timeout")
	require.NoError(t, err)
	require.DirExists(t, dir)

	// Manifest indexes the bundle.
	b, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	var m struct {
		Reason string   `json:"reason"`
		Nodes  []string `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, "settle phase timeout", m.Reason)
	require.Equal(t, []string{"agent-1", "server-1"}, m.Nodes)

	// Per node artefacts.
	journal, err := os.ReadFile(filepath.Join(dir, "server-1", "journal.txt"))
	require.NoError(t, err)
	require.Contains(t, string(journal), "journalctl -u k3s -n 200")
	require.Contains(t, string(journal), "mock journal")

	agentJournal, err := os.ReadFile(filepath.Join(dir, "agent-1", "journal.txt"))
	require.NoError(t, err)
	require.Contains(t, string(agentJournal), "journalctl -u k3s-agent")

	transcript, err := os.ReadFile(filepath.Join(dir, "server-1", "transcript.txt"))
	require.NoError(t, err)
	require.Contains(t, string(transcript), "ip link set dev eth1 up")

	// Agents have no transcript entry here, so no transcript file.
	require.NoFileExists(t, filepath.Join(dir, "agent-1", "transcript.txt"))

	require.FileExists(t, filepath.Join(dir, "server-1", "ip_addr.txt"))
	require.FileExists(t, filepath.Join(dir, "server-1", "token.txt"))

	// The token file never contains the secret itself.
	token, err := os.ReadFile(filepath.Join(dir, "server-1", "token.txt"))
	require.NoError(t, err)
	require.NotContains(t, string(token), mock.Token())
}

func TestCollectAllPartial(t *testing.T) {
	specs := topo.NewNodes(2, 0)
	mock := fleetmock.New(fleetmock.WithExecHandler("journalctl",
		func(_ context.Context, node, _ string) (fleet.ExecResult, error) {
			if node == "server-2" {
				return fleet.ExecResult{}, errors.New("ssh connection lost")
			}

			return fleet.ExecResult{Stdout: "fine"}, nil
		}))
	nodes := setupNodes(t, mock, specs)

	collector := diag.New(diag.Config{Dir: t.TempDir(), Nodes: specs})

	dir, err := collector.CollectAll(context.Background(), nodes, nil, "boot failure")
	require.ErrorIs(t, err, diag.ErrPartialBundle)
	require.DirExists(t, dir)

	// The failing capture is recorded and the rest still collected.
	journal, rerr := os.ReadFile(filepath.Join(dir, "server-2", "journal.txt"))
	require.NoError(t, rerr)
	require.Contains(t, string(journal), "capture failed")
	require.Contains(t, string(journal), "ssh connection lost")

	require.FileExists(t, filepath.Join(dir, "server-2", "status.txt"))
	require.FileExists(t, filepath.Join(dir, "server-1", "journal.txt"))
}

func TestCollectAllEmpty(t *testing.T) {
	collector := diag.New(diag.Config{Dir: t.TempDir()})

	dir, err := collector.CollectAll(context.Background(), nil, nil, "nothing booted")
	require.NoError(t, err)
	require.DirExists(t, dir)
	require.FileExists(t, filepath.Join(dir, "manifest.json"))
}
