// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package topo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/testutil"
	"github.com/quoratelab/quorate/topo"
)

func TestWriteLoadFile(t *testing.T) {
	nodes := topo.NewNodes(2, 1)
	p, err := topo.BondedVLAN(nodes)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "topology.yml")
	require.NoError(t, p.WriteFile(file))

	loaded, err := topo.LoadFile(file)
	require.NoError(t, err)
	require.Equal(t, p, loaded)
	require.NoError(t, loaded.Validate(loaded.Nodes))
}

func TestWriteLoadFileFuzz(t *testing.T) {
	fuzzer := testutil.NewTopologyFuzzer(t, 0)

	for range 10 {
		var p topo.Profile
		fuzzer.Fuzz(&p)

		file := filepath.Join(t.TempDir(), "fuzzed.yml")
		require.NoError(t, p.WriteFile(file))

		loaded, err := topo.LoadFile(file)
		require.NoError(t, err)
		require.Equal(t, p, loaded)
	}
}

func TestLoadFileYAML(t *testing.T) {
	const definition = `name: custom
interfaces:
  cluster: eth1.300
  storage: eth1.100
trunk: eth1
vlans:
  cluster: 300
  storage: 100
addresses:
  server-1:
    cluster: 10.30.0.1/24
    storage: 10.10.0.1/24
nodes:
  - name: server-1
    role: server
    primary: true
`

	file := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(file, []byte(definition), 0o644))

	p, err := topo.LoadFile(file)
	require.NoError(t, err)
	require.NoError(t, p.Validate(p.Nodes))

	require.Equal(t, "custom", p.Name)
	require.Equal(t, "eth1", p.Trunk)

	tag, ok := p.VLANTag(topo.IfaceCluster)
	require.True(t, ok)
	require.Equal(t, 300, tag)

	addr, err := p.AddressFor("server-1", topo.IfaceCluster)
	require.NoError(t, err)
	require.Equal(t, "10.30.0.1/24", addr.String())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := topo.LoadFile(filepath.Join(t.TempDir(), "nope.yml"))
	require.ErrorContains(t, err, "read topology file")
}

func TestDurationRoundTrip(t *testing.T) {
	const definition = `name: bonded
interfaces:
  cluster: bond0.200
vlans:
  cluster: 200
bond:
  device: bond0
  mode: active-backup
  members: [eth1, eth2]
  monitor: 250ms
addresses:
  server-1:
    cluster: 192.168.200.1/24
nodes:
  - name: server-1
    role: server
    primary: true
`

	file := filepath.Join(t.TempDir(), "bonded.yml")
	require.NoError(t, os.WriteFile(file, []byte(definition), 0o644))

	p, err := topo.LoadFile(file)
	require.NoError(t, err)
	require.NoError(t, p.Validate(p.Nodes))

	bond, ok := p.BondSpec()
	require.True(t, ok)
	require.Equal(t, "250ms", bond.Monitor.String())
}
