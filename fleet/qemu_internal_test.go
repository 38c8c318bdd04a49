// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package fleet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/topo"
)

func TestQEMUArgs(t *testing.T) {
	conf := Config{DataNICs: 2, NoKVM: true}.withDefaults()
	spec := topo.NodeSpec{Name: "server-1", Role: topo.RoleServer, CPUs: 4}

	args := qemuArgs(spec, conf, "/run/disk.qcow2", "/run/serial.log", 2222)

	expect := []string{
		"-name", "server-1",
		"-m", "2048",
		"-smp", "4",
		"-drive", "if=virtio,file=/run/disk.qcow2,media=disk",
		"-device", "virtio-rng-pci,rng=rng0",
		"-object", "rng-random,filename=/dev/urandom,id=rng0",
		"-device", "virtio-net,netdev=mgmt,mac=" + macAddr("server-1", 0),
		"-netdev", "user,id=mgmt,hostfwd=tcp:127.0.0.1:2222-:22",
		"-device", "virtio-net,netdev=data0,mac=" + macAddr("server-1", 1),
		"-netdev", "socket,id=data0,mcast=230.87.87.1:48500",
		"-device", "virtio-net,netdev=data1,mac=" + macAddr("server-1", 2),
		"-netdev", "socket,id=data1,mcast=230.87.87.1:48500",
		"-nographic",
		"-serial", "file:/run/serial.log",
		"-monitor", "none",
	}
	require.Equal(t, expect, args)
}

func TestQEMUArgsKVM(t *testing.T) {
	conf := Config{DataNICs: 1}.withDefaults()

	args := qemuArgs(topo.NodeSpec{Name: "agent-1"}, conf, "/run/disk.qcow2", "/run/serial.log", 2223)
	require.Contains(t, args, "-enable-kvm")
}

func TestMacAddr(t *testing.T) {
	a := macAddr("server-1", 0)
	b := macAddr("server-1", 1)
	c := macAddr("server-2", 0)

	require.Equal(t, a, macAddr("server-1", 0))
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)

	for _, mac := range []string{a, b, c} {
		_, err := net.ParseMAC(mac)
		require.NoError(t, err)
	}
}

func TestFreePort(t *testing.T) {
	port, err := freePort()
	require.NoError(t, err)
	require.Positive(t, port)
}

func TestConfigDefaults(t *testing.T) {
	conf := Config{}.withDefaults()

	require.Equal(t, defaultBinary, conf.Binary)
	require.Equal(t, "root", conf.User)
	require.Equal(t, "root", conf.Password)
	require.Equal(t, defaultCPUs, conf.CPUs)
	require.Equal(t, defaultMemMiB, conf.MemoryMiB)
	require.NotNil(t, conf.Clock)

	// Key auth disables the password fallback.
	conf = Config{KeyFile: "/keys/id_ed25519"}.withDefaults()
	require.Empty(t, conf.Password)
}
