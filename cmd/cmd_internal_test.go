// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/app"
	"github.com/quoratelab/quorate/app/featureset"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/version"
	"github.com/quoratelab/quorate/topo"
)

func TestCmdFlags(t *testing.T) {
	defaultLog := log.Config{
		Level:  "info",
		Format: "console",
		Color:  "auto",
	}
	defaultFeature := featureset.Config{
		MinStatus: "stable",
	}

	tests := []struct {
		Name          string
		Args          []string
		Envs          map[string]string
		VersionConfig *versionConfig
		AppConfig     *app.Config
		VerifyConfig  *app.VerifyConfig
		ErrorMsg      string
	}{
		{
			Name:          "version verbose",
			Args:          slice("version", "--verbose"),
			VersionConfig: &versionConfig{Verbose: true},
		},
		{
			Name:          "version no verbose",
			Args:          slice("version", "--verbose=false"),
			VersionConfig: &versionConfig{Verbose: false},
		},
		{
			Name:          "version verbose env",
			Args:          slice("version"),
			Envs:          map[string]string{"QUORATE_VERBOSE": "true"},
			VersionConfig: &versionConfig{Verbose: true},
		},
		{
			Name: "run defaults",
			Args: slice("run"),
			AppConfig: &app.Config{
				Topology:       "flat",
				Servers:        2,
				Agents:         1,
				RunDir:         ".quorate",
				QEMUBinary:     "qemu-system-x86_64",
				CPUs:           2,
				MemoryMiB:      2048,
				SSHUser:        "root",
				BootTimeout:    5 * time.Minute,
				NetconfTimeout: 3 * time.Minute,
				InitTimeout:    5 * time.Minute,
				JoinTimeout:    5 * time.Minute,
				SettleTimeout:  2 * time.Minute,
				Log:            defaultLog,
				Feature:        defaultFeature,
			},
		},
		{
			Name: "run env overrides",
			Args: slice("run"),
			Envs: map[string]string{
				"QUORATE_TOPOLOGY":     "bonded-vlan",
				"QUORATE_SERVERS":      "3",
				"QUORATE_NO_KVM":       "true",
				"QUORATE_JOIN_TIMEOUT": "90s",
			},
			AppConfig: &app.Config{
				Topology:       "bonded-vlan",
				Servers:        3,
				Agents:         1,
				RunDir:         ".quorate",
				QEMUBinary:     "qemu-system-x86_64",
				CPUs:           2,
				MemoryMiB:      2048,
				SSHUser:        "root",
				NoKVM:          true,
				BootTimeout:    5 * time.Minute,
				NetconfTimeout: 3 * time.Minute,
				InitTimeout:    5 * time.Minute,
				JoinTimeout:    90 * time.Second,
				SettleTimeout:  2 * time.Minute,
				Log:            defaultLog,
				Feature:        defaultFeature,
			},
		},
		{
			Name: "run flag beats env",
			Args: slice("run", "--servers=5"),
			Envs: map[string]string{"QUORATE_SERVERS": "3"},
			AppConfig: &app.Config{
				Topology:       "flat",
				Servers:        5,
				Agents:         1,
				RunDir:         ".quorate",
				QEMUBinary:     "qemu-system-x86_64",
				CPUs:           2,
				MemoryMiB:      2048,
				SSHUser:        "root",
				BootTimeout:    5 * time.Minute,
				NetconfTimeout: 3 * time.Minute,
				InitTimeout:    5 * time.Minute,
				JoinTimeout:    5 * time.Minute,
				SettleTimeout:  2 * time.Minute,
				Log:            defaultLog,
				Feature:        defaultFeature,
			},
		},
		{
			Name: "verify defaults",
			Args: slice("verify"),
			VerifyConfig: &app.VerifyConfig{
				Topology: "flat",
				Servers:  2,
				Agents:   1,
				SSHUser:  "root",
				Log:      defaultLog,
				Feature:  defaultFeature,
			},
		},
		{
			Name: "verify node addresses",
			Args: slice("verify", "--node-addresses=server-1=10.0.0.1:22,server-2=10.0.0.2:22"),
			Envs: map[string]string{"QUORATE_SSH_USER": "ops"},
			VerifyConfig: &app.VerifyConfig{
				Topology:  "flat",
				Servers:   2,
				Agents:    1,
				NodeAddrs: slice("server-1=10.0.0.1:22", "server-2=10.0.0.2:22"),
				SSHUser:   "ops",
				Log:       defaultLog,
				Feature:   defaultFeature,
			},
		},
		{
			Name:     "unknown flag",
			Args:     slice("run", "--quorate-servers=3"),
			ErrorMsg: "unknown flag: --quorate-servers",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			for k, v := range test.Envs {
				t.Setenv(k, v)
			}

			root := newRootCmd(
				newVersionCmd(func(_ io.Writer, config versionConfig) {
					require.NotNil(t, test.VersionConfig)
					require.Equal(t, *test.VersionConfig, config)
				}),
				newRunCmd(func(_ context.Context, config app.Config) error {
					require.NotNil(t, test.AppConfig)
					require.Equal(t, *test.AppConfig, config)

					return nil
				}),
				newVerifyCmd(func(_ context.Context, config app.VerifyConfig) error {
					require.NotNil(t, test.VerifyConfig)
					require.Equal(t, *test.VerifyConfig, config)

					return nil
				}),
			)

			root.SetArgs(test.Args)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)

			err := root.Execute()
			if test.ErrorMsg != "" {
				require.ErrorContains(t, err, test.ErrorMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVersionCmdOutput(t *testing.T) {
	var buf bytes.Buffer

	runVersionCmd(&buf, versionConfig{})
	require.Equal(t, version.Version+"\n", buf.String())

	buf.Reset()
	runVersionCmd(&buf, versionConfig{Verbose: true})
	require.True(t, strings.HasPrefix(buf.String(), version.Version))
	require.Contains(t, buf.String(), "Commit:")
}

func TestProfileCmd(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runProfileCmd(&buf, profileConfig{Topology: "vlan", Servers: 2, Agents: 1}))

	out := buf.String()
	require.Contains(t, out, "name: vlan")
	require.Contains(t, out, "cluster: eth1.200")
	require.Contains(t, out, "server-1")

	// Rendered output round trips through the file loader.
	path := filepath.Join(t.TempDir(), "topology.yml")
	require.NoError(t, runProfileCmd(io.Discard,
		profileConfig{Topology: "vlan", Servers: 2, Agents: 1, OutputFile: path}))

	profile, err := topo.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "vlan", profile.Name)
	require.Len(t, profile.Nodes, 3)
	require.NoError(t, profile.Validate(profile.Nodes))
}

func TestProfileCmdInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\ninterfaces:\n cluster: eth1\n"), 0o644))

	err := runProfileCmd(io.Discard, profileConfig{TopologyFile: path, Servers: 1, Agents: 0})
	require.ErrorIs(t, err, topo.ErrMissingAddress)
}

func TestRedact(t *testing.T) {
	require.Equal(t, "xxxxx", redact("ssh-password", "hunter2"))
	require.Equal(t, "", redact("ssh-password", ""))
	require.Equal(t, "flat", redact("topology", "flat"))
}

func slice(strs ...string) []string {
	return strs
}
