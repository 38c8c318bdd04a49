// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package diag collects diagnostics bundles from fleet nodes after a failed
// run. Collection is best effort, a node that stopped answering must not
// prevent evidence being gathered from the others.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/formation"
	"github.com/quoratelab/quorate/netconf"
	"github.com/quoratelab/quorate/topo"
)

// ErrPartialBundle is returned when some artefacts could not be collected.
// The bundle path is still valid and holds whatever was gathered.
var ErrPartialBundle = errors.NewSentinel("partial diagnostics bundle")

// Config configures the collector.
type Config struct {
	// Dir is the directory bundles are written under.
	Dir     string
	Service formation.ServiceSpec
	Nodes   []topo.NodeSpec

	// Tail is the number of journal lines collected per unit.
	Tail int
}

func (c Config) withDefaults() Config {
	if c.Service.APIPort == 0 {
		c.Service = formation.DefaultServiceSpec()
	}
	if c.Tail == 0 {
		c.Tail = 200
	}

	return c
}

// Collector writes per node diagnostics bundles.
type Collector struct {
	conf  Config
	roles map[string]topo.Role
}

// New returns a new diagnostics collector.
func New(conf Config) *Collector {
	conf = conf.withDefaults()

	roles := make(map[string]topo.Role)
	for _, node := range conf.Nodes {
		roles[node.Name] = node.Role
	}

	return &Collector{conf: conf, roles: roles}
}

// manifest is the bundle index written as manifest.json.
type manifest struct {
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	Nodes     []string  `json:"nodes"`
}

// CollectAll gathers diagnostics from all nodes in parallel and returns the
// bundle directory. A partial bundle returns ErrPartialBundle alongside the
// directory, never instead of it.
func (c *Collector) CollectAll(ctx context.Context, nodes map[string]fleet.Node,
	transcripts map[string]netconf.Transcript, reason string,
) (string, error) {
	ctx = log.WithTopic(ctx, "diag")

	now := time.Now().UTC()
	dir := filepath.Join(c.conf.Dir, "diag-"+now.Format("20060102-150405"))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create bundle dir", z.Str("dir", dir))
	}

	m := manifest{Reason: reason, StartedAt: now}
	for name := range nodes {
		m.Nodes = append(m.Nodes, name)
	}
	sort.Strings(m.Nodes)

	if err := writeManifest(dir, m); err != nil {
		return dir, err
	}

	var group errgroup.Group

	for name, node := range nodes {
		name, node := name, node
		group.Go(func() error {
			return c.collectNode(ctx, filepath.Join(dir, name), node, transcripts[name])
		})
	}

	if err := group.Wait(); err != nil {
		return dir, errors.Wrap(errors.Join(ErrPartialBundle, err), "collect diagnostics", z.Str("dir", dir))
	}

	log.Info(ctx, "Diagnostics bundle written", z.Str("dir", dir), z.Int("nodes", len(nodes)))

	return dir, nil
}

// collectNode writes one node's artefacts. It keeps going after individual
// capture failures and reports the first one.
func (c *Collector) collectNode(ctx context.Context, dir string, node fleet.Node, transcript netconf.Transcript) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create node dir", z.Str("dir", dir))
	}

	var firstErr error

	if len(transcript) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "transcript.txt"), []byte(transcript.String()), 0o644); err != nil { //nolint:gosec
			firstErr = errors.Wrap(err, "write transcript")
		}
	}

	unit := c.conf.Service.UnitName(c.roles[node.Name()])

	captures := []struct {
		file string
		cmd  string
	}{
		{"journal.txt", fmt.Sprintf("journalctl -u %s -n %d --no-pager", unit, c.conf.Tail)},
		{"status.txt", fmt.Sprintf("systemctl status %s --no-pager", unit)},
		{"ip_addr.txt", "ip addr show"},
		{"ip_link.txt", "ip -d link show"},
		{"ip_route.txt", "ip route show"},
		// Token presence and size only, the secret itself stays on the node.
		{"token.txt", fmt.Sprintf("test -f %s && wc -c < %s || echo absent", c.conf.Service.TokenPath, c.conf.Service.TokenPath)},
	}

	for _, capture := range captures {
		if err := c.capture(ctx, node, filepath.Join(dir, capture.file), capture.cmd); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// capture runs the command and writes its outcome to the file. Non zero
// exits are evidence, not capture failures.
func (c *Collector) capture(ctx context.Context, node fleet.Node, path, cmd string) error {
	var body string

	res, err := node.Exec(ctx, cmd)
	if err != nil {
		body = fmt.Sprintf("$ %s\ncapture failed: %v\n", cmd, err)
	} else {
		body = fmt.Sprintf("$ %s\n(exit %d)\n%s\n", cmd, res.ExitCode, res.Output())
	}

	if werr := os.WriteFile(path, []byte(body), 0o644); werr != nil { //nolint:gosec
		return errors.Wrap(werr, "write capture", z.Str("path", path))
	}

	if err != nil {
		return errors.Wrap(err, "capture command", z.Str("node", node.Name()), z.Str("command", cmd))
	}

	return nil
}

func writeManifest(dir string, m manifest) error {
	b, err := json.MarshalIndent(m, "", " ")
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}

	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), b, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, "write manifest")
	}

	return nil
}
