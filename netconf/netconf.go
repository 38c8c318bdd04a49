// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package netconf turns a topology profile into an ordered command plan and
// applies it to nodes over their mgmt channel. Plans are idempotent, applying
// one twice converges to the same interface state.
package netconf

import (
	"context"
	"fmt"
	"strings"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/topo"
)

// ErrApplyFailed is returned when a plan step exits non-zero on a node.
var ErrApplyFailed = errors.NewSentinel("netconf apply failed")

const execAttempts = 3

// Config configures plan building.
type Config struct {
	// Daemon is the network management daemon masked before any link change
	// so it cannot revert the plan.
	Daemon string
}

func (c Config) withDefaults() Config {
	if c.Daemon == "" {
		c.Daemon = "systemd-networkd"
	}

	return c
}

// Target is the node surface netconf needs.
type Target interface {
	fleet.Execer

	Name() string
}

// Step is a single plan command.
type Step struct {
	Desc string `json:"desc"`
	Cmd  string `json:"cmd"`
}

// StepResult is the recorded outcome of an applied step.
type StepResult struct {
	Step     Step
	ExitCode int
	Output   string
}

// Transcript is the ordered record of applied steps on one node. It is kept
// for diagnostics bundles even when the apply fails midway.
type Transcript []StepResult

func (t Transcript) String() string {
	var b strings.Builder

	for _, res := range t {
		fmt.Fprintf(&b, "# %s\n$ %s\n(exit %d)\n", res.Step.Desc, res.Step.Cmd, res.ExitCode)
		if res.Output != "" {
			fmt.Fprintf(&b, "%s\n", res.Output)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Configurator applies topology plans to nodes.
type Configurator struct {
	conf Config
}

// NewConfigurator returns a new configurator.
func NewConfigurator(conf Config) Configurator {
	return Configurator{conf: conf.withDefaults()}
}

// Apply runs the node's plan and returns the transcript of every executed
// step. The first failing step aborts the plan, the transcript keeps what ran.
func (c Configurator) Apply(ctx context.Context, node Target, p topo.Profile) (Transcript, error) {
	ctx = log.WithTopic(ctx, "netconf")

	steps, err := BuildPlan(c.conf, p, node.Name())
	if err != nil {
		return nil, err
	}

	var transcript Transcript

	for _, step := range steps {
		res, err := fleet.ExecRetry(ctx, node, step.Cmd, execAttempts)
		if err != nil {
			return transcript, errors.Wrap(err, "apply step",
				z.Str("node", node.Name()), z.Str("step", step.Desc))
		}

		transcript = append(transcript, StepResult{Step: step, ExitCode: res.ExitCode, Output: res.Output()})
		stepsTotal.WithLabelValues(node.Name()).Inc()

		if !res.Ok() {
			return transcript, errors.Wrap(ErrApplyFailed, "step exited non-zero",
				z.Str("node", node.Name()), z.Str("step", step.Desc),
				z.Str("command", step.Cmd), z.Int("exit", res.ExitCode),
				z.Str("output", res.Output()))
		}

		log.Debug(ctx, "Step applied", z.Str("node", node.Name()), z.Str("step", step.Desc))
	}

	log.Info(ctx, "Network configured",
		z.Str("node", node.Name()), z.Str("topology", p.Name))

	return transcript, nil
}
